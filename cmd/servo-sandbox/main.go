// Command servo-sandbox serves a local Servo endpoint for development and
// integration tests.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stan1y/servo_sdk_go/internal/logging"
	"github.com/stan1y/servo_sdk_go/pkg/servo/mock"
)

type options struct {
	addr           string
	latency        time.Duration
	fail           string
	envelopeStatus int
	dbPath         string
	seed           string
	secret         string
	ttl            time.Duration
	limits         mock.Limits
	logLevel       string
	logFormat      string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:          "servo-sandbox",
		Short:        "Serve a local Servo endpoint",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", ":8787", "listen address")
	f.DurationVar(&o.latency, "latency", 0, "artificial latency to inject per request")
	f.StringVar(&o.fail, "fail", "", "failure injection (rate=<float>,code=<status>)")
	f.IntVar(&o.envelopeStatus, "envelope-status", 0, "HTTP status for injected failures (default: the failure code)")
	f.StringVar(&o.dbPath, "db", "", "sqlite database path (default: in-memory store)")
	f.StringVar(&o.seed, "seed", "", "YAML or JSON file with items to preload")
	f.StringVar(&o.secret, "secret", os.Getenv("SERVO_SECRET"), "HS256 session secret; enables Authorization tokens")
	f.DurationVar(&o.ttl, "ttl", mock.DefaultTTL, "session token lifetime")
	f.Int64Var(&o.limits.Text, "max-text", mock.DefaultLimits.Text, "maximum text/plain body size in bytes")
	f.Int64Var(&o.limits.JSON, "max-json", mock.DefaultLimits.JSON, "maximum application/json body size in bytes")
	f.Int64Var(&o.limits.Blob, "max-blob", mock.DefaultLimits.Blob, "maximum body size in bytes for other content types")
	f.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	f.StringVar(&o.logFormat, "log-format", "auto", "log format: auto, console, json")
	return cmd
}

func serve(ctx context.Context, o *options) error {
	log, err := logging.New(o.logLevel, o.logFormat, os.Stderr)
	if err != nil {
		return err
	}

	failCfg, err := parseFailConfig(o.fail)
	if err != nil {
		return fmt.Errorf("parse fail flag: %w", err)
	}

	srvOpts := []mock.Option{
		mock.WithLogger(log),
		mock.WithTTL(o.ttl),
		mock.WithLimits(o.limits),
	}
	if o.secret != "" {
		srvOpts = append(srvOpts, mock.WithSecret([]byte(o.secret)))
	}
	if o.dbPath != "" {
		st, err := mock.NewSQLiteStore(o.dbPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		srvOpts = append(srvOpts, mock.WithStore(st))
	}
	srv := mock.New(srvOpts...)
	defer srv.Close()

	if o.seed != "" {
		entries, err := mock.LoadSeed(o.seed)
		if err != nil {
			return err
		}
		if err := srv.Seed(ctx, entries); err != nil {
			return err
		}
		log.Info().Int("items", len(entries)).Str("path", o.seed).Msg("seed applied")
	}

	server := &http.Server{
		Addr:              o.addr,
		Handler:           withMiddleware(o.latency, failCfg, o.envelopeStatus, log, srv),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printBanner(o)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func printBanner(o *options) {
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	host := o.addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	store := "memory"
	if o.dbPath != "" {
		store = o.dbPath
	}
	sessions := "off"
	if o.secret != "" {
		sessions = "HS256, ttl " + o.ttl.String()
	}

	green.Print("    ▶ ")
	fmt.Printf("Listening: http://%s\n", host)
	green.Print("    ▶ ")
	fmt.Printf("Store:     %s\n", store)
	green.Print("    ▶ ")
	fmt.Printf("Sessions:  %s\n", sessions)
	fmt.Println()
	gray.Println("export SERVO_RUNTIME_MODE=http")
	gray.Printf("export SERVO_URL=http://%s\n", host)
	fmt.Println()
}

func logRequests(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

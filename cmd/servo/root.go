package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stan1y/servo_sdk_go/internal/config"
	"github.com/stan1y/servo_sdk_go/internal/logging"
	"github.com/stan1y/servo_sdk_go/pkg/servo"
)

const defaultTimeout = 30 * time.Second

type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	profile    string
	url        string
	appID      string
	appKey     string
	alg        string
	logLevel   string
	timeout    time.Duration
	retries    int
	asJSON     bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "servo",
		Short:         "Read and write values on a Servo endpoint",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "Path to the config file (default $SERVO_CONFIG or ~/.config/servo/config.yaml)")
	pf.StringVarP(&a.profile, "profile", "p", "", "Config profile to use")
	pf.StringVarP(&a.url, "url", "u", "", "Servo base URL (overrides the profile)")
	pf.StringVar(&a.appID, "app-id", "", "Application id")
	pf.StringVar(&a.appKey, "app-key", "", "Application key")
	pf.StringVar(&a.alg, "alg", "", "Signing algorithm mode reported by the session")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.DurationVarP(&a.timeout, "timeout", "t", 0, "Timeout for the whole operation")
	pf.IntVar(&a.retries, "retries", 0, "Retries for transient transport failures")

	root.AddCommand(
		a.getCmd(),
		a.writeCmd(http.MethodPost),
		a.writeCmd(http.MethodPut),
		a.deleteCmd(),
		a.uploadCmd(),
		a.tokenCmd(),
	)
	return root
}

func (a *app) getCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Read the value stored under KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := servo.Text("")
			if a.asJSON {
				opts = servo.JSON(nil)
			}
			return a.run(cmd.Context(), func(ctx context.Context, c *servo.Client) (*servo.Call, error) {
				return c.Get(ctx, args[0], opts)
			})
		},
	}
	cmd.Flags().BoolVar(&a.asJSON, "json", false, "Request and decode the value as JSON")
	return cmd
}

func (a *app) writeCmd(method string) *cobra.Command {
	use, short := "post", "Create the value under KEY"
	if method == http.MethodPut {
		use, short = "put", "Update the value under KEY"
	}
	cmd := &cobra.Command{
		Use:   use + " KEY VALUE",
		Short: short,
		Long:  short + `. A VALUE of "-" is read from standard input.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := readValue(args[1], cmd.InOrStdin())
			if err != nil {
				return err
			}
			opts := servo.Text(value)
			if a.asJSON {
				opts = servo.JSON(json.RawMessage(value))
			}
			return a.run(cmd.Context(), func(ctx context.Context, c *servo.Client) (*servo.Call, error) {
				if method == http.MethodPut {
					return c.Put(ctx, args[0], opts)
				}
				return c.Post(ctx, args[0], opts)
			})
		},
	}
	cmd.Flags().BoolVar(&a.asJSON, "json", false, "Send VALUE as JSON")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete KEY",
		Short: "Remove the value under KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context, c *servo.Client) (*servo.Call, error) {
				return c.Delete(ctx, args[0])
			})
		},
	}
}

func (a *app) uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload KEY PATH",
		Short: "Upload the file at PATH under KEY",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context, c *servo.Client) (*servo.Call, error) {
				return c.Upload(ctx, args[0], args[1])
			})
		},
	}
}

func (a *app) tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token [KEY]",
		Short: "Acquire a session token and print its claims",
		Long:  "Token issues a read for KEY (default \"status\") and prints the token the server attached to the response. A missing item is not an error.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := "status"
			if len(args) == 1 {
				key = args[0]
			}
			client, timeout, err := a.client()
			if err != nil {
				return err
			}
			if !client.Session().Authenticated() {
				return errors.New("token requires --app-id and --app-key (or a profile with credentials)")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			call, err := client.Get(ctx, key, servo.Text(""))
			if err != nil {
				return err
			}
			if _, err := call.Wait(ctx); err != nil && !errors.Is(err, servo.ErrAPI) {
				return err
			}
			return printToken(a.stdout, client.Session())
		},
	}
}

// run builds the client, starts the operation and prints its outcome.
func (a *app) run(ctx context.Context, start func(context.Context, *servo.Client) (*servo.Call, error)) error {
	client, timeout, err := a.client()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	call, err := start(ctx, client)
	if err != nil {
		return err
	}
	res, err := call.Wait(ctx)
	if err != nil {
		printFailure(a.stderr, err)
		return errSilent
	}
	return printResult(a.stdout, a.stderr, res)
}

// client resolves settings with the precedence flags > profile > environment.
func (a *app) client() (*servo.Client, time.Duration, error) {
	settings, logCfg, err := a.loadProfile()
	if err != nil {
		return nil, 0, err
	}

	if a.url != "" {
		settings.URL = a.url
	}
	if a.appID != "" {
		settings.AppID = a.appID
	}
	if a.appKey != "" {
		settings.AppKey = a.appKey
	}
	if a.alg != "" {
		settings.Alg = a.alg
	}
	if a.timeout > 0 {
		settings.Timeout = a.timeout
	}
	if a.retries > 0 {
		settings.Retries = a.retries
	}
	envID, envKey, envAlg := servo.EnvCredentials()
	if settings.AppID == "" && settings.AppKey == "" {
		settings.AppID, settings.AppKey = envID, envKey
	}
	if settings.Alg == "" {
		settings.Alg = envAlg
	}
	if settings.Timeout <= 0 {
		settings.Timeout = defaultTimeout
	}

	level := a.logLevel
	if level == "" {
		level = logCfg.Level
	}
	if level == "" {
		level = "warn"
	}
	log, err := logging.New(level, logCfg.Format, a.stderr)
	if err != nil {
		return nil, 0, err
	}

	opts := []servo.Option{
		servo.WithLogger(log),
		servo.WithHTTPClient(&http.Client{Timeout: settings.Timeout}),
	}
	if settings.AppID != "" || settings.AppKey != "" {
		opts = append(opts, servo.WithCredentials(settings.AppID, settings.AppKey))
	}
	if settings.Alg != "" {
		opts = append(opts, servo.WithAlgMode(settings.Alg))
	}
	if settings.Retries > 0 {
		p := servo.DefaultRetryPolicy
		p.MaxRetries = settings.Retries
		opts = append(opts, servo.WithRetryPolicy(p))
	}

	if settings.URL == "" {
		client, mode, err := servo.NewFromEnv(opts...)
		if err != nil {
			return nil, 0, err
		}
		log.Debug().Str("mode", mode).Msg("client configured from environment")
		return client, settings.Timeout, nil
	}
	client, err := servo.New(settings.URL, opts...)
	if err != nil {
		return nil, 0, err
	}
	return client, settings.Timeout, nil
}

// loadProfile reads the selected profile. A missing default config file is
// not an error; an explicit --config or --profile that cannot be resolved is.
func (a *app) loadProfile() (config.Profile, config.LoggingConfig, error) {
	path := a.configPath
	if path == "" {
		path = config.DefaultPath()
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if a.profile != "" {
				return config.Profile{}, config.LoggingConfig{}, fmt.Errorf("profile %q requested but %s does not exist", a.profile, path)
			}
			return config.Profile{}, config.LoggingConfig{}, nil
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Profile{}, config.LoggingConfig{}, fmt.Errorf("loading config: %w", err)
	}
	p, err := cfg.Profile(a.profile)
	if errors.Is(err, config.ErrProfileNotFound) && a.profile == "" {
		return config.Profile{}, cfg.Logging, nil
	}
	if err != nil {
		return config.Profile{}, config.LoggingConfig{}, err
	}
	return *p, cfg.Logging, nil
}

func readValue(arg string, stdin io.Reader) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

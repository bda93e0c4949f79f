package main

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stan1y/servo_sdk_go/internal/servoapi"
)

type failConfig struct {
	rate float64
	code int
}

// withMiddleware wraps next with request logging, artificial latency and
// random failure injection. Injected failures are answered with the
// {code,message} envelope; envelopeStatus, when non-zero, replaces the HTTP
// status they are sent with.
func withMiddleware(delay time.Duration, failCfg failConfig, envelopeStatus int, log zerolog.Logger, next http.Handler) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			time.Sleep(delay)
		}
		if failCfg.rate > 0 && rand.Float64() < failCfg.rate {
			code := failCfg.code
			if code == 0 {
				code = http.StatusInternalServerError
			}
			status := code
			if envelopeStatus != 0 {
				status = envelopeStatus
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write(servoapi.Encode(code, "failure injected"))
			return
		}
		next.ServeHTTP(w, r)
	})
	return logRequests(log, inner)
}

func parseFailConfig(raw string) (failConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return failConfig{}, nil
	}
	cfg := failConfig{code: http.StatusInternalServerError}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		keyVal := strings.SplitN(part, "=", 2)
		if len(keyVal) != 2 {
			return failConfig{}, fmt.Errorf("invalid fail segment %q", part)
		}
		switch strings.TrimSpace(keyVal[0]) {
		case "rate":
			val, err := strconv.ParseFloat(strings.TrimSpace(keyVal[1]), 64)
			if err != nil {
				return failConfig{}, err
			}
			if val < 0 || val > 1 {
				return failConfig{}, fmt.Errorf("fail rate %v outside [0,1]", val)
			}
			cfg.rate = val
		case "code":
			val, err := strconv.Atoi(strings.TrimSpace(keyVal[1]))
			if err != nil {
				return failConfig{}, err
			}
			if val == 200 || val == 201 {
				return failConfig{}, fmt.Errorf("fail code %d is a success code", val)
			}
			cfg.code = val
		default:
			return failConfig{}, fmt.Errorf("unknown fail key %q", keyVal[0])
		}
	}
	return cfg, nil
}

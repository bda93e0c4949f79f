package servo

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/stan1y/servo_sdk_go/pkg/servo/mock"
)

const (
	envMode     = "SERVO_RUNTIME_MODE"
	envURL      = "SERVO_URL"
	envAppID    = "SERVO_APP_ID"
	envAppKey   = "SERVO_APP_KEY"
	envAlg      = "SERVO_ALG"
	envMockSeed = "SERVO_MOCK_SEED"

	modeAuto = "auto"
	modeHTTP = "http"
	modeMock = "mock"

	// MockURL is the base URL assigned to clients in mock mode.
	MockURL = "http://servo.mock"
)

// NewFromEnv initialises a Client from SERVO_* environment variables and
// returns the resolved mode ("http" or "mock"). In auto mode (the default)
// an HTTP client is built when SERVO_URL is set and an in-process sandbox
// otherwise. opts are applied after the environment.
func NewFromEnv(opts ...Option) (client *Client, mode string, err error) {
	mode = strings.ToLower(strings.TrimSpace(os.Getenv(envMode)))
	baseURL := strings.TrimSpace(os.Getenv(envURL))

	switch mode {
	case "", modeAuto:
		if baseURL != "" {
			return newHTTPClient(baseURL, opts)
		}
		return newMockClient(opts)
	case modeHTTP:
		if baseURL == "" {
			return nil, "", fmt.Errorf("servo: HTTP mode requires %s", envURL)
		}
		return newHTTPClient(baseURL, opts)
	case modeMock:
		return newMockClient(opts)
	default:
		return nil, "", fmt.Errorf("servo: unsupported %s value %q", envMode, mode)
	}
}

// EnvCredentials returns the credentials and algorithm mode configured by
// SERVO_APP_ID, SERVO_APP_KEY and SERVO_ALG. Unset variables yield "".
func EnvCredentials() (appID, appKey, alg string) {
	return strings.TrimSpace(os.Getenv(envAppID)),
		strings.TrimSpace(os.Getenv(envAppKey)),
		strings.TrimSpace(os.Getenv(envAlg))
}

func envOptions(opts []Option) []Option {
	var out []Option
	appID, appKey, alg := EnvCredentials()
	if appID != "" || appKey != "" {
		out = append(out, WithCredentials(appID, appKey))
	}
	if alg != "" {
		out = append(out, WithAlgMode(alg))
	}
	return append(out, opts...)
}

func newHTTPClient(baseURL string, opts []Option) (*Client, string, error) {
	client, err := New(baseURL, envOptions(opts)...)
	if err != nil {
		return nil, "", fmt.Errorf("servo: init HTTP client: %w", err)
	}
	return client, modeHTTP, nil
}

// newMockClient serves requests from an in-process sandbox. Configured
// credentials turn on sandbox sessions signed with the app key and owned by
// the app id, so seeded items stay readable once a token is cached.
func newMockClient(opts []Option) (*Client, string, error) {
	opts = envOptions(opts)
	var cfg clientConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	var srvOpts []mock.Option
	if cfg.appID != "" && cfg.appKey != "" {
		srvOpts = append(srvOpts,
			mock.WithSecret([]byte(cfg.appKey)),
			mock.WithDefaultClient(cfg.appID),
		)
	}
	srv := mock.New(srvOpts...)
	if path := strings.TrimSpace(os.Getenv(envMockSeed)); path != "" {
		entries, err := mock.LoadSeed(path)
		if err != nil {
			return nil, "", fmt.Errorf("servo: load mock seed: %w", err)
		}
		if err := srv.Seed(context.Background(), entries); err != nil {
			return nil, "", fmt.Errorf("servo: apply mock seed: %w", err)
		}
	}
	opts = append(opts, WithTransport(HandlerTransport(srv)))
	client, err := New(MockURL, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("servo: init mock client: %w", err)
	}
	return client, modeMock, nil
}

package servo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/stan1y/servo_sdk_go/internal/httpx"
)

// RetryPolicy configures transport retries. The zero value disables them.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     float64
}

// DefaultRetryPolicy retries transient failures three times with exponential
// backoff. It is only applied when passed to WithRetryPolicy.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: httpx.DefaultRetryPolicy.MaxRetries,
	BaseDelay:  httpx.DefaultRetryPolicy.BaseDelay,
	MaxDelay:   httpx.DefaultRetryPolicy.MaxDelay,
	Jitter:     httpx.DefaultRetryPolicy.Jitter,
}

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	httpClient *http.Client
	transport  Transport
	retry      RetryPolicy
	appID      string
	appKey     string
	alg        string
	log        zerolog.Logger
}

// WithHTTPClient overrides the net/http client used by the default transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = h
	}
}

// WithTransport replaces the default transport entirely.
func WithTransport(t Transport) Option {
	return func(c *clientConfig) {
		c.transport = t
	}
}

// WithRetryPolicy enables transport retries for transient failures.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *clientConfig) {
		c.retry = p
	}
}

// WithCredentials configures application credentials at construction.
func WithCredentials(appID, appKey string) Option {
	return func(c *clientConfig) {
		c.appID = appID
		c.appKey = appKey
	}
}

// WithAlgMode sets the informational algorithm mode reported by the session.
func WithAlgMode(alg string) Option {
	return func(c *clientConfig) {
		c.alg = alg
	}
}

// WithLogger routes client diagnostics to l. The default discards them.
func WithLogger(l zerolog.Logger) Option {
	return func(c *clientConfig) {
		c.log = l
	}
}

// Client talks to a Servo endpoint. It is safe for concurrent use; the only
// state shared between calls is the Session.
type Client struct {
	session   *Session
	transport Transport
	log       zerolog.Logger
}

// New constructs a Client. baseURL may be empty and supplied later with
// SetURL, but every operation fails until one is set.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%w: invalid base URL %q", ErrInvalidArguments, baseURL)
		}
	}

	cfg := clientConfig{log: zerolog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	c := &Client{
		session:   newSession(baseURL),
		transport: cfg.transport,
		log:       cfg.log.With().Str("component", "servo").Logger(),
	}
	if cfg.appID != "" || cfg.appKey != "" {
		c.session.SetCredentials(cfg.appID, cfg.appKey, cfg.alg)
	} else if cfg.alg != "" {
		c.session.SetAlgMode(cfg.alg)
	}

	if c.transport == nil {
		httpOpts := []httpx.Option{
			httpx.WithLogger(c.log),
			httpx.WithRetryPolicy(httpx.RetryPolicy{
				MaxRetries: cfg.retry.MaxRetries,
				BaseDelay:  cfg.retry.BaseDelay,
				MaxDelay:   cfg.retry.MaxDelay,
				Jitter:     cfg.retry.Jitter,
			}),
		}
		if cfg.httpClient != nil {
			httpOpts = append(httpOpts, httpx.WithHTTPClient(cfg.httpClient))
		}
		c.transport = &httpTransport{client: httpx.NewClient(httpOpts...)}
	}
	return c, nil
}

// Session exposes the client's session state.
func (c *Client) Session() *Session {
	return c.session
}

// SetURL replaces the base URL used by subsequent operations.
func (c *Client) SetURL(baseURL string) {
	c.session.SetURL(baseURL)
}

// SetCredentials configures the application credentials. An empty alg means
// HS256. The auth token already cached, if any, is kept.
func (c *Client) SetCredentials(appID, appKey, alg string) {
	c.session.SetCredentials(appID, appKey, alg)
}

// Get reads the value stored under key. opts selects the kind; its payload is
// ignored.
func (c *Client) Get(ctx context.Context, key string, opts *Options) (*Call, error) {
	if opts == nil {
		return nil, fmt.Errorf("%w: options are required", ErrInvalidArguments)
	}
	return c.do(ctx, operation{method: http.MethodGet, key: key, kind: opts.Kind})
}

// Post creates the value under key.
func (c *Client) Post(ctx context.Context, key string, opts *Options) (*Call, error) {
	return c.write(ctx, http.MethodPost, key, opts)
}

// Put updates the value under key. File payloads are not accepted.
func (c *Client) Put(ctx context.Context, key string, opts *Options) (*Call, error) {
	return c.write(ctx, http.MethodPut, key, opts)
}

// PostText is Post with a plain text value.
func (c *Client) PostText(ctx context.Context, key, value string) (*Call, error) {
	return c.Post(ctx, key, Text(value))
}

// PutText is Put with a plain text value.
func (c *Client) PutText(ctx context.Context, key, value string) (*Call, error) {
	return c.Put(ctx, key, Text(value))
}

// Delete removes the value under key.
func (c *Client) Delete(ctx context.Context, key string) (*Call, error) {
	return c.do(ctx, operation{method: http.MethodDelete, key: key, kind: KindText})
}

// Upload posts the file at path as the multipart field "file".
func (c *Client) Upload(ctx context.Context, key, path string) (*Call, error) {
	return c.Post(ctx, key, File(path))
}

func (c *Client) write(ctx context.Context, method, key string, opts *Options) (*Call, error) {
	if opts == nil {
		return nil, fmt.Errorf("%w: options are required", ErrInvalidArguments)
	}
	if opts.Payload == nil {
		return nil, fmt.Errorf("%w: %s requires a payload", ErrInvalidArguments, method)
	}
	return c.do(ctx, operation{method: method, key: key, kind: opts.Kind, payload: opts.Payload})
}

// do validates and builds the request synchronously, then performs the
// exchange in the background.
func (c *Client) do(ctx context.Context, op operation) (*Call, error) {
	if c == nil || c.session == nil {
		return nil, fmt.Errorf("%w: client is nil", ErrInvalidArguments)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	kind, err := normalizeKind(op.kind)
	if err != nil {
		return nil, err
	}
	op.kind = kind

	req, err := buildRequest(op, c.session.snapshot())
	if err != nil {
		return nil, err
	}

	call := newCall()
	go func() {
		start := time.Now()
		resp, sendErr := c.transport.Send(ctx, req)
		res, err := c.interpret(kind, req, resp, sendErr)
		c.logOutcome(req, resp, err, time.Since(start))
		call.resolve(res, err)
	}()
	return call, nil
}

func (c *Client) logOutcome(req *WireRequest, resp *WireResponse, err error, elapsed time.Duration) {
	var te *TransportError
	if errors.As(err, &te) {
		c.log.Warn().
			Err(te.Err).
			Str("method", req.Method).
			Str("url", req.URL).
			Dur("duration", elapsed).
			Msg("request failed")
		return
	}
	ev := c.log.Debug().
		Str("method", req.Method).
		Str("url", req.URL).
		Dur("duration", elapsed)
	if resp != nil {
		ev = ev.Int("status", resp.StatusCode)
	}
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("request completed")
}

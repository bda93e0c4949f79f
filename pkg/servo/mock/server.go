package mock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stan1y/servo_sdk_go/internal/servoapi"
)

const (
	// DefaultTTL is the session lifetime applied to issued tokens.
	DefaultTTL = 300 * time.Second

	// AnonymousClient owns every item written without a session secret.
	AnonymousClient = "anonymous"

	contentTypeText = "text/plain"
	contentTypeJSON = "application/json"
	contentTypeBlob = "application/octet-stream"
	formFileField   = "file"
)

// Limits bounds request bodies per content type, in bytes.
type Limits struct {
	Text int64
	JSON int64
	Blob int64
}

// DefaultLimits mirrors the limits of a stock server deployment.
var DefaultLimits = Limits{
	Text: 64 << 10,
	JSON: 256 << 10,
	Blob: 8 << 20,
}

// Server is an http.Handler emulating a Servo endpoint.
type Server struct {
	store   Store
	secret  []byte
	owner   string
	ttl     time.Duration
	limits  Limits
	log     zerolog.Logger
	now     func() time.Time
	started time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithStore replaces the default in-memory store.
func WithStore(st Store) Option {
	return func(s *Server) {
		if st != nil {
			s.store = st
		}
	}
}

// WithSecret enables sessions: every response carries an HS256 token in the
// Authorization header and presented tokens are verified.
func WithSecret(secret []byte) Option {
	return func(s *Server) {
		s.secret = append([]byte(nil), secret...)
	}
}

// WithDefaultClient makes requests without a session token belong to
// client instead of a fresh random subject. Seed entries without a client
// are stored for it too. It has no effect without WithSecret.
func WithDefaultClient(client string) Option {
	return func(s *Server) {
		s.owner = client
	}
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Server) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLimits overrides DefaultLimits. Zero fields keep their default.
func WithLimits(l Limits) Option {
	return func(s *Server) {
		if l.Text > 0 {
			s.limits.Text = l.Text
		}
		if l.JSON > 0 {
			s.limits.JSON = l.JSON
		}
		if l.Blob > 0 {
			s.limits.Blob = l.Blob
		}
	}
}

// WithLogger routes request logs to l.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithClock overrides the clock used for token issue and verification.
func WithClock(fn func() time.Time) Option {
	return func(s *Server) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New creates a Server backed by an in-memory store unless WithStore is given.
func New(opts ...Option) *Server {
	s := &Server{
		store:  NewMemoryStore(),
		ttl:    DefaultTTL,
		limits: DefaultLimits,
		log:    zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.started = s.now()
	return s
}

// Store returns the backing store.
func (s *Server) Store() Store {
	return s.store
}

// Close releases the backing store.
func (s *Server) Close() error {
	return s.store.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Accept")
	h.Set("Access-Control-Expose-Headers", "Authorization")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	client, err := s.authenticate(w, r)
	if err != nil {
		s.log.Debug().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("authentication failed")
		writeEnvelope(w, http.StatusUnauthorized, "Invalid session token")
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/")
	logger := s.log.With().Str("client", client).Str("key", key).Str("method", r.Method).Logger()
	logger.Debug().Msg("request")

	if key == "" {
		if r.Method != http.MethodGet {
			writeEnvelope(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		s.handleStats(w, r, client)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGet(w, r, client, key)
	case http.MethodPost, http.MethodPut:
		s.handleWrite(w, r, client, key, logger)
	case http.MethodDelete:
		s.handleDelete(w, r, client, key)
	default:
		writeEnvelope(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// authenticate resolves the client owning the request and, with sessions
// enabled, attaches its token to the response.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, error) {
	if len(s.secret) == 0 {
		return AnonymousClient, nil
	}
	client := ""
	if raw := strings.TrimSpace(r.Header.Get("Authorization")); raw != "" {
		sub, err := s.verifyToken(strings.TrimPrefix(raw, "Bearer "))
		if err != nil {
			return "", err
		}
		client = sub
	} else if s.owner != "" {
		client = s.owner
	} else {
		client = uuid.NewString()
	}
	tok, err := s.issueToken(client)
	if err != nil {
		return "", err
	}
	w.Header().Set("Authorization", tok)
	return client, nil
}

func (s *Server) issueToken(client string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub": client,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(s.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) verifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", err
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("missing sub claim")
	}
	return sub, nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, client string) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"client":      client,
		"session_ttl": int(s.ttl / time.Second),
		"items":       st.Items,
		"clients":     st.Clients,
		"uptime":      s.now().Sub(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, client, key string) {
	it, err := s.store.Get(r.Context(), client, key)
	if errors.Is(err, ErrNotFound) {
		writeEnvelope(w, http.StatusNotFound, "Item not found")
		return
	}
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeItem(w, http.StatusOK, it)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request, client, key string, logger zerolog.Logger) {
	ctx := r.Context()
	contentType, data, status, msg := s.readValue(r)
	if status != 0 {
		writeEnvelope(w, status, msg)
		return
	}

	if r.Method == http.MethodPut {
		if _, err := s.store.Get(ctx, client, key); errors.Is(err, ErrNotFound) {
			writeEnvelope(w, http.StatusNotFound, "Item not found")
			return
		} else if err != nil {
			writeEnvelope(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	it := &Item{Client: client, Key: key, ContentType: contentType, Data: data, UpdatedAt: s.now()}
	created, err := s.store.Put(ctx, it)
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Debug().Bool("created", created).Int("size", len(data)).Msg("item stored")

	status = http.StatusOK
	if r.Method == http.MethodPost {
		status = http.StatusCreated
	}
	writeItem(w, status, it)
}

// readValue reads and validates the request body. A non-zero status reports
// a rejected request.
func (s *Server) readValue(r *http.Request) (contentType string, data []byte, status int, msg string) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = contentTypeText
	}

	limit := s.limits.Blob
	switch {
	case mediaType == contentTypeText:
		limit = s.limits.Text
	case mediaType == contentTypeJSON:
		limit = s.limits.JSON
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return "", nil, http.StatusBadRequest, "Failed to read request body"
	}
	if int64(len(body)) > limit {
		return "", nil, http.StatusForbidden, "Request is too large"
	}

	switch {
	case mediaType == contentTypeText:
		return contentTypeText, body, 0, ""
	case mediaType == contentTypeJSON:
		if !json.Valid(body) {
			return "", nil, http.StatusBadRequest, "broken json"
		}
		return contentTypeJSON, body, 0, ""
	case strings.HasPrefix(mediaType, "multipart/"):
		ct, data, err := readFormFile(body, params["boundary"])
		if err != nil {
			return "", nil, http.StatusBadRequest, err.Error()
		}
		return ct, data, 0, ""
	default:
		return mediaType, body, 0, ""
	}
}

func readFormFile(body []byte, boundary string) (string, []byte, error) {
	if boundary == "" {
		return "", nil, errors.New("missing multipart boundary")
	}
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", nil, fmt.Errorf("missing form field %q", formFileField)
		}
		if err != nil {
			return "", nil, fmt.Errorf("broken multipart body: %v", err)
		}
		if part.FormName() != formFileField {
			part.Close()
			continue
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return "", nil, fmt.Errorf("broken multipart body: %v", err)
		}
		ct := part.Header.Get("Content-Type")
		if ct == "" {
			ct = contentTypeBlob
		}
		return ct, data, nil
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, client, key string) {
	err := s.store.Delete(r.Context(), client, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		writeEnvelope(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// Seed stores items, bypassing limits. Entries without a client go to the
// default client when sessions are enabled with one, and to AnonymousClient
// otherwise.
func (s *Server) Seed(ctx context.Context, entries []SeedEntry) error {
	fallback := AnonymousClient
	if len(s.secret) > 0 && s.owner != "" {
		fallback = s.owner
	}
	for _, e := range entries {
		it, err := e.item(s.now(), fallback)
		if err != nil {
			return err
		}
		if _, err := s.store.Put(ctx, it); err != nil {
			return fmt.Errorf("mock: seed %q: %w", e.Key, err)
		}
	}
	return nil
}

func writeItem(w http.ResponseWriter, status int, it *Item) {
	ct := it.ContentType
	if ct == "" {
		ct = contentTypeBlob
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(status)
	_, _ = w.Write(it.Data)
}

func writeEnvelope(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write(servoapi.Encode(status, msg))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package servo

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// PayloadKind selects the wire encoding of a value and the headers sent with it.
type PayloadKind string

const (
	// KindText transmits the value as text/plain. It is the default kind.
	KindText PayloadKind = "text"
	// KindJSON transmits a JSON-serialisable value as application/json.
	KindJSON PayloadKind = "json"
	// KindFile uploads the file at a local path as multipart/form-data.
	KindFile PayloadKind = "file"
)

// Options describes the payload of a single operation. A zero Kind means
// KindText. Payload is a string for KindText, any JSON-serialisable value for
// KindJSON, and a local file path for KindFile.
type Options struct {
	Kind    PayloadKind
	Payload any
}

// Text returns options carrying a plain text value.
func Text(value string) *Options {
	return &Options{Kind: KindText, Payload: value}
}

// JSON returns options carrying a value to be JSON encoded. A nil value is
// suitable for reads.
func JSON(value any) *Options {
	return &Options{Kind: KindJSON, Payload: value}
}

// File returns options uploading the file at path.
func File(path string) *Options {
	return &Options{Kind: KindFile, Payload: path}
}

// WireRequest is the transport-level request produced for an operation.
type WireRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// WireResponse is the raw response handed back by a Transport.
type WireResponse struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// Result is the outcome of a successful operation.
type Result struct {
	StatusCode int
	Status     string
	Header     http.Header
	Kind       PayloadKind
	// Body is a string for text and file operations, and the decoded JSON
	// value (map[string]any, []any, string, float64, bool or nil) for json.
	Body any
	Raw  []byte
}

// Text returns the body as a string regardless of kind.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	if s, ok := r.Body.(string); ok && r.Kind != KindJSON {
		return s
	}
	return string(r.Raw)
}

// Decode unmarshals the raw body into out.
func (r *Result) Decode(out any) error {
	if r == nil {
		return fmt.Errorf("%w: result is nil", ErrInvalidArguments)
	}
	if err := json.Unmarshal(r.Raw, out); err != nil {
		return &APIError{Code: 0, Message: "invalid json: " + err.Error()}
	}
	return nil
}

// DecodeJSON decodes the raw body of res into a value of type T.
func DecodeJSON[T any](res *Result) (T, error) {
	var out T
	err := res.Decode(&out)
	return out, err
}

var (
	// ErrInvalidArguments reports API misuse detected before any I/O.
	ErrInvalidArguments = errors.New("servo: invalid arguments")
	// ErrUnsupportedPayloadKind reports a payload kind the client cannot encode
	// for the requested method.
	ErrUnsupportedPayloadKind = errors.New("servo: unsupported payload kind")
	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("servo: transport error")
	// ErrAPI matches every *APIError.
	ErrAPI = errors.New("servo: api error")
	// ErrDecode matches an *APIError raised because a body could not be decoded.
	ErrDecode = errors.New("servo: decode error")
)

// APIError is a failure reported by the server through a {code,message} body,
// or a body that could not be decoded (Code 0).
type APIError struct {
	Code    int
	Message string
	// HTTPStatus is the transport status code the failure arrived with, when
	// a response was received.
	HTTPStatus int
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("servo error code: %d, %s", e.Code, e.Message)
}

// Is matches ErrAPI, and ErrDecode for decode failures.
func (e *APIError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrAPI:
		return true
	case ErrDecode:
		return e.Code == 0
	}
	return false
}

// IsDecodeError reports whether the error stems from an undecodable body.
func (e *APIError) IsDecodeError() bool {
	return e != nil && e.Code == 0
}

// TransportError wraps a failure to obtain any response from the server.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("servo: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches ErrTransport.
func (e *TransportError) Is(target error) bool {
	return e != nil && target == ErrTransport
}

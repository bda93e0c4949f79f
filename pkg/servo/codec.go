package servo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/stan1y/servo_sdk_go/internal/servoapi"
)

const (
	contentTypeText      = "text/plain"
	contentTypeJSON      = "application/json"
	contentTypeMultipart = "multipart/form-data"

	formFileField = "file"
)

// encoded is the codec output for one request.
type encoded struct {
	contentType string
	accept      string
	body        []byte
}

// normalizeKind maps the empty kind to KindText and rejects unknown kinds.
func normalizeKind(kind PayloadKind) (PayloadKind, error) {
	switch kind {
	case "":
		return KindText, nil
	case KindText, KindJSON, KindFile:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPayloadKind, string(kind))
	}
}

// encodePayload decides Content-Type/Accept and serialises payload. When
// withBody is false the payload is ignored and no body is produced.
func encodePayload(kind PayloadKind, withBody bool, payload any) (*encoded, error) {
	switch kind {
	case KindText:
		enc := &encoded{contentType: contentTypeText, accept: contentTypeText}
		if !withBody {
			return enc, nil
		}
		s, ok := payload.(string)
		if !ok {
			return nil, fmt.Errorf("%w: text payload must be a string, got %T", ErrInvalidArguments, payload)
		}
		enc.body = []byte(s)
		return enc, nil

	case KindJSON:
		enc := &encoded{accept: contentTypeJSON}
		if !withBody || payload == nil {
			return enc, nil
		}
		data, err := marshalJSON(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: encode json payload: %v", ErrInvalidArguments, err)
		}
		enc.contentType = contentTypeJSON
		enc.body = data
		return enc, nil

	case KindFile:
		if !withBody {
			return nil, fmt.Errorf("%w: file payloads can only be uploaded", ErrUnsupportedPayloadKind)
		}
		path, ok := payload.(string)
		if !ok || path == "" {
			return nil, fmt.Errorf("%w: file payload must be a path, got %T", ErrUnsupportedPayloadKind, payload)
		}
		body, contentType, err := multipartFile(path)
		if err != nil {
			return nil, err
		}
		return &encoded{contentType: contentType, accept: contentTypeMultipart, body: body}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPayloadKind, string(kind))
	}
}

// decodeBody turns a raw response body into the value handed to callers.
// A JSON parse failure is returned as an *APIError with code 0.
func decodeBody(kind PayloadKind, raw []byte) (any, error) {
	if kind != KindJSON {
		return string(raw), nil
	}
	v, err := servoapi.DecodeJSON(raw)
	if err != nil {
		return nil, &APIError{Code: 0, Message: "invalid json: " + err.Error()}
	}
	return v, nil
}

func marshalJSON(v any) ([]byte, error) {
	if raw, ok := v.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("raw message is not valid json")
		}
		return append([]byte(nil), raw...), nil
	}
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func multipartFile(path string) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: open upload: %v", ErrInvalidArguments, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, "", fmt.Errorf("%w: stat upload: %v", ErrInvalidArguments, err)
	}
	if info.IsDir() {
		return nil, "", fmt.Errorf("%w: upload path %q is a directory", ErrInvalidArguments, path)
	}

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	part, err := mw.CreateFormFile(formFileField, filepath.Base(path))
	if err != nil {
		return nil, "", fmt.Errorf("servo: create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("%w: read upload: %v", ErrInvalidArguments, err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("servo: finish form: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

package servo

import (
	"fmt"
	"net/http"
	"net/url"
)

// operation is a validated logical request.
type operation struct {
	method  string
	key     string
	kind    PayloadKind
	payload any
}

func carriesBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut
}

// buildRequest assembles the wire request for op against the session view.
// It performs no I/O other than reading the file of a KindFile upload.
func buildRequest(op operation, snap sessionSnapshot) (*WireRequest, error) {
	if snap.baseURL == "" {
		return nil, fmt.Errorf("%w: base URL is not set", ErrInvalidArguments)
	}
	if op.key == "" {
		return nil, fmt.Errorf("%w: key is required", ErrInvalidArguments)
	}
	kind, err := normalizeKind(op.kind)
	if err != nil {
		return nil, err
	}
	if kind == KindFile && op.method != http.MethodPost {
		return nil, fmt.Errorf("%w: file payloads require POST, got %s", ErrUnsupportedPayloadKind, op.method)
	}

	enc, err := encodePayload(kind, carriesBody(op.method), op.payload)
	if err != nil {
		return nil, err
	}

	header := make(http.Header)
	if snap.token != "" {
		header.Set(authHeader, snap.token)
	}
	if enc.contentType != "" {
		header.Set("Content-Type", enc.contentType)
	}
	header.Set("Accept", enc.accept)

	return &WireRequest{
		Method: op.method,
		URL:    snap.baseURL + "/" + url.PathEscape(op.key),
		Header: header,
		Body:   enc.body,
	}, nil
}

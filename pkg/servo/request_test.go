package servo

import (
	"encoding/json"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequestHeaders(t *testing.T) {
	snap := sessionSnapshot{baseURL: "https://h"}
	upload := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(upload, []byte("x"), 0o644))

	tests := []struct {
		name        string
		op          operation
		contentType string
		accept      string
		body        string
	}{
		{"get text", operation{method: http.MethodGet, key: "k", kind: KindText}, "text/plain", "text/plain", ""},
		{"get default kind", operation{method: http.MethodGet, key: "k"}, "text/plain", "text/plain", ""},
		{"post text", operation{method: http.MethodPost, key: "k", kind: KindText, payload: "v"}, "text/plain", "text/plain", "v"},
		{"get json", operation{method: http.MethodGet, key: "k", kind: KindJSON}, "", "application/json", ""},
		{"put json", operation{method: http.MethodPut, key: "k", kind: KindJSON, payload: map[string]int{"a": 1}}, "application/json", "application/json", `{"a":1}`},
		{"post raw json", operation{method: http.MethodPost, key: "k", kind: KindJSON, payload: json.RawMessage(`[1,2]`)}, "application/json", "application/json", `[1,2]`},
		{"delete", operation{method: http.MethodDelete, key: "k", kind: KindText, payload: "ignored"}, "text/plain", "text/plain", ""},
		{"post file", operation{method: http.MethodPost, key: "k", kind: KindFile, payload: upload}, "multipart/form-data", "multipart/form-data", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := buildRequest(tt.op, snap)
			require.NoError(t, err)
			assert.Equal(t, tt.op.method, req.Method)
			assert.Equal(t, "https://h/k", req.URL)
			assert.Equal(t, tt.accept, req.Header.Get("Accept"))
			assert.Empty(t, req.Header.Get("Authorization"))

			ct := req.Header.Get("Content-Type")
			if tt.op.kind == KindFile {
				mediaType, params, err := mime.ParseMediaType(ct)
				require.NoError(t, err)
				assert.Equal(t, tt.contentType, mediaType)
				assert.NotEmpty(t, params["boundary"])
				assert.Contains(t, string(req.Body), `name="file"; filename="a.txt"`)
				return
			}
			assert.Equal(t, tt.contentType, ct)
			assert.Equal(t, tt.body, string(req.Body))
		})
	}
}

func TestBuildRequestAuthAndEscaping(t *testing.T) {
	req, err := buildRequest(
		operation{method: http.MethodGet, key: "a b/c?d", kind: KindText},
		sessionSnapshot{baseURL: "https://h/api", token: "T1"},
	)
	require.NoError(t, err)
	assert.Equal(t, "https://h/api/a%20b%2Fc%3Fd", req.URL)
	assert.Equal(t, "T1", req.Header.Get("Authorization"))
}

func TestBuildRequestRejects(t *testing.T) {
	_, err := buildRequest(operation{method: http.MethodGet, key: "k"}, sessionSnapshot{})
	assert.ErrorIs(t, err, ErrInvalidArguments)

	_, err = buildRequest(operation{method: http.MethodGet}, sessionSnapshot{baseURL: "https://h"})
	assert.ErrorIs(t, err, ErrInvalidArguments)

	_, err = buildRequest(operation{method: http.MethodPost, key: "k", kind: KindJSON, payload: json.RawMessage(`{`)}, sessionSnapshot{baseURL: "https://h"})
	assert.ErrorIs(t, err, ErrInvalidArguments)

	_, err = buildRequest(operation{method: http.MethodPost, key: "k", kind: KindFile, payload: t.TempDir()}, sessionSnapshot{baseURL: "https://h"})
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestMarshalJSONKeepsHTML(t *testing.T) {
	data, err := marshalJSON(map[string]string{"html": "<b>&</b>"})
	require.NoError(t, err)
	assert.Equal(t, `{"html":"<b>&</b>"}`, string(data))
	assert.False(t, strings.HasSuffix(string(data), "\n"))
}

func TestDecodeBody(t *testing.T) {
	v, err := decodeBody(KindText, []byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, "plain", v)

	v, err = decodeBody(KindJSON, nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = decodeBody(KindJSON, []byte("nope"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 0, apiErr.Code)
	assert.True(t, strings.HasPrefix(apiErr.Message, "invalid json: "))
}

func TestSessionObserveToken(t *testing.T) {
	s := newSession("https://h")
	h := http.Header{}
	h.Set("authorization", "T1")

	_, stored := s.observeToken(h)
	assert.False(t, stored, "anonymous sessions never cache a token")

	s.SetCredentials("id", "key", "")
	assert.Equal(t, AlgHS256, s.AlgMode())
	tok, stored := s.observeToken(h)
	assert.True(t, stored)
	assert.Equal(t, "T1", tok)

	h.Set("Authorization", "T2")
	_, stored = s.observeToken(h)
	assert.False(t, stored)
	assert.Equal(t, "T1", s.Token())

	_, err := s.TokenClaims()
	assert.Error(t, err)
}

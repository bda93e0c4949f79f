package servo

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"

	"github.com/stan1y/servo_sdk_go/internal/httpx"
)

// Transport sends a wire request and returns the raw response. A non-nil
// error means no response was obtained; every received status, including
// 4xx and 5xx, is returned as a WireResponse.
type Transport interface {
	Send(ctx context.Context, req *WireRequest) (*WireResponse, error)
}

type httpTransport struct {
	client *httpx.Client
}

func (t *httpTransport) Send(ctx context.Context, req *WireRequest) (*WireResponse, error) {
	resp, err := t.client.Do(ctx, &httpx.Request{
		Method: req.Method,
		URL:    req.URL,
		Header: req.Header,
		Body:   req.Body,
	})
	if err != nil {
		return nil, err
	}
	return &WireResponse{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// HandlerTransport serves every request in-process with h. It is intended for
// tests and for the mock runtime mode.
func HandlerTransport(h http.Handler) Transport {
	return &handlerTransport{handler: h}
}

type handlerTransport struct {
	handler http.Handler
}

func (t *handlerTransport) Send(ctx context.Context, req *WireRequest) (*WireResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := httptest.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	for k, values := range req.Header {
		for _, v := range values {
			r.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	t.handler.ServeHTTP(rec, r)

	res := rec.Result()
	defer res.Body.Close()
	return &WireResponse{
		StatusCode: res.StatusCode,
		Status:     res.Status,
		Header:     res.Header,
		Body:       rec.Body.Bytes(),
	}, nil
}

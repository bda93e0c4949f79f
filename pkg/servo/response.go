package servo

import (
	"errors"

	"github.com/stan1y/servo_sdk_go/internal/httpx"
	"github.com/stan1y/servo_sdk_go/internal/servoapi"
)

// interpret classifies a transport outcome. The steps run in a fixed order:
// token capture, transport failure, body decoding, envelope detection.
func (c *Client) interpret(kind PayloadKind, req *WireRequest, resp *WireResponse, sendErr error) (*Result, error) {
	if resp != nil {
		if _, ok := c.session.observeToken(resp.Header); ok {
			c.log.Info().Str("url", req.URL).Msg("auth token acquired")
		}
	}

	if sendErr != nil || resp == nil {
		if sendErr == nil {
			sendErr = errors.New("no response")
		}
		var te *TransportError
		if errors.As(sendErr, &te) {
			return nil, te
		}
		return nil, &TransportError{Method: req.Method, URL: req.URL, Err: sendErr}
	}

	body, err := decodeBody(kind, resp.Body)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			apiErr.HTTPStatus = resp.StatusCode
		}
		return nil, err
	}

	if env, ok := failureEnvelope(kind, body, resp); ok {
		return nil, &APIError{Code: env.Code, Message: env.Message, HTTPStatus: resp.StatusCode}
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Kind:       kind,
		Body:       body,
		Raw:        resp.Body,
	}, nil
}

// failureEnvelope applies the {code,message} rule. JSON reads inspect the
// decoded body; other kinds are only inspected when the server labelled the
// body as JSON.
func failureEnvelope(kind PayloadKind, body any, resp *WireResponse) (servoapi.Envelope, bool) {
	if kind == KindJSON {
		return servoapi.Failure(body)
	}
	if httpx.IsJSON(resp.Header.Get("Content-Type")) {
		return servoapi.SniffFailure(resp.Body)
	}
	return servoapi.Envelope{}, false
}

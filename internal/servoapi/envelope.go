// Package servoapi holds the wire-level rules shared by the Servo client and
// the sandbox server: JSON body decoding and the {code,message} failure
// envelope the server may place in any response body.
package servoapi

import (
	"bytes"
	"encoding/json"
	"math"
)

// Envelope is the structured error body {"code": <int>, "message": <string>}.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Successful reports whether the code is one the server uses for success.
func (e Envelope) Successful() bool {
	return e.Code == 200 || e.Code == 201
}

// DecodeJSON parses body into a generic JSON value. An empty (or whitespace)
// body decodes to nil without error.
func DecodeJSON(body []byte) (any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// AsEnvelope extracts an Envelope from a decoded JSON value. It matches only
// objects carrying both a numeric "code" and a string "message".
func AsEnvelope(v any) (Envelope, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Envelope{}, false
	}
	rawCode, ok := obj["code"]
	if !ok {
		return Envelope{}, false
	}
	msg, ok := obj["message"].(string)
	if !ok {
		return Envelope{}, false
	}
	code, ok := asInt(rawCode)
	if !ok {
		return Envelope{}, false
	}
	return Envelope{Code: code, Message: msg}, true
}

// Failure reports whether the decoded value is an envelope whose code is
// neither 200 nor 201.
func Failure(v any) (Envelope, bool) {
	env, ok := AsEnvelope(v)
	if !ok || env.Successful() {
		return Envelope{}, false
	}
	return env, true
}

// SniffFailure decodes raw JSON and applies Failure. Bodies that are not
// valid JSON are never failures.
func SniffFailure(body []byte) (Envelope, bool) {
	v, err := DecodeJSON(body)
	if err != nil {
		return Envelope{}, false
	}
	return Failure(v)
}

// Encode renders an envelope body.
func Encode(code int, message string) []byte {
	data, _ := json.Marshal(Envelope{Code: code, Message: message})
	return data
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

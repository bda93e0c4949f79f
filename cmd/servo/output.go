package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fatih/color"

	"github.com/stan1y/servo_sdk_go/internal/httpx"
	"github.com/stan1y/servo_sdk_go/pkg/servo"
)

// errSilent marks a failure that was already reported to the user.
var errSilent = errors.New("failure reported")

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	gray   = color.New(color.FgHiBlack)
)

func printResult(stdout, stderr io.Writer, res *servo.Result) error {
	status := green
	if res.StatusCode >= http.StatusBadRequest {
		status = yellow
	}
	status.Fprintf(stderr, "%d %s\n", res.StatusCode, http.StatusText(res.StatusCode))

	body := res.Raw
	if res.Kind == servo.KindJSON || httpx.IsJSON(res.Header.Get("Content-Type")) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err == nil {
			body = buf.Bytes()
		}
	}
	if len(body) == 0 {
		return nil
	}
	if _, err := stdout.Write(body); err != nil {
		return err
	}
	if body[len(body)-1] != '\n' {
		fmt.Fprintln(stdout)
	}
	return nil
}

func printFailure(w io.Writer, err error) {
	var apiErr *servo.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.IsDecodeError():
		red.Fprint(w, "✗ undecodable response")
		gray.Fprintf(w, " (HTTP %d)\n", apiErr.HTTPStatus)
		fmt.Fprintf(w, "  %s\n", apiErr.Message)
	case errors.As(err, &apiErr):
		red.Fprintf(w, "✗ %d %s", apiErr.Code, apiErr.Message)
		gray.Fprintf(w, " (HTTP %d)\n", apiErr.HTTPStatus)
	case errors.Is(err, servo.ErrTransport):
		red.Fprint(w, "✗ transport error: ")
		fmt.Fprintln(w, err)
	default:
		red.Fprint(w, "✗ ")
		fmt.Fprintln(w, err)
	}
}

func printToken(w io.Writer, s *servo.Session) error {
	tok := s.Token()
	if tok == "" {
		yellow.Fprintln(w, "no token was issued")
		return errSilent
	}
	fmt.Fprintln(w, tok)

	claims, err := s.TokenClaims()
	if err != nil {
		gray.Fprintln(w, "(opaque token)")
		return nil
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		green.Fprint(w, "  subject: ")
		fmt.Fprintln(w, sub)
	}
	if exp, ok := s.TokenExpiry(); ok {
		green.Fprint(w, "  expires: ")
		fmt.Fprintf(w, "%s (in %s)\n", exp.Format(time.RFC3339), time.Until(exp).Round(time.Second))
	}
	return nil
}

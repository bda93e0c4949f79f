// Package mock provides an in-process Servo sandbox: an http.Handler that
// follows the server's observable wire contract (status codes, the
// {code,message} failure envelope, Authorization session tokens and
// per-content-type size limits) on top of a pluggable item Store.
//
// The sandbox backs the "mock" runtime mode of servo.NewFromEnv and the
// servo-sandbox command. It is not a production server.
package mock

// Package servo is a client for the Servo key-addressed storage service.
// Values are stored and retrieved under string keys as plain text, JSON or
// an uploaded file, over HTTPS.
//
// Every operation validates its arguments and builds the request before
// returning; the exchange itself runs in the background and resolves a Call
// exactly once. A failure reported by the server in a {code,message} body is
// an *APIError regardless of the HTTP status it arrived with, and a failure
// to reach the server is a *TransportError.
//
// When credentials are configured, the first response's Authorization header
// is cached on the Session and attached to every later request.
package servo

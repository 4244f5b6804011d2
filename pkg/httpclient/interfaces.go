package httpclient

import "context"

// Response is the minimal HTTP response contract a probe relies on.
type Response interface {
	// StatusLine returns the textual status, e.g. "404 Not Found".
	StatusLine() string
	StatusCode() int
}

// Requester performs a single request/response exchange. Implementations may
// hit the network or be test doubles returning canned responses.
type Requester interface {
	Request(ctx context.Context, method, path string) (Response, error)
}

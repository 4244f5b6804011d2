package status

import (
	"context"
	"net/http"

	"github.com/samvad-hq/archive-probe/pkg/httpclient"
)

const (
	// Method and Path form the fixed request every probe issues.
	Method = http.MethodGet
	Path   = "/archive/cemetery/cemetery.htm"

	// NotFoundStatusLine is compared verbatim; no other line maps to NotFound.
	NotFoundStatusLine = "404 Not Found"
)

// GetStatus issues the fixed request once through r and classifies the outcome.
// It never fails: every request error collapses to Unknown.
func GetStatus(ctx context.Context, r httpclient.Requester) Status {
	if r == nil {
		return Unknown
	}
	return Classify(r.Request(ctx, Method, Path))
}

// Classify maps a request outcome onto a Status.
func Classify(resp httpclient.Response, err error) Status {
	switch {
	case err != nil, resp == nil:
		return Unknown
	case resp.StatusLine() == NotFoundStatusLine:
		return NotFound
	default:
		return Connected
	}
}

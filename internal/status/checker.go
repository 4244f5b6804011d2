package status

import (
	"context"
	"time"

	"github.com/samvad-hq/archive-probe/pkg/httpclient"
)

// Result records one classified probe.
type Result struct {
	TargetID   string        `json:"target_id"`
	Status     Status        `json:"status"`
	StatusLine string        `json:"status_line,omitempty"`
	Error      string        `json:"error,omitempty"`
	CheckedAt  time.Time     `json:"checked_at"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Logger is the logging surface the checker relies on. It is the Debug subset
// of internal/logger.Logger, declared here so status does not import config.
type Logger interface {
	DebugObj(msg, key string, obj interface{})
}

type noopLogger struct{}

func (noopLogger) DebugObj(string, string, interface{}) {}

// Checker runs the classifier and keeps the details it swallows.
type Checker struct {
	log Logger
	now func() time.Time
}

// NewChecker builds a Checker; a nil log discards output.
func NewChecker(log Logger) *Checker {
	if log == nil {
		log = noopLogger{}
	}
	return &Checker{log: log, now: time.Now}
}

// Check probes r once on behalf of targetID. The Status in the returned Result
// is exactly what GetStatus would report for the same exchange.
func (c *Checker) Check(ctx context.Context, targetID string, r httpclient.Requester) Result {
	start := c.now()
	res := Result{TargetID: targetID, CheckedAt: start.UTC()}

	var (
		resp httpclient.Response
		err  error
	)
	if r != nil {
		resp, err = r.Request(ctx, Method, Path)
	}
	res.Elapsed = c.now().Sub(start)
	res.Status = Classify(resp, err)

	switch {
	case err != nil:
		res.Error = err.Error()
	case resp != nil:
		res.StatusLine = resp.StatusLine()
	}

	c.log.DebugObj("probe classified", "probe_result", map[string]any{
		"target_id":   targetID,
		"status":      res.Status.String(),
		"status_line": res.StatusLine,
		"error":       res.Error,
		"elapsed_ms":  res.Elapsed.Milliseconds(),
	})
	return res
}

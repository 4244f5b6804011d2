package publishers

import (
	"time"

	"github.com/samvad-hq/archive-probe/internal/status"
)

// Event represents a status transition published downstream.
type Event struct {
	TargetID   string        `json:"target_id"`
	TargetName string        `json:"target_name"`
	Previous   status.Status `json:"previous"`
	Current    status.Status `json:"current"`
	StatusLine string        `json:"status_line,omitempty"`
	Error      string        `json:"error,omitempty"`
	CheckedAt  time.Time     `json:"checked_at"`
}

// NewEvent constructs an Event for the given target and probe result.
func NewEvent(targetName string, previous status.Status, res status.Result) Event {
	checked := res.CheckedAt
	if checked.IsZero() {
		checked = time.Now().UTC()
	}
	return Event{
		TargetID:   res.TargetID,
		TargetName: targetName,
		Previous:   previous,
		Current:    res.Status,
		StatusLine: res.StatusLine,
		Error:      res.Error,
		CheckedAt:  checked,
	}
}

// attributes returns the routing attributes attached to queue/topic messages.
func (e Event) attributes() map[string]string {
	return map[string]string{
		"target_id": e.TargetID,
		"status":    e.Current.String(),
	}
}

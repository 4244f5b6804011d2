// Package status classifies the outcome of a single probe request.
package status

import "strings"

// Status is the three-valued outcome of a probe. The zero value is Unknown.
type Status uint8

const (
	// Unknown means the request could not be completed.
	Unknown Status = iota
	// Connected means a response was obtained and it was not a not-found response.
	Connected
	// NotFound means the response status line was exactly "404 Not Found".
	NotFound
)

func (s Status) String() string {
	switch s {
	case Connected:
		return "connected"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Parse converts the text form back to a Status. Unrecognised input is Unknown.
func Parse(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "connected":
		return Connected
	case "not_found":
		return NotFound
	default:
		return Unknown
	}
}

// MarshalText produces the string value of this Status.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the string value produced by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	*s = Parse(string(text))
	return nil
}

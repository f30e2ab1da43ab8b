// Package progress holds the canonical progress event and the decoder that
// turns raw stream frames into events.
package progress

import (
	"time"
)

// Kind distinguishes intermediate progress from the authoritative completion.
type Kind string

const (
	KindProgress   Kind = "progress"
	KindCompletion Kind = "completion"
)

// Event is a validated stream message. ReceivedAt is stamped locally.
type Event struct {
	CorrelationKey string
	// InputName is the optional file-name hint some frames carry.
	InputName string
	Kind      Kind

	ProgressPercent int
	CurrentStep     string
	// Status is the backend's own status label on progress frames, e.g. "cancelled".
	Status string

	Success          bool
	ErrorMessage     string
	ResultRef        string
	Markdown         string
	ProcessingTimeMs int64

	ReceivedAt time.Time
}

// SecondsToMillis converts the wire's fractional seconds to whole milliseconds.
func SecondsToMillis(s float64) int64 {
	if s <= 0 {
		return 0
	}
	return int64(s*1000 + 0.5)
}

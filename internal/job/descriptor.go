// Package job defines the per-conversion state record tracked by the client
// session and the error taxonomy shared by every component that touches it.
package job

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a conversion job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// ParseStatus maps a backend status string onto a Status. Unknown values
// report ok=false so callers can pick their own fallback.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return Status(s), true
	case "queued":
		return StatusPending, true
	case "running", "in_progress":
		return StatusProcessing, true
	case "error":
		return StatusFailed, true
	case "canceled":
		return StatusCancelled, true
	}
	return "", false
}

// IsTerminal reports whether the status is absorbing.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Rank orders statuses by precedence: pending < processing < terminal.
func (s Status) Rank() int {
	switch {
	case s.IsTerminal():
		return 2
	case s == StatusProcessing:
		return 1
	default:
		return 0
	}
}

// Mode selects the conversion pipeline on the backend.
type Mode string

const (
	ModeStandard   Mode = "standard"
	ModeAIEnhanced Mode = "ai_enhanced"
)

// ParseMode accepts the canonical names plus the short "ai" alias used on the command line.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", string(ModeStandard):
		return ModeStandard, nil
	case string(ModeAIEnhanced), "ai":
		return ModeAIEnhanced, nil
	}
	return "", ValidationError{Field: "mode", Message: fmt.Sprintf("unknown conversion mode %q", s)}
}

// Descriptor is the canonical state of one conversion job.
type Descriptor struct {
	ID               string    `json:"id"`
	InputRef         string    `json:"input_ref"`
	CorrelationKey   string    `json:"correlation_key,omitempty"`
	Mode             Mode      `json:"mode,omitempty"`
	Status           Status    `json:"status"`
	ProgressPercent  int       `json:"progress_percent"`
	CurrentStep      string    `json:"current_step,omitempty"`
	ResultRef        string    `json:"result_ref,omitempty"`
	Markdown         string    `json:"markdown_content,omitempty"`
	ProcessingTimeMs int64     `json:"processing_time_ms,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	Stalled          bool      `json:"stalled,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Terminal reports whether the job reached an absorbing state.
func (d Descriptor) Terminal() bool { return d.Status.IsTerminal() }

// Err returns the backend-reported conversion failure for Failed jobs and nil otherwise.
func (d Descriptor) Err() error {
	if d.Status != StatusFailed {
		return nil
	}
	return &ProcessingError{ID: d.ID, Message: d.ErrorMessage}
}

// ClampPercent bounds a reported percentage to 0..100.
func ClampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Package cancel asks the conversion service to stop jobs and records the
// acknowledged cancellations.
package cancel

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tendant/simple-convert-tracker/internal/job"
	"github.com/tendant/simple-convert-tracker/pkg/schema"
)

type Backend interface {
	Cancel(ctx context.Context, id string) (schema.CancelResponse, error)
}

type Registry interface {
	Get(id string) (job.Descriptor, bool)
	Snapshot() []job.Descriptor
	MarkCancelled(id string) (job.Descriptor, error)
}

type Coordinator struct {
	backend  Backend
	registry Registry
	logger   *slog.Logger
}

func New(b Backend, reg Registry, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{backend: b, registry: reg, logger: logger.With("component", "cancel")}
}

// Cancel stops one job. Unknown and finished jobs fail with a StateError
// before anything is sent. A failed request leaves the job untouched.
func (c *Coordinator) Cancel(ctx context.Context, id string) (job.Descriptor, error) {
	d, ok := c.registry.Get(id)
	if !ok {
		return job.Descriptor{}, job.Unknown(id)
	}
	if d.Terminal() {
		return d, job.AlreadyTerminal(d)
	}

	resp, err := c.backend.Cancel(ctx, id)
	if err != nil {
		c.logger.Warn("cancel request failed", "job_id", id, "err", err)
		return d, err
	}
	if !resp.Success {
		c.logger.Warn("cancel refused", "job_id", id, "message", resp.Message)
		reason := resp.Message
		if reason == "" {
			reason = "cancellation refused by the service"
		}
		return d, &job.StateError{ID: id, Status: d.Status, Reason: reason}
	}

	// The job may have finished while the request was in flight; its terminal
	// state then stands and MarkCancelled reports it. The service's own
	// cancellation notice may also land first; that still counts as success.
	d, err = c.registry.MarkCancelled(id)
	if err != nil {
		if d.Status == job.StatusCancelled {
			c.logger.Info("job cancelled", "job_id", id, "input", d.InputRef, "notice", "stream")
			return d, nil
		}
		return d, err
	}
	c.logger.Info("job cancelled", "job_id", id, "input", d.InputRef)
	return d, nil
}

// Result is the outcome of one cancellation within CancelAll.
type Result struct {
	ID         string         `json:"id"`
	Descriptor job.Descriptor `json:"job"`
	Err        error          `json:"-"`
}

// CancelAll cancels every job that is still running and reports each attempt.
// The returned error joins the individual failures.
func (c *Coordinator) CancelAll(ctx context.Context) ([]Result, error) {
	var (
		results []Result
		errs    []error
	)
	for _, d := range c.registry.Snapshot() {
		if d.Terminal() {
			continue
		}
		got, err := c.Cancel(ctx, d.ID)
		results = append(results, Result{ID: d.ID, Descriptor: got, Err: err})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

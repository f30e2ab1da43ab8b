// Package tracker wires the submitter, progress stream, registry, canceller
// and aggregator into one client session.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-convert-tracker/internal/aggregate"
	"github.com/tendant/simple-convert-tracker/internal/backend"
	"github.com/tendant/simple-convert-tracker/internal/bus"
	"github.com/tendant/simple-convert-tracker/internal/cancel"
	"github.com/tendant/simple-convert-tracker/internal/config"
	"github.com/tendant/simple-convert-tracker/internal/job"
	"github.com/tendant/simple-convert-tracker/internal/progress"
	"github.com/tendant/simple-convert-tracker/internal/registry"
	"github.com/tendant/simple-convert-tracker/internal/stream"
	"github.com/tendant/simple-convert-tracker/internal/submitter"
)

// Backend is the conversion service as seen by the session.
type Backend interface {
	submitter.Backend
	cancel.Backend
	SupportedFormats(ctx context.Context) ([]string, error)
}

type Options struct {
	Backend Backend
	// Transport feeds the progress stream. Nil runs without progress events.
	Transport      stream.Transport
	Stream         stream.Config
	StallThreshold time.Duration
	SweepInterval  time.Duration
}

type Tracker struct {
	backend    Backend
	registry   *registry.Registry
	stream     *stream.Stream
	submitter  *submitter.Submitter
	canceller  *cancel.Coordinator
	aggregator *aggregate.Aggregator
	sweepEvery time.Duration
	logger     *slog.Logger
}

func New(opts Options, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("tracker: backend is required")
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Second
	}

	reg := registry.New(registry.Config{StallThreshold: opts.StallThreshold}, logger)
	t := &Tracker{
		backend:    opts.Backend,
		registry:   reg,
		submitter:  submitter.New(opts.Backend, reg, logger),
		canceller:  cancel.New(opts.Backend, reg, logger),
		aggregator: aggregate.New(reg, logger),
		sweepEvery: opts.SweepInterval,
		logger:     logger.With("component", "tracker"),
	}
	if opts.Transport != nil {
		dec, err := progress.NewDecoder()
		if err != nil {
			return nil, fmt.Errorf("build frame decoder: %w", err)
		}
		t.stream = stream.New(opts.Transport, dec, opts.Stream, logger)
	}
	return t, nil
}

// FromConfig builds a session against the HTTP backend and NATS progress subject.
func FromConfig(cfg config.Config, logger *slog.Logger) (*Tracker, error) {
	client := backend.NewClient(cfg.APIURL, &http.Client{Timeout: cfg.HTTPTimeout}, logger)
	opts := Options{
		Backend: client,
		Stream: stream.Config{
			Backoff:     stream.Backoff{Initial: cfg.BackoffInitial, Max: cfg.BackoffMax},
			SoftCeiling: cfg.SoftCeiling,
		},
		StallThreshold: cfg.StallThreshold,
		SweepInterval:  cfg.SweepInterval,
	}
	if cfg.ProgressEnabled {
		opts.Transport = bus.NewTransport(cfg.NATSURL, cfg.ProgressSubject)
	}
	return New(opts, logger)
}

// Run drives the progress stream, the event consumer and the stall sweep
// until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if t.stream != nil {
		g.Go(func() error { return t.stream.Run(ctx) })
		g.Go(func() error {
			t.consume(t.stream.Events())
			return nil
		})
	}
	g.Go(func() error {
		t.sweep(ctx)
		return nil
	})
	return g.Wait()
}

// consume is the only goroutine that merges stream events.
func (t *Tracker) consume(events <-chan progress.Event) {
	for ev := range events {
		outcome := t.registry.Merge(ev)
		t.logger.Debug("progress event", "correlation_key", ev.CorrelationKey, "kind", ev.Kind, "outcome", outcome)
	}
}

func (t *Tracker) sweep(ctx context.Context) {
	ticker := time.NewTicker(t.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.registry.Sweep(now)
		}
	}
}

func (t *Tracker) Submit(ctx context.Context, inputs []submitter.Input, mode job.Mode) ([]job.Descriptor, error) {
	return t.submitter.Submit(ctx, inputs, mode)
}

func (t *Tracker) SubmitURL(ctx context.Context, rawURL string, mode job.Mode) (job.Descriptor, error) {
	return t.submitter.SubmitURL(ctx, rawURL, mode)
}

func (t *Tracker) Cancel(ctx context.Context, id string) (job.Descriptor, error) {
	return t.canceller.Cancel(ctx, id)
}

func (t *Tracker) CancelAll(ctx context.Context) ([]cancel.Result, error) {
	return t.canceller.CancelAll(ctx)
}

func (t *Tracker) List() []job.Descriptor { return t.aggregator.List() }

func (t *Tracker) Get(id string) (job.Descriptor, error) { return t.aggregator.Get(id) }

func (t *Tracker) Clear() int { return t.aggregator.Clear() }

func (t *Tracker) Summary() aggregate.Summary { return t.aggregator.Summary() }

// StreamStatus reports progress stream health. Without a stream, progress is
// permanently unavailable.
func (t *Tracker) StreamStatus() stream.Status {
	if t.stream == nil {
		return stream.Status{ProgressUnavailable: true}
	}
	return t.stream.Status()
}

func (t *Tracker) SupportedFormats(ctx context.Context) ([]string, error) {
	return t.backend.SupportedFormats(ctx)
}

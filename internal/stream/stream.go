// Package stream keeps the progress channel open and turns its frames into a
// never-ending sequence of progress events.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tendant/simple-convert-tracker/internal/progress"
)

// Transport opens one connection to the progress source.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is a live progress connection. Receive blocks for the next frame and
// returns an error once the connection is unusable.
type Conn interface {
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Decoder turns raw frames into events.
type Decoder interface {
	Decode(data []byte, receivedAt time.Time) (progress.Event, error)
}

type Config struct {
	Backoff Backoff
	// SoftCeiling is the number of consecutive failed attempts after which
	// progress is reported unavailable. Zero disables the flag.
	SoftCeiling int
	// Buffer is the capacity of the events channel.
	Buffer int
	// StableAfter is how long a connection must stay up without delivering
	// a frame before it counts as healthy. A received frame counts at once.
	StableAfter time.Duration
}

// Status is a point-in-time view of stream health.
type Status struct {
	Connected           bool `json:"connected"`
	ProgressUnavailable bool `json:"progress_unavailable"`
	FailedAttempts      int  `json:"failed_attempts"`
	Dropped             int  `json:"dropped_frames"`
}

type Stream struct {
	transport Transport
	decoder   Decoder
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	events chan progress.Event

	connected   atomic.Bool
	unavailable atomic.Bool
	failures    atomic.Int64
	dropped     atomic.Int64
}

func New(transport Transport, decoder Decoder, cfg Config, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = 10 * time.Second
	}
	return &Stream{
		transport: transport,
		decoder:   decoder,
		cfg:       cfg,
		logger:    logger.With("component", "progress_stream"),
		now:       time.Now,
		sleep:     sleepContext,
		events:    make(chan progress.Event, cfg.Buffer),
	}
}

// Events yields decoded events. The channel is closed when Run returns.
func (s *Stream) Events() <-chan progress.Event { return s.events }

func (s *Stream) Connected() bool { return s.connected.Load() }

// ProgressUnavailable reports that reconnect attempts passed the soft ceiling.
func (s *Stream) ProgressUnavailable() bool { return s.unavailable.Load() }

func (s *Stream) Status() Status {
	return Status{
		Connected:           s.connected.Load(),
		ProgressUnavailable: s.unavailable.Load(),
		FailedAttempts:      int(s.failures.Load()),
		Dropped:             int(s.dropped.Load()),
	}
}

// Run connects, pumps frames and reconnects until ctx is done. It never gives
// up on its own and returns nil on cancellation.
func (s *Stream) Run(ctx context.Context) error {
	defer close(s.events)
	defer s.connected.Store(false)

	for {
		conn, err := s.transport.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if err := s.retry(ctx, fmt.Errorf("dial: %w", err)); err != nil {
				return nil
			}
			continue
		}

		s.connected.Store(true)
		s.logger.Info("progress stream connected", "failed_attempts", s.failures.Load())
		err = s.pump(ctx, conn)
		if cerr := conn.Close(); cerr != nil {
			s.logger.Debug("close progress connection", "err", cerr)
		}
		s.connected.Store(false)

		if ctx.Err() != nil {
			return nil
		}
		if err := s.retry(ctx, fmt.Errorf("receive: %w", err)); err != nil {
			return nil
		}
	}
}

// pump reads until the connection fails. Failure counters only reset once
// the connection proves itself, so a link that drops on every first read
// still climbs to the soft ceiling.
func (s *Stream) pump(ctx context.Context, conn Conn) error {
	var healthy sync.Once
	markHealthy := func() { healthy.Do(s.markHealthy) }
	timer := time.AfterFunc(s.cfg.StableAfter, markHealthy)
	defer timer.Stop()

	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			return err
		}
		markHealthy()
		ev, err := s.decoder.Decode(data, s.now())
		if err != nil {
			s.dropped.Add(1)
			s.logger.Warn("dropping malformed progress frame", "err", err, "bytes", len(data))
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Stream) markHealthy() {
	failures := s.failures.Swap(0)
	if s.unavailable.Swap(false) || failures > 0 {
		s.logger.Info("progress stream recovered", "failed_attempts", failures)
	}
}

func (s *Stream) retry(ctx context.Context, cause error) error {
	attempt := int(s.failures.Add(1))
	delay := s.cfg.Backoff.Delay(attempt)
	s.logger.Warn("progress stream disconnected", "err", cause, "attempt", attempt, "retry_in", delay)

	if s.cfg.SoftCeiling > 0 && attempt >= s.cfg.SoftCeiling && !s.unavailable.Swap(true) {
		s.logger.Error("progress unavailable, jobs still complete through submit responses", "attempts", attempt)
	}
	return s.sleep(ctx, delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrClosed is returned by transports whose connection was shut down.
var ErrClosed = errors.New("progress connection closed")

// Package aggregate is the read-only view of tracked jobs handed to
// presentation layers.
package aggregate

import (
	"log/slog"

	"github.com/tendant/simple-convert-tracker/internal/job"
)

type Source interface {
	Snapshot() []job.Descriptor
	Get(id string) (job.Descriptor, bool)
	Clear() int
}

type Aggregator struct {
	src    Source
	logger *slog.Logger
}

func New(src Source, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{src: src, logger: logger.With("component", "aggregate")}
}

// List returns jobs in submission order with at most one entry per id.
// When an id repeats, its first position is kept and the later state wins.
func (a *Aggregator) List() []job.Descriptor {
	snap := a.src.Snapshot()
	out := make([]job.Descriptor, 0, len(snap))
	pos := make(map[string]int, len(snap))
	for _, d := range snap {
		if i, ok := pos[d.ID]; ok {
			out[i] = d
			continue
		}
		pos[d.ID] = len(out)
		out = append(out, d)
	}
	return out
}

func (a *Aggregator) Get(id string) (job.Descriptor, error) {
	d, ok := a.src.Get(id)
	if !ok {
		return job.Descriptor{}, job.Unknown(id)
	}
	return d, nil
}

// Clear forgets every tracked job. Jobs keep running on the service.
func (a *Aggregator) Clear() int {
	n := a.src.Clear()
	a.logger.Info("cleared jobs", "count", n)
	return n
}

// Summary counts jobs by state.
type Summary struct {
	Total     int `json:"total"`
	InFlight  int `json:"in_flight"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Stalled   int `json:"stalled"`
}

// Done reports whether no job is still running.
func (s Summary) Done() bool { return s.InFlight == 0 }

func (a *Aggregator) Summary() Summary {
	return Summarize(a.List())
}

// Summarize counts an arbitrary list of descriptors.
func Summarize(jobs []job.Descriptor) Summary {
	var s Summary
	for _, d := range jobs {
		s.Total++
		switch d.Status {
		case job.StatusCompleted:
			s.Completed++
		case job.StatusFailed:
			s.Failed++
		case job.StatusCancelled:
			s.Cancelled++
		default:
			s.InFlight++
			if d.Stalled {
				s.Stalled++
			}
		}
	}
	return s
}

// Package registry is the single owner of per-job state. Submit responses and
// stream events are reconciled here under one lock.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tendant/simple-convert-tracker/internal/job"
	"github.com/tendant/simple-convert-tracker/internal/progress"
)

const (
	DefaultStallThreshold = 30 * time.Second

	provisionalPrefix = "provisional-"
)

// Outcome reports what Merge did with an event.
type Outcome int

const (
	// Applied means the event updated a tracked job.
	Applied Outcome = iota
	// Ignored means the event resolved to a job that is already terminal.
	Ignored
	// Provisional means the event was attributed to an outstanding submission
	// and a provisional entry now carries it.
	Provisional
	// Dropped means the event could not be attributed to any job.
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Ignored:
		return "ignored"
	case Provisional:
		return "provisional"
	case Dropped:
		return "dropped"
	}
	return "unknown"
}

type Config struct {
	// StallThreshold is how long a non-terminal job may go without an update
	// before Sweep flags it. Defaults to DefaultStallThreshold.
	StallThreshold time.Duration
	Now            func() time.Time
}

// submission is a request sent to the backend whose response has not arrived yet.
type submission struct {
	key           string
	inputRef      string
	provisionalID string
}

type Registry struct {
	mu sync.Mutex

	entries map[string]*job.Descriptor
	order   []string

	// keys maps correlation keys to the id that owns them.
	keys map[string]string
	// inputs maps input names to the most recent id submitted for them.
	inputs      map[string]string
	outstanding map[string]*submission

	threshold time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = DefaultStallThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		entries:     make(map[string]*job.Descriptor),
		keys:        make(map[string]string),
		inputs:      make(map[string]string),
		outstanding: make(map[string]*submission),
		threshold:   cfg.StallThreshold,
		now:         cfg.Now,
		logger:      logger.With("component", "registry"),
	}
}

// BeginSubmission records a request that is about to be sent so that stream
// events racing ahead of its response can be attributed to it.
func (r *Registry) BeginSubmission(key, inputRef string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outstanding[key] = &submission{key: key, inputRef: inputRef}
}

// AbandonSubmission forgets a request that failed before yielding an id. A
// provisional entry created for it is removed as well.
func (r *Registry) AbandonSubmission(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.outstanding[key]
	if !ok {
		return
	}
	delete(r.outstanding, key)
	if sub.provisionalID != "" {
		r.remove(sub.provisionalID)
		r.logger.Warn("discarded provisional job", "job_id", sub.provisionalID, "correlation_key", key)
	}
}

// Outstanding returns the number of submissions still waiting for a response.
func (r *Registry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outstanding)
}

// Upsert records a descriptor returned by the backend. An existing entry with
// the same id, or the provisional entry created for the same correlation key,
// is merged into rather than duplicated. The merged state is returned.
func (r *Registry) Upsert(d job.Descriptor) job.Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	d.ProgressPercent = job.ClampPercent(d.ProgressPercent)

	var provisional string
	if sub, ok := r.outstanding[d.CorrelationKey]; ok && d.CorrelationKey != "" {
		provisional = sub.provisionalID
		delete(r.outstanding, d.CorrelationKey)
	}

	existing, known := r.entries[d.ID]
	switch {
	case known && provisional != "" && provisional != d.ID:
		// Both the real id and a provisional twin exist. Fold the twin in.
		if p, ok := r.entries[provisional]; ok {
			merged := mergeDescriptor(*existing, *p)
			*existing = merged
			r.remove(provisional)
		}
	case !known && provisional != "":
		if p, ok := r.entries[provisional]; ok {
			r.rekey(provisional, d.ID)
			existing, known = p, true
			r.logger.Info("resolved provisional job", "job_id", d.ID, "provisional_id", provisional)
		}
	}

	if known {
		merged := mergeDescriptor(*existing, d)
		merged.ID = d.ID
		*existing = merged
	} else {
		stored := d
		existing = &stored
		r.entries[d.ID] = existing
		r.order = append(r.order, d.ID)
	}

	if existing.CorrelationKey != "" {
		r.keys[existing.CorrelationKey] = existing.ID
	}
	if existing.InputRef != "" {
		r.inputs[existing.InputRef] = existing.ID
	}
	return *existing
}

// Merge applies one stream event.
func (r *Registry) Merge(ev progress.Event) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	outcome := Applied
	d := r.resolve(ev)
	if d == nil {
		sub := r.attribute(ev)
		if sub == nil {
			r.logger.Warn("dropped orphan event",
				"correlation_key", ev.CorrelationKey,
				"kind", ev.Kind,
				"outstanding", len(r.outstanding),
			)
			return Dropped
		}
		d = r.provision(sub, ev)
		outcome = Provisional
	}

	if d.Terminal() {
		r.logger.Debug("ignored event for finished job", "job_id", d.ID, "status", d.Status, "kind", ev.Kind)
		return Ignored
	}
	apply(d, ev, r.stamp(ev))
	return outcome
}

// Get returns a copy of the descriptor stored under id.
func (r *Registry) Get(id string) (job.Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.entries[id]
	if !ok {
		return job.Descriptor{}, false
	}
	return *d, true
}

// Snapshot returns copies of every descriptor in insertion order.
func (r *Registry) Snapshot() []job.Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]job.Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.entries[id])
	}
	return out
}

// MarkCancelled moves a non-terminal job to Cancelled. Unknown and finished
// jobs are left alone and reported with a StateError.
func (r *Registry) MarkCancelled(id string) (job.Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.entries[id]
	if !ok {
		return job.Descriptor{}, job.Unknown(id)
	}
	if d.Terminal() {
		return *d, job.AlreadyTerminal(*d)
	}
	d.Status = job.StatusCancelled
	d.Stalled = false
	d.UpdatedAt = r.now()
	return *d, nil
}

// Sweep flags non-terminal jobs that have not been updated within the stall
// threshold and returns the ids flagged by this call. Nothing is cancelled.
func (r *Registry) Sweep(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var flagged []string
	for _, id := range r.order {
		d := r.entries[id]
		if d.Terminal() || d.Stalled {
			continue
		}
		if now.Sub(d.UpdatedAt) >= r.threshold {
			d.Stalled = true
			flagged = append(flagged, id)
			r.logger.Warn("job stalled", "job_id", id, "status", d.Status, "idle", now.Sub(d.UpdatedAt).Round(time.Second))
		}
	}
	return flagged
}

// Clear removes every descriptor and returns how many were removed.
// Submissions still in flight stay outstanding.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries)
	r.entries = make(map[string]*job.Descriptor)
	r.order = nil
	r.keys = make(map[string]string)
	r.inputs = make(map[string]string)
	for _, sub := range r.outstanding {
		sub.provisionalID = ""
	}
	return n
}

func (r *Registry) resolve(ev progress.Event) *job.Descriptor {
	key := ev.CorrelationKey
	if d, ok := r.entries[key]; ok {
		return d
	}
	if id, ok := r.keys[key]; ok {
		return r.entries[id]
	}
	if sub := r.matchOutstanding(ev); sub != nil {
		if sub.provisionalID != "" {
			return r.entries[sub.provisionalID]
		}
		return nil
	}
	if id, ok := r.inputs[key]; ok {
		return r.entries[id]
	}
	if id, ok := r.inputs[ev.InputName]; ok && ev.InputName != "" {
		return r.entries[id]
	}
	return nil
}

// attribute picks the outstanding submission an orphan event belongs to.
func (r *Registry) attribute(ev progress.Event) *submission {
	if sub := r.matchOutstanding(ev); sub != nil {
		return sub
	}
	if len(r.outstanding) == 1 {
		for _, sub := range r.outstanding {
			r.logger.Warn("attributing orphan event to the only outstanding submission",
				"correlation_key", ev.CorrelationKey,
				"submission_key", sub.key,
			)
			return sub
		}
	}
	return nil
}

// matchOutstanding finds the single outstanding submission whose key or input
// name matches the event. Ambiguous input-name matches return nil.
func (r *Registry) matchOutstanding(ev progress.Event) *submission {
	if sub, ok := r.outstanding[ev.CorrelationKey]; ok {
		return sub
	}
	var match *submission
	for _, sub := range r.outstanding {
		if sub.inputRef == "" {
			continue
		}
		if sub.inputRef != ev.CorrelationKey && sub.inputRef != ev.InputName {
			continue
		}
		if match != nil {
			return nil
		}
		match = sub
	}
	return match
}

func (r *Registry) provision(sub *submission, ev progress.Event) *job.Descriptor {
	if sub.provisionalID != "" {
		if d, ok := r.entries[sub.provisionalID]; ok {
			return d
		}
	}
	at := r.stamp(ev)
	id := provisionalPrefix + sub.key
	d := &job.Descriptor{
		ID:             id,
		InputRef:       sub.inputRef,
		CorrelationKey: sub.key,
		Status:         job.StatusProcessing,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	sub.provisionalID = id
	r.entries[id] = d
	r.order = append(r.order, id)
	r.logger.Info("created provisional job", "job_id", id, "correlation_key", ev.CorrelationKey)
	return d
}

func (r *Registry) stamp(ev progress.Event) time.Time {
	if ev.ReceivedAt.IsZero() {
		return r.now()
	}
	return ev.ReceivedAt
}

// rekey moves an entry to a new id without changing its position.
func (r *Registry) rekey(from, to string) {
	d := r.entries[from]
	delete(r.entries, from)
	d.ID = to
	r.entries[to] = d
	for i, id := range r.order {
		if id == from {
			r.order[i] = to
			break
		}
	}
	for k, id := range r.keys {
		if id == from {
			r.keys[k] = to
		}
	}
}

func (r *Registry) remove(id string) {
	delete(r.entries, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	for k, v := range r.keys {
		if v == id {
			delete(r.keys, k)
		}
	}
	for k, v := range r.inputs {
		if v == id {
			delete(r.inputs, k)
		}
	}
}

// apply folds an event into a non-terminal descriptor.
func apply(d *job.Descriptor, ev progress.Event, at time.Time) {
	d.Stalled = false
	d.UpdatedAt = at

	if ev.Kind == progress.KindCompletion {
		if ev.Success {
			d.Status = job.StatusCompleted
			d.ProgressPercent = 100
		} else {
			d.Status = job.StatusFailed
			d.ErrorMessage = ev.ErrorMessage
		}
		if ev.ResultRef != "" {
			d.ResultRef = ev.ResultRef
		}
		if ev.Markdown != "" {
			d.Markdown = ev.Markdown
		}
		d.ProcessingTimeMs = ev.ProcessingTimeMs
		return
	}

	if st, ok := job.ParseStatus(ev.Status); ok && st == job.StatusCancelled {
		d.Status = job.StatusCancelled
		return
	}
	if d.Status == job.StatusPending {
		d.Status = job.StatusProcessing
	}
	if p := job.ClampPercent(ev.ProgressPercent); p > d.ProgressPercent {
		d.ProgressPercent = p
	}
	if ev.CurrentStep != "" {
		d.CurrentStep = ev.CurrentStep
	}
}

// mergeDescriptor combines two records of the same job. A terminal record
// already stored is never changed; otherwise the higher status wins and
// empty fields are filled from the incoming record.
func mergeDescriptor(existing, incoming job.Descriptor) job.Descriptor {
	if existing.Terminal() {
		fill(&existing, incoming)
		return existing
	}

	out := existing
	if incoming.Status.Rank() >= existing.Status.Rank() {
		out.Status = incoming.Status
	}
	if incoming.Terminal() {
		out.ResultRef = pick(incoming.ResultRef, existing.ResultRef)
		out.Markdown = pick(incoming.Markdown, existing.Markdown)
		out.ErrorMessage = incoming.ErrorMessage
		out.ProcessingTimeMs = incoming.ProcessingTimeMs
		if incoming.Status == job.StatusCompleted {
			out.ProgressPercent = 100
		}
	}
	if incoming.ProgressPercent > out.ProgressPercent {
		out.ProgressPercent = incoming.ProgressPercent
	}
	out.CurrentStep = pick(out.CurrentStep, incoming.CurrentStep)
	fill(&out, incoming)
	if incoming.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = incoming.UpdatedAt
	}
	out.Stalled = false
	return out
}

// fill copies identity fields that the stored record is missing.
func fill(dst *job.Descriptor, src job.Descriptor) {
	dst.InputRef = pick(dst.InputRef, src.InputRef)
	dst.CorrelationKey = pick(dst.CorrelationKey, src.CorrelationKey)
	if dst.Mode == "" {
		dst.Mode = src.Mode
	}
	if !src.CreatedAt.IsZero() && (dst.CreatedAt.IsZero() || src.CreatedAt.Before(dst.CreatedAt)) {
		dst.CreatedAt = src.CreatedAt
	}
}

func pick(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

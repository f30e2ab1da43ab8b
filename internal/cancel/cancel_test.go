package cancel

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-convert-tracker/internal/job"
	"github.com/tendant/simple-convert-tracker/internal/progress"
	"github.com/tendant/simple-convert-tracker/internal/registry"
	"github.com/tendant/simple-convert-tracker/pkg/schema"
)

type fakeBackend struct {
	mu     sync.Mutex
	calls  []string
	resp   map[string]schema.CancelResponse
	err    error
	before func(id string)
}

func (f *fakeBackend) Cancel(ctx context.Context, id string) (schema.CancelResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	before := f.before
	f.mu.Unlock()
	if before != nil {
		before(id)
	}
	if f.err != nil {
		return schema.CancelResponse{}, f.err
	}
	if r, ok := f.resp[id]; ok {
		return r, nil
	}
	return schema.CancelResponse{Success: true, Message: "cancelled"}, nil
}

func seed(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.Config{}, nil)
	for _, id := range []string{"job-1", "job-2", "job-3"} {
		reg.Upsert(job.Descriptor{ID: id, CorrelationKey: "k-" + id, InputRef: id + ".pdf", Status: job.StatusProcessing})
	}
	return reg
}

func TestCancelOneOfBatch(t *testing.T) {
	reg := seed(t)
	reg.Merge(progress.Event{CorrelationKey: "job-3", Kind: progress.KindCompletion, Success: true, ResultRef: "job-3.md"})
	fb := &fakeBackend{}
	c := New(fb, reg, nil)

	d, err := c.Cancel(context.Background(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, d.Status)

	want := map[string]job.Status{
		"job-1": job.StatusProcessing,
		"job-2": job.StatusCancelled,
		"job-3": job.StatusCompleted,
	}
	for _, d := range reg.Snapshot() {
		assert.Equal(t, want[d.ID], d.Status, d.ID)
	}
	assert.Equal(t, []string{"job-2"}, fb.calls)

	reg.Merge(progress.Event{CorrelationKey: "job-2", Kind: progress.KindCompletion, Success: true})
	d, _ = reg.Get("job-2")
	assert.Equal(t, job.StatusCancelled, d.Status)
}

func TestCancelRejectsUnknownAndTerminalWithoutCallingBackend(t *testing.T) {
	reg := seed(t)
	reg.Merge(progress.Event{CorrelationKey: "job-1", Kind: progress.KindCompletion, Success: false, ErrorMessage: "boom"})
	fb := &fakeBackend{}
	c := New(fb, reg, nil)

	_, err := c.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, job.ErrState)

	d, err := c.Cancel(context.Background(), "job-1")
	assert.ErrorIs(t, err, job.ErrState)
	assert.Equal(t, job.StatusFailed, d.Status)

	assert.Empty(t, fb.calls)
}

func TestCancelTransportFailureLeavesJobUnchanged(t *testing.T) {
	reg := seed(t)
	fb := &fakeBackend{err: &job.TransportError{Op: "cancel", Err: errors.New("timeout")}}
	c := New(fb, reg, nil)

	_, err := c.Cancel(context.Background(), "job-1")
	assert.ErrorIs(t, err, job.ErrTransport)
	d, _ := reg.Get("job-1")
	assert.Equal(t, job.StatusProcessing, d.Status)

	fb.err = nil
	d, err = c.Cancel(context.Background(), "job-1")
	require.NoError(t, err, "retry after transport failure")
	assert.Equal(t, job.StatusCancelled, d.Status)
}

func TestCancelRefusedByBackend(t *testing.T) {
	reg := seed(t)
	fb := &fakeBackend{resp: map[string]schema.CancelResponse{"job-1": {Success: false, Message: "Conversion not found or already completed"}}}
	c := New(fb, reg, nil)

	_, err := c.Cancel(context.Background(), "job-1")
	var serr *job.StateError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "Conversion not found or already completed", serr.Reason)

	d, _ := reg.Get("job-1")
	assert.Equal(t, job.StatusProcessing, d.Status)
}

func TestCancelRacingCompletionKeepsCompletion(t *testing.T) {
	reg := seed(t)
	fb := &fakeBackend{before: func(id string) {
		reg.Merge(progress.Event{CorrelationKey: id, Kind: progress.KindCompletion, Success: true, ResultRef: "done.md"})
	}}
	c := New(fb, reg, nil)

	d, err := c.Cancel(context.Background(), "job-1")
	assert.ErrorIs(t, err, job.ErrState)
	assert.Equal(t, job.StatusCompleted, d.Status)
}

func TestCancelNoticeBeforeAckIsSuccess(t *testing.T) {
	reg := seed(t)
	fb := &fakeBackend{before: func(id string) {
		reg.Merge(progress.Event{CorrelationKey: id, Kind: progress.KindProgress, Status: "cancelled"})
	}}
	c := New(fb, reg, nil)

	d, err := c.Cancel(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, d.Status)

	results, err := c.CancelAll(context.Background())
	require.NoError(t, err)
	for _, r := range results {
		assert.NoError(t, r.Err, r.ID)
		assert.Equal(t, job.StatusCancelled, r.Descriptor.Status, r.ID)
	}
}

func TestCancelAll(t *testing.T) {
	reg := seed(t)
	reg.Merge(progress.Event{CorrelationKey: "job-2", Kind: progress.KindCompletion, Success: true})
	fb := &fakeBackend{resp: map[string]schema.CancelResponse{"job-3": {Success: false, Message: "too late"}}}
	c := New(fb, reg, nil)

	results, err := c.CancelAll(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, "job-1", results[0].ID)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "job-3", results[1].ID)
	assert.ErrorIs(t, results[1].Err, job.ErrState)
	assert.ErrorIs(t, err, job.ErrState)

	d, _ := reg.Get("job-1")
	assert.Equal(t, job.StatusCancelled, d.Status)
	assert.Equal(t, []string{"job-1", "job-3"}, fb.calls)
}

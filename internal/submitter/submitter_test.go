package submitter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-convert-tracker/internal/backend"
	"github.com/tendant/simple-convert-tracker/internal/job"
	"github.com/tendant/simple-convert-tracker/internal/registry"
	"github.com/tendant/simple-convert-tracker/pkg/schema"
)

type fakeBackend struct {
	mu       sync.Mutex
	single   []backend.Upload
	batches  [][]backend.Upload
	urls     []string
	bodies   []string
	status   string
	err      error
	dropID   bool
	duringFn func()
}

func (f *fakeBackend) result(up backend.Upload) schema.ConversionResult {
	data, _ := io.ReadAll(up.Body)
	f.bodies = append(f.bodies, string(data))
	status := f.status
	if status == "" {
		status = "processing"
	}
	res := schema.ConversionResult{ID: "id-" + up.Name, Status: status, InputFile: up.Name}
	if f.dropID {
		res.ID = ""
	}
	if status == "completed" {
		res.OutputFile = strings.TrimSuffix(up.Name, filepath.Ext(up.Name)) + ".md"
		secs := 1.25
		res.ProcessingTime = &secs
	}
	return res
}

func (f *fakeBackend) Submit(ctx context.Context, up backend.Upload, mode job.Mode) (schema.ConversionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.single = append(f.single, up)
	if f.duringFn != nil {
		f.duringFn()
	}
	if f.err != nil {
		return schema.ConversionResult{}, f.err
	}
	return f.result(up), nil
}

func (f *fakeBackend) SubmitBatch(ctx context.Context, ups []backend.Upload, mode job.Mode) ([]schema.ConversionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, ups)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]schema.ConversionResult, 0, len(ups))
	for _, up := range ups {
		out = append(out, f.result(up))
	}
	return out, nil
}

func (f *fakeBackend) SubmitURL(ctx context.Context, rawURL string, mode job.Mode, key string) (schema.ConversionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, rawURL)
	if f.err != nil {
		return schema.ConversionResult{}, f.err
	}
	return schema.ConversionResult{ID: "url-1", Status: "processing", InputFile: rawURL}, nil
}

func memInput(name, body string) Input {
	return Input{
		Name: name,
		Size: int64(len(body)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(body)), nil },
	}
}

func newTestSubmitter(fb *fakeBackend) (*Submitter, *registry.Registry) {
	reg := registry.New(registry.Config{}, nil)
	s := New(fb, reg, nil)
	n := 0
	s.newKey = func() string {
		n++
		return fmt.Sprintf("key-%d", n)
	}
	return s, reg
}

func TestSubmitSingleFile(t *testing.T) {
	fb := &fakeBackend{}
	s, reg := newTestSubmitter(fb)

	got, err := s.Submit(context.Background(), []Input{memInput("report.pdf", "%PDF")}, job.ModeStandard)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "id-report.pdf", got[0].ID)
	assert.Equal(t, "report.pdf", got[0].InputRef)
	assert.Equal(t, "key-1", got[0].CorrelationKey)
	assert.Equal(t, job.StatusProcessing, got[0].Status)

	require.Len(t, fb.single, 1)
	assert.Empty(t, fb.batches)
	assert.Equal(t, "key-1", fb.single[0].CorrelationKey)
	assert.Equal(t, []string{"%PDF"}, fb.bodies)

	assert.Len(t, reg.Snapshot(), 1)
	assert.Equal(t, 0, reg.Outstanding())
}

func TestSubmitBatchYieldsOneDescriptorPerInput(t *testing.T) {
	fb := &fakeBackend{}
	s, reg := newTestSubmitter(fb)

	inputs := []Input{memInput("a.pdf", "a"), memInput("b.docx", "b"), memInput("c.xlsx", "c")}
	got, err := s.Submit(context.Background(), inputs, job.ModeAIEnhanced)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Empty(t, fb.single)
	require.Len(t, fb.batches, 1)

	ids := map[string]bool{}
	for i, d := range got {
		assert.Equal(t, inputs[i].Name, d.InputRef)
		assert.Equal(t, job.ModeAIEnhanced, d.Mode)
		ids[d.ID] = true
	}
	assert.Len(t, ids, 3)
	assert.Equal(t, got, reg.Snapshot())
}

func TestSubmitAcceptsSynchronousCompletion(t *testing.T) {
	fb := &fakeBackend{status: "completed"}
	s, _ := newTestSubmitter(fb)

	got, err := s.Submit(context.Background(), []Input{memInput("small.txt", "hi")}, job.ModeStandard)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got[0].Status)
	assert.Equal(t, "small.md", got[0].ResultRef)
	assert.Equal(t, int64(1250), got[0].ProcessingTimeMs)
	assert.Equal(t, 100, got[0].ProgressPercent)
}

func TestSubmitValidatesLocally(t *testing.T) {
	fb := &fakeBackend{}
	s, reg := newTestSubmitter(fb)

	tests := []struct {
		name   string
		inputs []Input
		mode   job.Mode
	}{
		{"empty list", nil, job.ModeStandard},
		{"unsupported extension", []Input{memInput("virus.exe", "MZ")}, job.ModeStandard},
		{"empty payload", []Input{memInput("blank.pdf", "")}, job.ModeStandard},
		{"too large", []Input{{Name: "huge.pdf", Size: 101 << 20, Open: memInput("huge.pdf", "x").Open}}, job.ModeStandard},
		{"unknown mode", []Input{memInput("a.pdf", "a")}, job.Mode("turbo")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Submit(context.Background(), tt.inputs, tt.mode)
			assert.ErrorIs(t, err, job.ErrValidation)
		})
	}
	assert.Empty(t, fb.single)
	assert.Empty(t, fb.batches)
	assert.Empty(t, reg.Snapshot())
}

func TestSubmitFailureAbandonsOutstanding(t *testing.T) {
	for _, backendErr := range []error{
		&job.TransportError{Op: "submit upload", Err: errors.New("connection refused")},
		job.ValidationError{Field: "submit upload", Message: "unsupported file format"},
	} {
		fb := &fakeBackend{err: backendErr}
		s, reg := newTestSubmitter(fb)
		fb.duringFn = func() { assert.Equal(t, 1, reg.Outstanding()) }

		_, err := s.Submit(context.Background(), []Input{memInput("a.pdf", "a")}, job.ModeStandard)
		assert.ErrorIs(t, err, backendErr)
		assert.Equal(t, 0, reg.Outstanding())
		assert.Empty(t, reg.Snapshot())
	}
}

func TestSubmitRejectsResponseWithoutID(t *testing.T) {
	fb := &fakeBackend{dropID: true}
	s, reg := newTestSubmitter(fb)

	_, err := s.Submit(context.Background(), []Input{memInput("a.pdf", "a")}, job.ModeStandard)
	assert.ErrorIs(t, err, job.ErrTransport)
	assert.Empty(t, reg.Snapshot())
}

func TestSubmitURL(t *testing.T) {
	fb := &fakeBackend{}
	s, reg := newTestSubmitter(fb)

	d, err := s.SubmitURL(context.Background(), "https://example.com/page", job.ModeStandard)
	require.NoError(t, err)
	assert.Equal(t, "url-1", d.ID)
	assert.Equal(t, "https://example.com/page", d.InputRef)
	assert.Len(t, reg.Snapshot(), 1)

	_, err = s.SubmitURL(context.Background(), "ftp://example.com/file", job.ModeStandard)
	assert.ErrorIs(t, err, job.ErrValidation)
	assert.Len(t, fb.urls, 1)
}

func TestFileInput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.docx")
	require.NoError(t, os.WriteFile(path, []byte("docx bytes"), 0o644))

	in, err := FileInput(path)
	require.NoError(t, err)
	assert.Equal(t, "notes.docx", in.Name)
	assert.Equal(t, int64(10), in.Size)

	rc, err := in.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "docx bytes", string(data))

	_, err = FileInput(filepath.Join(dir, "missing.pdf"))
	assert.ErrorIs(t, err, job.ErrValidation)
	_, err = FileInput(dir)
	assert.ErrorIs(t, err, job.ErrValidation)
}

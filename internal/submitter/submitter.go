// Package submitter sends files and URLs to the conversion service and
// records the resulting jobs in the registry.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-convert-tracker/internal/backend"
	"github.com/tendant/simple-convert-tracker/internal/formats"
	"github.com/tendant/simple-convert-tracker/internal/job"
	"github.com/tendant/simple-convert-tracker/internal/progress"
	"github.com/tendant/simple-convert-tracker/pkg/schema"
)

// Backend is the part of the conversion API the submitter needs.
type Backend interface {
	Submit(ctx context.Context, up backend.Upload, mode job.Mode) (schema.ConversionResult, error)
	SubmitBatch(ctx context.Context, ups []backend.Upload, mode job.Mode) ([]schema.ConversionResult, error)
	SubmitURL(ctx context.Context, rawURL string, mode job.Mode, correlationKey string) (schema.ConversionResult, error)
}

// Registry receives outstanding submissions and their descriptors.
type Registry interface {
	BeginSubmission(key, inputRef string)
	AbandonSubmission(key string)
	Upsert(d job.Descriptor) job.Descriptor
}

// Input is one file to convert. Open is called once per submission.
type Input struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// FileInput describes a file on local disk.
func FileInput(path string) (Input, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Input{}, job.ValidationError{Field: "file", Message: err.Error()}
	}
	if info.IsDir() {
		return Input{}, job.ValidationError{Field: "file", Message: fmt.Sprintf("%s is a directory", path)}
	}
	return Input{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

type Submitter struct {
	backend  Backend
	registry Registry
	logger   *slog.Logger
	newKey   func() string
	now      func() time.Time
}

func New(b Backend, reg Registry, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		backend:  b,
		registry: reg,
		logger:   logger.With("component", "submitter"),
		newKey:   uuid.NewString,
		now:      time.Now,
	}
}

// Submit uploads the inputs and returns one descriptor per input, in order.
// A single input uses the single-file call and several use one batch call.
// Validation and transport failures are returned here and never reach the
// registry.
func (s *Submitter) Submit(ctx context.Context, inputs []Input, mode job.Mode) ([]job.Descriptor, error) {
	if len(inputs) == 0 {
		return nil, job.ValidationError{Field: "files", Message: "at least one file is required"}
	}
	mode, err := job.ParseMode(string(mode))
	if err != nil {
		return nil, err
	}
	for _, in := range inputs {
		if err := formats.CheckFile(in.Name, in.Size); err != nil {
			return nil, err
		}
		if in.Open == nil {
			return nil, job.ValidationError{Field: "file", Message: fmt.Sprintf("%s has no content", in.Name)}
		}
	}

	ups := make([]backend.Upload, 0, len(inputs))
	defer func() {
		for _, up := range ups {
			if c, ok := up.Body.(io.Closer); ok {
				_ = c.Close()
			}
		}
	}()
	for _, in := range inputs {
		rc, err := in.Open()
		if err != nil {
			return nil, job.ValidationError{Field: "file", Message: fmt.Sprintf("open %s: %v", in.Name, err)}
		}
		ups = append(ups, backend.Upload{Name: in.Name, Body: rc, CorrelationKey: s.newKey()})
	}

	for _, up := range ups {
		s.registry.BeginSubmission(up.CorrelationKey, up.Name)
	}

	var results []schema.ConversionResult
	if len(ups) == 1 {
		var res schema.ConversionResult
		res, err = s.backend.Submit(ctx, ups[0], mode)
		results = []schema.ConversionResult{res}
	} else {
		results, err = s.backend.SubmitBatch(ctx, ups, mode)
	}
	if err == nil {
		err = checkIDs(results)
	}
	if err != nil {
		for _, up := range ups {
			s.registry.AbandonSubmission(up.CorrelationKey)
		}
		s.logger.Warn("submission failed", "files", len(ups), "mode", mode, "err", err)
		return nil, err
	}

	out := make([]job.Descriptor, 0, len(results))
	for i, res := range results {
		d := s.registry.Upsert(s.descriptor(res, ups[i].CorrelationKey, ups[i].Name, mode))
		s.logger.Info("job submitted", "job_id", d.ID, "input", d.InputRef, "status", d.Status, "correlation_key", d.CorrelationKey)
		out = append(out, d)
	}
	return out, nil
}

// SubmitURL asks the service to convert the resource at rawURL.
func (s *Submitter) SubmitURL(ctx context.Context, rawURL string, mode job.Mode) (job.Descriptor, error) {
	if err := formats.CheckURL(rawURL); err != nil {
		return job.Descriptor{}, err
	}
	mode, err := job.ParseMode(string(mode))
	if err != nil {
		return job.Descriptor{}, err
	}

	key := s.newKey()
	s.registry.BeginSubmission(key, rawURL)
	res, err := s.backend.SubmitURL(ctx, rawURL, mode, key)
	if err == nil {
		err = checkIDs([]schema.ConversionResult{res})
	}
	if err != nil {
		s.registry.AbandonSubmission(key)
		s.logger.Warn("url submission failed", "url", rawURL, "err", err)
		return job.Descriptor{}, err
	}

	d := s.registry.Upsert(s.descriptor(res, key, rawURL, mode))
	s.logger.Info("job submitted", "job_id", d.ID, "input", d.InputRef, "status", d.Status, "correlation_key", key)
	return d, nil
}

var errMissingID = errors.New("response has no job id")

func checkIDs(results []schema.ConversionResult) error {
	for _, res := range results {
		if res.ID == "" {
			return &job.TransportError{Op: "submit", Err: errMissingID}
		}
	}
	return nil
}

// descriptor turns a submit response into a registry record. Any answer that
// carries an id means the backend has started work, so anything short of a
// terminal status is Processing.
func (s *Submitter) descriptor(res schema.ConversionResult, key, inputRef string, mode job.Mode) job.Descriptor {
	status, ok := job.ParseStatus(res.Status)
	if !ok || !status.IsTerminal() {
		status = job.StatusProcessing
	}
	now := s.now()
	d := job.Descriptor{
		ID:             res.ID,
		InputRef:       inputRef,
		CorrelationKey: key,
		Mode:           mode,
		Status:         status,
		ResultRef:      res.OutputFile,
		Markdown:       res.MarkdownContent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if res.ProcessingTime != nil {
		d.ProcessingTimeMs = progress.SecondsToMillis(*res.ProcessingTime)
	}
	switch status {
	case job.StatusCompleted:
		d.ProgressPercent = 100
	case job.StatusFailed:
		d.ErrorMessage = res.ErrorMessage
	}
	return d
}

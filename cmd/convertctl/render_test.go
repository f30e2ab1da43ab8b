package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/tendant/simple-convert-tracker/internal/aggregate"
	"github.com/tendant/simple-convert-tracker/internal/job"
	"github.com/tendant/simple-convert-tracker/internal/stream"
)

func init() {
	color.NoColor = true
}

func TestRenderJobs(t *testing.T) {
	var buf bytes.Buffer
	renderJobs(&buf, []job.Descriptor{
		{ID: "job-1", InputRef: "report.pdf", Status: job.StatusCompleted, ProgressPercent: 100, ResultRef: "report.md", ProcessingTimeMs: 2500},
		{ID: "job-2", InputRef: "notes.docx", Status: job.StatusFailed, ErrorMessage: "parser crashed"},
		{ID: "job-3", InputRef: "deck.pptx", Status: job.StatusProcessing, ProgressPercent: 40, CurrentStep: "OCR", Stalled: true},
	})
	out := buf.String()

	for _, want := range []string{"JOB ID", "report.md", "2.5s", "parser crashed", "processing (stalled)", "40%", "OCR"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderEmpty(t *testing.T) {
	var buf bytes.Buffer
	renderJobs(&buf, nil)
	if got := strings.TrimSpace(buf.String()); got != "No jobs tracked." {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestRenderSummaryWarnsWhenProgressUnavailable(t *testing.T) {
	var buf bytes.Buffer
	renderSummary(&buf, aggregate.Summary{Total: 2, InFlight: 1, Completed: 1}, stream.Status{ProgressUnavailable: true})
	out := buf.String()
	if !strings.Contains(out, "2 jobs: 1 completed, 0 failed, 0 cancelled, 1 in flight") {
		t.Fatalf("unexpected summary %q", out)
	}
	if !strings.Contains(out, "progress unavailable") {
		t.Fatalf("missing degraded warning in %q", out)
	}

	buf.Reset()
	renderSummary(&buf, aggregate.Summary{Total: 1, Completed: 1}, stream.Status{ProgressUnavailable: true})
	if strings.Contains(buf.String(), "progress unavailable") {
		t.Fatalf("warning shown with nothing in flight: %q", buf.String())
	}
}

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tendant/simple-convert-tracker/internal/job"
	"github.com/tendant/simple-convert-tracker/pkg/schema"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", srv.Client(), nil)
}

func TestSubmitSendsMultipartForm(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != uploadPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if got := r.FormValue("mode"); got != "ai_enhanced" {
			t.Errorf("mode = %q", got)
		}
		if got := r.FormValue("use_ai_mode"); got != "true" {
			t.Errorf("use_ai_mode = %q", got)
		}
		if got := r.FormValue("correlation_key"); got != "key-1" {
			t.Errorf("correlation_key = %q", got)
		}
		f, fh, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		if fh.Filename != "report.pdf" || string(data) != "%PDF-1.7" {
			t.Errorf("unexpected file %s %q", fh.Filename, data)
		}
		_ = json.NewEncoder(w).Encode(schema.ConversionResult{ID: "job-1", Status: "processing", InputFile: "report.pdf"})
	})

	res, err := client.Submit(context.Background(), Upload{Name: "report.pdf", Body: strings.NewReader("%PDF-1.7"), CorrelationKey: "key-1"}, job.ModeAIEnhanced)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if res.ID != "job-1" || res.Status != "processing" || res.InputFile != "report.pdf" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSubmitBatchPreservesOrder(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != batchPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		keys := r.MultipartForm.Value["correlation_keys"]
		files := r.MultipartForm.File["files"]
		if len(keys) != 3 || len(files) != 3 {
			t.Errorf("expected 3 keys and files, got %d and %d", len(keys), len(files))
			return
		}
		var out schema.BatchConversionResult
		for i, fh := range files {
			out.Results = append(out.Results, schema.ConversionResult{ID: "id-" + keys[i], Status: "processing", InputFile: fh.Filename})
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	ups := []Upload{
		{Name: "a.pdf", Body: strings.NewReader("a"), CorrelationKey: "k1"},
		{Name: "b.docx", Body: strings.NewReader("b"), CorrelationKey: "k2"},
		{Name: "c.xlsx", Body: strings.NewReader("c"), CorrelationKey: "k3"},
	}
	results, err := client.SubmitBatch(context.Background(), ups, job.ModeStandard)
	if err != nil {
		t.Fatalf("SubmitBatch returned error: %v", err)
	}
	for i, res := range results {
		if res.InputFile != ups[i].Name || res.ID != "id-"+ups[i].CorrelationKey {
			t.Fatalf("result %d out of order: %+v", i, res)
		}
	}
}

func TestSubmitBatchRejectsShortResponse(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte(`{"results":[{"id":"only-one","status":"completed","input_file":"a.pdf"}]}`))
	})

	ups := []Upload{{Name: "a.pdf", Body: strings.NewReader("a")}, {Name: "b.pdf", Body: strings.NewReader("b")}}
	if _, err := client.SubmitBatch(context.Background(), ups, job.ModeStandard); !errors.Is(err, job.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestSubmitMapsRejectionToValidationError(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"unsupported file format"}`))
	})

	_, err := client.Submit(context.Background(), Upload{Name: "x.pdf", Body: strings.NewReader("x")}, job.ModeStandard)
	var verr job.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if verr.Message != "unsupported file format" {
		t.Fatalf("unexpected detail: %q", verr.Message)
	}
}

func TestSubmitMapsServerErrorsToTransportError(t *testing.T) {
	for _, status := range []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusTooManyRequests} {
		client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			w.WriteHeader(status)
		})
		if _, err := client.Submit(context.Background(), Upload{Name: "x.pdf", Body: strings.NewReader("x")}, job.ModeStandard); !errors.Is(err, job.ErrTransport) {
			t.Fatalf("status %d: expected transport error, got %v", status, err)
		}
	}
}

func TestSubmitConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(url, nil, nil)
	_, err := client.SubmitURL(context.Background(), "https://example.com", job.ModeStandard, "k")
	if !errors.Is(err, job.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestSubmitMalformedResponse(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway</html>`))
	})
	if _, err := client.SubmitURL(context.Background(), "https://example.com", job.ModeStandard, "k"); !errors.Is(err, job.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestSubmitURLSendsJSON(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != urlPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req schema.URLConversionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if req.URL != "https://example.com/a" || req.Mode != "standard" || req.CorrelationKey != "key-9" || req.UseAPIEnhancement {
			t.Errorf("unexpected request: %+v", req)
		}
		_, _ = w.Write([]byte(`{"id":"u1","status":"completed","input_file":"https://example.com/a","output_file":"url_conversion_1.md","processing_time":0.5}`))
	})

	res, err := client.SubmitURL(context.Background(), "https://example.com/a", job.ModeStandard, "key-9")
	if err != nil {
		t.Fatalf("SubmitURL returned error: %v", err)
	}
	if res.OutputFile != "url_conversion_1.md" || res.ProcessingTime == nil || *res.ProcessingTime != 0.5 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCancelAndFormats(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == cancelPath+"job 7":
			_, _ = w.Write([]byte(`{"success":true,"message":"cancelled"}`))
		case r.Method == http.MethodGet && r.URL.Path == formatsPath:
			_, _ = w.Write([]byte(`{"formats":["pdf","docx"]}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	resp, err := client.Cancel(context.Background(), "job 7")
	if err != nil || !resp.Success {
		t.Fatalf("Cancel = %+v, %v", resp, err)
	}
	formats, err := client.SupportedFormats(context.Background())
	if err != nil || len(formats) != 2 || formats[0] != "pdf" {
		t.Fatalf("SupportedFormats = %v, %v", formats, err)
	}
}

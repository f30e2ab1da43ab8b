package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tendant/simple-convert-tracker/internal/job"
	"github.com/tendant/simple-convert-tracker/pkg/schema"
)

const (
	uploadPath  = "/api/conversion/upload"
	batchPath   = "/api/conversion/batch"
	urlPath     = "/api/conversion/convert-url"
	cancelPath  = "/api/conversion/cancel/"
	formatsPath = "/api/conversion/supported-formats"

	// Inline markdown can be large; anything beyond this is a broken response.
	maxResponseBytes = 256 << 20
)

// Client talks to the conversion service's REST API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient targets the service rooted at baseURL. A nil httpClient uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger.With("component", "backend"),
	}
}

// Upload is one file sent to the service.
type Upload struct {
	Name           string
	Body           io.Reader
	CorrelationKey string
}

// Submit uploads a single file.
func (c *Client) Submit(ctx context.Context, up Upload, mode job.Mode) (schema.ConversionResult, error) {
	fields := modeFields(mode)
	if up.CorrelationKey != "" {
		fields = append(fields, field{"correlation_key", up.CorrelationKey})
	}

	var out schema.ConversionResult
	if err := c.postMultipart(ctx, "submit upload", uploadPath, fields, "file", []Upload{up}, &out); err != nil {
		return schema.ConversionResult{}, err
	}
	c.logger.Debug("upload accepted", "input", up.Name, "id", out.ID, "status", out.Status)
	return out, nil
}

// SubmitBatch uploads several files in one request. Results keep input order.
func (c *Client) SubmitBatch(ctx context.Context, ups []Upload, mode job.Mode) ([]schema.ConversionResult, error) {
	fields := modeFields(mode)
	for _, up := range ups {
		fields = append(fields, field{"correlation_keys", up.CorrelationKey})
	}

	var out schema.BatchConversionResult
	if err := c.postMultipart(ctx, "submit batch", batchPath, fields, "files", ups, &out); err != nil {
		return nil, err
	}
	if len(out.Results) != len(ups) {
		return nil, &job.TransportError{
			Op:  "submit batch",
			Err: fmt.Errorf("batch response has %d results for %d files", len(out.Results), len(ups)),
		}
	}
	c.logger.Debug("batch accepted", "files", len(ups), "successful", out.Successful, "failed", out.Failed)
	return out.Results, nil
}

// SubmitURL asks the service to fetch and convert a web page or media URL.
func (c *Client) SubmitURL(ctx context.Context, rawURL string, mode job.Mode, correlationKey string) (schema.ConversionResult, error) {
	body, err := json.Marshal(schema.URLConversionRequest{
		URL:               rawURL,
		Mode:              string(mode),
		UseAPIEnhancement: mode == job.ModeAIEnhanced,
		CorrelationKey:    correlationKey,
	})
	if err != nil {
		return schema.ConversionResult{}, fmt.Errorf("encode url request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+urlPath, bytes.NewReader(body))
	if err != nil {
		return schema.ConversionResult{}, fmt.Errorf("build url request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out schema.ConversionResult
	if err := c.do(req, "submit url", &out); err != nil {
		return schema.ConversionResult{}, err
	}
	return out, nil
}

// Cancel requests cancellation of a running conversion.
func (c *Client) Cancel(ctx context.Context, id string) (schema.CancelResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+cancelPath+url.PathEscape(id), nil)
	if err != nil {
		return schema.CancelResponse{}, fmt.Errorf("build cancel request: %w", err)
	}
	var out schema.CancelResponse
	if err := c.do(req, "cancel", &out); err != nil {
		return schema.CancelResponse{}, err
	}
	return out, nil
}

// SupportedFormats lists the extensions the service advertises.
func (c *Client) SupportedFormats(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+formatsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("build formats request: %w", err)
	}
	var out schema.SupportedFormats
	if err := c.do(req, "supported formats", &out); err != nil {
		return nil, err
	}
	return out.Formats, nil
}

type field struct{ name, value string }

func modeFields(mode job.Mode) []field {
	return []field{
		{"mode", string(mode)},
		{"use_ai_mode", strconv.FormatBool(mode == job.ModeAIEnhanced)},
	}
}

// postMultipart streams the form through a pipe so large files are never buffered whole.
func (c *Client) postMultipart(ctx context.Context, op, path string, fields []field, fileField string, ups []Upload, out any) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, fields, fileField, ups))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		pr.Close()
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, op, out)
}

func writeForm(mw *multipart.Writer, fields []field, fileField string, ups []Upload) error {
	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return fmt.Errorf("write field %s: %w", f.name, err)
		}
	}
	for _, up := range ups {
		part, err := mw.CreateFormFile(fileField, up.Name)
		if err != nil {
			return fmt.Errorf("create form file %s: %w", up.Name, err)
		}
		if _, err := io.Copy(part, up.Body); err != nil {
			return fmt.Errorf("copy %s: %w", up.Name, err)
		}
	}
	return mw.Close()
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &job.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &job.TransportError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		return &job.TransportError{Op: op, Err: fmt.Errorf("%s: %s", resp.Status, errorDetail(body))}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return job.ValidationError{Field: op, Message: errorDetail(body, resp.Status)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &job.TransportError{Op: op, Err: fmt.Errorf("unexpected status %s: %s", resp.Status, errorDetail(body))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &job.TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorDetail extracts FastAPI-style {"detail": ...} messages, falling back to the raw body.
func errorDetail(body []byte, fallback ...string) string {
	var env struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &env); err == nil && len(env.Detail) > 0 {
		var s string
		if err := json.Unmarshal(env.Detail, &s); err == nil {
			return s
		}
		return string(env.Detail)
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		if len(text) > 512 {
			text = text[:512]
		}
		return text
	}
	if len(fallback) > 0 {
		return fallback[0]
	}
	return "no detail"
}

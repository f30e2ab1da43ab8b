// Package api exposes the tracked jobs of one session over a small local
// HTTP interface.
package api

import (
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tendant/simple-convert-tracker/internal/aggregate"
	"github.com/tendant/simple-convert-tracker/internal/cancel"
	"github.com/tendant/simple-convert-tracker/internal/job"
	"github.com/tendant/simple-convert-tracker/internal/stream"
	"github.com/tendant/simple-convert-tracker/internal/submitter"
)

// Service is the session behind the handlers.
type Service interface {
	Submit(ctx context.Context, inputs []submitter.Input, mode job.Mode) ([]job.Descriptor, error)
	SubmitURL(ctx context.Context, rawURL string, mode job.Mode) (job.Descriptor, error)
	Cancel(ctx context.Context, id string) (job.Descriptor, error)
	CancelAll(ctx context.Context) ([]cancel.Result, error)
	List() []job.Descriptor
	Get(id string) (job.Descriptor, error)
	Clear() int
	Summary() aggregate.Summary
	StreamStatus() stream.Status
	SupportedFormats(ctx context.Context) ([]string, error)
}

type Handler struct {
	svc         Service
	defaultMode job.Mode
	logger      *slog.Logger
}

func NewHandler(svc Service, defaultMode job.Mode, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultMode == "" {
		defaultMode = job.ModeStandard
	}
	return &Handler{svc: svc, defaultMode: defaultMode, logger: logger.With("component", "api")}
}

// NewRouter registers every route on a fresh gin engine.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.GET("", h.ListJobsHandler)
			jobs.POST("", h.SubmitFilesHandler)
			jobs.POST("/url", h.SubmitURLHandler)
			jobs.DELETE("", h.ClearJobsHandler)
			jobs.POST("/cancel", h.CancelAllHandler)
			jobs.GET("/:id", h.GetJobHandler)
			jobs.POST("/:id/cancel", h.CancelJobHandler)
		}
		v1.GET("/stream", h.StreamStatusHandler)
		v1.GET("/formats", h.FormatsHandler)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func (h *Handler) mode(raw string) (job.Mode, error) {
	if raw == "" {
		return h.defaultMode, nil
	}
	return job.ParseMode(raw)
}

func (h *Handler) ListJobsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data":    h.svc.List(),
		"summary": h.svc.Summary(),
		"stream":  h.svc.StreamStatus(),
	})
}

func (h *Handler) GetJobHandler(c *gin.Context) {
	d, err := h.svc.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": d})
}

// SubmitFilesHandler accepts a multipart form with one or more "files" parts
// (a single "file" part also works) and an optional "mode" field.
func (h *Handler) SubmitFilesHandler(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		BadRequest(c, "Invalid multipart form: "+err.Error())
		return
	}
	mode, err := h.mode(c.PostForm("mode"))
	if err != nil {
		writeError(c, err)
		return
	}

	headers := formFiles(form)
	if len(headers) == 0 {
		BadRequest(c, "no files in request")
		return
	}
	inputs := make([]submitter.Input, 0, len(headers))
	for _, fh := range headers {
		inputs = append(inputs, multipartInput(fh))
	}

	jobs, err := h.svc.Submit(c.Request.Context(), inputs, mode)
	if err != nil {
		writeError(c, err)
		return
	}
	h.logger.Info("files submitted", "count", len(jobs), "mode", mode)
	c.JSON(http.StatusAccepted, gin.H{"data": jobs})
}

// formFiles collects the "files" and "file" parts into a new slice; the
// form's own slices are left as parsed.
func formFiles(form *multipart.Form) []*multipart.FileHeader {
	headers := make([]*multipart.FileHeader, 0, len(form.File["files"])+len(form.File["file"]))
	headers = append(headers, form.File["files"]...)
	return append(headers, form.File["file"]...)
}

func multipartInput(fh *multipart.FileHeader) submitter.Input {
	return submitter.Input{
		Name: fh.Filename,
		Size: fh.Size,
		Open: func() (io.ReadCloser, error) { return fh.Open() },
	}
}

type submitURLRequest struct {
	URL  string `json:"url" binding:"required"`
	Mode string `json:"mode"`
}

func (h *Handler) SubmitURLHandler(c *gin.Context) {
	var req submitURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	mode, err := h.mode(req.Mode)
	if err != nil {
		writeError(c, err)
		return
	}
	d, err := h.svc.SubmitURL(c.Request.Context(), req.URL, mode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": d})
}

func (h *Handler) CancelJobHandler(c *gin.Context) {
	d, err := h.svc.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": d})
}

type cancelResult struct {
	ID     string     `json:"id"`
	Status job.Status `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// CancelAllHandler reports each attempt; individual failures do not fail the request.
func (h *Handler) CancelAllHandler(c *gin.Context) {
	results, _ := h.svc.CancelAll(c.Request.Context())
	out := make([]cancelResult, 0, len(results))
	for _, r := range results {
		cr := cancelResult{ID: r.ID, Status: r.Descriptor.Status}
		if r.Err != nil {
			cr.Error = r.Err.Error()
		}
		out = append(out, cr)
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (h *Handler) ClearJobsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cleared": h.svc.Clear()})
}

func (h *Handler) StreamStatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.svc.StreamStatus()})
}

func (h *Handler) FormatsHandler(c *gin.Context) {
	formats, err := h.svc.SupportedFormats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"formats": formats})
}

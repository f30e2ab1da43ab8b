package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tendant/simple-convert-tracker/internal/job"
)

// APIError is the body of every failed request.
// Example: { "error": { "code": "not_found", "message": "job abc: unknown job" } }
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error APIError `json:"error"`
}

func JSONError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: APIError{Code: code, Message: msg}})
}

func BadRequest(c *gin.Context, msg string) {
	JSONError(c, http.StatusBadRequest, "bad_request", msg)
}

func NotFound(c *gin.Context, msg string) {
	JSONError(c, http.StatusNotFound, "not_found", msg)
}

func Conflict(c *gin.Context, msg string) {
	JSONError(c, http.StatusConflict, "conflict", msg)
}

func BadGateway(c *gin.Context, msg string) {
	JSONError(c, http.StatusBadGateway, "upstream_error", msg)
}

func Internal(c *gin.Context, msg string) {
	JSONError(c, http.StatusInternalServerError, "internal_error", msg)
}

// writeError maps the job error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var serr *job.StateError
	switch {
	case errors.Is(err, job.ErrValidation):
		BadRequest(c, err.Error())
	case errors.As(err, &serr) && serr.Status == "":
		NotFound(c, err.Error())
	case errors.Is(err, job.ErrState):
		Conflict(c, err.Error())
	case errors.Is(err, job.ErrTransport):
		BadGateway(c, err.Error())
	default:
		Internal(c, err.Error())
	}
}

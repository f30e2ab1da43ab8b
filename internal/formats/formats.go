// Package formats decides which inputs the conversion service accepts before
// anything is uploaded.
package formats

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/tendant/simple-convert-tracker/internal/job"
)

// MaxUploadBytes is the backend's upload limit.
const MaxUploadBytes int64 = 100 * 1024 * 1024

var supported = map[string]struct{}{}

func init() {
	for _, ext := range SupportedExtensions() {
		supported[ext] = struct{}{}
	}
}

// SupportedExtensions returns every file extension the converter handles, without the dot.
func SupportedExtensions() []string {
	return []string{
		// Office documents
		"doc", "docx", "xls", "xlsx", "ppt", "pptx",
		"pdf",
		// Images (OCR / description)
		"jpg", "jpeg", "png", "gif", "bmp", "webp",
		// Audio (transcription)
		"mp3", "wav", "ogg", "m4a", "flac",
		// Structured text
		"csv", "json", "xml", "txt", "html", "htm",
		"zip",
	}
}

// Extension returns the lower-case extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// Supports reports whether the file name has a convertible extension.
func Supports(name string) bool {
	_, ok := supported[Extension(name)]
	return ok
}

// CheckFile validates a file upload by name and size.
func CheckFile(name string, size int64) error {
	if strings.TrimSpace(name) == "" {
		return job.ValidationError{Field: "file", Message: "missing file name"}
	}
	if !Supports(name) {
		return job.ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("unsupported file format %q (supported: %s)", Extension(name), strings.Join(SupportedExtensions(), ", ")),
		}
	}
	if size == 0 {
		return job.ValidationError{Field: "file", Message: fmt.Sprintf("%s is empty", name)}
	}
	if size > MaxUploadBytes {
		return job.ValidationError{Field: "file", Message: fmt.Sprintf("%s exceeds the %dMB limit", name, MaxUploadBytes/(1024*1024))}
	}
	return nil
}

// CheckURL accepts absolute http and https URLs only.
func CheckURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return job.ValidationError{Field: "url", Message: fmt.Sprintf("invalid url: %v", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return job.ValidationError{Field: "url", Message: "url must start with http:// or https://"}
	}
	if u.Host == "" {
		return job.ValidationError{Field: "url", Message: "url has no host"}
	}
	return nil
}

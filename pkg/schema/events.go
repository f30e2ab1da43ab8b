// pkg/schema/events.go
package schema

// ConversionResult is the backend's answer to a single-file or URL submission
// and one element of a batch answer.
type ConversionResult struct {
	ID              string   `json:"id"`
	Status          string   `json:"status"`
	InputFile       string   `json:"input_file"`
	OutputFile      string   `json:"output_file,omitempty"`
	MarkdownContent string   `json:"markdown_content,omitempty"`
	ProcessingTime  *float64 `json:"processing_time,omitempty"`
	ErrorMessage    string   `json:"error_message,omitempty"`
}

type BatchConversionResult struct {
	TotalFiles int                `json:"total_files,omitempty"`
	Successful int                `json:"successful,omitempty"`
	Failed     int                `json:"failed,omitempty"`
	Results    []ConversionResult `json:"results"`
}

type URLConversionRequest struct {
	URL               string `json:"url"`
	Mode              string `json:"mode"`
	UseAPIEnhancement bool   `json:"use_api_enhancement"`
	CorrelationKey    string `json:"correlation_key,omitempty"`
}

type CancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type SupportedFormats struct {
	Formats []string `json:"formats"`
}

type FrameType string

const (
	FrameProgress   FrameType = "progress"
	FrameCompletion FrameType = "completion"
)

// ProgressFrame is one message on the progress stream. CorrelationKey is the
// job id once the backend knows it, otherwise an input-name fallback.
type ProgressFrame struct {
	CorrelationKey  string    `json:"correlation_key"`
	Type            FrameType `json:"type"`
	Progress        *int      `json:"progress,omitempty"`
	Status          string    `json:"status,omitempty"`
	CurrentStep     string    `json:"current_step,omitempty"`
	Success         *bool     `json:"success,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	ProcessingTime  *float64  `json:"processing_time,omitempty"`
	OutputFile      string    `json:"output_file,omitempty"`
	MarkdownContent string    `json:"markdown_content,omitempty"`
	FileName        string    `json:"file_name,omitempty"`
	Timestamp       *float64  `json:"timestamp,omitempty"`
}

package progress

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tendant/simple-convert-tracker/internal/job"
	"github.com/tendant/simple-convert-tracker/pkg/schema"
)

const frameSchemaURL = "progress_frame.json"

// frameSchema is the only frame shape accepted from the stream.
const frameSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["correlation_key", "type"],
  "properties": {
    "correlation_key":  {"type": "string", "minLength": 1},
    "type":             {"enum": ["progress", "completion"]},
    "progress":         {"type": "integer", "minimum": 0, "maximum": 100},
    "status":           {"type": "string"},
    "current_step":     {"type": "string"},
    "success":          {"type": "boolean"},
    "error_message":    {"type": ["string", "null"]},
    "processing_time":  {"type": ["number", "null"], "minimum": 0},
    "output_file":      {"type": ["string", "null"]},
    "markdown_content": {"type": ["string", "null"]},
    "file_name":        {"type": "string"},
    "timestamp":        {"type": "number"}
  },
  "if":   {"properties": {"type": {"const": "completion"}}},
  "then": {"required": ["success"]}
}`

// Decoder validates frames against the canonical schema.
type Decoder struct {
	schema *jsonschema.Schema
}

func NewDecoder() (*Decoder, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(frameSchemaURL, strings.NewReader(frameSchema)); err != nil {
		return nil, fmt.Errorf("add frame schema: %w", err)
	}
	s, err := compiler.Compile(frameSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile frame schema: %w", err)
	}
	return &Decoder{schema: s}, nil
}

// Decode validates data and converts it into an Event stamped with receivedAt.
// Every rejection is a job.ValidationError.
func (d *Decoder) Decode(data []byte, receivedAt time.Time) (Event, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, job.ValidationError{Field: "frame", Message: fmt.Sprintf("invalid json: %v", err)}
	}
	if err := d.schema.Validate(raw); err != nil {
		return Event{}, job.ValidationError{Field: "frame", Message: fmt.Sprintf("frame does not match schema: %v", err)}
	}

	var frame schema.ProgressFrame
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&frame); err != nil {
		return Event{}, job.ValidationError{Field: "frame", Message: fmt.Sprintf("decode frame: %v", err)}
	}
	return fromFrame(frame, receivedAt), nil
}

func fromFrame(f schema.ProgressFrame, receivedAt time.Time) Event {
	ev := Event{
		CorrelationKey: f.CorrelationKey,
		InputName:      f.FileName,
		Kind:           Kind(f.Type),
		CurrentStep:    f.CurrentStep,
		Status:         f.Status,
		ErrorMessage:   f.ErrorMessage,
		ResultRef:      f.OutputFile,
		Markdown:       f.MarkdownContent,
		ReceivedAt:     receivedAt,
	}
	if f.Progress != nil {
		ev.ProgressPercent = job.ClampPercent(*f.Progress)
	}
	if f.Success != nil {
		ev.Success = *f.Success
	}
	if f.ProcessingTime != nil {
		ev.ProcessingTimeMs = SecondsToMillis(*f.ProcessingTime)
	}
	return ev
}

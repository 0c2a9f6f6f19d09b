package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailure JobStatus = "failure"
)

// Job is one invocation received from the job platform. It is never persisted.
type Job struct {
	ID    string   `json:"id"`
	Input JobInput `json:"input"`
}

// JobInput is the union of the payload shapes accepted by the handler variants.
// Each variant reads only the fields it understands.
type JobInput struct {
	// image
	Workflow  json.RawMessage `json:"workflow,omitempty"`
	HFToken   string          `json:"hf_token,omitempty"`
	Precision string          `json:"precision,omitempty"`

	// transcribe
	AudioBase64    string `json:"audio_base64,omitempty"`
	AudioURL       string `json:"audio_url,omitempty"`
	ModelSize      string `json:"model_size,omitempty"`
	Language       string `json:"language,omitempty"`
	Task           string `json:"task,omitempty"`
	WordTimestamps *bool  `json:"word_timestamps,omitempty"`

	// generate
	Prompt       string   `json:"prompt,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	TopP         *float64 `json:"top_p,omitempty"`
	TopK         *int     `json:"top_k,omitempty"`
	Stop         []string `json:"stop,omitempty"`
}

// Graph returns the workflow, accepting either a JSON object or a string holding one.
func (in JobInput) Graph() (Graph, error) {
	raw := bytes.TrimSpace(in.Workflow)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrNoWorkflow
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		raw = []byte(s)
	}
	var g Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("%w: workflow: %v", ErrInvalidInput, err)
	}
	if len(g) == 0 {
		return nil, ErrNoWorkflow
	}
	return g, nil
}

// Graph is the declarative node graph submitted to the image engine, keyed by node id.
type Graph map[string]Node

type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      map[string]any `json:"_meta,omitempty"`
}

// Result is the envelope returned to the job platform. Failures carry only "error".
type Result map[string]any

// ResultEnvelope pairs a finished job with its result on the results list and
// in HTTP responses.
type ResultEnvelope struct {
	ID     string `json:"id"`
	Output Result `json:"output"`
}

func ErrorResult(msg string) Result {
	return Result{"error": msg}
}

// Error returns the failure message, or "" for a successful result.
func (r Result) Error() string {
	msg, _ := r["error"].(string)
	return msg
}

func (r Result) Failed() bool {
	_, ok := r["error"]
	return ok
}

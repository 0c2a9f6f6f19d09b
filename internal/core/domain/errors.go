package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrAssetUnavailable = errors.New("asset unavailable")
	ErrBackendUnready   = errors.New("backend not ready")
	ErrSubmitRejected   = errors.New("submission rejected")
	ErrPollTimeout      = errors.New("poll timeout")
	ErrBackendExecution = errors.New("backend execution error")
	ErrNoArtifacts      = errors.New("no artifacts produced")

	ErrInvalidInput = errors.New("invalid input")
	ErrNoWorkflow   = errors.New("no workflow provided")
	ErrNotFound     = errors.New("not found")
)

// AssetError lists the assets that could not be made present.
type AssetError struct {
	Failed []string
}

func (e *AssetError) Error() string {
	quoted := make([]string, len(e.Failed))
	for i, name := range e.Failed {
		quoted[i] = "'" + name + "'"
	}
	return fmt.Sprintf("Failed to download models: [%s]", strings.Join(quoted, ", "))
}

func (e *AssetError) Unwrap() error { return ErrAssetUnavailable }

// SubmitError carries the engine's raw rejection.
type SubmitError struct {
	Status int
	Body   string
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("Failed to queue prompt: %s", strings.TrimSpace(e.Body))
}

func (e *SubmitError) Unwrap() error { return ErrSubmitRejected }

// ExecutionError is a failure reported by the engine for a tracking id.
type ExecutionError struct {
	TrackingID string
	Messages   []string
}

func (e *ExecutionError) Error() string {
	if len(e.Messages) == 0 {
		return "Generation failed"
	}
	return "Generation failed: " + strings.Join(e.Messages, "; ")
}

func (e *ExecutionError) Unwrap() error { return ErrBackendExecution }

// TimeoutError is returned once the poll attempt budget is spent.
type TimeoutError struct {
	Attempts int
	Interval time.Duration
}

func (e *TimeoutError) Error() string {
	return "Generation timeout after " + humanDuration(time.Duration(e.Attempts)*e.Interval)
}

func (e *TimeoutError) Unwrap() error { return ErrPollTimeout }

// Message converts any job failure into the text placed under "error".
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoWorkflow):
		return "No workflow provided"
	case errors.Is(err, ErrNoArtifacts):
		return "No images generated"
	case errors.Is(err, ErrBackendUnready):
		msg := err.Error()
		return strings.ToUpper(msg[:1]) + msg[1:]
	}
	return err.Error()
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	case d >= time.Second && d%time.Second == 0:
		return plural(int(d/time.Second), "second")
	}
	return d.String()
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

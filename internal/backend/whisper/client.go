// Package whisper is the HTTP client of the whisper.cpp server.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"visualizer.worker/internal/core/circuitbreaker"
	"visualizer.worker/internal/core/domain"
)

// Client implements ports.Transcriber.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		// long recordings on CPU take a while
		http:    &http.Client{Timeout: 30 * time.Minute},
		breaker: circuitbreaker.New("whisper"),
	}
}

// LoadModel switches the server to the ggml model file at path.
func (c *Client) LoadModel(ctx context.Context, path string) error {
	return c.breaker.Execute(ctx, func() error {
		_, err := c.postForm(ctx, "/load", map[string]string{"model": path}, nil, "")
		return err
	})
}

func (c *Client) Transcribe(ctx context.Context, req domain.TranscriptionRequest) (*domain.Transcription, error) {
	fields := map[string]string{
		"response_format":  "verbose_json",
		"temperature":      "0.0",
		"translate":        strconv.FormatBool(req.Task == "translate"),
		"token_timestamps": strconv.FormatBool(req.WordTimestamps),
	}
	if req.Language != "" {
		fields["language"] = req.Language
	}
	name := req.Filename
	if name == "" {
		name = "audio.wav"
	}

	var out verboseJSON
	err := c.breaker.Execute(ctx, func() error {
		body, err := c.postForm(ctx, "/inference", fields, req.Audio, name)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return fmt.Errorf("decode inference response: %w", err)
		}
		if out.Error != "" {
			return fmt.Errorf("inference: %s", out.Error)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.transcription(), nil
}

func (c *Client) postForm(ctx context.Context, path string, fields map[string]string, file []byte, filename string) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if file != nil {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(file); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

type verboseJSON struct {
	Error    string  `json:"error"`
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		ID    int     `json:"id"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
		Words []struct {
			Word        string  `json:"word"`
			Start       float64 `json:"start"`
			End         float64 `json:"end"`
			Probability float64 `json:"probability"`
		} `json:"words"`
	} `json:"segments"`
}

func (v verboseJSON) transcription() *domain.Transcription {
	t := &domain.Transcription{
		Language: v.Language,
		Duration: v.Duration,
		Segments: make([]domain.Segment, 0, len(v.Segments)),
	}
	var text []string
	for _, s := range v.Segments {
		seg := domain.Segment{ID: s.ID, Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)}
		for _, w := range s.Words {
			seg.Words = append(seg.Words, domain.Word{Word: w.Word, Start: w.Start, End: w.End, Probability: w.Probability})
		}
		t.Segments = append(t.Segments, seg)
		text = append(text, seg.Text)
	}
	t.Text = strings.Join(text, " ")
	if t.Text == "" {
		t.Text = strings.TrimSpace(v.Text)
	}
	if t.Duration == 0 && len(v.Segments) > 0 {
		t.Duration = v.Segments[len(v.Segments)-1].End
	}
	return t
}

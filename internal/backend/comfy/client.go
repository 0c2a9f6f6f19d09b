// Package comfy is the HTTP client of the ComfyUI graph engine.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"visualizer.worker/internal/core/circuitbreaker"
	"visualizer.worker/internal/core/domain"
)

// Client implements ports.Engine against a ComfyUI server.
type Client struct {
	baseURL  string
	http     *http.Client
	clientID string
	breaker  *circuitbreaker.CircuitBreaker
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithBreaker(b *circuitbreaker.CircuitBreaker) Option {
	return func(cl *Client) { cl.breaker = b }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: 60 * time.Second},
		clientID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = newBreaker()
	}
	return c
}

// newBreaker trips on transport failures and 5xx answers. A rejected graph is the
// caller's fault and does not count against the engine.
func newBreaker() *circuitbreaker.CircuitBreaker {
	return circuitbreaker.NewWithSettings(gobreaker.Settings{
		Name:        "comfyui",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrSubmitRejected)
		},
	})
}

func (c *Client) ClientID() string { return c.clientID }

// Submit posts the graph to /prompt and returns its prompt_id.
func (c *Client) Submit(ctx context.Context, graph domain.Graph) (string, error) {
	body, err := json.Marshal(map[string]any{
		"prompt":    graph,
		"client_id": c.clientID,
	})
	if err != nil {
		return "", fmt.Errorf("encode prompt: %w", err)
	}

	var promptID string
	err = c.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("queue prompt: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read prompt response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &domain.SubmitError{Status: resp.StatusCode, Body: string(data)}
		}

		var out struct {
			PromptID string `json:"prompt_id"`
		}
		if err := json.Unmarshal(data, &out); err != nil || out.PromptID == "" {
			return &domain.SubmitError{Status: resp.StatusCode, Body: string(data)}
		}
		promptID = out.PromptID
		return nil
	})
	return promptID, err
}

// Completion returns the history record of trackingID, or nil while there is none.
func (c *Client) Completion(ctx context.Context, trackingID string) (*domain.Completion, error) {
	var history map[string]*domain.Completion
	err := c.breaker.Execute(ctx, func() error {
		return c.getJSON(ctx, "/history/"+url.PathEscape(trackingID), &history)
	})
	if err != nil {
		return nil, err
	}
	return history[trackingID], nil
}

// Fetch downloads one output artifact through /view.
func (c *Client) Fetch(ctx context.Context, ref domain.ArtifactRef) ([]byte, error) {
	kind := ref.Type
	if kind == "" {
		kind = "output"
	}
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", kind)

	var data []byte
	err := c.breaker.Execute(ctx, func() error {
		resp, err := c.get(ctx, "/view?"+q.Encode())
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err = io.ReadAll(resp.Body)
		return err
	})
	return data, err
}

// Upload stages an input image and returns the name nodes must reference.
func (c *Client) Upload(ctx context.Context, name string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	mw.WriteField("type", "input")
	mw.WriteField("overwrite", "true")
	if err := mw.Close(); err != nil {
		return "", err
	}

	var out struct {
		Name      string `json:"name"`
		Subfolder string `json:"subfolder"`
	}
	err = c.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/image", bytes.NewReader(buf.Bytes()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("upload image: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("upload image: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return "", err
	}
	if out.Name == "" {
		out.Name = name
	}
	if out.Subfolder != "" {
		return out.Subfolder + "/" + out.Name, nil
	}
	return out.Name, nil
}

// SystemStats returns the raw /system_stats document.
func (c *Client) SystemStats(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.getJSON(ctx, "/system_stats", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Queue(ctx context.Context) (*QueueStatus, error) {
	var out QueueStatus
	if err := c.getJSON(ctx, "/queue", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ObjectInfo returns node definitions, all of them when class is empty.
func (c *Client) ObjectInfo(ctx context.Context, class string) (json.RawMessage, error) {
	path := "/object_info"
	if class != "" {
		path += "/" + url.PathEscape(class)
	}
	var out json.RawMessage
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// QueueState reports "running", "pending" or "" for a tracking id.
func (c *Client) QueueState(ctx context.Context, trackingID string) string {
	q, err := c.Queue(ctx)
	if err != nil {
		return ""
	}
	return q.State(trackingID)
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

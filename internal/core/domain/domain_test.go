package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestJobInputGraph(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		nodes   int
		wantErr error
	}{
		{name: "object", raw: `{"1":{"class_type":"SaveImage","inputs":{}}}`, nodes: 1},
		{name: "string", raw: `"{\"1\":{\"class_type\":\"SaveImage\",\"inputs\":{}}}"`, nodes: 1},
		{name: "missing", raw: ``, wantErr: ErrNoWorkflow},
		{name: "null", raw: `null`, wantErr: ErrNoWorkflow},
		{name: "empty object", raw: `{}`, wantErr: ErrNoWorkflow},
		{name: "garbage", raw: `"not json"`, wantErr: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := JobInput{Workflow: json.RawMessage(tt.raw)}
			g, err := in.Graph()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Graph() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Graph() error = %v", err)
			}
			if len(g) != tt.nodes {
				t.Errorf("Graph() nodes = %d, want %d", len(g), tt.nodes)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"assets", &AssetError{Failed: []string{"ae.safetensors"}}, "Failed to download models: ['ae.safetensors']"},
		{"assets many", &AssetError{Failed: []string{"a", "b"}}, "Failed to download models: ['a', 'b']"},
		{"timeout", &TimeoutError{Attempts: 180, Interval: 5 * time.Second}, "Generation timeout after 15 minutes"},
		{"timeout seconds", &TimeoutError{Attempts: 3, Interval: time.Second}, "Generation timeout after 3 seconds"},
		{"no artifacts", ErrNoArtifacts, "No images generated"},
		{"no workflow", ErrNoWorkflow, "No workflow provided"},
		{"submit", &SubmitError{Status: 400, Body: "bad node\n"}, "Failed to queue prompt: bad node"},
		{"backend", fmt.Errorf("%w: no healthy answer after 60 attempts", ErrBackendUnready), "Backend not ready: no healthy answer after 60 attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Message(tt.err); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompletionErrorMessages(t *testing.T) {
	raw := `{"status":{"status_str":"error","completed":false,"messages":[
		["execution_start",{"prompt_id":"abc"}],
		["execution_error",{"node_id":"7","node_type":"KSampler","exception_message":"CUDA out of memory"}]
	]},"outputs":{}}`

	var c Completion
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !c.Failed() {
		t.Fatal("expected completion to be failed")
	}
	msgs := c.ErrorMessages()
	if len(msgs) != 1 || msgs[0] != "KSampler (node 7): CUDA out of memory" {
		t.Fatalf("ErrorMessages() = %v", msgs)
	}
}

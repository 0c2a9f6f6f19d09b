package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Completion is the engine's history record for a tracking id.
type Completion struct {
	Status  CompletionStatus      `json:"status"`
	Outputs map[string]NodeOutput `json:"outputs"`
}

type CompletionStatus struct {
	StatusStr string            `json:"status_str"`
	Completed bool              `json:"completed"`
	Messages  []json.RawMessage `json:"messages"`
}

type NodeOutput struct {
	Images []ArtifactRef `json:"images,omitempty"`
}

// ArtifactRef locates one output file in the engine's retrieval namespace.
type ArtifactRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// EncodedArtifact is an artifact shaped for the response envelope.
type EncodedArtifact struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	Filename string `json:"filename"`
}

func (c *Completion) Failed() bool {
	return c != nil && c.Status.StatusStr == "error"
}

// NodeIDs returns output node ids in a stable order.
func (c *Completion) NodeIDs() []string {
	ids := make([]string, 0, len(c.Outputs))
	for id := range c.Outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ErrorMessages extracts execution_error messages. Each raw message is a
// [event, payload] pair.
func (c *Completion) ErrorMessages() []string {
	var out []string
	for _, raw := range c.Status.Messages {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			continue
		}
		var event string
		if err := json.Unmarshal(pair[0], &event); err != nil || event != "execution_error" {
			continue
		}
		var payload struct {
			NodeID           string `json:"node_id"`
			NodeType         string `json:"node_type"`
			ExceptionMessage string `json:"exception_message"`
		}
		if err := json.Unmarshal(pair[1], &payload); err != nil {
			continue
		}
		if payload.NodeType != "" {
			out = append(out, fmt.Sprintf("%s (node %s): %s", payload.NodeType, payload.NodeID, payload.ExceptionMessage))
		} else {
			out = append(out, payload.ExceptionMessage)
		}
	}
	return out
}

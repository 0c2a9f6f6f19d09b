package comfy

import "encoding/json"

// QueueStatus is the /queue document. Each item is
// [number, prompt_id, prompt, extra_data, outputs_to_execute].
type QueueStatus struct {
	Running []json.RawMessage `json:"queue_running"`
	Pending []json.RawMessage `json:"queue_pending"`
}

func (q *QueueStatus) State(trackingID string) string {
	switch {
	case containsPrompt(q.Running, trackingID):
		return "running"
	case containsPrompt(q.Pending, trackingID):
		return "pending"
	}
	return ""
}

func containsPrompt(items []json.RawMessage, trackingID string) bool {
	for _, raw := range items {
		var item []json.RawMessage
		if err := json.Unmarshal(raw, &item); err != nil || len(item) < 2 {
			continue
		}
		var id string
		if json.Unmarshal(item[1], &id) == nil && id == trackingID {
			return true
		}
	}
	return false
}

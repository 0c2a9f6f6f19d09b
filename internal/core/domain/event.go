package domain

import "time"

// JobEvent is a lifecycle notification fanned out to websocket and MQTT subscribers.
type JobEvent struct {
	JobID   string    `json:"job_id"`
	Status  JobStatus `json:"status"`
	Stage   string    `json:"stage,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Run is the summary of one executed job kept in the optional run ledger.
type Run struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	Kind       string    `json:"kind"`
	Status     JobStatus `json:"status"`
	TrackingID string    `json:"tracking_id"`
	Error      string    `json:"error"`
	DurationMs int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (Run) TableName() string {
	return "runs"
}

// DeadLetter is a failed job parked for the platform to inspect or resubmit.
type DeadLetter struct {
	Job         *Job      `json:"job"`
	FailureTime time.Time `json:"failure_time"`
	Reason      string    `json:"reason"`
}

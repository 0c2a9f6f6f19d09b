package logger

import (
	"context"
	"testing"
)

func TestJobIDRoundTrip(t *testing.T) {
	ctx := WithJobID(context.Background(), "job-123")
	if got := JobID(ctx); got != "job-123" {
		t.Fatalf("JobID() = %q, want job-123", got)
	}
	if got := JobID(context.Background()); got != "" {
		t.Fatalf("JobID() on empty context = %q, want empty", got)
	}
}

package services

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"visualizer.worker/internal/core/domain"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name      string
		artifacts map[string][]byte
		want      []string
		wantErr   error
	}{
		{
			name:      "all fetched",
			artifacts: map[string][]byte{"a.png": []byte("A"), "b.png": []byte("B")},
			want:      []string{"a.png", "b.png"},
		},
		{
			name:      "one missing",
			artifacts: map[string][]byte{"b.png": []byte("B")},
			want:      []string{"b.png"},
		},
		{
			name:      "all fail",
			artifacts: map[string][]byte{},
			wantErr:   domain.ErrNoArtifacts,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newFakeEngine()
			e.artifacts = tt.artifacts

			got, err := NewExtractor(e).Extract(context.Background(), imageRecord("a.png", "b.png"))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Extract() error = %v, want %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Extract() = %d artifacts, want %d", len(got), len(tt.want))
			}
			for i, name := range tt.want {
				if got[i].Filename != name || got[i].Type != "base64" {
					t.Errorf("artifact[%d] = %+v", i, got[i])
				}
				if got[i].Data != base64.StdEncoding.EncodeToString(tt.artifacts[name]) {
					t.Errorf("artifact[%d] data = %q", i, got[i].Data)
				}
			}
		})
	}
}

func TestExtractNodeOrder(t *testing.T) {
	e := newFakeEngine()
	e.artifacts = map[string][]byte{"first.png": {1}, "second.png": {2}}
	rec := &domain.Completion{Outputs: map[string]domain.NodeOutput{
		"20": {Images: []domain.ArtifactRef{{Filename: "second.png"}}},
		"10": {Images: []domain.ArtifactRef{{Filename: "first.png"}}},
		"15": {},
	}}

	got, err := NewExtractor(e).Extract(context.Background(), rec)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got) != 2 || got[0].Filename != "first.png" || got[1].Filename != "second.png" {
		t.Errorf("Extract() = %+v", got)
	}
}

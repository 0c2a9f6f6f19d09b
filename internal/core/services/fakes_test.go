package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"visualizer.worker/internal/core/domain"
)

func noSleep(context.Context, time.Duration) error { return nil }

// fakeEngine serves canned history records. Records appear after appearAfter queries.
type fakeEngine struct {
	mu          sync.Mutex
	submitID    string
	submitErr   error
	submitted   []domain.Graph
	records     map[string]*domain.Completion
	appearAfter int
	queries     map[string]int
	queryErr    error
	artifacts   map[string][]byte
	uploads     map[string][]byte
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		submitID:  "abc",
		records:   map[string]*domain.Completion{},
		queries:   map[string]int{},
		artifacts: map[string][]byte{},
		uploads:   map[string][]byte{},
	}
}

func (e *fakeEngine) Submit(_ context.Context, g domain.Graph) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.submitErr != nil {
		return "", e.submitErr
	}
	e.submitted = append(e.submitted, g)
	return e.submitID, nil
}

func (e *fakeEngine) Completion(_ context.Context, id string) (*domain.Completion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries[id]++
	if e.queryErr != nil {
		return nil, e.queryErr
	}
	if e.queries[id] <= e.appearAfter {
		return nil, nil
	}
	return e.records[id], nil
}

func (e *fakeEngine) Fetch(_ context.Context, ref domain.ArtifactRef) ([]byte, error) {
	data, ok := e.artifacts[ref.Filename]
	if !ok {
		return nil, errors.New("404 not found")
	}
	return data, nil
}

func (e *fakeEngine) Upload(_ context.Context, name string, data []byte) (string, error) {
	e.uploads[name] = data
	return name, nil
}

func imageRecord(files ...string) *domain.Completion {
	var refs []domain.ArtifactRef
	for _, f := range files {
		refs = append(refs, domain.ArtifactRef{Filename: f, Type: "output"})
	}
	return &domain.Completion{
		Status:  domain.CompletionStatus{StatusStr: "success", Completed: true},
		Outputs: map[string]domain.NodeOutput{"9": {Images: refs}},
	}
}

type fakeSupervisor struct {
	ready    bool
	startErr error
	starts   int
}

func (s *fakeSupervisor) Start(context.Context) error {
	s.starts++
	if s.startErr != nil {
		return s.startErr
	}
	s.ready = true
	return nil
}

func (s *fakeSupervisor) IsReady(context.Context) bool { return s.ready }
func (s *fakeSupervisor) Stop(context.Context) error   { return nil }

type fakeStore struct {
	err        error
	calls      int
	credential string
	assets     []domain.AssetDescriptor
}

func (s *fakeStore) Ensure(_ context.Context, assets []domain.AssetDescriptor, credential string) error {
	s.calls++
	s.assets = assets
	s.credential = credential
	return s.err
}

type fakeCatalog map[string][]domain.AssetDescriptor

func (c fakeCatalog) Profile(name string) ([]domain.AssetDescriptor, error) {
	assets, ok := c[name]
	if !ok {
		return nil, errors.New("unknown profile " + name)
	}
	return assets, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.JobEvent
}

func (p *recordingPublisher) PublishJobEvent(_ context.Context, e domain.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type memoryRuns struct {
	runs []*domain.Run
}

func (m *memoryRuns) Save(_ context.Context, run *domain.Run) error {
	m.runs = append(m.runs, run)
	return nil
}

func (m *memoryRuns) ListRuns(_ context.Context, offset, limit int) ([]*domain.Run, error) {
	if offset >= len(m.runs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(m.runs) {
		end = len(m.runs)
	}
	return m.runs[offset:end], nil
}

func (m *memoryRuns) GetRun(_ context.Context, id string) (*domain.Run, error) {
	for _, run := range m.runs {
		if run.ID == id {
			return run, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memoryRuns) CountRuns(context.Context) (int64, error) {
	return int64(len(m.runs)), nil
}

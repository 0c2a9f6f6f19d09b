// Package supervisor launches the inference backend and waits for it to answer its
// health endpoint.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"visualizer.worker/internal/config"
	"visualizer.worker/internal/core/domain"
	"visualizer.worker/internal/core/logger"
	"visualizer.worker/internal/core/metrics"
)

type prober struct {
	url      string
	client   *http.Client
	interval time.Duration
	attempts int
	sleep    func(ctx context.Context, d time.Duration) error
}

func newProber(cfg config.BackendConfig) prober {
	return prober{
		url:      cfg.BaseURL() + cfg.HealthPath,
		client:   &http.Client{Timeout: 5 * time.Second},
		interval: cfg.ReadyInterval,
		attempts: cfg.ReadyAttempts,
		sleep:    sleepContext,
	}
}

// ready performs a single health query.
func (p prober) ready(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		metrics.SetBackendReady(false)
		return false
	}
	resp.Body.Close()

	ok := resp.StatusCode == http.StatusOK
	metrics.SetBackendReady(ok)
	return ok
}

// wait polls until the backend is ready, the attempts are spent or exited fires.
func (p prober) wait(ctx context.Context, exited <-chan struct{}) error {
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if p.ready(ctx) {
			logger.Info("Backend ready", "url", p.url, "attempts", attempt)
			return nil
		}
		select {
		case <-exited:
			return fmt.Errorf("%w: backend exited before becoming healthy", domain.ErrBackendUnready)
		default:
		}
		if attempt == p.attempts {
			break
		}
		if err := p.sleep(ctx, p.interval); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrBackendUnready, err)
		}
	}
	return fmt.Errorf("%w: no healthy answer from %s after %d attempts", domain.ErrBackendUnready, p.url, p.attempts)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package services

import (
	"context"
	"time"

	"visualizer.worker/internal/core/logger"
	"visualizer.worker/internal/core/ports"
)

const backendCheckInterval = 30 * time.Second

type BackendAlert struct {
	Event     string // "online" or "offline"
	Timestamp time.Time
}

// BackendMonitor watches backend readiness between jobs and reports transitions.
type BackendMonitor struct {
	supervisor ports.Supervisor
	interval   time.Duration
	alertChan  chan BackendAlert

	ready bool
	known bool
}

func NewBackendMonitor(supervisor ports.Supervisor) *BackendMonitor {
	return &BackendMonitor{
		supervisor: supervisor,
		interval:   backendCheckInterval,
		alertChan:  make(chan BackendAlert, 100),
	}
}

// Start begins monitoring the backend
func (m *BackendMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *BackendMonitor) check(ctx context.Context) {
	ready := m.supervisor.IsReady(ctx)
	if m.known && ready == m.ready {
		return
	}
	m.known = true
	m.ready = ready

	alert := BackendAlert{Event: "offline", Timestamp: time.Now()}
	if ready {
		alert.Event = "online"
	}
	select {
	case m.alertChan <- alert:
	default:
		logger.Warn("Dropping backend alert, channel full", "event", alert.Event)
	}
}

// Alerts returns the alert channel
func (m *BackendMonitor) Alerts() <-chan BackendAlert {
	return m.alertChan
}

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"visualizer.worker/internal/config"
	"visualizer.worker/internal/core/logger"
)

// Process runs the backend as a detached child process of the worker.
type Process struct {
	cfg   config.BackendConfig
	probe prober

	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}
}

func NewProcess(cfg config.BackendConfig) *Process {
	return &Process{cfg: cfg, probe: newProber(cfg)}
}

func (p *Process) IsReady(ctx context.Context) bool {
	return p.probe.ready(ctx)
}

// Start is a no-op when the backend already answers. Otherwise it kills stray
// instances, launches a fresh process and waits for it to become healthy.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// also covers a concurrent Start that finished while we waited
	if p.IsReady(ctx) {
		return nil
	}

	if p.cfg.StrayPattern != "" {
		killStray(ctx, p.cfg.StrayPattern)
		if err := p.probe.sleep(ctx, p.cfg.Grace); err != nil {
			return err
		}
	}

	cmd := exec.Command(p.cfg.Command, p.cfg.Args...)
	stdout := &logWriter{stream: "stdout"}
	stderr := &logWriter{stream: "stderr"}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	detach(cmd)

	logger.Info("Starting backend", "command", p.cfg.Command, "args", p.cfg.Args)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start backend %s: %w", p.cfg.Command, err)
	}

	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		stdout.Flush()
		stderr.Flush()
		logger.Warn("Backend process exited", "pid", cmd.Process.Pid, "error", err)
		close(exited)
	}()
	p.cmd = cmd
	p.exited = exited

	return p.probe.wait(ctx, exited)
}

// Stop terminates the process group of the launched backend.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	if err := terminate(p.cmd); err != nil {
		return fmt.Errorf("stop backend: %w", err)
	}

	select {
	case <-p.exited:
	case <-time.After(10 * time.Second):
		_ = p.cmd.Process.Kill()
	case <-ctx.Done():
		_ = p.cmd.Process.Kill()
	}
	p.cmd = nil
	return nil
}

// killStray kills processes left over from an earlier worker incarnation.
func killStray(ctx context.Context, pattern string) {
	err := exec.CommandContext(ctx, "pkill", "-f", pattern).Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		logger.Info("Killed stray backend processes", "pattern", pattern)
	case errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
		// nothing matched
	default:
		logger.Warn("Failed to kill stray backend processes", "pattern", pattern, "error", err)
	}
}

package supervisor

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"visualizer.worker/internal/config"
	"visualizer.worker/internal/core/logger"
)

// Docker runs the backend in a container on the host network with every GPU attached.
type Docker struct {
	cli       *client.Client
	cfg       config.BackendConfig
	modelsDir string
	probe     prober

	mu          sync.Mutex
	containerID string
	exited      chan struct{}
}

func NewDocker(cfg config.BackendConfig, modelsDir string) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return newDocker(cli, cfg, modelsDir), nil
}

func newDocker(cli *client.Client, cfg config.BackendConfig, modelsDir string) *Docker {
	return &Docker{cli: cli, cfg: cfg, modelsDir: modelsDir, probe: newProber(cfg)}
}

func (d *Docker) IsReady(ctx context.Context) bool {
	return d.probe.ready(ctx)
}

// Start replaces any container with the configured name and waits for the new one
// to answer its health endpoint.
func (d *Docker) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// also covers a concurrent Start that finished while we waited
	if d.IsReady(ctx) {
		return nil
	}

	// A container with our name is a stray from an earlier run.
	if err := d.cli.ContainerRemove(ctx, d.cfg.ContainerName, container.RemoveOptions{Force: true}); err == nil {
		logger.Info("Removed stray backend container", "name", d.cfg.ContainerName)
		if err := d.probe.sleep(ctx, d.cfg.Grace); err != nil {
			return err
		}
	} else if !client.IsErrNotFound(err) {
		logger.Warn("Failed to remove stray backend container", "name", d.cfg.ContainerName, "error", err)
	}

	reader, err := d.cli.ImagePull(ctx, d.cfg.Image, image.PullOptions{})
	if err != nil {
		logger.Warn("Failed to pull backend image, trying local copy", "image", d.cfg.Image, "error", err)
	} else {
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	var env []string
	for _, key := range []string{"NVIDIA_VISIBLE_DEVICES", "CUDA_VISIBLE_DEVICES", "HF_TOKEN"} {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}

	hostCfg := &container.HostConfig{
		NetworkMode: "host",
		Binds:       []string{fmt.Sprintf("%s:%s", d.modelsDir, d.modelsDir)},
		Resources: container.Resources{
			DeviceRequests: []container.DeviceRequest{{
				Count:        -1,
				Capabilities: [][]string{{"gpu"}},
			}},
		},
	}

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image: d.cfg.Image,
		Cmd:   append([]string{d.cfg.Command}, d.cfg.Args...),
		Env:   env,
	}, hostCfg, nil, nil, d.cfg.ContainerName)
	if err != nil {
		return fmt.Errorf("failed to create backend container: %w", err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		d.cleanup(context.Background(), resp.ID)
		return fmt.Errorf("failed to start backend container: %w", err)
	}
	logger.Info("Started backend container", "id", resp.ID, "image", d.cfg.Image)

	d.containerID = resp.ID
	d.exited = make(chan struct{})
	go d.streamLogs(resp.ID)
	go d.watch(resp.ID, d.exited)

	return d.probe.wait(ctx, d.exited)
}

func (d *Docker) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.containerID == "" {
		return nil
	}
	timeout := 10
	if err := d.cli.ContainerStop(ctx, d.containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		logger.Warn("Failed to stop backend container", "id", d.containerID, "error", err)
	}
	d.cleanup(ctx, d.containerID)
	d.containerID = ""
	return nil
}

func (d *Docker) watch(containerID string, exited chan struct{}) {
	defer close(exited)
	statusCh, errCh := d.cli.ContainerWait(context.Background(), containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		logger.Warn("Error waiting for backend container", "id", containerID, "error", err)
	case status := <-statusCh:
		logger.Warn("Backend container exited", "id", containerID, "code", status.StatusCode)
	}
}

func (d *Docker) streamLogs(containerID string) {
	out, err := d.cli.ContainerLogs(context.Background(), containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		logger.Warn("Failed to get backend logs", "error", err)
		return
	}
	defer out.Close()

	w := &logWriter{stream: "container"}
	defer w.Flush()
	if err := demultiplexStream(out, func(payload string) { w.Write([]byte(payload)) }); err != nil {
		logger.Debug("Backend log stream ended", "error", err)
	}
}

func (d *Docker) cleanup(ctx context.Context, containerID string) {
	d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// demultiplexStream splits Docker's multiplexed log stream into payloads.
// Each frame is an 8-byte header (stream type, 3 bytes padding, big-endian size)
// followed by the payload.
func demultiplexStream(r io.Reader, onPayload func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if len(data) < 8 {
			if atEOF {
				return 0, nil, io.ErrUnexpectedEOF
			}
			return 0, nil, nil
		}

		size := binary.BigEndian.Uint32(data[4:8])
		total := 8 + int(size)
		if len(data) < total {
			if atEOF {
				return 0, nil, io.ErrUnexpectedEOF
			}
			return 0, nil, nil
		}
		return total, data[8:total], nil
	})

	for scanner.Scan() {
		if payload := scanner.Text(); payload != "" {
			onPayload(payload)
		}
	}
	return scanner.Err()
}

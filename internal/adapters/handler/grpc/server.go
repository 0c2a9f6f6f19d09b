package grpc

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"visualizer.worker/internal/core/logger"
	"visualizer.worker/internal/core/ports"
)

const defaultRefreshInterval = 10 * time.Second

// Server exposes the standard gRPC health service. Both the empty service name
// and the worker's own service report SERVING only while the backend answers.
type Server struct {
	grpc       *grpc.Server
	health     *health.Server
	supervisor ports.Supervisor
	service    string
	interval   time.Duration
}

// ServiceName is the health service name registered for a worker kind.
func ServiceName(kind string) string {
	return "visualizer.worker." + kind
}

func NewServer(supervisor ports.Supervisor, kind string) *Server {
	s := &Server{
		grpc:       grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor)),
		health:     health.NewServer(),
		supervisor: supervisor,
		service:    ServiceName(kind),
		interval:   defaultRefreshInterval,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Refresh probes the backend once and publishes the result.
func (s *Server) Refresh(ctx context.Context) bool {
	ready := s.supervisor.IsReady(ctx)
	if ready {
		s.setStatus(healthpb.HealthCheckResponse_SERVING)
	} else {
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return ready
}

func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(s.service, status)
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener refreshes health on an interval while serving lis.
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	go s.watch(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpc.Serve(lis)
	}()

	logger.Info("gRPC health server listening", "addr", lis.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		return nil
	}
}

func (s *Server) watch(ctx context.Context) {
	s.Refresh(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

func loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		logger.Warn("gRPC call failed", "method", info.FullMethod, "duration", time.Since(start), "error", err)
	} else {
		logger.Debug("gRPC call", "method", info.FullMethod, "duration", time.Since(start))
	}
	return resp, err
}

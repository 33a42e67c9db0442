// Package server provides HTTP and gRPC health server lifecycle management.
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/solatis/segmentkeeper/internal/core/config"
)

// ServiceName is the health service name reported alongside "".
const ServiceName = "segmentkeeper.SegmentAPI"

// HealthServer exposes grpc.health.v1 for orchestrators.
type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	config   *config.SegmentAPIConfig
	logger   *zap.Logger
}

// NewHealthServer creates a gRPC server with only the health service
// registered. Status starts NOT_SERVING until SetServing or Watch reports
// otherwise.
func NewHealthServer(cfg *config.SegmentAPIConfig, logger *zap.Logger) (*HealthServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	server := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)

	s := &HealthServer{
		server: server,
		health: healthServer,
		config: cfg,
		logger: logger,
	}
	s.SetServing(false)
	return s, nil
}

// SetServing updates the status of both the overall and the named service.
func (s *HealthServer) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Watch polls check every interval and mirrors the result into the health
// status until ctx is done.
func (s *HealthServer) Watch(ctx context.Context, interval time.Duration, check func(context.Context) error) {
	probe := func() {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		err := check(checkCtx)
		if err != nil && ctx.Err() == nil {
			s.logger.Warn("readiness probe failed", zap.Error(err))
		}
		s.SetServing(err == nil)
	}

	probe()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}

// Start binds listener and serves gRPC requests.
// Serve blocks until Shutdown is called.
func (s *HealthServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HealthPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener.
func (s *HealthServer) Serve(listener net.Listener) error {
	s.listener = listener
	s.logger.Info("health server listening", zap.String("addr", listener.Addr().String()))
	return s.server.Serve(listener)
}

// Shutdown marks the service NOT_SERVING, then stops gracefully with a
// 30-second ceiling.
func (s *HealthServer) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return fmt.Errorf("shutdown cancelled by context: %w", ctx.Err())
	case <-time.After(30 * time.Second):
		s.server.Stop()
		return fmt.Errorf("graceful shutdown timeout, forced stop")
	}
}

// Package server provides the gRPC health endpoint lifecycle.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name that tracks SDK readiness.
// The empty service reports overall process health.
const ServiceName = "engage.SDK"

// Readiness reports whether the SDK has applied its configuration.
type Readiness interface {
	WaitReady(ctx context.Context) error
}

// GRPCServer serves the standard gRPC health protocol.
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	addr     string
	logger   *slog.Logger
}

// NewGRPCServer creates a health server for host:port. Both the overall
// and the SDK service start NOT_SERVING.
func NewGRPCServer(host string, port int, logger *slog.Logger) (*GRPCServer, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	if logger == nil {
		logger = slog.Default()
	}

	server := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return &GRPCServer{
		server: server,
		health: healthServer,
		addr:   fmt.Sprintf("%s:%d", host, port),
		logger: logger,
	}, nil
}

// Track flips both services to SERVING once ready reports readiness.
// It returns when that happens or ctx ends.
func (s *GRPCServer) Track(ctx context.Context, ready Readiness) {
	if err := ready.WaitReady(ctx); err != nil {
		return
	}
	s.SetServing(true)
}

// SetServing sets the status of both services.
func (s *GRPCServer) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	s.logger.Info("health status changed", "status", status.String())
}

// Listen binds the listener. Start calls it when needed.
func (s *GRPCServer) Listen() error {
	if s.listener != nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.addr, err)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *GRPCServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start serves gRPC requests until Shutdown.
func (s *GRPCServer) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.logger.Info("health endpoint listening", "addr", s.Addr())
	return s.server.Serve(s.listener)
}

// Shutdown gracefully stops server with 30-second timeout.
func (s *GRPCServer) Shutdown(ctx context.Context) error {
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

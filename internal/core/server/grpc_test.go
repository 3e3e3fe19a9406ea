package server

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

type readyChan chan struct{}

func (r readyChan) WaitReady(ctx context.Context) error {
	select {
	case <-r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestNewGRPCServer_InvalidPort(t *testing.T) {
	if _, err := NewGRPCServer("127.0.0.1", 0, nil); err == nil {
		t.Error("expected error for port 0")
	}
	if _, err := NewGRPCServer("127.0.0.1", 70000, nil); err == nil {
		t.Error("expected error for port > 65535")
	}
}

func TestGRPCServer_HealthTracksReadiness(t *testing.T) {
	s, err := NewGRPCServer("127.0.0.1", 1, nil)
	if err != nil {
		t.Fatalf("NewGRPCServer failed: %v", err)
	}
	// Bind an ephemeral port instead of the placeholder.
	s.addr = "127.0.0.1:0"
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	go func() { _ = s.Start() }()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	}()

	conn, err := grpc.NewClient(s.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	client := grpc_health_v1.NewHealthClient(conn)

	check := func() grpc_health_v1.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		return resp.Status
	}

	if got := check(); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before ready, got %v", got)
	}

	ready := make(readyChan)
	done := make(chan struct{})
	go func() {
		s.Track(context.Background(), ready)
		close(done)
	}()
	close(ready)
	<-done

	if got := check(); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING after ready, got %v", got)
	}
}

func TestGRPCServer_TrackStopsOnContext(t *testing.T) {
	s, err := NewGRPCServer("127.0.0.1", 1, nil)
	if err != nil {
		t.Fatalf("NewGRPCServer failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Track(ctx, make(readyChan))
}

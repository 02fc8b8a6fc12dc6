package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// stopTimeout bounds graceful stop; open Watch streams are then cut.
const stopTimeout = 5 * time.Second

// Service is the name reported alongside the overall ("") status.
const Service = "docsync.Sync"

// Server exposes the standard gRPC health checking protocol.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// New creates a Server with every status NOT_SERVING until Serve is called.
func New() *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &Server{grpc: srv, health: hs}
}

// Serve marks the service SERVING and blocks accepting health checks on lis
// until ctx is cancelled, then marks it NOT_SERVING and stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(Service, healthpb.HealthCheckResponse_SERVING)

	errc := make(chan error, 1)
	go func() { errc <- s.grpc.Serve(lis) }()

	select {
	case err := <-errc:
		s.health.Shutdown()
		if err != nil {
			return fmt.Errorf("health: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.Shutdown()
		return nil
	}
}

// Shutdown flips every status to NOT_SERVING, notifying watchers, then stops
// the gRPC server. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(stopTimeout):
		s.grpc.Stop()
	}
	slog.Info("health: stopped")
}

package health_test

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/docsync/docsync/server/internal/health"
)

// startServer runs a health server on a random TCP port and returns a
// connected client plus the cancel func that triggers shutdown.
func startServer(t *testing.T) (healthpb.HealthClient, context.CancelFunc, <-chan error) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := health.New()
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()
	t.Cleanup(cancel)

	conn, err := grpc.Dial(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	) //nolint:staticcheck
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return healthpb.NewHealthClient(conn), cancel, done
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.Status
}

func TestServe_ReportsServing(t *testing.T) {
	client, _, _ := startServer(t)

	for _, svc := range []string{"", health.Service} {
		if got := check(t, client, svc); got != healthpb.HealthCheckResponse_SERVING {
			t.Errorf("status(%q): got %v, want SERVING", svc, got)
		}
	}
}

func TestServe_UnknownService(t *testing.T) {
	client, _, _ := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "nope"}); err == nil {
		t.Error("expected NotFound for unknown service")
	}
}

func TestShutdown_WatchSeesNotServing(t *testing.T) {
	client, cancel, done := startServer(t)

	ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	stream, err := client.Watch(ctx, &healthpb.HealthCheckRequest{Service: health.Service})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	first, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if first.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("first status: got %v, want SERVING", first.Status)
	}

	cancel()

	next, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv after shutdown: %v", err)
	}
	if next.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status after shutdown: got %v, want NOT_SERVING", next.Status)
	}
	stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

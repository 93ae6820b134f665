package grpc

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const storeService = "questparty.store"

type healthFixture struct {
	addr   string
	health *health.Server
}

// serveHealth runs NewHealthServer on a loopback port with every status
// forced to initial.
func serveHealth(t *testing.T, initial grpc_health_v1.HealthCheckResponse_ServingStatus) healthFixture {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	grpcServer, healthServer := NewHealthServer(storeService)
	healthServer.SetServingStatus("", initial)
	healthServer.SetServingStatus(storeService, initial)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = grpcServer.Serve(listener)
	}()
	t.Cleanup(func() {
		grpcServer.Stop()
		<-done
	})
	return healthFixture{addr: listener.Addr().String(), health: healthServer}
}

func newTestConn(t *testing.T, addr string) *gogrpc.ClientConn {
	t.Helper()
	conn, err := gogrpc.NewClient(addr, gogrpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWaitForHealthServing(t *testing.T) {
	fx := serveHealth(t, grpc_health_v1.HealthCheckResponse_SERVING)
	conn := newTestConn(t, fx.addr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, service := range []string{"", storeService} {
		if err := WaitForHealth(ctx, conn, service, nil); err != nil {
			t.Fatalf("wait for %q: %v", service, err)
		}
	}
}

func TestWaitForHealthRetriesUntilServing(t *testing.T) {
	fx := serveHealth(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	conn := newTestConn(t, fx.addr)

	var retries atomic.Int32
	logf := func(format string, _ ...any) {
		if format == "waiting for gRPC health: %v" {
			retries.Add(1)
		}
	}
	time.AfterFunc(250*time.Millisecond, func() {
		fx.health.SetServingStatus(storeService, grpc_health_v1.HealthCheckResponse_SERVING)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := WaitForHealth(ctx, conn, storeService, logf); err != nil {
		t.Fatalf("wait for health: %v", err)
	}
	if retries.Load() == 0 {
		t.Fatal("expected at least one retry notice")
	}
}

func TestWaitForHealthStopsAtDeadline(t *testing.T) {
	fx := serveHealth(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	conn := newTestConn(t, fx.addr)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := WaitForHealth(ctx, conn, "", nil); err == nil {
		t.Fatal("expected deadline error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("wait returned after %v, want near the deadline", elapsed)
	}
}

func TestWaitForHealthRequiresConn(t *testing.T) {
	if err := WaitForHealth(context.Background(), nil, "", nil); err == nil {
		t.Fatal("expected error for nil connection")
	}
}

func TestDialWithHealth(t *testing.T) {
	fx := serveHealth(t, grpc_health_v1.HealthCheckResponse_SERVING)

	conn, err := DialWithHealth(context.Background(), fx.addr, time.Second, nil)
	if err != nil {
		t.Fatalf("dial with health: %v", err)
	}
	_ = conn.Close()
}

func TestDialWithHealthTimesOut(t *testing.T) {
	fx := serveHealth(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	if _, err := DialWithHealth(context.Background(), fx.addr, 300*time.Millisecond, nil); err == nil {
		t.Fatal("expected health timeout")
	}
}

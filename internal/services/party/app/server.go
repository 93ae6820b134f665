// Package app wires the shared document store server: the WebSocket store
// endpoint, QR rendering, liveness, and a gRPC health listener.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"

	platformgrpc "github.com/louisbranch/questparty/internal/platform/grpc"
	"github.com/louisbranch/questparty/internal/platform/timeouts"
	"github.com/louisbranch/questparty/internal/services/party/docstore"
	"github.com/louisbranch/questparty/internal/services/party/docstore/remote"
	"github.com/louisbranch/questparty/internal/services/party/identity"
)

// HealthService is the gRPC health service name reported by the store.
const HealthService = "questparty.store"

// Config configures the store server.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	Backend       string
	DBPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// IdentitySecret enables bearer-token authentication on /ws.
	IdentitySecret string

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the store endpoints.
type Server struct {
	store           *docstore.Tree
	closeBackend    func() error
	httpListener    net.Listener
	httpServer      *http.Server
	grpcListener    net.Listener
	grpcServer      *gogrpc.Server
	health          *health.Server
	shutdownTimeout time.Duration
}

// NewServer opens the backend and binds both listeners.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	httpAddr := strings.TrimSpace(cfg.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	grpcAddr := strings.TrimSpace(cfg.GRPCAddr)
	if grpcAddr == "" {
		return nil, errors.New("grpc address is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = timeouts.Shutdown
	}

	var authenticator remote.Authenticator
	if strings.TrimSpace(cfg.IdentitySecret) != "" {
		verifier, err := identity.NewVerifier(cfg.IdentitySecret, nil)
		if err != nil {
			return nil, err
		}
		authenticator = verifier
	} else {
		log.Printf("identity secret not set, /ws accepts anonymous connections")
	}

	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &Server{
		store:           docstore.NewTree(backend),
		closeBackend:    closeBackend,
		shutdownTimeout: cfg.ShutdownTimeout,
	}

	s.httpListener, err = net.Listen("tcp", httpAddr)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("listen on %s: %w", httpAddr, err)
	}
	s.grpcListener, err = net.Listen("tcp", grpcAddr)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("listen on %s: %w", grpcAddr, err)
	}
	s.httpServer = &http.Server{
		Handler:           newHandler(s.store, authenticator),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	s.grpcServer, s.health = platformgrpc.NewHealthServer(HealthService)
	return s, nil
}

func newHandler(store *docstore.Tree, authenticator remote.Authenticator) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", remote.NewHandler(store, authenticator))
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /qr/{payload}", handleQR)
	return mux
}

// HTTPAddr returns the bound HTTP address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC address.
func (s *Server) GRPCAddr() string {
	if s == nil || s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Run creates and serves a store server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := NewServer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init store server: %w", err)
	}
	defer server.Close()

	if err := server.Serve(ctx); err != nil {
		return fmt.Errorf("serve store: %w", err)
	}
	return nil
}

// Serve runs both listeners until ctx ends or one of them fails.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("store server is nil")
	}
	serveErr := make(chan error, 2)
	log.Printf("store server listening http=%s grpc=%s", s.HTTPAddr(), s.GRPCAddr())
	go func() {
		serveErr <- s.httpServer.Serve(s.httpListener)
	}()
	go func() {
		serveErr <- s.grpcServer.Serve(s.grpcListener)
	}()

	var failure error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, gogrpc.ErrServerStopped) {
			failure = err
		}
	}

	s.health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil && failure == nil {
		failure = fmt.Errorf("shutdown http server: %w", err)
	}
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		s.grpcServer.Stop()
	}
	return failure
}

// Close releases the store and its backend.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	for _, l := range []net.Listener{s.httpListener, s.grpcListener} {
		if l != nil {
			_ = l.Close()
		}
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.closeBackend != nil {
		if err := s.closeBackend(); err != nil {
			log.Printf("close document backend: %v", err)
		}
	}
}

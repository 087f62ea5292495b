package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	sdkgrpc "github.com/mama165/sdk-go/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const (
	ServerName     = "grpc"
	stopTimeout    = 5 * time.Second
	overallService = ""
)

// HealthServer exposes grpc.health.v1 with one status per transport.
// The overall status is SERVING while the gRPC listener itself is up.
type HealthServer struct {
	address string
	log     *slog.Logger
	health  *health.Server

	mu       sync.Mutex
	listener net.Listener
	shutdown bool
}

func NewHealthServer(address string, log *slog.Logger) *HealthServer {
	h := &HealthServer{address: address, log: log, health: health.NewServer()}
	h.health.SetServingStatus(overallService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Serving marks a component as ready.
func (h *HealthServer) Serving(component string) {
	h.health.SetServingStatus(component, healthpb.HealthCheckResponse_SERVING)
	h.log.Debug("Component serving", "component", component)
}

func (h *HealthServer) NotServing(component string) {
	h.health.SetServingStatus(component, healthpb.HealthCheckResponse_NOT_SERVING)
	h.log.Debug("Component not serving", "component", component)
}

func (h *HealthServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.address)
	if err != nil {
		return fmt.Errorf("failed to start %s server: %w", ServerName, err)
	}
	h.mu.Lock()
	h.listener = ln
	resume := h.shutdown
	h.shutdown = false
	h.mu.Unlock()

	s := grpc.NewServer(grpc.ChainUnaryInterceptor(sdkgrpc.UnaryLoggingInterceptor(h.log)))
	healthpb.RegisterHealthServer(s, h.health)
	reflection.Register(s)

	errChan := make(chan error, 1)
	go func() {
		if err := s.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- err
		}
	}()
	if resume {
		h.health.Resume()
	}
	h.health.SetServingStatus(overallService, healthpb.HealthCheckResponse_SERVING)
	h.log.Info("Server started", "server", ServerName, "address", ln.Addr().String())
	for name := range s.GetServiceInfo() {
		h.log.Debug("gRPC exposed services", "name", name)
	}

	select {
	case err := <-errChan:
		h.markShutdown()
		return fmt.Errorf("%s server: %w", ServerName, err)
	case <-ctx.Done():
	}

	// Watch streams keep GracefulStop waiting, so fall back to Stop
	h.markShutdown()
	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(stopTimeout):
		s.Stop()
	}
	h.log.Info("Server stopped", "server", ServerName)
	return nil
}

// markShutdown flips every status to NOT_SERVING until the next Run.
func (h *HealthServer) markShutdown() {
	h.health.Shutdown()
	h.mu.Lock()
	h.shutdown = true
	h.mu.Unlock()
}

// Addr returns the listening address, empty until Run has started listening.
func (h *HealthServer) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

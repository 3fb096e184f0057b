package grpcserver

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/GriffinCanCode/greenscreen/internal/compositor"
	"github.com/GriffinCanCode/greenscreen/internal/trace"
	"github.com/GriffinCanCode/greenscreen/internal/worker"
)

// Compositor runs commands for the gRPC services. Health follows whether
// Snapshot succeeds.
type Compositor interface {
	Do(ctx context.Context, cmd worker.Command) (worker.Result, error)
	Snapshot(ctx context.Context) (compositor.Snapshot, error)
}

// Server wraps a gRPC server exposing the compositor configuration service
// and a health service that follows the compositor.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	comp     Compositor
	interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a server and starts health checks. A non-positive interval uses DefaultHealthCheckInterval.
func New(comp Compositor, interval time.Duration) *Server {
	if interval <= 0 {
		interval = DefaultHealthCheckInterval
	}
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(trace.UnaryServerInterceptor(), errorInterceptor()),
		grpc.ChainStreamInterceptor(trace.StreamServerInterceptor()),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    DefaultKeepaliveTime,
			Timeout: DefaultKeepaliveTimeout,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	gs.RegisterService(&compositorServiceDesc, &configService{comp: comp})
	reflection.Register(gs)

	s := &Server{
		grpc:     gs,
		health:   hs,
		comp:     comp,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
	s.check()

	s.wg.Add(1)
	go s.watch()
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("grpc server listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and shuts the server down gracefully.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.health.Shutdown()
		s.grpc.GracefulStop()
	})
	s.wg.Wait()
}

func (s *Server) watch() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.check()
		}
	}
}

// check asks the compositor for a snapshot and publishes the result for both the overall
// server and ServiceName.
func (s *Server) check() {
	select {
	case <-s.stopCh:
		return
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), HealthCheckTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if _, err := s.comp.Snapshot(ctx); err != nil {
		slog.Warn("health check failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

package grpcserver

import (
	"context"
	"net"
	"time"

	"github.com/rzbill/maestro/internal/runtime"
	logpkg "github.com/rzbill/maestro/pkg/log"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const stopGrace = 5 * time.Second

// Server owns the gRPC server instance and the health status it reports.
type Server struct {
	rt       *runtime.Runtime
	grpc     *grpc.Server
	health   *grpchealth.Server
	sync     *healthSync
	interval time.Duration
	lis      net.Listener
	logger   logpkg.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithSyncInterval sets how often the health status is refreshed.
func WithSyncInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the server logger.
func WithLogger(l logpkg.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a gRPC server and registers the standard health service
// and reflection. Every service starts NOT_SERVING until the first sync.
func New(rt *runtime.Runtime, opts []Option, grpcOpts ...grpc.ServerOption) *Server {
	s := &Server{
		rt:       rt,
		grpc:     grpc.NewServer(grpcOpts...),
		health:   grpchealth.NewServer(),
		interval: DefaultSyncInterval,
		logger:   logpkg.NewNopLogger(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(logpkg.Component("grpc"))
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(ProcessorService, healthpb.HealthCheckResponse_NOT_SERVING)
	s.sync = &healthSync{
		probe:  rt.Probe(),
		db:     rt.CheckHealth,
		srv:    s.health,
		logger: s.logger,
		last:   healthpb.HealthCheckResponse_NOT_SERVING,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	return s
}

// SyncHealth re-evaluates the replica's health immediately.
func (s *Server) SyncHealth(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	return s.sync.sync(ctx)
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve serves on l until ctx is done, keeping the health status in sync
// with the replica's published state.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.lis = l
	s.logger.Info("grpc listening", logpkg.Str("addr", l.Addr().String()))
	sctx, cancel := context.WithCancel(ctx)
	synced := make(chan struct{})
	go func() {
		defer close(synced)
		s.sync.run(sctx, s.interval)
	}()
	// The runtime closes the store once Serve returns, so the sync loop
	// must be gone by then.
	defer func() {
		cancel()
		<-synced
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(l) }()
	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.stop()
		return nil
	case err := <-errCh:
		return err
	}
}

// stop drains RPCs, forcing the stop after stopGrace since health Watch
// streams never end on their own.
func (s *Server) stop() {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	t := time.NewTimer(stopGrace)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		s.grpc.Stop()
	}
}

// Close stops the server and closes the listener.
func (s *Server) Close() {
	if s.grpc != nil {
		s.stop()
	}
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

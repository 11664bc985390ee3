package grpcserver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rzbill/maestro/internal/health"
	logpkg "github.com/rzbill/maestro/pkg/log"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ProcessorService is the health service name that tracks the replica's
// processor lifecycle. The empty service name tracks the same status.
const ProcessorService = "maestro.Processor"

// DefaultSyncInterval is how often the probe is re-evaluated.
const DefaultSyncInterval = time.Second

type healthSync struct {
	probe  *health.Probe
	db     func(context.Context) error
	srv    *grpchealth.Server
	logger logpkg.Logger

	mu   sync.Mutex
	last healthpb.HealthCheckResponse_ServingStatus
	runs atomic.Int64
}

// sync evaluates the probe once and pushes the result to the health server.
func (h *healthSync) sync(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs.Add(1)
	st := h.probe.Check(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if !st.Healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	} else if err := h.db(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		st.Err = err
	}
	if status != h.last {
		fields := []logpkg.Field{logpkg.Str("status", status.String()), logpkg.Str("state", st.State.String())}
		if st.Err != nil {
			fields = append(fields, logpkg.Err(st.Err))
		}
		h.logger.Info("health status changed", fields...)
		h.last = status
	}
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(ProcessorService, status)
	return status
}

func (h *healthSync) run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		h.sync(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

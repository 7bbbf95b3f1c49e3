package grpc

import (
	"context"
	"time"

	grpcgo "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Health serves the standard grpc.health.v1 service and keeps it in line
// with the location database readiness.
type Health struct {
	server  *health.Server
	readyFn func() error
}

// NewHealth creates the health service. readyFn may be nil.
func NewHealth(readyFn func() error) *Health {
	h := &Health{server: health.NewServer(), readyFn: readyFn}
	h.Update()
	return h
}

// Register adds the health service to s.
func (h *Health) Register(s grpcgo.ServiceRegistrar) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Update re-evaluates readiness for the server as a whole and for the
// geolocation service.
func (h *Health) Update() {
	st := healthpb.HealthCheckResponse_SERVING
	if h.readyFn != nil && h.readyFn() != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus("", st)
	h.server.SetServingStatus(ServiceName, st)
}

// Run calls Update every interval until ctx is done, then marks everything
// as not serving.
func (h *Health) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Update()
		}
	}
}

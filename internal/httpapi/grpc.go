package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewGRPCServer exposes the standard gRPC health service so orchestrators
// can probe the process without speaking HTTP.
func NewGRPCServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer()
	h := health.NewServer()
	healthpb.RegisterHealthServer(srv, h)
	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return srv, h
}

// WatchReadiness keeps the gRPC health status in sync with the readiness
// probe until ctx ends.
func WatchReadiness(ctx context.Context, h *health.Server, rp ReadyProbe, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			status := healthpb.HealthCheckResponse_SERVING
			if err := rp.Check(checkCtx); err != nil {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
			cancel()
			h.SetServingStatus("", status)
		}
	}
}

package server

import (
	"context"
	"log/slog"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// ServiceName is the gRPC health service key the pipeline reports under.
const ServiceName = "docflow.Pipeline"

// HealthBridge mirrors monitor health into the standard gRPC health service.
// Healthy and degraded both serve; unhealthy does not.
type HealthBridge struct {
	hs     *health.Server
	logger *slog.Logger

	mu   sync.Mutex
	last healthpb.HealthCheckResponse_ServingStatus
}

func NewHealthBridge(logger *slog.Logger) *HealthBridge {
	if logger == nil {
		logger = slog.Default()
	}
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthBridge{hs: hs, logger: logger, last: healthpb.HealthCheckResponse_NOT_SERVING}
}

// Update is shaped to be passed to monitor.OnHealth.
func (b *HealthBridge) Update(h entity.Health) {
	st := ServingStatus(h.Status)
	b.mu.Lock()
	changed := st != b.last
	b.last = st
	b.mu.Unlock()
	b.hs.SetServingStatus(ServiceName, st)
	b.hs.SetServingStatus("", st)
	if changed {
		b.logger.Info("health serving status changed", "status", st.String(), "health", string(h.Status), "issues", h.Issues)
	}
}

// Shutdown marks every service NOT_SERVING so load balancers drain first.
func (b *HealthBridge) Shutdown() { b.hs.Shutdown() }

// Server exposes the underlying health server.
func (b *HealthBridge) Server() *health.Server { return b.hs }

// ServingStatus maps a health classification onto gRPC serving status.
func ServingStatus(s entity.HealthStatus) healthpb.HealthCheckResponse_ServingStatus {
	switch s {
	case entity.HealthHealthy, entity.HealthDegraded:
		return healthpb.HealthCheckResponse_SERVING
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}

// ErrorInterceptor turns plain application errors into gRPC status errors so
// clients see NotFound or InvalidArgument instead of Unknown.
func ErrorInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		if _, ok := status.FromError(err); ok {
			return resp, err
		}
		st := common.ToStatus(err)
		logger.Warn("grpc call failed", "method", info.FullMethod, "code", common.GRPCCode(err).String(), "error", err)
		return resp, st
	}
}

// NewGRPCServer registers the health service and reflection behind ErrorInterceptor.
func NewGRPCServer(b *HealthBridge, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(ErrorInterceptor(b.logger))}, opts...)
	gs := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(gs, b.hs)
	reflection.Register(gs)
	return gs
}

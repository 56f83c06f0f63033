// ABOUTME: gRPC health service for orchestrators that probe over gRPC
// ABOUTME: Reports SERVING for the server and the dispatch service while the gateway runs

package gateway

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// DispatchServiceName is the health-checked service name for the dispatch API.
const DispatchServiceName = "famlogger.Dispatch"

// newHealthServer creates a gRPC server exposing only grpc.health.v1.
// Every service starts NOT_SERVING until markServing is called.
func newHealthServer(logger *slog.Logger) (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(logUnary(logger.With("component", "grpc"))),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(DispatchServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(server, hs)

	return server, hs
}

func markServing(hs *health.Server) {
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(DispatchServiceName, healthpb.HealthCheckResponse_SERVING)
}

// logUnary logs each unary call at debug.
func logUnary(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc call", "method", info.FullMethod, "duration", time.Since(start), "error", err)
		return resp, err
	}
}

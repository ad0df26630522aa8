// Package grpcadmin exposes check_status to operators who prefer a
// gRPC surface over JSON-RPC: a standard health service plus
// reflection, no custom proto needed.
package grpcadmin

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"fetchcore/internal/domain/model"
	"fetchcore/internal/ports"
)

// NewServer builds a *grpc.Server whose health service reports
// checker's readiness under the "" (overall) and "fetchcored"
// service names, with reflection enabled so grpcurl and friends can
// discover it without a local proto copy.
func NewServer(checker ports.HealthChecker) *grpc.Server {
	srv := grpc.NewServer()

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	reflection.Register(srv)

	go watchReadiness(checker, healthSrv)

	return srv
}

// watchReadiness polls Readiness and mirrors it into the grpc health
// server's serving status, since ports.HealthChecker is pull-based
// and grpc_health_v1 expects the server to push status changes.
func watchReadiness(checker ports.HealthChecker, healthSrv *health.Server) {
	const pollInterval = 5 * time.Second
	ctx := context.Background()

	for {
		report, err := checker.Readiness(ctx)

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil || report == nil || report.Status == model.HealthStatusDown {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}

		healthSrv.SetServingStatus("", status)
		healthSrv.SetServingStatus("fetchcored", status)

		time.Sleep(pollInterval)
	}
}

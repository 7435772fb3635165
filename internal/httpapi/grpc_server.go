package httpapi

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"hmsauth.org/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

const readinessTimeout = 2 * time.Second

// GRPCServer serves the standard gRPC health protocol. Both the overall ("")
// service and serviceName report SERVING only while every store is reachable.
type GRPCServer struct {
	health    *health.Server
	readiness readinessChecker
	logger    *slog.Logger
}

// NewGRPCServer creates the health service. It reports NOT_SERVING until the
// first Probe succeeds.
func NewGRPCServer(r readinessChecker, logger *slog.Logger) *GRPCServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &GRPCServer{
		health:    health.NewServer(),
		readiness: r,
		logger:    logger,
	}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register attaches the health service to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Probe runs the readiness check once and publishes the result.
func (s *GRPCServer) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	if err := s.readiness.Check(ctx); err != nil {
		s.logger.WarnContext(ctx, "readiness probe failed", "error", err)
		obs.SetReady(false)
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	obs.SetReady(true)
	s.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Run probes immediately and then every interval until ctx is done, after
// which every service reports NOT_SERVING.
func (s *GRPCServer) Run(ctx context.Context, interval time.Duration) {
	s.Probe(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

func (s *GRPCServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(serviceName, status)
}

package main

import (
	"net"

	config "github.com/NordCoder/Beacon/internal/config/scheduler"
	"github.com/NordCoder/Beacon/internal/obs"
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const (
	svcTick    = "beacon.scheduler.tick"
	svcOutbox  = "beacon.scheduler.outbox"
	svcPrune   = "beacon.scheduler.prune"
	svcOverall = ""
)

// buildAdminServer exposes the standard gRPC health service so
// orchestrators can probe each loop.
func buildAdminServer(cfg *config.Config) (*grpc.Server, *health.Server, net.Listener, error) {
	grpcMetrics := grpcprometheus.NewServerMetrics()
	grpcServer := grpc.NewServer(obs.GRPCServerOpts(grpcMetrics)...)

	hs := health.NewServer()
	for _, svc := range []string{svcOverall, svcTick, svcOutbox, svcPrune} {
		hs.SetServingStatus(svc, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	healthpb.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	ln, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return nil, nil, nil, err
	}
	return grpcServer, hs, ln, nil
}

func serveGRPC(s *grpc.Server, ln net.Listener, logger *zap.Logger) error {
	logger.Info("grpc listening", zap.String("addr", ln.Addr().String()))
	return s.Serve(ln)
}

// Package grpc serves the XAS operations over gRPC.
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/ekisa-team/beamline/internal/service"
)

// Server is the gRPC front end with health checking and reflection.
type Server struct {
	addr   string
	server *grpc.Server
	health *health.Server
}

// NewServer registers the predictor, health and reflection services.
func NewServer(addr string, svc *service.XAS) *Server {
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			UnaryRequestIDInterceptor(),
			UnaryMetricsInterceptor(),
		),
	)

	RegisterPredictorServer(s, NewXASServer(svc))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	reflection.Register(s)

	return &Server{addr: addr, server: s, health: hs}
}

// Serve accepts connections on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("gRPC server listening", "addr", lis.Addr().String())
		errCh <- s.server.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down gRPC server")
	s.health.Shutdown()
	s.server.GracefulStop()
	return nil
}

// ListenAndServe listens on the configured address and serves until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc server: %w", err)
	}
	return s.Serve(ctx, lis)
}

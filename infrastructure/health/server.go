package health

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the service reported next to the overall "" status.
const ServiceName = "chat.relay"

// Server exposes the standard gRPC health protocol so orchestrators can
// probe the relay. Status follows the probe function on every tick.
type Server struct {
	log      *slog.Logger
	health   *health.Server
	probe    func() bool
	interval time.Duration
}

func NewServer(log *slog.Logger, probe func() bool, interval time.Duration) *Server {
	return &Server{log: log, health: health.NewServer(), probe: probe, interval: interval}
}

func (s *Server) Run(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, s.health)
	s.update()

	errChan := make(chan error, 1)
	go func() {
		s.log.Info("Starting gRPC health server", "address", listener.Addr().String())
		if err := grpcServer.Serve(listener); err != nil && err != grpc.ErrServerStopped {
			errChan <- err
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Watchers see NOT_SERVING before the listener goes away
			s.health.Shutdown()
			grpcServer.GracefulStop()
			return nil
		case err := <-errChan:
			return err
		case <-ticker.C:
			s.update()
		}
	}
}

func (s *Server) update() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.probe() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Package grpc runs the operator-facing gRPC endpoint of the relay: the
// standard health service, with one serving status per relay component.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/printrelay/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Component names reported through the health service. The empty name is
// the overall relay status.
const (
	ServiceRelay     = ""
	ServiceWebSocket = "printrelay.websocket"
	ServiceHTTP      = "printrelay.http"
	ServiceStorage   = "printrelay.storage"
)

type GRPCServer struct {
	address   string
	health    *health.Server
	logger    logging.Logger
	jwtSecret []byte
}

func NewGRPCServer(a string, l logging.Logger, secretKey string) *GRPCServer {
	s := &GRPCServer{
		address:   a,
		health:    health.NewServer(),
		logger:    l.With("module", "grpc_server"),
		jwtSecret: []byte(secretKey),
	}
	for _, name := range []string{ServiceRelay, ServiceWebSocket, ServiceHTTP, ServiceStorage} {
		s.health.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return s
}

// SetServing flips the health status of one component.
func (s *GRPCServer) SetServing(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, st)
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor))
	healthpb.RegisterHealthServer(srv, s.health)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.serve(ctx, listen)
}

func (s *GRPCServer) serve(ctx context.Context, listen net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		// Watch streams would otherwise hold GracefulStop open.
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}

package transportgrpc

import (
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcinterceptors "github.com/arklim/paid-storage/internal/transport/grpc/interceptors"
)

// StorageServiceName is the health service name reported for the storage API.
const StorageServiceName = "paidstore.Storage"

// ServerDependencies encapsulates collaborators required by the gRPC server layer.
type ServerDependencies struct {
	Metrics        *grpcinterceptors.GRPCMetrics
	TracerProvider trace.TracerProvider
	Logger         *zap.Logger
}

// Server bundles the gRPC server with its health registry.
type Server struct {
	*grpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewServer builds the operational gRPC endpoint: health checking and reflection,
// instrumented with metrics and tracing. It starts NOT_SERVING until MarkServing.
func NewServer(deps ServerDependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	server := grpc.NewServer(
		grpcinterceptors.TracingServerOption(grpcinterceptors.TracingOptions{TracerProvider: deps.TracerProvider}),
		grpc.ChainUnaryInterceptor(deps.Metrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(deps.Metrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(StorageServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	reflection.Register(server)

	return &Server{Server: server, health: healthServer, logger: logger}
}

// MarkServing flips the health status once dependencies are ready.
func (s *Server) MarkServing() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(StorageServiceName, healthpb.HealthCheckResponse_SERVING)
	s.logger.Info("gRPC health status set to serving")
}

// Drain reports NOT_SERVING to all watchers and stops the server gracefully.
func (s *Server) Drain() {
	s.health.Shutdown()
	s.GracefulStop()
}

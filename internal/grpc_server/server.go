// Package grpc_server публикует состояние сервиса по протоколу gRPC Health Checking.
package grpc_server

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// CameraService имя сервиса камеры в health протоколе
const CameraService = "camstream.Camera"

// HealthServer gRPC сервер со статусом сервиса и reflection
type HealthServer struct {
	server *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewHealthServer создает сервер. Камера изначально NOT_SERVING до вызова SetCameraServing.
func NewHealthServer(logger *zap.Logger) *HealthServer {
	if logger == nil {
		logger = zap.NewNop()
	}

	server := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	reflection.Register(server)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(CameraService, healthpb.HealthCheckResponse_NOT_SERVING)

	return &HealthServer{
		server: server,
		health: hs,
		logger: logger,
	}
}

// SetCameraServing обновляет статус камеры
func (s *HealthServer) SetCameraServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(CameraService, status)
	s.logger.Info("Camera health status updated", zap.String("status", status.String()))
}

// Serve обслуживает запросы на lis
func (s *HealthServer) Serve(lis net.Listener) error {
	s.logger.Info("gRPC health server listening", zap.String("address", lis.Addr().String()))
	if err := s.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc server: %w", err)
	}
	return nil
}

// Stop переводит все сервисы в NOT_SERVING и дожидается завершения запросов
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
	s.logger.Info("gRPC health server stopped")
}

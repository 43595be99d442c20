// Package grpc_client проверяет состояние запущенного сервиса по gRPC.
package grpc_client

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthClient клиент gRPC Health Checking
type HealthClient struct {
	conn   *grpc.ClientConn
	client healthpb.HealthClient
	logger *zap.Logger
}

// NewHealthClient создает клиента. Соединение устанавливается при первом запросе.
func NewHealthClient(address string, logger *zap.Logger) (*HealthClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", address, err)
	}

	logger.Debug("gRPC health client created", zap.String("address", address))

	return &HealthClient{
		conn:   conn,
		client: healthpb.NewHealthClient(conn),
		logger: logger,
	}, nil
}

// Check запрашивает статус сервиса; пустое имя означает весь сервер
func (c *HealthClient) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := c.client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check %q: %w", service, err)
	}
	return resp.GetStatus(), nil
}

// Close закрывает соединение
func (c *HealthClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

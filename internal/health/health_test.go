package health

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestServer_Status(t *testing.T) {
	s := NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	status, err := s.Check(ctx, ServiceConsumer)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	s.SetServing(ServiceConsumer, true)
	status, err = s.Check(ctx, ServiceConsumer)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	_, err = s.Check(ctx, "unknown")
	assert.Error(t, err)

	s.Stop()
	status, err = s.Check(ctx, ServiceConsumer)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)
}

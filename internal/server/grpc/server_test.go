package grpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/Additional-Code/raffle/pkg/errorbank"
)

func TestToStatus(t *testing.T) {
	assert.NoError(t, toStatus(nil))

	st, ok := status.FromError(toStatus(errorbank.Conflict("not enough tokens available")))
	require.True(t, ok)
	assert.Equal(t, codes.AlreadyExists, st.Code())
	assert.Equal(t, "not enough tokens available", st.Message())

	st, ok = status.FromError(toStatus(errorbank.Unavailable("gateway down")))
	require.True(t, ok)
	assert.Equal(t, codes.Unavailable, st.Code())

	plain := errors.New("boom")
	assert.Equal(t, plain, toStatus(plain))
}

func TestHealthServiceRegistered(t *testing.T) {
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	server := NewServer(zap.NewNop(), hs)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestObserveRecoversPanics(t *testing.T) {
	call := func() (err error) {
		defer observe(zap.NewNop(), "/raffle.v1.Raffle/Reserve", time.Now(), &err)
		panic("nil order")
	}

	st, ok := status.FromError(call())
	require.True(t, ok)
	assert.Equal(t, codes.Internal, st.Code())
}

func TestObserveMapsAppErrors(t *testing.T) {
	call := func() (err error) {
		defer observe(zap.NewNop(), "/raffle.v1.Raffle/Status", time.Now(), &err)
		return errorbank.NotFound("order not found")
	}

	assert.Equal(t, codes.NotFound, status.Code(call()))
}

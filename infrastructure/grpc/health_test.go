package grpc

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func TestHealth_Reports_Component_Status(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	server := NewHealthServer("127.0.0.1:0", logs.GetLoggerFromLevel(slog.LevelDebug))
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()
	defer func() {
		cancel()
		req.NoError(<-done)
	}()
	req.Eventually(func() bool { return server.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	conn, err := grpc.NewClient(server.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	req.NoError(err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)
	check := func(service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
		callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer callCancel()
		resp, err := client.Check(callCtx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN, err
		}
		return resp.Status, nil
	}

	// Given the server is up, the overall status is serving
	req.Eventually(func() bool {
		s, err := check("")
		return err == nil && s == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 20*time.Millisecond)

	// When a transport reports itself serving
	server.Serving("json")

	// Then its status is visible
	s, err := check("json")
	req.NoError(err)
	req.Equal(healthpb.HealthCheckResponse_SERVING, s)

	// When it stops
	server.NotServing("json")
	s, err = check("json")
	req.NoError(err)
	req.Equal(healthpb.HealthCheckResponse_NOT_SERVING, s)

	// And an unknown component is reported as not found
	_, err = check("ftp")
	req.Equal(codes.NotFound, status.Code(err))
}

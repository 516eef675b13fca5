// Package health mirrors the mode of every simulated node into a gRPC
// health service: a node is SERVING while normal and NOT_SERVING while
// crashed or stopped. The service name of a node is its address.
package health

import (
	"context"
	"fmt"
	"net"

	"github.com/sushant-115/gojotxn/core/crash"
	"github.com/sushant-115/gojotxn/core/message"
	"github.com/sushant-115/gojotxn/core/node"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type Reporter struct {
	server *health.Server
	logger *zap.Logger
}

func New(logger *zap.Logger) *Reporter {
	return &Reporter{server: health.NewServer(), logger: logger}
}

// Server exposes the underlying health server.
func (r *Reporter) Server() *health.Server { return r.server }

// Register marks addr as serving.
func (r *Reporter) Register(addr message.Address) {
	r.server.SetServingStatus(string(addr), healthpb.HealthCheckResponse_SERVING)
}

// Hook returns the node.ModeHook that keeps the health status current.
func (r *Reporter) Hook() node.ModeHook {
	return func(addr message.Address, mode node.Mode, _ crash.Phase) {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if mode == node.ModeNormal {
			status = healthpb.HealthCheckResponse_SERVING
		}
		r.server.SetServingStatus(string(addr), status)
	}
}

// Serve runs the gRPC health service on lis until ctx is done.
func (r *Reporter) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, r.server)

	go func() {
		<-ctx.Done()
		r.server.Shutdown()
		srv.GracefulStop()
	}()

	r.logger.Info("serving gRPC health", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// ListenAndServe is Serve on a TCP address.
func (r *Reporter) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return r.Serve(ctx, lis)
}

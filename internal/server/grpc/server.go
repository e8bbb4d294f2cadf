package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/Additional-Code/raffle/internal/config"
	"github.com/Additional-Code/raffle/pkg/errorbank"
)

// ServiceName is the health-check name reported for the raffle service.
const ServiceName = "raffle.v1.Raffle"

// Module exposes the gRPC server and lifecycle hooks to Fx.
var Module = fx.Module("grpc_server",
	fx.Provide(NewServer, health.NewServer),
	fx.Invoke(Run),
)

// NewServer builds a gRPC server that recovers panics, translates AppErrors
// into statuses and logs every call.
func NewServer(logger *zap.Logger, hs *health.Server) *grpc.Server {
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
			defer observe(logger, info.FullMethod, time.Now(), &err)
			return handler(ctx, req)
		}),
		grpc.ChainStreamInterceptor(func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
			defer observe(logger, info.FullMethod, time.Now(), &err)
			return handler(srv, ss)
		}),
	)
	healthpb.RegisterHealthServer(server, hs)
	return server
}

// observe runs deferred after a handler: it converts a panic into an
// Internal status, maps the returned error and logs the outcome.
func observe(logger *zap.Logger, method string, start time.Time, errp *error) {
	if r := recover(); r != nil {
		logger.Error("grpc handler panicked", zap.String("method", method), zap.Any("panic", r), zap.Stack("stack"))
		*errp = status.Error(codes.Internal, "internal error")
	}
	*errp = toStatus(*errp)

	fields := []zap.Field{zap.String("method", method), zap.Duration("duration", time.Since(start))}
	if *errp != nil {
		logger.Warn("grpc call failed", append(fields, zap.Error(*errp))...)
		return
	}
	logger.Debug("grpc call finished", fields...)
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var appErr *errorbank.AppError
	if errors.As(err, &appErr) {
		return status.Error(appErr.GRPCCode(), appErr.Message())
	}
	return err
}

// Run serves on GRPC_HOST:GRPC_PORT when enabled. Health statuses flip to
// SERVING on start and NOT_SERVING on stop; a serve failure shuts the app down.
func Run(lc fx.Lifecycle, cfg config.Config, server *grpc.Server, hs *health.Server, shutdowner fx.Shutdowner, logger *zap.Logger) {
	if !cfg.GRPC.Enabled {
		logger.Info("gRPC server disabled")
		return
	}
	addr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen grpc %s: %w", addr, err)
			}
			for _, name := range []string{"", ServiceName} {
				hs.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
			}
			logger.Info("gRPC server listening", zap.String("addr", addr))

			go func() {
				if err := server.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
					logger.Error("grpc server failed", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			hs.Shutdown()
			stopped := make(chan struct{})
			go func() {
				server.GracefulStop()
				close(stopped)
			}()

			select {
			case <-stopped:
				logger.Info("gRPC server stopped")
				return nil
			case <-ctx.Done():
				server.Stop()
				return ctx.Err()
			}
		},
	})
}

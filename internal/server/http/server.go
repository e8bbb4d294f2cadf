package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/raffle/internal/config"
	"github.com/Additional-Code/raffle/internal/database"
	"github.com/Additional-Code/raffle/internal/observability"
	"github.com/Additional-Code/raffle/internal/presentation/http/response"
	"github.com/Additional-Code/raffle/pkg/errorbank"
)

const healthTimeout = 2 * time.Second

// Module exposes the HTTP server lifecycle to Fx.
var Module = fx.Module("http_server",
	fx.Provide(NewEcho),
	fx.Invoke(Run),
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// NewEcho configures the Echo router with basic middleware.
func NewEcho(cfg config.Config, obs *observability.Manager, db *database.Connections, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	if obs != nil && obs.TracingEnabled() {
		e.Use(otelecho.Middleware(cfg.Observability.ServiceName))
	}

	var pinger Pinger
	if db != nil {
		pinger = db.Writer
	}
	e.GET("/health", healthHandler(pinger))

	if obs != nil && obs.MetricsEnabled() && obs.MetricsHandler() != nil {
		e.GET(cfg.Observability.PrometheusPath, echo.WrapHandler(obs.MetricsHandler()))
	}

	return e
}

// errorHandler renders router errors (unknown route, bad method, panics) in the response envelope.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := 0
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) && !errors.As(err, new(*errorbank.AppError)) {
			status = httpErr.Code
			err = fromHTTPError(httpErr)
		}

		appErr := errorbank.From(err)
		if appErr.StatusCode() >= http.StatusInternalServerError {
			logger.Error("http request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
		}
		_ = response.New(c).WithStatus(status).WithError(appErr).Build()
	}
}

func fromHTTPError(httpErr *echo.HTTPError) error {
	msg := http.StatusText(httpErr.Code)
	switch {
	case httpErr.Code == http.StatusNotFound:
		return errorbank.NotFound(msg, errorbank.WithCause(httpErr))
	case httpErr.Code == http.StatusUnauthorized:
		return errorbank.Unauthorized(msg, errorbank.WithCause(httpErr))
	case httpErr.Code == http.StatusServiceUnavailable:
		return errorbank.Unavailable(msg, errorbank.WithCause(httpErr))
	case httpErr.Code < http.StatusInternalServerError:
		return errorbank.BadRequest(msg, errorbank.WithCause(httpErr))
	default:
		return errorbank.Internal(msg, errorbank.WithCause(httpErr))
	}
}

func healthHandler(db Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if db == nil {
			return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
		}

		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
	}
}

// Run binds the listener during start so a taken port fails the boot, then
// serves in the background. A serve failure shuts the app down.
func Run(lc fx.Lifecycle, cfg config.Config, e *echo.Echo, shutdowner fx.Shutdowner, logger *zap.Logger) {
	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen http %s: %w", addr, err)
			}
			logger.Info("HTTP server listening", zap.String("addr", addr))
			go func() {
				if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server failed", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping HTTP server")
			return server.Shutdown(ctx)
		},
	})
}

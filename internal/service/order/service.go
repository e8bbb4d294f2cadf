package order

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/raffle/internal/cache"
	"github.com/Additional-Code/raffle/internal/config"
	"github.com/Additional-Code/raffle/internal/dto"
	repo "github.com/Additional-Code/raffle/internal/repository/order"
	"github.com/Additional-Code/raffle/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/raffle/service/order")

// Service answers order status lookups.
type Service struct {
	repo     *repo.Repository
	cache    cache.Store
	cacheTTL time.Duration
	logger   *zap.Logger
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *repo.Repository
	Cache      cache.Store
	Config     config.Config
	Logger     *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		repo:     p.Repository,
		cache:    p.Cache,
		cacheTTL: p.Config.Cache.DefaultTTL,
		logger:   p.Logger,
	}
}

// Status loads the public view of an order by reference. Orders in a terminal status never change
// again, so only those are served from and written to the cache. Only the view is cached, never the
// customer's contact data.
func (s *Service) Status(ctx context.Context, reference string) (*dto.OrderStatusResponse, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, errorbank.BadRequest("order reference is required")
	}

	ctx, span := serviceTracer.Start(ctx, "OrderService.Status", trace.WithAttributes(attribute.String("order.reference", reference)))
	defer span.End()

	if view, err := s.getFromCache(ctx, reference); err == nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return view, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		if s.logger != nil {
			s.logger.Warn("orders cache read failed", zap.String("order.reference", reference), zap.Error(err))
		}
	}

	order, err := s.repo.FindByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound("order not found", errorbank.WithCause(err))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to load order", errorbank.WithCause(err))
	}

	view := dto.NewOrderStatusResponse(order)
	if order.Status.Terminal() {
		if err := s.storeInCache(ctx, &view); err != nil {
			if s.logger != nil {
				s.logger.Warn("orders cache write failed", zap.String("order.reference", reference), zap.Error(err))
			}
		}
	}

	return &view, nil
}

func cacheKey(reference string) string {
	return cache.Key("orders", "status", reference)
}

func (s *Service) getFromCache(ctx context.Context, reference string) (*dto.OrderStatusResponse, error) {
	return cache.GetJSON[dto.OrderStatusResponse](ctx, s.cache, cacheKey(reference))
}

func (s *Service) storeInCache(ctx context.Context, view *dto.OrderStatusResponse) error {
	return cache.SetJSON(ctx, s.cache, cacheKey(view.Reference), view, s.cacheTTL)
}

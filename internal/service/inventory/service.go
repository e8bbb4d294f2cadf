package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/raffle/internal/entity"
	orderrepo "github.com/Additional-Code/raffle/internal/repository/order"
	tokenrepo "github.com/Additional-Code/raffle/internal/repository/token"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/raffle/service/inventory")

// Issue kinds reported by Verify.
const (
	IssueOrphanToken      = "orphan_token"
	IssueUnknownOwner     = "unknown_owner"
	IssueLeakedToken      = "leaked_token"
	IssueQuantityMismatch = "quantity_mismatch"
	IssueTokenNotOwned    = "token_not_owned"
	IssueDuplicateToken   = "duplicate_token"
	IssueConservation     = "conservation"
)

// Stats summarises the pool and sales.
type Stats struct {
	Total     int
	Available int
	Pending   int
	Sold      int
	Buyers    int
	Orders    map[entity.OrderStatus]int
}

// Issue is one integrity violation.
type Issue struct {
	Kind      string
	Token     string
	Reference string
	Detail    string
}

func (i Issue) String() string {
	parts := []string{i.Kind}
	if i.Reference != "" {
		parts = append(parts, "order="+i.Reference)
	}
	if i.Token != "" {
		parts = append(parts, "token="+i.Token)
	}
	if i.Detail != "" {
		parts = append(parts, i.Detail)
	}
	return strings.Join(parts, " ")
}

// Report is the result of an integrity check.
type Report struct {
	Stats  Stats
	Issues []Issue
}

// OK reports whether no issue was found.
func (r Report) OK() bool { return len(r.Issues) == 0 }

// Service audits the token pool against the order ledger.
type Service struct {
	tokens *tokenrepo.Repository
	orders *orderrepo.Repository
	logger *zap.Logger
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Tokens *tokenrepo.Repository
	Orders *orderrepo.Repository
	Logger *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{tokens: p.Tokens, orders: p.Orders, logger: p.Logger}
}

// Stats counts tokens, sales and distinct buyers.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	ctx, span := serviceTracer.Start(ctx, "InventoryService.Stats")
	defer span.End()

	pool, err := s.tokens.Stats(ctx)
	if err != nil {
		span.RecordError(err)
		return Stats{}, err
	}
	orders, err := s.orders.ListByStatus(ctx)
	if err != nil {
		span.RecordError(err)
		return Stats{}, err
	}
	return summarize(pool, orders), nil
}

// Verify cross-checks token ownership against orders and the conservation law
// available + tokens held by pending/approved orders == total.
func (s *Service) Verify(ctx context.Context) (Report, error) {
	ctx, span := serviceTracer.Start(ctx, "InventoryService.Verify")
	defer span.End()

	pool, err := s.tokens.Stats(ctx)
	if err != nil {
		span.RecordError(err)
		return Report{}, err
	}
	held, err := s.tokens.ListUnavailable(ctx)
	if err != nil {
		span.RecordError(err)
		return Report{}, err
	}
	orders, err := s.orders.ListByStatus(ctx)
	if err != nil {
		span.RecordError(err)
		return Report{}, err
	}

	report := Report{Stats: summarize(pool, orders)}
	byRef := make(map[string]entity.Order, len(orders))
	for _, o := range orders {
		byRef[o.Reference] = o
	}

	owner := make(map[string]string, len(held))
	for _, t := range held {
		owner[t.Code] = t.OrderReference
		switch o, ok := byRef[t.OrderReference]; {
		case t.OrderReference == "":
			report.Issues = append(report.Issues, Issue{Kind: IssueOrphanToken, Token: t.Code})
		case !ok:
			report.Issues = append(report.Issues, Issue{Kind: IssueUnknownOwner, Token: t.Code, Reference: t.OrderReference})
		case !o.Status.HoldsTokens():
			report.Issues = append(report.Issues, Issue{Kind: IssueLeakedToken, Token: t.Code, Reference: o.Reference, Detail: "order is " + string(o.Status)})
		}
	}

	claimedBy := map[string]string{}
	holding := 0
	for _, o := range orders {
		if !o.Status.HoldsTokens() {
			continue
		}
		holding += len(o.TokenCodes)
		if len(o.TokenCodes) != o.Quantity {
			report.Issues = append(report.Issues, Issue{
				Kind:      IssueQuantityMismatch,
				Reference: o.Reference,
				Detail:    fmt.Sprintf("quantity %d, tokens %d", o.Quantity, len(o.TokenCodes)),
			})
		}
		for _, code := range o.TokenCodes {
			if other, dup := claimedBy[code]; dup {
				report.Issues = append(report.Issues, Issue{Kind: IssueDuplicateToken, Token: code, Reference: o.Reference, Detail: "also in " + other})
				continue
			}
			claimedBy[code] = o.Reference
			if owner[code] != o.Reference {
				report.Issues = append(report.Issues, Issue{Kind: IssueTokenNotOwned, Token: code, Reference: o.Reference})
			}
		}
	}

	if pool.Available+holding != pool.Total {
		report.Issues = append(report.Issues, Issue{
			Kind:   IssueConservation,
			Detail: fmt.Sprintf("available %d + held %d != total %d", pool.Available, holding, pool.Total),
		})
	}

	span.SetAttributes(attribute.Int("issues", len(report.Issues)))
	if !report.OK() {
		span.SetStatus(codes.Error, "integrity issues found")
		s.logger.Warn("inventory integrity issues found", zap.Int("issues", len(report.Issues)))
	}
	return report, nil
}

func summarize(pool tokenrepo.Stats, orders []entity.Order) Stats {
	stats := Stats{
		Total:     pool.Total,
		Available: pool.Available,
		Orders:    map[entity.OrderStatus]int{},
	}
	buyers := map[string]struct{}{}
	for _, o := range orders {
		stats.Orders[o.Status]++
		switch o.Status {
		case entity.OrderStatusApproved:
			stats.Sold += o.Quantity
			buyers[strings.ToLower(o.CustomerEmail)] = struct{}{}
		case entity.OrderStatusPending:
			stats.Pending += o.Quantity
		}
	}
	stats.Buyers = len(buyers)
	return stats
}

// SortedStatuses lists the statuses present in stats in a stable order.
func SortedStatuses(stats Stats) []entity.OrderStatus {
	out := make([]entity.OrderStatus, 0, len(stats.Orders))
	for status := range stats.Orders {
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

package application

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"atlas/internal/pkg/logger"
	"atlas/internal/pkg/metrics"
	checkoutdomain "atlas/internal/service/checkout/domain"
	ledgerdomain "atlas/internal/service/ledger/domain"
)

// ReservationLookup is the slice of the ledger the worker needs to
// re-verify what actually landed. The ledger application service
// satisfies it.
type ReservationLookup interface {
	Lookup(ctx context.Context, idempotencyKey string) (*ledgerdomain.Reservation, error)
	Release(ctx context.Context, idempotencyKey string) (ledgerdomain.ReleaseResult, error)
}

// Service handles reconcile tasks: it re-checks every reservation via its
// idempotency record, releases the ones that never committed, and flags the
// order for manual review with the policy-assigned severity.
type Service struct {
	orders checkoutdomain.OrderRepository
	ledger ReservationLookup
	policy *Policy
	tracer trace.Tracer
}

func NewService(orders checkoutdomain.OrderRepository, ledger ReservationLookup, policy *Policy, tracer trace.Tracer) *Service {
	return &Service{orders: orders, ledger: ledger, policy: policy, tracer: tracer}
}

// HandleTask processes one task. It is idempotent: re-delivery of the same
// task re-runs lookups and no-op releases.
func (s *Service) HandleTask(ctx context.Context, task checkoutdomain.ReconcileTask) error {
	ctx, span := s.tracer.Start(ctx, "reconcile.HandleTask", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", task.TaskID),
		attribute.String("order.id", task.OrderID),
	)

	severity, err := s.policy.Evaluate(task)
	if err != nil {
		// Policy trouble must not stall the queue; take the loud route.
		logger.Ctx(ctx).Error().Err(err).Str("task_id", task.TaskID).Msg("policy evaluation failed")
		severity = SeverityPage
	}
	span.SetAttributes(attribute.String("task.severity", severity))

	// Re-verify each reservation. A record still in Reserved state means
	// stock is held for an order that will not complete: give it back.
	for _, key := range task.ReservationKeys {
		res, err := s.ledger.Lookup(ctx, key)
		if err != nil {
			if errors.Is(err, ledgerdomain.ErrNotFound) {
				// The reserve never landed; nothing to undo for this line.
				continue
			}
			span.RecordError(err)
			return fmt.Errorf("lookup reservation %s: %w", key, err)
		}
		if res.State == ledgerdomain.StateReserved {
			if _, err := s.ledger.Release(ctx, key); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "release during reconcile failed")
				return fmt.Errorf("release reservation %s: %w", key, err)
			}
			logger.Ctx(ctx).Info().Str("key", key).Msg("orphaned reservation released")
		}
	}

	reason := fmt.Sprintf("[%s] %s", severity, task.Reason)
	if err := s.orders.FlagForReview(ctx, task.OrderID, reason); err != nil {
		if errors.Is(err, checkoutdomain.ErrOrderNotFound) {
			logger.Ctx(ctx).Warn().Str("order_id", task.OrderID).Msg("reconcile task for unknown order")
		} else {
			span.RecordError(err)
			return fmt.Errorf("flag order %s: %w", task.OrderID, err)
		}
	}

	metrics.ReconcileTasksTotal.WithLabelValues("handled", severity).Inc()
	logger.Ctx(ctx).Info().
		Str("task_id", task.TaskID).
		Str("order_id", task.OrderID).
		Str("severity", severity).
		Msg("reconcile task handled")
	return nil
}

// FlagStuckOrders flags every processing order older than cutoff reported
// by the repository. Returns the number flagged. The sweeper calls this
// under a distributed lock.
func (s *Service) FlagStuckOrders(ctx context.Context, stuck []*checkoutdomain.Order) int {
	flagged := 0
	for _, order := range stuck {
		reason := fmt.Sprintf("[%s] order stuck in processing since %s", SeverityTicket, order.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
		if err := s.orders.FlagForReview(ctx, order.ID, reason); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("failed to flag stuck order")
			continue
		}
		metrics.ReconcileTasksTotal.WithLabelValues("swept", SeverityTicket).Inc()
		flagged++
	}
	return flagged
}

// Package application orchestrates stock ledger operations: validation,
// bounded retries against the store, metrics and event publication.
package application

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"atlas/internal/pkg/logger"
	"atlas/internal/pkg/metrics"
	"atlas/internal/service/ledger/domain"
	"atlas/internal/service/ledger/domain/port"
)

// Service is the sole authority for mutating stock. All checkout and admin
// flows go through it; the catalog exposes stock read-only.
type Service struct {
	store  port.StockStore
	events port.EventPublisher
	tracer trace.Tracer

	retryMax  int
	baseDelay time.Duration
	opTimeout time.Duration
}

type Option func(*Service)

// WithRetry overrides the transient-failure retry budget.
func WithRetry(max int, baseDelay time.Duration) Option {
	return func(s *Service) {
		s.retryMax = max
		s.baseDelay = baseDelay
	}
}

// WithOpTimeout bounds each store round-trip.
func WithOpTimeout(d time.Duration) Option {
	return func(s *Service) { s.opTimeout = d }
}

// WithEvents attaches a stock event publisher.
func WithEvents(p port.EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

func NewService(store port.StockStore, tracer trace.Tracer, opts ...Option) *Service {
	s := &Service{
		store:     store,
		tracer:    tracer,
		retryMax:  3,
		baseDelay: 100 * time.Millisecond,
		opTimeout: 8 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reserve performs the atomic conditional decrement for one cart line. A
// repeated call with the same idempotency key replays the prior result
// without touching stock. NotFound and InsufficientStock are reported in the
// result and never retried; store failures are retried with exponential
// backoff and, if the budget is exhausted, the idempotency record decides
// whether the decrement actually landed.
func (s *Service) Reserve(ctx context.Context, itemID, size string, quantity int, idempotencyKey string) (domain.ReservationResult, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("stock.item_id", itemID),
		attribute.String("stock.size", size),
		attribute.Int("stock.quantity", quantity),
	)

	res, err := domain.NewReservation(itemID, size, quantity, idempotencyKey)
	if err != nil {
		metrics.ReservationsTotal.WithLabelValues("invalid").Inc()
		span.SetStatus(codes.Error, err.Error())
		return domain.ReservationResult{}, err
	}

	var result domain.ReservationResult
	err = s.withRetry(ctx, func(ctx context.Context) error {
		var storeErr error
		result, storeErr = s.store.Reserve(ctx, res)
		return storeErr
	})
	if err != nil {
		// The attempt may have been applied before the failure surfaced.
		// The reservation record is the source of truth.
		if prior, lookupErr := s.store.GetReservation(ctx, idempotencyKey); lookupErr == nil {
			// Report the remaining stock recorded with the reservation,
			// like every other replay, not the live level which other
			// reserves may have moved since.
			result = domain.ReservationResult{Status: domain.StatusOk, Remaining: prior.RemainingAfter, Replayed: true}
			metrics.ReservationsTotal.WithLabelValues("replayed").Inc()
			span.AddEvent("reserve recovered via idempotency record")
			logger.Ctx(ctx).Warn().Str("key", prior.IdempotencyKey).Msg("reserve retries exhausted, effect confirmed via reservation record")
			return result, nil
		}
		metrics.ReservationsTotal.WithLabelValues("unavailable").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "stock store unavailable")
		return domain.ReservationResult{}, errors.Join(domain.ErrUnavailable, err)
	}

	s.recordReserveOutcome(ctx, res, result, span)
	return result, nil
}

func (s *Service) recordReserveOutcome(ctx context.Context, res *domain.Reservation, result domain.ReservationResult, span trace.Span) {
	outcome := result.Status.String()
	if result.Replayed {
		outcome = "replayed"
	}
	metrics.ReservationsTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.String("stock.outcome", outcome))

	switch result.Status {
	case domain.StatusOk:
		if !result.Replayed {
			s.publish(ctx, domain.StockEvent{
				Type:      domain.StockEventReserved,
				ItemID:    res.ItemID,
				Size:      res.Size,
				Quantity:  res.Quantity,
				Remaining: result.Remaining,
				At:        time.Now(),
			})
			if result.Remaining == 0 {
				s.publish(ctx, domain.StockEvent{
					Type:   domain.StockEventSoldOut,
					ItemID: res.ItemID,
					Size:   res.Size,
					At:     time.Now(),
				})
			}
		}
	case domain.StatusInsufficientStock:
		span.AddEvent("insufficient stock")
	case domain.StatusNotFound:
		span.AddEvent("item or size not found")
	}
}

// Commit finalizes a reservation after the order is completed. Idempotent.
func (s *Service) Commit(ctx context.Context, idempotencyKey string) error {
	ctx, span := s.tracer.Start(ctx, "ledger.Commit")
	defer span.End()

	if idempotencyKey == "" {
		return domain.ErrValidation
	}

	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.store.Commit(ctx, idempotencyKey)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			span.SetStatus(codes.Error, "reservation not found")
			return err
		}
		span.RecordError(err)
		return errors.Join(domain.ErrUnavailable, err)
	}
	span.AddEvent("reservation committed")
	return nil
}

// Release reverses a prior reservation, returning its quantity to stock.
// Idempotent: releasing an unknown or already-released key reports
// Released=false with no error.
func (s *Service) Release(ctx context.Context, idempotencyKey string) (domain.ReleaseResult, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Release")
	defer span.End()

	if idempotencyKey == "" {
		return domain.ReleaseResult{}, domain.ErrValidation
	}

	var result domain.ReleaseResult
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var storeErr error
		result, storeErr = s.store.Release(ctx, idempotencyKey)
		return storeErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "release failed")
		return domain.ReleaseResult{}, errors.Join(domain.ErrUnavailable, err)
	}

	if result.Released {
		metrics.ReleasedUnits.Add(float64(result.Quantity))
		if prior, lookupErr := s.store.GetReservation(ctx, idempotencyKey); lookupErr == nil {
			remaining, _ := s.store.FindSizeStock(ctx, prior.ItemID, prior.Size)
			s.publish(ctx, domain.StockEvent{
				Type:      domain.StockEventReleased,
				ItemID:    prior.ItemID,
				Size:      prior.Size,
				Quantity:  result.Quantity,
				Remaining: remaining,
				At:        time.Now(),
			})
		}
	}
	span.SetAttributes(attribute.Bool("stock.released", result.Released))
	return result, nil
}

// Available returns the current stock for display. It must never be used as
// the basis for a later unconditional write.
func (s *Service) Available(ctx context.Context, itemID, size string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Available")
	defer span.End()

	if itemID == "" || size == "" {
		return 0, domain.ErrValidation
	}
	stock, err := s.store.FindSizeStock(ctx, itemID, size)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, err
		}
		span.RecordError(err)
		return 0, errors.Join(domain.ErrUnavailable, err)
	}
	return stock, nil
}

// Lookup returns the reservation persisted for key. Reconciliation uses it
// to decide whether a timed-out reserve actually landed.
func (s *Service) Lookup(ctx context.Context, idempotencyKey string) (*domain.Reservation, error) {
	if idempotencyKey == "" {
		return nil, domain.ErrValidation
	}
	return s.store.GetReservation(ctx, idempotencyKey)
}

// withRetry runs op with the op timeout, retrying store failures with
// doubling delays. Domain outcomes (ErrNotFound, ErrValidation) pass through
// untouched; they cannot be fixed by retrying.
func (s *Service) withRetry(ctx context.Context, op func(context.Context) error) error {
	delay := s.baseDelay
	var lastErr error
	for attempt := 0; attempt < s.retryMax; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		err := op(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) {
			return err
		}
		lastErr = err
		logger.Ctx(ctx).Warn().Err(err).Int("attempt", attempt+1).Msg("stock store call failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

func (s *Service) publish(ctx context.Context, event domain.StockEvent) {
	if s.events == nil {
		return
	}
	s.events.PublishStockEvent(ctx, event)
}

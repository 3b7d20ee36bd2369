// Package metrics defines the Prometheus instruments shared across services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReservationsTotal counts reserve attempts by outcome
	// (ok, replayed, insufficient_stock, not_found, unavailable, invalid).
	ReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_stock_reservations_total",
		Help: "Stock reservation attempts by outcome.",
	}, []string{"outcome"})

	// ReleasedUnits counts stock units returned by release operations.
	ReleasedUnits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atlas_stock_released_units_total",
		Help: "Stock units returned to inventory by releases.",
	})

	// ReconcileTasksTotal counts emitted and handled reconcile tasks by severity.
	ReconcileTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_reconcile_tasks_total",
		Help: "Reconciliation tasks by stage and severity.",
	}, []string{"stage", "severity"})

	// CheckoutsTotal counts checkout runs by result.
	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_checkouts_total",
		Help: "Checkout saga executions by result.",
	}, []string{"result"})
)

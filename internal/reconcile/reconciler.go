// Package reconcile finds paid orders whose kitchen ticket or paid
// notification never happened and, when asked, repairs them. It never
// touches payment state.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"ms-fulfillment/internal/config"
	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/utils"
)

const batchSize = 100

type OrderStore interface {
	ListPaidWithoutTicket(ctx context.Context, before time.Time, limit int) ([]*models.Order, error)
	ListPaidUnnotified(ctx context.Context, before time.Time, limit int) ([]*models.Order, error)
}

type TicketMaterializer interface {
	Materialize(ctx context.Context, orderID string) (*models.KitchenTicket, error)
}

type Notifier interface {
	Notify(ctx context.Context, orderID string, m models.Milestone) (models.NotifyResult, error)
}

// Report summarizes one pass.
type Report struct {
	MissingTickets  []string  `json:"missing_tickets"`
	UnnotifiedPaid  []string  `json:"unnotified_paid"`
	TicketsRepaired int       `json:"tickets_repaired"`
	NoticesRepaired int       `json:"notices_repaired"`
	Failures        []string  `json:"failures,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

func (r Report) Clean() bool {
	return len(r.MissingTickets) == 0 && len(r.UnnotifiedPaid) == 0
}

type Reconciler struct {
	Orders   OrderStore
	Tickets  TicketMaterializer
	Notifier Notifier
	Interval time.Duration
	Grace    time.Duration
	AutoFix  bool
	logger   *logger.Logger
	now      func() time.Time
}

func NewReconciler(orders OrderStore, tickets TicketMaterializer, notifier Notifier, cfg config.ReconcileConfig, log *logger.Logger) *Reconciler {
	return &Reconciler{
		Orders:   orders,
		Tickets:  tickets,
		Notifier: notifier,
		Interval: cfg.Interval,
		Grace:    cfg.TicketGrace,
		AutoFix:  cfg.AutoFix,
		logger:   log,
		now:      utils.Now,
	}
}

// Run repeats RunOnce every Interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.Interval <= 0 {
		r.logger.Warn("RECONCILE", "Interval not positive, reconciler disabled")
		return nil
	}
	r.logger.Info("RECONCILE", fmt.Sprintf("Reconciler started (interval=%s grace=%s fix=%t)", r.Interval, r.Grace, r.AutoFix))

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("RECONCILE", "Reconciler stopped")
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx, r.AutoFix); err != nil && ctx.Err() == nil {
				r.logger.Error("RECONCILE", fmt.Sprintf("Pass failed: %v", err))
			}
		}
	}
}

// RunOnce inspects orders paid more than Grace ago. With fix set it
// re-materializes missing tickets and re-sends the paid notification.
func (r *Reconciler) RunOnce(ctx context.Context, fix bool) (Report, error) {
	report := Report{StartedAt: r.now()}
	cutoff := report.StartedAt.Add(-r.Grace)

	missing, err := r.Orders.ListPaidWithoutTicket(ctx, cutoff, batchSize)
	if err != nil {
		return report, fmt.Errorf("list paid orders without ticket: %w", err)
	}
	for _, o := range missing {
		report.MissingTickets = append(report.MissingTickets, o.OrderID)
		r.logger.LogOrder("DEFECT_NO_TICKET", o.OrderID, fmt.Sprintf("paid at %s, no kitchen ticket", o.PaidAt))
		if !fix {
			continue
		}
		if _, err := r.Tickets.Materialize(ctx, o.OrderID); err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("ticket %s: %v", o.OrderID, err))
			continue
		}
		report.TicketsRepaired++
	}

	unnotified, err := r.Orders.ListPaidUnnotified(ctx, cutoff, batchSize)
	if err != nil {
		return report, fmt.Errorf("list unnotified paid orders: %w", err)
	}
	for _, o := range unnotified {
		report.UnnotifiedPaid = append(report.UnnotifiedPaid, o.OrderID)
		r.logger.LogNotify("DEFECT_UNSENT", o.OrderID, "paid notification never claimed")
		if !fix {
			continue
		}
		result, err := r.Notifier.Notify(ctx, o.OrderID, models.MilestonePaid)
		if err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("notify %s: %v", o.OrderID, err))
			continue
		}
		if result == models.NotifySent {
			report.NoticesRepaired++
		}
	}

	report.FinishedAt = r.now()
	if !report.Clean() {
		r.logger.Warn("RECONCILE", fmt.Sprintf("missing tickets=%d unnotified=%d repaired=%d/%d failures=%d",
			len(report.MissingTickets), len(report.UnnotifiedPaid), report.TicketsRepaired, report.NoticesRepaired, len(report.Failures)))
	}
	return report, nil
}

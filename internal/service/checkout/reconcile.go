package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/monitoring"
	"github.com/kirinyoku/tixflow/internal/service/ledger"
)

type ReconcileReport struct {
	Checked      int `json:"checked"`
	Confirmed    int `json:"confirmed"`
	Cancelled    int `json:"cancelled"`
	Abandoned    int `json:"abandoned"`
	StillPending int `json:"stillPending"`
	Failed       int `json:"failed"`
}

// Reconcile polls the gateway for every pending ticket older than the
// reconcile threshold and applies the outcome. Tickets the gateway has never
// heard of are cancelled once they are older than the abandon threshold.
//
// Returns:
//   - error: checkout.ErrReconcileRunning if another pass is in progress.
func (s *Service) Reconcile(ctx context.Context) (ReconcileReport, error) {
	const op = "service.checkout.Reconcile"

	if !s.reconcileMu.TryLock() {
		return ReconcileReport{}, fmt.Errorf("%s:%w", op, ErrReconcileRunning)
	}
	defer s.reconcileMu.Unlock()

	pending, err := s.ledger.Pending(ctx, s.cfg.ReconcileAfter)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("%s:%w", op, err)
	}

	var rep ReconcileReport
	now := s.cfg.Clock()

	for _, t := range pending {
		if err := ctx.Err(); err != nil {
			return rep, fmt.Errorf("%s:%w", op, err)
		}

		rep.Checked++

		status, err := s.gateway.GetStatusByOrder(ctx, t.OrderID)
		if err != nil {
			rep.Failed++
			s.logger.Warn("reconcile: status lookup failed", "order_id", t.OrderID, "error", err)
			continue
		}

		if !status.Found {
			if now.Sub(t.PurchasedAt) < s.cfg.AbandonAfter {
				rep.StillPending++
				continue
			}

			if _, outcome, err := s.ledger.Cancel(ctx, t.OrderID); err != nil {
				rep.Failed++
			} else if outcome == ledger.Transitioned {
				rep.Abandoned++
				monitoring.TrackReconciled("abandoned")
				s.logger.Info("reconcile: abandoned order cancelled", "order_id", t.OrderID, "ticket", t.Number)
			}
			continue
		}

		s.recordReport(ctx, t.OrderID, "", status)

		applied, outcome, err := s.apply(ctx, t.OrderID, status.Status, externalRef(status))
		switch {
		case err != nil:
			rep.Failed++
		case status.Status == domain.PaymentPending:
			rep.StillPending++
		case outcome != ledger.Transitioned:
		case status.Status == domain.PaymentApproved:
			rep.Confirmed++
			monitoring.TrackReconciled("confirmed")
			// the ticket stays confirmed when the send fails; admins can resend.
			_ = s.notify(ctx, applied)
		case status.Status == domain.PaymentRejected:
			rep.Cancelled++
			monitoring.TrackReconciled("cancelled")
		}
	}

	s.logger.Info("reconcile finished",
		"checked", rep.Checked,
		"confirmed", rep.Confirmed,
		"cancelled", rep.Cancelled,
		"abandoned", rep.Abandoned,
		"still_pending", rep.StillPending,
		"failed", rep.Failed,
	)

	return rep, nil
}

// RunReconciler calls Reconcile every interval until ctx is done.
func (s *Service) RunReconciler(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := s.Reconcile(ctx); err != nil && !errors.Is(err, ErrReconcileRunning) && ctx.Err() == nil {
				s.logger.Error("reconcile failed", "error", err)
			}
		}
	}
}

// CancelOrder cancels a pending ticket by hand, e.g. an order whose payment was never opened.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (domain.Ticket, ledger.Outcome, error) {
	const op = "service.checkout.CancelOrder"

	t, outcome, err := s.ledger.Cancel(ctx, orderID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.Ticket{}, 0, fmt.Errorf("%s:%w", op, ErrOrderNotFound)
		}
		return domain.Ticket{}, 0, fmt.Errorf("%s:%w", op, err)
	}

	if outcome == ledger.Transitioned {
		rec := s.recordFromLedger(ctx, orderID)
		if stored, err := s.payments.Get(ctx, orderID); err == nil {
			rec = stored
			rec.Status = domain.PaymentRejected
		}
		rec.UpdatedAt = s.cfg.Clock().UTC()
		s.saveRecord(ctx, rec)
	}

	return t, outcome, nil
}

// ResendNotification sends the confirmation for orderID again and waits for the result.
//
// Returns:
//   - error: checkout.ErrNotConfirmed if the ticket is not confirmed.
func (s *Service) ResendNotification(ctx context.Context, orderID string) error {
	const op = "service.checkout.ResendNotification"

	t, err := s.TicketByOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if t.Status != domain.TicketConfirmed {
		return fmt.Errorf("%s:%w", op, ErrNotConfirmed)
	}

	if err := s.notifier.NotifyTicket(ctx, t); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

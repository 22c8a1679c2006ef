package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/gateway"
	"github.com/kirinyoku/tixflow/internal/monitoring"
	"github.com/kirinyoku/tixflow/internal/repository"
	"github.com/kirinyoku/tixflow/internal/service/ledger"
	"github.com/kirinyoku/tixflow/internal/signature"
	"github.com/kirinyoku/tixflow/internal/worker"
)

// HandleWebhook authenticates a gateway callback, resolves the payment status
// from the gateway and queues the resulting ticket transition. The status in
// the callback body is never used. Once the signature is valid the
// acknowledgement is returned even if the status could not be resolved.
//
// Returns:
//   - error: checkout.ErrSignatureInvalid without touching any state.
//   - error: checkout.ErrInvalidInput if the callback carries no token.
func (s *Service) HandleWebhook(ctx context.Context, params signature.Params) (string, error) {
	const op = "service.checkout.HandleWebhook"

	if !signature.Verify(params, s.cfg.SecretKey) {
		monitoring.TrackWebhook("invalid_signature")
		s.logger.Warn("webhook rejected: invalid signature", "token", params["token"])
		return "", fmt.Errorf("%s:%w", op, ErrSignatureInvalid)
	}

	token := params["token"]
	if token == "" {
		monitoring.TrackWebhook("invalid")
		return "", fmt.Errorf("%s:%w", op, ValidationError{Fields: []string{"token"}})
	}

	rep, err := s.gateway.GetStatus(ctx, token)
	if err != nil {
		monitoring.TrackWebhook("unresolved")
		s.logger.Error("webhook status unresolved; needs reconciliation",
			"op", op,
			"token", token,
			"error", err,
		)
		return s.cfg.Ack, nil
	}

	if rep.OrderID == "" {
		monitoring.TrackWebhook("unresolved")
		s.logger.Error("gateway status carries no order id", "op", op, "token", token)
		return s.cfg.Ack, nil
	}

	s.recordReport(ctx, rep.OrderID, token, rep)
	s.schedule(rep.OrderID, rep.Status, externalRef(rep))

	monitoring.TrackWebhook(string(rep.Status))
	s.logger.Info("webhook accepted", "order_id", rep.OrderID, "status", rep.Status, "gateway_status", rep.Code)

	return s.cfg.Ack, nil
}

func externalRef(rep gateway.StatusReport) string {
	if rep.ExternalOrderID == 0 {
		return ""
	}
	return strconv.FormatInt(rep.ExternalOrderID, 10)
}

// schedule queues the ledger transition for a resolved status. Pending is a no-op.
// A newly confirmed ticket is notified as a later step of the same task, so a
// failed send retries without confirming again.
func (s *Service) schedule(orderID string, status domain.PaymentStatus, ref string) {
	if status != domain.PaymentApproved && status != domain.PaymentRejected {
		return
	}

	var confirmed *domain.Ticket

	err := s.dispatcher.Submit(worker.Task{
		Name: "apply_" + string(status),
		Key:  "apply:" + orderID + ":" + string(status),
		Run: func(ctx context.Context) error {
			if confirmed == nil {
				t, outcome, err := s.apply(ctx, orderID, status, ref)
				if errors.Is(err, ledger.ErrNotFound) {
					return worker.Permanent(err)
				}
				if err != nil {
					return err
				}
				if status != domain.PaymentApproved || outcome != ledger.Transitioned {
					return nil
				}
				confirmed = &t
			}

			return s.notify(ctx, *confirmed)
		},
	})
	switch {
	case err == nil:
	case errors.Is(err, worker.ErrDuplicate):
		s.logger.Debug("transition already queued", "order_id", orderID, "status", status)
	default:
		s.logger.Error("could not queue ticket transition; needs reconciliation",
			"order_id", orderID,
			"status", status,
			"error", err,
		)
	}
}

// apply performs the ledger transition for status.
func (s *Service) apply(
	ctx context.Context,
	orderID string,
	status domain.PaymentStatus,
	ref string,
) (domain.Ticket, ledger.Outcome, error) {
	var (
		t       domain.Ticket
		outcome ledger.Outcome
		err     error
	)

	switch status {
	case domain.PaymentApproved:
		t, outcome, err = s.ledger.Confirm(ctx, orderID, ref)
	case domain.PaymentRejected:
		t, outcome, err = s.ledger.Cancel(ctx, orderID)
	default:
		return domain.Ticket{}, 0, nil
	}
	if err != nil {
		s.logger.Error("ticket transition failed", "order_id", orderID, "status", status, "error", err)
		return domain.Ticket{}, 0, err
	}

	return t, outcome, nil
}

// notify sends the confirmation for a newly confirmed ticket.
func (s *Service) notify(ctx context.Context, t domain.Ticket) error {
	if err := s.notifier.NotifyTicket(ctx, t); err != nil {
		s.logger.Warn("ticket notification failed",
			"order_id", t.OrderID,
			"ticket", t.Number,
			"error", err,
		)
		return err
	}
	return nil
}

// recordReport folds a gateway status report into the payment record of orderID.
func (s *Service) recordReport(ctx context.Context, orderID, token string, rep gateway.StatusReport) domain.PaymentRecord {
	rec, err := s.payments.Get(ctx, orderID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("reading payment record failed", "order_id", orderID, "error", err)
		}
		rec = s.recordFromLedger(ctx, orderID)
	}

	if token != "" {
		rec.Token = token
	}

	if rep.Found {
		rec.Status = rep.Status
		rec.Gateway = rep.Raw
		if rep.ExternalOrderID != 0 {
			rec.ExternalOrderID = rep.ExternalOrderID
		}
		if rec.Amount.IsZero() {
			rec.Amount = rep.Amount
		}
	}

	rec.UpdatedAt = s.cfg.Clock().UTC()
	s.saveRecord(ctx, rec)

	return rec
}

// recordFromLedger rebuilds a minimal payment record from the ticket, e.g.
// after a restart dropped the in-memory records.
func (s *Service) recordFromLedger(ctx context.Context, orderID string) domain.PaymentRecord {
	rec := domain.PaymentRecord{OrderID: orderID, Status: domain.PaymentPending}

	t, err := s.ledger.Get(ctx, orderID)
	if err != nil {
		rec.CreatedAt = s.cfg.Clock().UTC()
		return rec
	}

	rec.Buyer = t.Buyer
	rec.TicketNumber = t.Number
	rec.CreatedAt = t.PurchasedAt
	if n, err := strconv.ParseInt(t.ExternalRef, 10, 64); err == nil {
		rec.ExternalOrderID = n
	}

	switch t.Status {
	case domain.TicketConfirmed:
		rec.Status = domain.PaymentApproved
	case domain.TicketCancelled:
		rec.Status = domain.PaymentRejected
	}

	return rec
}

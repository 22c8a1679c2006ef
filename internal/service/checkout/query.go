package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/gateway"
	"github.com/kirinyoku/tixflow/internal/repository"
	"github.com/kirinyoku/tixflow/internal/service/ledger"
)

type Verification struct {
	Status domain.PaymentStatus
	Raw    json.RawMessage
}

// OrderStatus returns the payment record of orderID refreshed from the
// gateway. Concurrent calls for the same order share one gateway round-trip.
// A failed refresh falls back to the stored record.
//
// Returns:
//   - error: checkout.ErrOrderNotFound if neither a record nor a ticket exists.
func (s *Service) OrderStatus(ctx context.Context, orderID string) (domain.PaymentRecord, error) {
	const op = "service.checkout.OrderStatus"

	v, err, _ := s.sf.Do("status:"+orderID, func() (any, error) {
		return s.refreshOrder(ctx, orderID)
	})
	if err != nil {
		return domain.PaymentRecord{}, fmt.Errorf("%s:%w", op, err)
	}

	return v.(domain.PaymentRecord), nil
}

func (s *Service) refreshOrder(ctx context.Context, orderID string) (domain.PaymentRecord, error) {
	rec, err := s.payments.Get(ctx, orderID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return domain.PaymentRecord{}, err
		}

		if _, err := s.ledger.Get(ctx, orderID); err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return domain.PaymentRecord{}, ErrOrderNotFound
			}
			return domain.PaymentRecord{}, err
		}
		rec = s.recordFromLedger(ctx, orderID)
	}

	rep, err := s.gateway.GetStatusByOrder(ctx, orderID)
	if err != nil {
		s.logger.Warn("order status refresh failed; serving stored record", "order_id", orderID, "error", err)
		return rec, nil
	}

	if !rep.Found {
		return rec, nil
	}

	return s.recordReport(ctx, orderID, "", rep), nil
}

// VerifyByToken asks the gateway for the status of token.
func (s *Service) VerifyByToken(ctx context.Context, token string) (Verification, error) {
	const op = "service.checkout.VerifyByToken"

	if strings.TrimSpace(token) == "" {
		return Verification{}, fmt.Errorf("%s:%w", op, ValidationError{Fields: []string{"token"}})
	}

	rep, err := s.gateway.GetStatus(ctx, token)
	if err != nil {
		return Verification{}, fmt.Errorf("%s:%w", op, gatewayErr(err))
	}

	if rep.OrderID != "" {
		s.recordReport(ctx, rep.OrderID, token, rep)
	}

	return Verification{Status: rep.Status, Raw: rep.Raw}, nil
}

func gatewayErr(err error) error {
	if errors.Is(err, gateway.ErrRejected) {
		return fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}

// Stats returns the ledger counters, served from the cache when one is configured.
func (s *Service) Stats(ctx context.Context) (domain.LedgerStats, error) {
	const op = "service.checkout.Stats"

	if s.stats != nil {
		st, err := s.stats.Get(ctx, s.ledger.Stats)
		if err == nil {
			return st, nil
		}
		s.logger.Warn("stats cache unavailable", "error", err)
	}

	st, err := s.ledger.Stats(ctx)
	if err != nil {
		return domain.LedgerStats{}, fmt.Errorf("%s:%w", op, err)
	}

	return st, nil
}

func (s *Service) TicketByOrder(ctx context.Context, orderID string) (domain.Ticket, error) {
	const op = "service.checkout.TicketByOrder"

	t, err := s.ledger.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.Ticket{}, fmt.Errorf("%s:%w", op, ErrOrderNotFound)
		}
		return domain.Ticket{}, fmt.Errorf("%s:%w", op, err)
	}

	return t, nil
}

func (s *Service) TicketsByEmail(ctx context.Context, email string) ([]domain.Ticket, error) {
	const op = "service.checkout.TicketsByEmail"

	if strings.TrimSpace(email) == "" {
		return nil, fmt.Errorf("%s:%w", op, ValidationError{Fields: []string{"email"}})
	}

	ts, err := s.ledger.ByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if ts == nil {
		ts = []domain.Ticket{}
	}

	return ts, nil
}

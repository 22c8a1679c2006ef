package checkout

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/gateway"
	"github.com/kirinyoku/tixflow/internal/service/ledger"
	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	Amount     decimal.Decimal
	Subject    string
	Email      string
	PayerName  string
	ProductID  string
	NationalID string
	Phone      string
}

type CreateOrderResult struct {
	RedirectURL     string
	Token           string
	ExternalOrderID int64
	OrderID         string
	TicketNumber    int64
}

// optionalPayload travels to the gateway and back untouched.
type optionalPayload struct {
	Rut          string `json:"rut,omitempty"`
	Phone        string `json:"phone,omitempty"`
	ProductID    string `json:"productId,omitempty"`
	TicketNumber int64  `json:"ticketNumber"`
}

// validate checks the invariant CreateOrder relies on; field checks happen at binding.
func (r CreateOrderRequest) validate() error {
	if !r.Amount.IsPositive() {
		return ValidationError{Fields: []string{"amount"}}
	}

	return nil
}

// CreateOrder reserves a ticket and opens a payment for it.
// A gateway failure after the reservation leaves the ticket pending; it is
// resolved later by reconciliation or an explicit cancel.
//
// Returns:
//   - error: checkout.ErrInvalidInput (as ValidationError) before the ledger is touched.
//   - error: checkout.ErrExhausted if no ticket is left.
//   - error: checkout.ErrGatewayUnavailable or checkout.ErrGatewayRejected if the payment could not be opened.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResult, error) {
	const op = "service.checkout.CreateOrder"

	if err := req.validate(); err != nil {
		return CreateOrderResult{}, fmt.Errorf("%s:%w", op, err)
	}

	orderID := s.newOrderID()
	buyer := domain.Buyer{
		Email:      strings.TrimSpace(req.Email),
		FullName:   strings.TrimSpace(req.PayerName),
		NationalID: strings.TrimSpace(req.NationalID),
		Phone:      strings.TrimSpace(req.Phone),
	}

	t, err := s.ledger.Reserve(ctx, orderID, buyer)
	if err != nil {
		if errors.Is(err, ledger.ErrExhausted) {
			return CreateOrderResult{}, fmt.Errorf("%s:%w", op, ErrExhausted)
		}
		return CreateOrderResult{}, fmt.Errorf("%s:%w", op, err)
	}

	now := s.cfg.Clock().UTC()
	rec := domain.PaymentRecord{
		OrderID:      orderID,
		Amount:       req.Amount,
		Subject:      req.Subject,
		ProductID:    req.ProductID,
		Buyer:        buyer,
		TicketNumber: t.Number,
		Status:       domain.PaymentPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.saveRecord(ctx, rec)

	optional, _ := json.Marshal(optionalPayload{
		Rut:          buyer.NationalID,
		Phone:        buyer.Phone,
		ProductID:    req.ProductID,
		TicketNumber: t.Number,
	})

	p, err := s.gateway.CreatePayment(ctx, gateway.PaymentRequest{
		OrderID:         orderID,
		Subject:         req.Subject,
		Currency:        s.cfg.Currency,
		Amount:          req.Amount,
		Email:           buyer.Email,
		PayerName:       buyer.FullName,
		ConfirmationURL: s.cfg.ConfirmationURL,
		ReturnURL:       s.cfg.ReturnURL,
		Optional:        string(optional),
	})
	if err != nil {
		s.logger.Error("payment creation failed; ticket left pending",
			"op", op,
			"order_id", orderID,
			"ticket", t.Number,
			"error", err,
		)

		if errors.Is(err, gateway.ErrRejected) {
			return CreateOrderResult{}, fmt.Errorf("%s:%w: %v", op, ErrGatewayRejected, err)
		}
		return CreateOrderResult{}, fmt.Errorf("%s:%w: %v", op, ErrGatewayUnavailable, err)
	}

	rec.Token = p.Token
	rec.ExternalOrderID = p.ExternalOrderID
	rec.UpdatedAt = s.cfg.Clock().UTC()
	s.saveRecord(ctx, rec)

	s.logger.Info("order created",
		"order_id", orderID,
		"ticket", t.Number,
		"flow_order", p.ExternalOrderID,
		"email", buyer.Email,
	)

	return CreateOrderResult{
		RedirectURL:     p.RedirectURL,
		Token:           p.Token,
		ExternalOrderID: p.ExternalOrderID,
		OrderID:         orderID,
		TicketNumber:    t.Number,
	}, nil
}

// newOrderID returns ORD-<unix millis>-<9 base36 chars>.
func (s *Service) newOrderID() string {
	u := uuid.New()
	suffix := strconv.FormatUint(binary.BigEndian.Uint64(u[:8]), 36)
	if len(suffix) < 9 {
		suffix = strings.Repeat("0", 9-len(suffix)) + suffix
	}

	return fmt.Sprintf("ORD-%d-%s", s.cfg.Clock().UnixMilli(), suffix[:9])
}

func (s *Service) saveRecord(ctx context.Context, rec domain.PaymentRecord) {
	if err := s.payments.Save(ctx, rec); err != nil {
		s.logger.Error("saving payment record failed", "order_id", rec.OrderID, "error", err)
	}
}

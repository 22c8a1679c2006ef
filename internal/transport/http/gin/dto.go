package httpgin

import (
	"encoding/json"

	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/service/checkout"
	"github.com/shopspring/decimal"
)

type CreatePaymentRequest struct {
	Amount    decimal.Decimal `json:"amount" binding:"required,gt=0" swaggertype:"number"`
	Subject   string          `json:"subject" binding:"required"`
	Email     string          `json:"email" binding:"required,email"`
	PayerName string          `json:"payerName" binding:"required"`
	ProductID string          `json:"productId"`
	Rut       string          `json:"rut"`
	Phone     string          `json:"phone"`
}

func (r CreatePaymentRequest) toService() checkout.CreateOrderRequest {
	return checkout.CreateOrderRequest{
		Amount:     r.Amount,
		Subject:    r.Subject,
		Email:      r.Email,
		PayerName:  r.PayerName,
		ProductID:  r.ProductID,
		NationalID: r.Rut,
		Phone:      r.Phone,
	}
}

type CreatePaymentResponse struct {
	Success       bool   `json:"success"`
	PaymentURL    string `json:"paymentUrl"`
	Token         string `json:"token"`
	FlowOrder     int64  `json:"flowOrder"`
	CommerceOrder string `json:"commerceOrder"`
	TicketNumber  int64  `json:"ticketNumber"`
}

func toCreatePaymentResponse(res checkout.CreateOrderResult) CreatePaymentResponse {
	return CreatePaymentResponse{
		Success:       true,
		PaymentURL:    res.RedirectURL,
		Token:         res.Token,
		FlowOrder:     res.ExternalOrderID,
		CommerceOrder: res.OrderID,
		TicketNumber:  res.TicketNumber,
	}
}

type VerifyResponse struct {
	Success       bool                 `json:"success"`
	Status        domain.PaymentStatus `json:"status"`
	PaymentStatus json.RawMessage      `json:"paymentStatus,omitempty" swaggertype:"object"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

type CancelOrderResponse struct {
	Ticket  domain.Ticket `json:"ticket"`
	Outcome string        `json:"outcome"`
}

type ErrorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

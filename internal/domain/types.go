package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type TicketStatus string

const (
	TicketPending   TicketStatus = "pending"
	TicketConfirmed TicketStatus = "confirmed"
	TicketCancelled TicketStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s TicketStatus) Terminal() bool {
	return s == TicketConfirmed || s == TicketCancelled
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
)

type Buyer struct {
	Email      string `json:"email"`
	FullName   string `json:"fullName"`
	NationalID string `json:"nationalId,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

type Ticket struct {
	Number      int64        `json:"number"`
	OrderID     string       `json:"orderId"`
	Buyer       Buyer        `json:"buyer"`
	Status      TicketStatus `json:"status"`
	PurchasedAt time.Time    `json:"purchasedAt"`
	ExternalRef string       `json:"externalRef,omitempty"`
}

type LedgerStats struct {
	Total      int64 `json:"totalTickets"`
	Confirmed  int64 `json:"confirmed"`
	Pending    int64 `json:"pending"`
	Cancelled  int64 `json:"cancelled"`
	Available  int64 `json:"available"`
	Capacity   int64 `json:"maxTickets"`
	NextNumber int64 `json:"nextTicketNumber"`
}

type PaymentRecord struct {
	OrderID         string          `json:"commerceOrder"`
	Amount          decimal.Decimal `json:"amount"`
	Subject         string          `json:"subject"`
	ProductID       string          `json:"productId,omitempty"`
	Buyer           Buyer           `json:"buyer"`
	TicketNumber    int64           `json:"ticketNumber"`
	Token           string          `json:"token,omitempty"`
	ExternalOrderID int64           `json:"flowOrder,omitempty"`
	Status          PaymentStatus   `json:"status"`
	Gateway         json.RawMessage `json:"flowStatus,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

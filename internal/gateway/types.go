package gateway

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/shopspring/decimal"
)

type PaymentRequest struct {
	OrderID         string
	Subject         string
	Currency        string
	Amount          decimal.Decimal
	Email           string
	PayerName       string
	ConfirmationURL string
	ReturnURL       string
	Optional        string
}

type Payment struct {
	RedirectURL     string
	Token           string
	ExternalOrderID int64
}

// StatusReport is the local view of a gateway status response.
// Found is false only for order lookups that the gateway does not know.
type StatusReport struct {
	Found           bool
	Status          domain.PaymentStatus
	Code            int
	OrderID         string
	ExternalOrderID int64
	Amount          decimal.Decimal
	Payer           string
	Raw             json.RawMessage
}

type createResponse struct {
	URL       string `json:"url"`
	Token     string `json:"token"`
	FlowOrder int64  `json:"flowOrder"`
}

type statusResponse struct {
	FlowOrder     int64           `json:"flowOrder"`
	CommerceOrder string          `json:"commerceOrder"`
	RequestDate   string          `json:"requestDate"`
	Status        flexInt         `json:"status"`
	Subject       string          `json:"subject"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	Payer         string          `json:"payer"`
	Optional      json.RawMessage `json:"optional,omitempty"`
}

type errorResponse struct {
	Code    flexString `json:"code"`
	Message string     `json:"message"`
}

// flexInt accepts both 2 and "2".
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// flexString accepts both 105 and "105".
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*f = ""
		return nil
	}
	*f = flexString(strings.Trim(s, `"`))
	return nil
}

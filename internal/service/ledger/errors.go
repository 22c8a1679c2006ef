package ledger

import "errors"

var (
	ErrExhausted      = errors.New("ticket capacity exhausted")
	ErrNotFound       = errors.New("ticket not found")
	ErrInvalidOrderID = errors.New("order id is required")
)

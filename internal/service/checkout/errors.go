package checkout

import (
	"errors"
	"strings"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrExhausted          = errors.New("no tickets available")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment gateway rejected the request")
	ErrSignatureInvalid   = errors.New("invalid signature")
	ErrOrderNotFound      = errors.New("order not found")
	ErrNotConfirmed       = errors.New("ticket is not confirmed")
	ErrReconcileRunning   = errors.New("reconciliation already running")
)

// ValidationError lists the request fields that are missing or malformed.
type ValidationError struct {
	Fields []string
}

func (e ValidationError) Error() string {
	return "invalid input: " + strings.Join(e.Fields, ", ")
}

func (e ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrUnavailable = errors.New("payment gateway unavailable")
	ErrRejected    = errors.New("payment gateway rejected the request")
)

// RejectedError carries the structured error payload returned by the gateway.
type RejectedError struct {
	HTTPStatus int
	Code       string
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gateway rejected (http %d, code %s): %s", e.HTTPStatus, e.Code, e.Message)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

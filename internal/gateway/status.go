package gateway

import "github.com/kirinyoku/tixflow/internal/domain"

// Gateway status codes.
const (
	StatusPendingPayment = 1
	StatusPaid           = 2
	StatusRejected       = 3
	StatusAnnulled       = 4
)

// notFoundCode is the error code the gateway returns for an unknown commerce order.
const notFoundCode = "105"

// MapStatus translates a gateway status code. Only StatusPaid approves;
// codes outside the table are pending so that a ticket is never granted by accident.
func MapStatus(code int) domain.PaymentStatus {
	switch code {
	case StatusPaid:
		return domain.PaymentApproved
	case StatusRejected, StatusAnnulled:
		return domain.PaymentRejected
	default:
		return domain.PaymentPending
	}
}

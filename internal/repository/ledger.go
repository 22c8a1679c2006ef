package repository

import (
	"context"
	"time"

	"github.com/kirinyoku/tixflow/internal/domain"
)

type LedgerCounters struct {
	NextNumber int64
	Capacity   int64
}

type LedgerCounts struct {
	Total     int64
	Pending   int64
	Confirmed int64
	Cancelled int64
}

// LedgerTx is the view a ledger operation gets of the persisted state.
// Writes are staged and become visible to others only when the enclosing
// LedgerStore.Update commits.
type LedgerTx interface {
	Counters(ctx context.Context) (LedgerCounters, error)
	Ticket(ctx context.Context, orderID string) (domain.Ticket, error)
	// InsertTicket stores a new ticket and advances the next number past it.
	// The ticket number must equal the current next number.
	InsertTicket(ctx context.Context, t domain.Ticket) error
	UpdateTicket(ctx context.Context, t domain.Ticket) error
	Counts(ctx context.Context) (LedgerCounts, error)
	TicketsByEmail(ctx context.Context, email string) ([]domain.Ticket, error)
	PendingBefore(ctx context.Context, before time.Time) ([]domain.Ticket, error)
}

// LedgerStore is the durable boundary of the ticket ledger. Update must not
// return nil before the staged writes are durable; on error nothing is applied.
type LedgerStore interface {
	Update(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
	View(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
}

// PaymentStore keeps the gateway-facing payment records keyed by order id.
type PaymentStore interface {
	Save(ctx context.Context, rec domain.PaymentRecord) error
	Get(ctx context.Context, orderID string) (domain.PaymentRecord, error)
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/monitoring"
	"github.com/kirinyoku/tixflow/internal/repository"
	"github.com/kirinyoku/tixflow/internal/uow"
)

// Outcome tells the caller what a transition request did.
type Outcome int

const (
	// Transitioned means the ticket moved from pending to the requested state.
	Transitioned Outcome = iota + 1
	// Unchanged means the ticket was already in the requested state.
	Unchanged
	// Conflict means the ticket is in the other terminal state and was left alone.
	Conflict
)

func (o Outcome) String() string {
	switch o {
	case Transitioned:
		return "transitioned"
	case Unchanged:
		return "unchanged"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// ChangeHook runs after a committed change of ticket state.
type ChangeHook func(ctx context.Context, t domain.Ticket)

type Config struct {
	Clock func() time.Time
}

// Ledger owns ticket numbering and status. All mutations go through one
// critical section so that capacity and numbering checks are linearizable.
type Ledger struct {
	mu     sync.Mutex
	uow    *uow.UoW
	clock  func() time.Time
	logger *slog.Logger
	hooks  []ChangeHook
}

func New(store repository.LedgerStore, cfg Config, logger *slog.Logger) *Ledger {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Ledger{
		uow:    uow.NewUoW(store),
		clock:  cfg.Clock,
		logger: logger,
	}
}

// OnChange registers h to run after every committed reservation or transition.
// It must be called before the ledger is shared.
func (l *Ledger) OnChange(h ChangeHook) {
	l.hooks = append(l.hooks, h)
}

func (l *Ledger) notify(after func(uow.AfterCommit), t domain.Ticket) {
	for _, h := range l.hooks {
		h := h
		after(func(ctx context.Context) { h(ctx, t) })
	}
}

// Reserve allocates the next ticket number to orderID as a pending ticket.
// A second call with the same orderID returns the ticket of the first call.
//
// Returns:
//   - error: ledger.ErrExhausted if every ticket has been allocated.
//   - error: ledger.ErrInvalidOrderID if orderID is empty.
func (l *Ledger) Reserve(ctx context.Context, orderID string, buyer domain.Buyer) (domain.Ticket, error) {
	const op = "service.ledger.Reserve"

	if strings.TrimSpace(orderID) == "" {
		return domain.Ticket{}, fmt.Errorf("%s:%w", op, ErrInvalidOrderID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		out     domain.Ticket
		existed bool
	)

	err := l.uow.Do(ctx, func(ctx context.Context, tx repository.LedgerTx, after func(uow.AfterCommit)) error {
		existing, err := tx.Ticket(ctx, orderID)
		switch {
		case err == nil:
			out, existed = existing, true
			return nil
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		c, err := tx.Counters(ctx)
		if err != nil {
			return err
		}

		if c.NextNumber-1 >= c.Capacity {
			return ErrExhausted
		}

		t := domain.Ticket{
			Number:      c.NextNumber,
			OrderID:     orderID,
			Buyer:       buyer,
			Status:      domain.TicketPending,
			PurchasedAt: l.clock().UTC(),
		}

		if err := tx.InsertTicket(ctx, t); err != nil {
			return err
		}

		out = t
		l.notify(after, t)
		return nil
	})
	if err != nil {
		result := "error"
		if errors.Is(err, ErrExhausted) {
			result = "exhausted"
		}
		monitoring.TrackLedger("reserve", result)
		return domain.Ticket{}, fmt.Errorf("%s:%w", op, err)
	}

	if existed {
		monitoring.TrackLedger("reserve", "existing")
		return out, nil
	}

	monitoring.TrackLedger("reserve", "ok")
	l.logger.Info("ticket reserved", "order_id", out.OrderID, "ticket", out.Number)

	return out, nil
}

// Confirm moves a pending ticket to confirmed and attaches externalRef.
//
// Returns:
//   - error: ledger.ErrNotFound if orderID has no ticket.
func (l *Ledger) Confirm(ctx context.Context, orderID, externalRef string) (domain.Ticket, Outcome, error) {
	return l.transition(ctx, "confirm", orderID, domain.TicketConfirmed, externalRef)
}

// Cancel moves a pending ticket to cancelled. The number is not released.
//
// Returns:
//   - error: ledger.ErrNotFound if orderID has no ticket.
func (l *Ledger) Cancel(ctx context.Context, orderID string) (domain.Ticket, Outcome, error) {
	return l.transition(ctx, "cancel", orderID, domain.TicketCancelled, "")
}

func (l *Ledger) transition(
	ctx context.Context,
	name, orderID string,
	to domain.TicketStatus,
	externalRef string,
) (domain.Ticket, Outcome, error) {
	op := "service.ledger." + name

	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		out     domain.Ticket
		outcome Outcome
	)

	err := l.uow.Do(ctx, func(ctx context.Context, tx repository.LedgerTx, after func(uow.AfterCommit)) error {
		t, err := tx.Ticket(ctx, orderID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		switch {
		case t.Status == to:
			out, outcome = t, Unchanged
			return nil
		case t.Status.Terminal():
			out, outcome = t, Conflict
			return nil
		}

		t.Status = to
		if externalRef != "" {
			t.ExternalRef = externalRef
		}

		if err := tx.UpdateTicket(ctx, t); err != nil {
			return err
		}

		out, outcome = t, Transitioned
		l.notify(after, t)
		return nil
	})
	if err != nil {
		result := "error"
		if errors.Is(err, ErrNotFound) {
			result = "not_found"
		}
		monitoring.TrackLedger(name, result)
		return domain.Ticket{}, 0, fmt.Errorf("%s:%w", op, err)
	}

	monitoring.TrackLedger(name, outcome.String())

	switch outcome {
	case Transitioned:
		l.logger.Info("ticket status changed", "order_id", orderID, "ticket", out.Number, "status", out.Status)
	case Conflict:
		l.logger.Warn("refusing to change terminal ticket",
			"order_id", orderID,
			"ticket", out.Number,
			"status", out.Status,
			"requested", to,
		)
	}

	return out, outcome, nil
}

// Get returns the ticket of orderID.
func (l *Ledger) Get(ctx context.Context, orderID string) (domain.Ticket, error) {
	const op = "service.ledger.Get"

	var out domain.Ticket
	err := l.uow.View(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		t, err := tx.Ticket(ctx, orderID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		out = t
		return err
	})
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// ByEmail returns the tickets bought with email, in number order.
func (l *Ledger) ByEmail(ctx context.Context, email string) ([]domain.Ticket, error) {
	const op = "service.ledger.ByEmail"

	var out []domain.Ticket
	err := l.uow.View(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		ts, err := tx.TicketsByEmail(ctx, strings.TrimSpace(email))
		out = ts
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// Pending returns pending tickets reserved more than olderThan ago.
func (l *Ledger) Pending(ctx context.Context, olderThan time.Duration) ([]domain.Ticket, error) {
	const op = "service.ledger.Pending"

	before := l.clock().Add(-olderThan)

	var out []domain.Ticket
	err := l.uow.View(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		ts, err := tx.PendingBefore(ctx, before)
		out = ts
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// Stats returns a consistent snapshot of the ledger counters.
func (l *Ledger) Stats(ctx context.Context) (domain.LedgerStats, error) {
	const op = "service.ledger.Stats"

	var out domain.LedgerStats
	err := l.uow.View(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		c, err := tx.Counters(ctx)
		if err != nil {
			return err
		}

		n, err := tx.Counts(ctx)
		if err != nil {
			return err
		}

		out = domain.LedgerStats{
			Total:      n.Total,
			Confirmed:  n.Confirmed,
			Pending:    n.Pending,
			Cancelled:  n.Cancelled,
			Available:  max(c.Capacity-n.Total, 0),
			Capacity:   c.Capacity,
			NextNumber: c.NextNumber,
		}
		return nil
	})
	if err != nil {
		return domain.LedgerStats{}, fmt.Errorf("%s:%w", op, err)
	}

	monitoring.SetAvailable(out.Available)

	return out, nil
}

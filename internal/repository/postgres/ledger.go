package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/repository"
)

//go:embed schema.sql
var schema string

const ticketColumns = `number, order_id, email, full_name, national_id, phone, status, purchased_at, external_ref`

// LedgerStore is a repository.LedgerStore on top of two tables: a single
// counter row and the tickets. Every write transaction locks the counter row
// first, which serializes writers across processes.
type LedgerStore struct {
	store *Store
}

// Init creates the schema and the counter row. An existing row keeps its
// capacity; the effective capacity is returned.
func (l *LedgerStore) Init(ctx context.Context, capacity int64) (int64, error) {
	const op = "postgres.LedgerStore.Init"

	var effective int64
	err := l.store.RunTx(ctx, nil, func(ctx context.Context, tx DB) error {
		if _, err := tx.Exec(ctx, schema); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO ledger (id, next_number, capacity) VALUES (1, 1, $1)
			 ON CONFLICT (id) DO NOTHING`,
			capacity,
		); err != nil {
			return err
		}

		return tx.QueryRow(ctx, `SELECT capacity FROM ledger WHERE id = 1`).Scan(&effective)
	})
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return effective, nil
}

// Update implements repository.LedgerStore.
func (l *LedgerStore) Update(ctx context.Context, fn func(ctx context.Context, tx repository.LedgerTx) error) error {
	const op = "postgres.LedgerStore.Update"

	err := l.store.RunTx(ctx, nil, func(ctx context.Context, db DB) error {
		t := &ledgerTx{db: db}

		err := db.QueryRow(ctx,
			`SELECT next_number, capacity FROM ledger WHERE id = 1 FOR UPDATE`,
		).Scan(&t.counters.NextNumber, &t.counters.Capacity)
		if err != nil {
			return wrapDBErr(op, err)
		}

		return fn(ctx, t)
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// View implements repository.LedgerStore.
func (l *LedgerStore) View(ctx context.Context, fn func(ctx context.Context, tx repository.LedgerTx) error) error {
	const op = "postgres.LedgerStore.View"

	err := l.store.RunTx(ctx, &pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly},
		func(ctx context.Context, db DB) error {
			t := &ledgerTx{db: db, readOnly: true}

			err := db.QueryRow(ctx,
				`SELECT next_number, capacity FROM ledger WHERE id = 1`,
			).Scan(&t.counters.NextNumber, &t.counters.Capacity)
			if err != nil {
				return wrapDBErr(op, err)
			}

			return fn(ctx, t)
		})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

type ledgerTx struct {
	db       DB
	counters repository.LedgerCounters
	readOnly bool
}

func (t *ledgerTx) Counters(_ context.Context) (repository.LedgerCounters, error) {
	return t.counters, nil
}

func (t *ledgerTx) Ticket(ctx context.Context, orderID string) (domain.Ticket, error) {
	const op = "postgres.ledgerTx.Ticket"

	tk, err := scanTicket(t.db.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE order_id = $1`,
		orderID,
	))
	if err != nil {
		return domain.Ticket{}, wrapDBErr(op, err)
	}

	return tk, nil
}

func (t *ledgerTx) InsertTicket(ctx context.Context, tk domain.Ticket) error {
	const op = "postgres.ledgerTx.InsertTicket"

	if t.readOnly {
		return fmt.Errorf("%s:%w", op, repository.ErrReadOnly)
	}

	if tk.Number != t.counters.NextNumber || tk.Number > t.counters.Capacity {
		return fmt.Errorf("%s:%w: number %d, next %d", op, repository.ErrConflict, tk.Number, t.counters.NextNumber)
	}

	_, err := t.db.Exec(ctx,
		`INSERT INTO tickets (`+ticketColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tk.Number, tk.OrderID, tk.Buyer.Email, tk.Buyer.FullName, tk.Buyer.NationalID,
		tk.Buyer.Phone, string(tk.Status), tk.PurchasedAt, tk.ExternalRef,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if _, err := t.db.Exec(ctx,
		`UPDATE ledger SET next_number = $1 WHERE id = 1`,
		tk.Number+1,
	); err != nil {
		return wrapDBErr(op, err)
	}

	t.counters.NextNumber = tk.Number + 1
	return nil
}

func (t *ledgerTx) UpdateTicket(ctx context.Context, tk domain.Ticket) error {
	const op = "postgres.ledgerTx.UpdateTicket"

	if t.readOnly {
		return fmt.Errorf("%s:%w", op, repository.ErrReadOnly)
	}

	tag, err := t.db.Exec(ctx,
		`UPDATE tickets
		 SET email = $3, full_name = $4, national_id = $5, phone = $6,
		     status = $7, purchased_at = $8, external_ref = $9
		 WHERE order_id = $2 AND number = $1`,
		tk.Number, tk.OrderID, tk.Buyer.Email, tk.Buyer.FullName, tk.Buyer.NationalID,
		tk.Buyer.Phone, string(tk.Status), tk.PurchasedAt, tk.ExternalRef,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

func (t *ledgerTx) Counts(ctx context.Context) (repository.LedgerCounts, error) {
	const op = "postgres.ledgerTx.Counts"

	var c repository.LedgerCounts
	err := t.db.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE status = 'pending'),
		        count(*) FILTER (WHERE status = 'confirmed'),
		        count(*) FILTER (WHERE status = 'cancelled')
		 FROM tickets`,
	).Scan(&c.Total, &c.Pending, &c.Confirmed, &c.Cancelled)
	if err != nil {
		return repository.LedgerCounts{}, wrapDBErr(op, err)
	}

	return c, nil
}

func (t *ledgerTx) TicketsByEmail(ctx context.Context, email string) ([]domain.Ticket, error) {
	const op = "postgres.ledgerTx.TicketsByEmail"

	return t.list(ctx, op,
		`SELECT `+ticketColumns+` FROM tickets WHERE lower(email) = lower($1) ORDER BY number`,
		email,
	)
}

func (t *ledgerTx) PendingBefore(ctx context.Context, before time.Time) ([]domain.Ticket, error) {
	const op = "postgres.ledgerTx.PendingBefore"

	return t.list(ctx, op,
		`SELECT `+ticketColumns+` FROM tickets
		 WHERE status = 'pending' AND purchased_at < $1 ORDER BY number`,
		before,
	)
}

func (t *ledgerTx) list(ctx context.Context, op, sql string, args ...any) ([]domain.Ticket, error) {
	rows, err := t.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}
	defer rows.Close()

	var out []domain.Ticket
	for rows.Next() {
		tk, err := scanTicket(rows)
		if err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, tk)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func scanTicket(row pgx.Row) (domain.Ticket, error) {
	var (
		tk     domain.Ticket
		status string
	)

	err := row.Scan(
		&tk.Number, &tk.OrderID, &tk.Buyer.Email, &tk.Buyer.FullName, &tk.Buyer.NationalID,
		&tk.Buyer.Phone, &status, &tk.PurchasedAt, &tk.ExternalRef,
	)
	if err != nil {
		return domain.Ticket{}, err
	}

	tk.Status = domain.TicketStatus(status)
	return tk, nil
}

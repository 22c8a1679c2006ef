package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/repository"
)

// document is the on-disk layout of the ledger.
type document struct {
	NextNumber int64                    `json:"nextNumber"`
	Capacity   int64                    `json:"capacity"`
	Tickets    map[string]domain.Ticket `json:"tickets"`
}

// LedgerStore keeps the whole ledger in one JSON document. Every commit
// rewrites the document through a temp file and an atomic rename; the
// in-memory copy is replaced only after the rename succeeded.
type LedgerStore struct {
	path   string
	logger *slog.Logger

	mu  sync.RWMutex
	doc document
}

// Open loads the ledger at path, creating it with capacity when it does not exist.
// A persisted capacity always wins over the requested one.
func Open(path string, capacity int64, logger *slog.Logger) (*LedgerStore, error) {
	const op = "file.Open"

	if capacity < 0 {
		return nil, fmt.Errorf("%s: negative capacity %d", op, capacity)
	}

	s := &LedgerStore{path: path, logger: logger}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("%s:%w", op, err)
			}
		}

		s.doc = document{NextNumber: 1, Capacity: capacity, Tickets: map[string]domain.Ticket{}}
		if err := s.write(s.doc); err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}

		logger.Info("created ticket ledger", "path", path, "capacity", capacity)
		return s, nil

	case err != nil:
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	doc, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, path, err)
	}

	if err := validate(doc); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, path, err)
	}

	if doc.Capacity != capacity {
		logger.Warn("persisted ledger capacity differs from configuration; keeping persisted value",
			"persisted", doc.Capacity, "configured", capacity)
	}

	s.doc = doc

	logger.Info("loaded ticket ledger",
		"path", path,
		"next_number", doc.NextNumber,
		"sold", len(doc.Tickets),
		"capacity", doc.Capacity,
	)

	return s, nil
}

func decode(data []byte) (document, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return document{}, err
	}

	if _, ok := probe["nextTicketNumber"]; ok {
		return decodeLegacy(data)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, err
	}

	if doc.Tickets == nil {
		doc.Tickets = map[string]domain.Ticket{}
	}

	return doc, nil
}

// legacyDocument is the array-based layout written by the first version of the shop.
type legacyDocument struct {
	NextTicketNumber int64 `json:"nextTicketNumber"`
	MaxTickets       int64 `json:"maxTickets"`
	Tickets          []struct {
		TicketNumber  int64     `json:"ticketNumber"`
		CommerceOrder string    `json:"commerceOrder"`
		Email         string    `json:"email"`
		PayerName     string    `json:"payerName"`
		Rut           string    `json:"rut"`
		Phone         string    `json:"phone"`
		PurchaseDate  time.Time `json:"purchaseDate"`
		Status        string    `json:"status"`
		FlowOrder     *int64    `json:"flowOrder"`
	} `json:"tickets"`
}

func decodeLegacy(data []byte) (document, error) {
	var l legacyDocument
	if err := json.Unmarshal(data, &l); err != nil {
		return document{}, err
	}

	doc := document{
		NextNumber: l.NextTicketNumber,
		Capacity:   l.MaxTickets,
		Tickets:    make(map[string]domain.Ticket, len(l.Tickets)),
	}

	for _, t := range l.Tickets {
		nt := domain.Ticket{
			Number:  t.TicketNumber,
			OrderID: t.CommerceOrder,
			Buyer: domain.Buyer{
				Email:      t.Email,
				FullName:   t.PayerName,
				NationalID: t.Rut,
				Phone:      t.Phone,
			},
			Status:      domain.TicketStatus(t.Status),
			PurchasedAt: t.PurchaseDate,
		}
		if t.FlowOrder != nil {
			nt.ExternalRef = fmt.Sprint(*t.FlowOrder)
		}
		doc.Tickets[nt.OrderID] = nt
	}

	return doc, nil
}

func validate(doc document) error {
	if doc.NextNumber < 1 {
		return fmt.Errorf("%w: nextNumber %d", repository.ErrCorrupt, doc.NextNumber)
	}

	if int64(len(doc.Tickets)) != doc.NextNumber-1 {
		return fmt.Errorf("%w: %d tickets but nextNumber %d", repository.ErrCorrupt, len(doc.Tickets), doc.NextNumber)
	}

	if int64(len(doc.Tickets)) > doc.Capacity {
		return fmt.Errorf("%w: %d tickets exceed capacity %d", repository.ErrCorrupt, len(doc.Tickets), doc.Capacity)
	}

	seen := make(map[int64]string, len(doc.Tickets))
	for key, t := range doc.Tickets {
		if key != t.OrderID {
			return fmt.Errorf("%w: ticket %d stored under %q", repository.ErrCorrupt, t.Number, key)
		}

		if t.Number < 1 || t.Number >= doc.NextNumber {
			return fmt.Errorf("%w: ticket number %d out of range", repository.ErrCorrupt, t.Number)
		}

		if other, dup := seen[t.Number]; dup {
			return fmt.Errorf("%w: number %d assigned to %q and %q", repository.ErrCorrupt, t.Number, other, t.OrderID)
		}
		seen[t.Number] = t.OrderID

		switch t.Status {
		case domain.TicketPending, domain.TicketConfirmed, domain.TicketCancelled:
		default:
			return fmt.Errorf("%w: ticket %d has status %q", repository.ErrCorrupt, t.Number, t.Status)
		}
	}

	return nil
}

func (s *LedgerStore) write(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	return renameio.WriteFile(s.path, data, 0o644)
}

// Update implements repository.LedgerStore.
func (s *LedgerStore) Update(ctx context.Context, fn func(ctx context.Context, tx repository.LedgerTx) error) error {
	const op = "file.LedgerStore.Update"

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTx(&s.doc, false)
	if err := fn(ctx, tx); err != nil {
		return err
	}

	if len(tx.staged) == 0 {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	next := document{
		NextNumber: tx.next,
		Capacity:   s.doc.Capacity,
		Tickets:    make(map[string]domain.Ticket, len(s.doc.Tickets)+len(tx.staged)),
	}
	for k, t := range s.doc.Tickets {
		next.Tickets[k] = t
	}
	for k, t := range tx.staged {
		next.Tickets[k] = t
	}

	if err := s.write(next); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	s.doc = next
	return nil
}

// View implements repository.LedgerStore.
func (s *LedgerStore) View(ctx context.Context, fn func(ctx context.Context, tx repository.LedgerTx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(ctx, newTx(&s.doc, true))
}

type tx struct {
	base     *document
	staged   map[string]domain.Ticket
	next     int64
	readOnly bool
}

func newTx(base *document, readOnly bool) *tx {
	return &tx{
		base:     base,
		staged:   map[string]domain.Ticket{},
		next:     base.NextNumber,
		readOnly: readOnly,
	}
}

func (t *tx) lookup(orderID string) (domain.Ticket, bool) {
	if v, ok := t.staged[orderID]; ok {
		return v, true
	}
	v, ok := t.base.Tickets[orderID]
	return v, ok
}

func (t *tx) each(fn func(domain.Ticket)) {
	for k, v := range t.base.Tickets {
		if s, ok := t.staged[k]; ok {
			v = s
		}
		fn(v)
	}
	for k, v := range t.staged {
		if _, ok := t.base.Tickets[k]; !ok {
			fn(v)
		}
	}
}

func (t *tx) Counters(_ context.Context) (repository.LedgerCounters, error) {
	return repository.LedgerCounters{NextNumber: t.next, Capacity: t.base.Capacity}, nil
}

func (t *tx) Ticket(_ context.Context, orderID string) (domain.Ticket, error) {
	v, ok := t.lookup(orderID)
	if !ok {
		return domain.Ticket{}, repository.ErrNotFound
	}
	return v, nil
}

func (t *tx) InsertTicket(_ context.Context, nt domain.Ticket) error {
	if t.readOnly {
		return repository.ErrReadOnly
	}

	if _, ok := t.lookup(nt.OrderID); ok {
		return repository.ErrConflict
	}

	if nt.Number != t.next || nt.Number > t.base.Capacity {
		return fmt.Errorf("%w: number %d, next %d", repository.ErrConflict, nt.Number, t.next)
	}

	t.staged[nt.OrderID] = nt
	t.next = nt.Number + 1
	return nil
}

func (t *tx) UpdateTicket(_ context.Context, ut domain.Ticket) error {
	if t.readOnly {
		return repository.ErrReadOnly
	}

	cur, ok := t.lookup(ut.OrderID)
	if !ok {
		return repository.ErrNotFound
	}

	if cur.Number != ut.Number {
		return fmt.Errorf("%w: ticket number is immutable", repository.ErrConflict)
	}

	t.staged[ut.OrderID] = ut
	return nil
}

func (t *tx) Counts(_ context.Context) (repository.LedgerCounts, error) {
	var c repository.LedgerCounts
	t.each(func(v domain.Ticket) {
		c.Total++
		switch v.Status {
		case domain.TicketPending:
			c.Pending++
		case domain.TicketConfirmed:
			c.Confirmed++
		case domain.TicketCancelled:
			c.Cancelled++
		}
	})
	return c, nil
}

func (t *tx) TicketsByEmail(_ context.Context, email string) ([]domain.Ticket, error) {
	var out []domain.Ticket
	t.each(func(v domain.Ticket) {
		if strings.EqualFold(v.Buyer.Email, email) {
			out = append(out, v)
		}
	})
	sortByNumber(out)
	return out, nil
}

func (t *tx) PendingBefore(_ context.Context, before time.Time) ([]domain.Ticket, error) {
	var out []domain.Ticket
	t.each(func(v domain.Ticket) {
		if v.Status == domain.TicketPending && v.PurchasedAt.Before(before) {
			out = append(out, v)
		}
	})
	sortByNumber(out)
	return out, nil
}

func sortByNumber(ts []domain.Ticket) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Number < ts[j].Number })
}

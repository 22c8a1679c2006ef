package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/repository/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var buyerA = domain.Buyer{Email: "a@x.com", FullName: "Ana"}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLedger(t *testing.T, capacity int64) (*Ledger, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tickets.json")
	store, err := file.Open(path, capacity, discard())
	require.NoError(t, err)

	return New(store, Config{}, discard()), path
}

func TestReserve_SequentialNumbers(t *testing.T) {
	l, _ := newLedger(t, 5)
	ctx := context.Background()

	var got []int64
	for i := 0; i < 8; i++ {
		tk, err := l.Reserve(ctx, fmt.Sprintf("ORD-%d", i), buyerA)
		if err != nil {
			assert.ErrorIs(t, err, ErrExhausted)
			continue
		}
		assert.Equal(t, domain.TicketPending, tk.Status)
		got = append(got, tk.Number)
	}

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, got)
}

func TestReserve_IsIdempotentPerOrder(t *testing.T) {
	l, _ := newLedger(t, 5)
	ctx := context.Background()

	first, err := l.Reserve(ctx, "A", buyerA)
	require.NoError(t, err)

	second, err := l.Reserve(ctx, "A", domain.Buyer{Email: "other@x.com"})
	require.NoError(t, err)

	assert.Equal(t, first, second)

	st, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.NextNumber)
	assert.Equal(t, int64(1), st.Total)
}

func TestReserve_ExhaustedLeavesLedgerUnchanged(t *testing.T) {
	l, _ := newLedger(t, 2)
	ctx := context.Background()

	a, err := l.Reserve(ctx, "A", buyerA)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Number)

	b, err := l.Reserve(ctx, "B", buyerA)
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.Number)

	_, err = l.Reserve(ctx, "C", buyerA)
	assert.ErrorIs(t, err, ErrExhausted)

	st, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Total)
	assert.Equal(t, int64(3), st.NextNumber)
	assert.Equal(t, int64(0), st.Available)

	// an existing order is still answered when the pool is exhausted.
	again, err := l.Reserve(ctx, "A", buyerA)
	require.NoError(t, err)
	assert.Equal(t, a, again)
}

func TestReserve_EmptyOrderID(t *testing.T) {
	l, _ := newLedger(t, 2)

	_, err := l.Reserve(context.Background(), " ", buyerA)
	assert.ErrorIs(t, err, ErrInvalidOrderID)
}

func TestConfirm_Scenario(t *testing.T) {
	l, _ := newLedger(t, 10)
	ctx := context.Background()

	tk, err := l.Reserve(ctx, "A", buyerA)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tk.Number)
	assert.Equal(t, domain.TicketPending, tk.Status)

	first, outcome, err := l.Confirm(ctx, "A", "555")
	require.NoError(t, err)
	assert.Equal(t, Transitioned, outcome)
	assert.Equal(t, int64(1), first.Number)
	assert.Equal(t, domain.TicketConfirmed, first.Status)
	assert.Equal(t, "555", first.ExternalRef)

	second, outcome, err := l.Confirm(ctx, "A", "555")
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)
	assert.Equal(t, first, second)
}

func TestCancel_IsIdempotent(t *testing.T) {
	l, _ := newLedger(t, 10)
	ctx := context.Background()

	_, err := l.Reserve(ctx, "A", buyerA)
	require.NoError(t, err)

	first, outcome, err := l.Cancel(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, Transitioned, outcome)
	assert.Equal(t, domain.TicketCancelled, first.Status)

	second, outcome, err := l.Cancel(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)
	assert.Equal(t, first, second)

	// the cancelled number is never handed out again.
	next, err := l.Reserve(ctx, "B", buyerA)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.Number)
}

func TestTerminalStatesAreProtected(t *testing.T) {
	l, _ := newLedger(t, 10)
	ctx := context.Background()

	_, err := l.Reserve(ctx, "confirmed", buyerA)
	require.NoError(t, err)
	_, _, err = l.Confirm(ctx, "confirmed", "1")
	require.NoError(t, err)

	tk, outcome, err := l.Cancel(ctx, "confirmed")
	require.NoError(t, err)
	assert.Equal(t, Conflict, outcome)
	assert.Equal(t, domain.TicketConfirmed, tk.Status)

	_, err = l.Reserve(ctx, "cancelled", buyerA)
	require.NoError(t, err)
	_, _, err = l.Cancel(ctx, "cancelled")
	require.NoError(t, err)

	tk, outcome, err = l.Confirm(ctx, "cancelled", "2")
	require.NoError(t, err)
	assert.Equal(t, Conflict, outcome)
	assert.Equal(t, domain.TicketCancelled, tk.Status)
	assert.Empty(t, tk.ExternalRef)

	got, err := l.Get(ctx, "cancelled")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketCancelled, got.Status)
}

func TestTransitions_UnknownOrder(t *testing.T) {
	l, _ := newLedger(t, 10)
	ctx := context.Background()

	_, _, err := l.Confirm(ctx, "nope", "1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = l.Cancel(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = l.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReserve_ConcurrentCallersNeverShareNumbers(t *testing.T) {
	const (
		capacity = 20
		callers  = 50
	)

	l, _ := newLedger(t, capacity)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		numbers   []int64
		exhausted int
	)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			tk, err := l.Reserve(ctx, fmt.Sprintf("ORD-%d", i), buyerA)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				exhausted++
				return
			}
			numbers = append(numbers, tk.Number)
		}(i)
	}
	wg.Wait()

	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	want := make([]int64, capacity)
	for i := range want {
		want[i] = int64(i + 1)
	}

	assert.Equal(t, want, numbers)
	assert.Equal(t, callers-capacity, exhausted)
}

func TestStateSurvivesReopen(t *testing.T) {
	l, path := newLedger(t, 3)
	ctx := context.Background()

	_, err := l.Reserve(ctx, "A", buyerA)
	require.NoError(t, err)
	_, err = l.Reserve(ctx, "B", buyerA)
	require.NoError(t, err)
	_, _, err = l.Confirm(ctx, "A", "555")
	require.NoError(t, err)
	_, _, err = l.Cancel(ctx, "B")
	require.NoError(t, err)

	store, err := file.Open(path, 3, discard())
	require.NoError(t, err)
	re := New(store, Config{}, discard())

	st, err := re.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.LedgerStats{
		Total:      2,
		Confirmed:  1,
		Cancelled:  1,
		Available:  1,
		Capacity:   3,
		NextNumber: 3,
	}, st)

	c, err := re.Reserve(ctx, "C", buyerA)
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.Number)
}

func TestQueries(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now

	store, err := file.Open(filepath.Join(t.TempDir(), "tickets.json"), 10, discard())
	require.NoError(t, err)
	l := New(store, Config{Clock: func() time.Time { return clock }}, discard())
	ctx := context.Background()

	_, err = l.Reserve(ctx, "old", buyerA)
	require.NoError(t, err)

	clock = now.Add(time.Hour)
	_, err = l.Reserve(ctx, "new", domain.Buyer{Email: "b@x.com"})
	require.NoError(t, err)

	pending, err := l.Pending(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "old", pending[0].OrderID)

	mine, err := l.ByEmail(ctx, " A@X.com ")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "old", mine[0].OrderID)
}

func TestOnChange_RunsAfterCommit(t *testing.T) {
	l, _ := newLedger(t, 10)
	ctx := context.Background()

	var seen []domain.TicketStatus
	l.OnChange(func(ctx context.Context, tk domain.Ticket) {
		seen = append(seen, tk.Status)
	})

	_, err := l.Reserve(ctx, "A", buyerA)
	require.NoError(t, err)
	_, err = l.Reserve(ctx, "A", buyerA)
	require.NoError(t, err)
	_, _, err = l.Confirm(ctx, "A", "1")
	require.NoError(t, err)
	_, _, err = l.Confirm(ctx, "A", "1")
	require.NoError(t, err)
	_, _, err = l.Cancel(ctx, "A")
	require.NoError(t, err)

	assert.Equal(t, []domain.TicketStatus{domain.TicketPending, domain.TicketConfirmed}, seen)
}

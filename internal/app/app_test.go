package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stuckCache never answers until its context gives up.
type stuckCache struct {
	deadline chan bool
}

func (c *stuckCache) Get(ctx context.Context, loader func(ctx context.Context) (domain.LedgerStats, error)) (domain.LedgerStats, error) {
	return loader(ctx)
}

func (c *stuckCache) Invalidate(ctx context.Context) error {
	_, ok := ctx.Deadline()
	c.deadline <- ok
	<-ctx.Done()
	return ctx.Err()
}

func TestLedgerChanged_BoundsSlowInvalidate(t *testing.T) {
	cache := &stuckCache{deadline: make(chan bool, 1)}
	a := &App{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		stats:  cache,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.ledgerChanged(context.Background(), domain.Ticket{OrderID: "ORD-1", Number: 1, Status: domain.TicketConfirmed})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ledger change hook blocked on the stats cache")
	}

	require.Len(t, cache.deadline, 1)
	assert.True(t, <-cache.deadline)
}

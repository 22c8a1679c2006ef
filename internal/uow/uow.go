package uow

import (
	"context"

	"github.com/kirinyoku/tixflow/internal/repository"
)

// AfterCommit is a function that runs after a successful commit.
type AfterCommit func(ctx context.Context)

// UoW represents a unit of work over the ledger store.
type UoW struct {
	store repository.LedgerStore
}

func NewUoW(store repository.LedgerStore) *UoW {
	return &UoW{store: store}
}

// Do runs fn inside a write transaction. After a successful commit,
// it executes the hooks registered by the committed attempt in registration
// order. Stores may call fn more than once.
func (u *UoW) Do(
	ctx context.Context,
	fn func(ctx context.Context, tx repository.LedgerTx, after func(AfterCommit)) error,
) error {
	var hooks []AfterCommit

	err := u.store.Update(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		hooks = hooks[:0]
		return fn(ctx, tx, func(h AfterCommit) {
			hooks = append(hooks, h)
		})
	})
	if err != nil {
		return err
	}

	for _, h := range hooks {
		h(ctx)
	}

	return nil
}

// View runs fn inside a read-only transaction.
func (u *UoW) View(ctx context.Context, fn func(ctx context.Context, tx repository.LedgerTx) error) error {
	return u.store.View(ctx, fn)
}

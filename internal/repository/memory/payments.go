package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/repository"
)

// PaymentStore holds payment records in process memory. Records are lost on
// restart; the ticket ledger and the gateway remain the sources of truth.
type PaymentStore struct {
	mu   sync.RWMutex
	recs map[string]domain.PaymentRecord
}

func NewPaymentStore() *PaymentStore {
	return &PaymentStore{recs: map[string]domain.PaymentRecord{}}
}

func (s *PaymentStore) Save(_ context.Context, rec domain.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recs[rec.OrderID] = rec
	return nil
}

func (s *PaymentStore) Get(_ context.Context, orderID string) (domain.PaymentRecord, error) {
	const op = "memory.PaymentStore.Get"

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.recs[orderID]
	if !ok {
		return domain.PaymentRecord{}, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return rec, nil
}

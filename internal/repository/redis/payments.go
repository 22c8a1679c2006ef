package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/redisx"
	"github.com/kirinyoku/tixflow/internal/repository"
	"github.com/redis/go-redis/v9"
)

// PaymentStore keeps payment records as JSON documents that expire after ttl.
// Records are a convenience view; the ticket ledger stays authoritative.
type PaymentStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewPaymentStore(rdb *redis.Client, ttl time.Duration) *PaymentStore {
	return &PaymentStore{rdb: rdb, ttl: ttl}
}

func (s *PaymentStore) Save(ctx context.Context, rec domain.PaymentRecord) error {
	const op = "redis.PaymentStore.Save"

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if err := s.rdb.Set(ctx, redisx.KeyPayment(rec.OrderID), string(b), s.ttl).Err(); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

func (s *PaymentStore) Get(ctx context.Context, orderID string) (domain.PaymentRecord, error) {
	const op = "redis.PaymentStore.Get"

	v, err := s.rdb.Get(ctx, redisx.KeyPayment(orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.PaymentRecord{}, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}
	if err != nil {
		return domain.PaymentRecord{}, fmt.Errorf("%s:%w", op, err)
	}

	var rec domain.PaymentRecord
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return domain.PaymentRecord{}, fmt.Errorf("%s:%w", op, err)
	}

	return rec, nil
}

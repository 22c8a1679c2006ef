package redisx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// LedgerPubSub broadcasts ticket state changes so that other instances can
// drop cached stats.
type LedgerPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewLedgerPubSub(rdb *redis.Client) *LedgerPubSub {
	return &LedgerPubSub{
		rdb:     rdb,
		channel: ChannelLedgerChanged(),
	}
}

type LedgerChange struct {
	Type         string `json:"type"`
	OrderID      string `json:"order_id"`
	TicketNumber int64  `json:"ticket_number"`
	Status       string `json:"status"`
	TsUnix       int64  `json:"ts_unix"`
}

func (p *LedgerPubSub) PublishTicketChanged(ctx context.Context, orderID string, number int64, status string) error {
	msg := LedgerChange{
		Type:         "ticket_changed",
		OrderID:      orderID,
		TicketNumber: number,
		Status:       status,
		TsUnix:       time.Now().Unix(),
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

// Subscribe blocks until ctx is done, calling handler for every well-formed message.
func (p *LedgerPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, ch LedgerChange)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev LedgerChange
			if err := json.Unmarshal([]byte(m.Payload), &ev); err == nil &&
				ev.OrderID != "" {
				handler(ctx, ev)
			}
		}
	}
}

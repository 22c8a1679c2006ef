package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirinyoku/tixflow/internal/domain"
)

// Notifier tells a buyer that their ticket is confirmed.
type Notifier interface {
	NotifyTicket(ctx context.Context, t domain.Ticket) error
}

// LogNotifier only records the notification. Used when no mail server is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyTicket(_ context.Context, t domain.Ticket) error {
	n.logger.Info("ticket notification (mail disabled)",
		"order_id", t.OrderID,
		"ticket", FormatNumber(t.Number),
		"email", t.Buyer.Email,
	)
	return nil
}

// FormatNumber renders a ticket number the way buyers see it.
func FormatNumber(n int64) string {
	return fmt.Sprintf("%05d", n)
}

package checkout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/gateway"
	"github.com/kirinyoku/tixflow/internal/notify"
	"github.com/kirinyoku/tixflow/internal/repository"
	"github.com/kirinyoku/tixflow/internal/service/ledger"
	"github.com/kirinyoku/tixflow/internal/worker"
	"golang.org/x/sync/singleflight"
)

// DefaultAck is the body the gateway expects from a successful webhook.
const DefaultAck = "CONFIRMADO"

type Ledger interface {
	Reserve(ctx context.Context, orderID string, buyer domain.Buyer) (domain.Ticket, error)
	Confirm(ctx context.Context, orderID, externalRef string) (domain.Ticket, ledger.Outcome, error)
	Cancel(ctx context.Context, orderID string) (domain.Ticket, ledger.Outcome, error)
	Get(ctx context.Context, orderID string) (domain.Ticket, error)
	ByEmail(ctx context.Context, email string) ([]domain.Ticket, error)
	Pending(ctx context.Context, olderThan time.Duration) ([]domain.Ticket, error)
	Stats(ctx context.Context) (domain.LedgerStats, error)
}

type Gateway interface {
	CreatePayment(ctx context.Context, req gateway.PaymentRequest) (gateway.Payment, error)
	GetStatus(ctx context.Context, token string) (gateway.StatusReport, error)
	GetStatusByOrder(ctx context.Context, orderID string) (gateway.StatusReport, error)
}

// Dispatcher runs tasks after the caller has returned.
type Dispatcher interface {
	Submit(t worker.Task) error
}

type StatsCache interface {
	Get(ctx context.Context, loader func(ctx context.Context) (domain.LedgerStats, error)) (domain.LedgerStats, error)
	Invalidate(ctx context.Context) error
}

type Config struct {
	Currency        string
	ConfirmationURL string
	ReturnURL       string
	SecretKey       string
	Ack             string
	// ReconcileAfter is the age from which a pending ticket is polled.
	ReconcileAfter time.Duration
	// AbandonAfter is the age from which a pending ticket unknown to the gateway is cancelled.
	AbandonAfter time.Duration
	Clock        func() time.Time
}

type Service struct {
	cfg        Config
	ledger     Ledger
	gateway    Gateway
	payments   repository.PaymentStore
	dispatcher Dispatcher
	notifier   notify.Notifier
	stats      StatsCache
	logger     *slog.Logger

	sf          singleflight.Group
	reconcileMu sync.Mutex
}

type Deps struct {
	Ledger     Ledger
	Gateway    Gateway
	Payments   repository.PaymentStore
	Dispatcher Dispatcher
	Notifier   notify.Notifier
	// Stats is optional.
	Stats StatsCache
}

func New(deps Deps, cfg Config, logger *slog.Logger) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "CLP"
	}

	if cfg.Ack == "" {
		cfg.Ack = DefaultAck
	}

	if cfg.ReconcileAfter <= 0 {
		cfg.ReconcileAfter = 10 * time.Minute
	}

	if cfg.AbandonAfter <= 0 {
		cfg.AbandonAfter = 24 * time.Hour
	}

	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Service{
		cfg:        cfg,
		ledger:     deps.Ledger,
		gateway:    deps.Gateway,
		payments:   deps.Payments,
		dispatcher: deps.Dispatcher,
		notifier:   deps.Notifier,
		stats:      deps.Stats,
		logger:     logger,
	}
}

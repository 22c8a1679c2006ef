package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirinyoku/tixflow/internal/config"
	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/gateway"
	"github.com/kirinyoku/tixflow/internal/notify"
	"github.com/kirinyoku/tixflow/internal/postgres"
	"github.com/kirinyoku/tixflow/internal/redisx"
	"github.com/kirinyoku/tixflow/internal/repository"
	filerepo "github.com/kirinyoku/tixflow/internal/repository/file"
	memoryrepo "github.com/kirinyoku/tixflow/internal/repository/memory"
	postgresrepo "github.com/kirinyoku/tixflow/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/tixflow/internal/repository/redis"
	"github.com/kirinyoku/tixflow/internal/service/checkout"
	"github.com/kirinyoku/tixflow/internal/service/ledger"
	httpgin "github.com/kirinyoku/tixflow/internal/transport/http/gin"
	"github.com/kirinyoku/tixflow/internal/worker"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName       = "tixflow"
	paymentTTL        = 30 * 24 * time.Hour
	idempotencyTTL    = 2 * time.Hour
	statsTTL          = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
	invalidateTimeout = 250 * time.Millisecond
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server

	ledger   *ledger.Ledger
	checkout *checkout.Service
	pool     *worker.Pool
	pubsub   *redisx.LedgerPubSub
	stats    checkout.StatsCache

	closers []io.Closer
	closeFn []func()
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.New"

	a := &App{cfg: cfg, logger: logger}

	store, err := a.ledgerStore(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	var (
		rdb      *redis.Client
		payments repository.PaymentStore = memoryrepo.NewPaymentStore()
		idem     httpgin.Idempotency
		limiter  httpgin.Limiter
		stats    checkout.StatsCache
	)

	if cfg.Redis.Enabled() {
		rdb, err = redisx.New(ctx, redisx.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		a.closers = append(a.closers, rdb)

		a.stats = redisrepo.NewStatsCache(redisrepo.NewCache(rdb), statsTTL)
		a.pubsub = redisx.NewLedgerPubSub(rdb)
		stats = a.stats
		payments = redisrepo.NewPaymentStore(rdb, paymentTTL)
		idem = redisrepo.NewIdempotencyStore(rdb, idempotencyTTL)
		if cfg.RateLimit.CreatePerMinute > 0 {
			limiter = redisrepo.NewSlidingWindowLimiter(rdb, "http", cfg.RateLimit.CreatePerMinute, time.Minute)
		}
	} else {
		logger.Warn("REDIS_ADDR not set; payment records are kept in memory")
		if cfg.RateLimit.CreatePerMinute > 0 {
			limiter = httpgin.NewMemoryLimiter(cfg.RateLimit.CreatePerMinute, time.Minute)
		}
	}

	a.ledger = ledger.New(store, ledger.Config{}, logger)
	a.ledger.OnChange(a.ledgerChanged)

	a.pool = worker.NewPool(worker.Config{
		Workers:     cfg.Worker.Count,
		QueueSize:   cfg.Worker.QueueSize,
		MaxAttempts: cfg.Worker.MaxAttempts,
	}, logger)

	gw := gateway.New(gateway.Config{
		BaseURL:   cfg.Gateway.APIURL,
		APIKey:    cfg.Gateway.APIKey,
		SecretKey: cfg.Gateway.SecretKey,
		Timeout:   cfg.Gateway.Timeout,
	}, nil, logger)

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.Mail.Enabled() {
		notifier = notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.User,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
			Brand:    cfg.Mail.Brand,
		}, logger)
	}

	a.checkout = checkout.New(checkout.Deps{
		Ledger:     a.ledger,
		Gateway:    gw,
		Payments:   payments,
		Dispatcher: a.pool,
		Notifier:   notifier,
		Stats:      stats,
	}, checkout.Config{
		Currency:        cfg.Gateway.Currency,
		ConfirmationURL: cfg.Server.BaseURL + "/api/payment/confirm",
		ReturnURL:       cfg.Server.BaseURL + "/api/payment/result",
		SecretKey:       cfg.Gateway.SecretKey,
		ReconcileAfter:  cfg.Reconcile.After,
		AbandonAfter:    cfg.Reconcile.AbandonAfter,
	}, logger)

	router := httpgin.NewRouter(httpgin.Deps{
		Checkout:    a.checkout,
		Idempotency: idem,
		Limiter:     limiter,
		AdminSecret: []byte(cfg.Admin.JWTSecret),
		FrontendURL: cfg.Server.FrontendURL,
		ServiceName: serviceName,
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return a, nil
}

func (a *App) ledgerStore(ctx context.Context) (repository.LedgerStore, error) {
	switch a.cfg.Ledger.Backend {
	case config.LedgerPostgres:
		pool, err := postgres.New(ctx, postgres.Config{
			DSN:      a.cfg.Postgres.DSN(),
			MaxConns: a.cfg.Postgres.MaxConns,
			AppName:  serviceName,
		})
		if err != nil {
			return nil, err
		}
		a.closeFn = append(a.closeFn, pool.Close)

		store := postgresrepo.NewStore(pool).Ledger()
		capacity, err := store.Init(ctx, a.cfg.Ledger.Capacity)
		if err != nil {
			return nil, err
		}
		if capacity != a.cfg.Ledger.Capacity {
			a.logger.Warn("persisted ledger capacity differs from configuration; keeping persisted value",
				"persisted", capacity, "configured", a.cfg.Ledger.Capacity)
		}
		return store, nil

	default:
		return filerepo.Open(a.cfg.Ledger.File, a.cfg.Ledger.Capacity, a.logger)
	}
}

// ledgerChanged drops the cached counters and tells other instances to do the
// same. It runs under the ledger lock, so redis gets a short deadline here and
// the publish happens in the background.
func (a *App) ledgerChanged(ctx context.Context, t domain.Ticket) {
	if a.stats != nil {
		ictx, cancel := context.WithTimeout(ctx, invalidateTimeout)
		err := a.stats.Invalidate(ictx)
		cancel()
		if err != nil {
			a.logger.Warn("invalidate stats cache", "error", err)
		}
	}

	if a.pubsub != nil {
		go func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := a.pubsub.PublishTicketChanged(ctx, t.OrderID, t.Number, string(t.Status)); err != nil {
				a.logger.Warn("publish ledger change", "order_id", t.OrderID, "error", err)
			}
		}(context.WithoutCancel(ctx))
	}
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if st, err := a.ledger.Stats(ctx); err == nil {
		a.logger.Info("ticket ledger ready",
			"confirmed", st.Confirmed,
			"pending", st.Pending,
			"available", st.Available,
			"max_tickets", st.Capacity,
		)
	} else {
		a.logger.Error("read ledger stats", "error", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	g.Go(func() error {
		return a.pool.Run(gCtx)
	})

	if a.cfg.Reconcile.Interval > 0 {
		g.Go(func() error {
			err := a.checkout.RunReconciler(gCtx, a.cfg.Reconcile.Interval)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if a.pubsub != nil && a.stats != nil {
		g.Go(func() error {
			err := a.pubsub.Subscribe(gCtx, func(ctx context.Context, ch redisx.LedgerChange) {
				if err := a.stats.Invalidate(ctx); err != nil {
					a.logger.Warn("invalidate stats cache", "error", err)
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	err := g.Wait()
	a.Close()
	return err
}

// Close releases the connections opened by New.
func (a *App) Close() {
	for _, c := range a.closers {
		_ = c.Close()
	}
	for _, fn := range a.closeFn {
		fn()
	}
	a.closers, a.closeFn = nil, nil
}

package httpgin

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/service/checkout"
	"github.com/kirinyoku/tixflow/internal/service/ledger"
	"github.com/kirinyoku/tixflow/internal/signature"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const defaultServiceName = "tixflow"

// Checkout is the part of checkout.Service the HTTP surface depends on.
type Checkout interface {
	CreateOrder(ctx context.Context, req checkout.CreateOrderRequest) (checkout.CreateOrderResult, error)
	HandleWebhook(ctx context.Context, params signature.Params) (string, error)
	OrderStatus(ctx context.Context, orderID string) (domain.PaymentRecord, error)
	VerifyByToken(ctx context.Context, token string) (checkout.Verification, error)
	Stats(ctx context.Context) (domain.LedgerStats, error)
	TicketByOrder(ctx context.Context, orderID string) (domain.Ticket, error)
	TicketsByEmail(ctx context.Context, email string) ([]domain.Ticket, error)
	Reconcile(ctx context.Context) (checkout.ReconcileReport, error)
	CancelOrder(ctx context.Context, orderID string) (domain.Ticket, ledger.Outcome, error)
	ResendNotification(ctx context.Context, orderID string) error
}

// Idempotency stores the first response of a keyed request.
type Idempotency interface {
	AcquireLock(ctx context.Context, key string, lockTTL time.Duration) (bool, error)
	SaveResult(ctx context.Context, key string, jsonPayload string) error
	GetResult(ctx context.Context, key string) (string, bool, error)
	Release(ctx context.Context, key string) error
}

// Limiter decides whether a caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, current int64, retryAfter time.Duration, err error)
}

type Deps struct {
	Checkout Checkout
	// Idempotency and Limiter are optional.
	Idempotency Idempotency
	Limiter     Limiter
	// AdminSecret signs admin tokens; the admin API is not mounted when empty.
	AdminSecret []byte
	FrontendURL string
	ServiceName string
}

func NewRouter(deps Deps, logger *slog.Logger, middlewares ...gin.HandlerFunc) *gin.Engine {
	if deps.ServiceName == "" {
		deps.ServiceName = defaultServiceName
	}

	setupValidation()

	r := gin.New()

	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggingMiddleware(logger), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.GET("/health", handleHealth(deps.ServiceName))

		pay := api.Group("/payment")
		pay.POST("/create", RateLimit(deps.Limiter, "create", logger), handleCreatePayment(deps.Checkout, deps.Idempotency, logger))
		pay.Any("/confirm", handleConfirm(deps.Checkout, logger))
		pay.Any("/result", handleResult(deps.FrontendURL))
		pay.GET("/status/:orderId", handleOrderStatus(deps.Checkout))
		pay.GET("/verify/:token", handleVerify(deps.Checkout))

		tickets := api.Group("/tickets")
		tickets.GET("/stats", handleStats(deps.Checkout))
		tickets.GET("/order/:orderId", handleTicketByOrder(deps.Checkout))
		tickets.GET("/email/:email", handleTicketsByEmail(deps.Checkout))
	}

	if len(deps.AdminSecret) > 0 {
		admin := r.Group("/admin", AdminAuth(deps.AdminSecret))
		{
			admin.POST("/reconcile", handleReconcile(deps.Checkout))
			admin.POST("/orders/:orderId/cancel", handleCancelOrder(deps.Checkout))
			admin.POST("/orders/:orderId/notify", handleResendNotification(deps.Checkout))
		}
	} else {
		logger.Warn("ADMIN_JWT_SECRET not set; admin API disabled")
	}

	return r
}

// @Summary  Service health
// @Tags     health
// @Success  200 {object} HealthResponse
// @Router   /api/health [get]
func handleHealth(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: service})
	}
}

package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/tixflow/internal/redisx"
	"github.com/kirinyoku/tixflow/internal/service/checkout"
	"github.com/kirinyoku/tixflow/internal/signature"
)

const idempotencyLockTTL = 60 * time.Second

// @Summary  Reserve a ticket and open a payment (idempotent)
// @Tags     payment
// @Accept   json
// @Produce  json
// @Param    Idempotency-Key header string false "replays the first response"
// @Param    req body  CreatePaymentRequest true "payload"
// @Success  200 {object} CreatePaymentResponse
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "sold out / idempotency key in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Failure  502 {object} ErrorResponse
// @Failure  503 {object} ErrorResponse
// @Router   /api/payment/create [post]
func handleCreatePayment(cs Checkout, idem Idempotency, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreatePaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			if fields, ok := invalidFields(err); ok {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Missing required fields", Fields: fields})
				return
			}
			badRequest(c, err.Error())
			return
		}

		ctx := c.Request.Context()

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisx.KeyIdemCreate(idemKey)

			if payload, ok, _ := idem.GetResult(ctx, idemStorageKey); ok {
				replay(c, idemKey, payload)
				return
			}

			locked, err := idem.AcquireLock(ctx, idemStorageKey, idempotencyLockTTL)
			if err != nil {
				logger.Warn("idempotency store unavailable; processing without it", "error", err)
				idemStorageKey = ""
			} else if !locked {
				if payload, ok, _ := idem.GetResult(ctx, idemStorageKey); ok {
					replay(c, idemKey, payload)
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		res, err := cs.CreateOrder(ctx, req.toService())
		if err != nil {
			if idemStorageKey != "" {
				_ = idem.Release(ctx, idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := toCreatePaymentResponse(res)

		if idemStorageKey != "" {
			b, _ := json.Marshal(resp)
			if err := idem.SaveResult(ctx, idemStorageKey, string(b)); err != nil {
				logger.Warn("save idempotent result", "order_id", res.OrderID, "error", err)
			}
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusOK, resp)
	}
}

func replay(c *gin.Context, idemKey, payload string) {
	c.Header("Idempotency-Key", idemKey)
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(payload))
}

// @Summary  Gateway payment confirmation webhook
// @Tags     payment
// @Accept   x-www-form-urlencoded
// @Produce  plain
// @Param    token formData string true "payment token"
// @Param    s     formData string true "signature"
// @Success  200 {string} string "CONFIRMADO"
// @Failure  400 {string} string "INVALID SIGNATURE"
// @Router   /api/payment/confirm [post]
func handleConfirm(cs Checkout, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.String(http.StatusBadRequest, "INVALID REQUEST")
			return
		}

		ack, err := cs.HandleWebhook(c.Request.Context(), signature.FromValues(c.Request.Form))
		switch {
		case err == nil:
			c.String(http.StatusOK, ack)
		case errors.Is(err, checkout.ErrSignatureInvalid):
			c.String(http.StatusBadRequest, "INVALID SIGNATURE")
		case errors.Is(err, checkout.ErrInvalidInput):
			c.String(http.StatusBadRequest, "Token missing")
		default:
			logger.Error("webhook failed", "error", err)
			c.String(http.StatusInternalServerError, "ERROR")
		}
	}
}

// @Summary  Payer return URL
// @Tags     payment
// @Param    token query string true "payment token"
// @Success  302 {string} string "redirect to the frontend"
// @Failure  400 {string} string "Token missing"
// @Router   /api/payment/result [get]
func handleResult(frontendURL string) gin.HandlerFunc {
	base := strings.TrimRight(frontendURL, "/")

	return func(c *gin.Context) {
		_ = c.Request.ParseForm()

		token := strings.TrimSpace(c.Request.Form.Get("token"))
		if token == "" {
			c.String(http.StatusBadRequest, "Token missing")
			return
		}

		c.Redirect(http.StatusFound, base+"/payment/result?token="+url.QueryEscape(token))
	}
}

// @Summary  Payment record of an order, refreshed from the gateway
// @Tags     payment
// @Param    orderId path string true "commerce order id"
// @Success  200 {object} domain.PaymentRecord
// @Failure  404 {object} ErrorResponse
// @Router   /api/payment/status/{orderId} [get]
func handleOrderStatus(cs Checkout) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := cs.OrderStatus(c.Request.Context(), c.Param("orderId"))
		if err != nil {
			if errors.Is(err, checkout.ErrOrderNotFound) {
				c.JSON(http.StatusNotFound, ErrorResponse{Error: "Payment not found"})
				return
			}
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// @Summary  Verify a payment token with the gateway
// @Tags     payment
// @Param    token path string true "payment token"
// @Success  200 {object} VerifyResponse
// @Failure  502 {object} ErrorResponse
// @Failure  503 {object} ErrorResponse
// @Router   /api/payment/verify/{token} [get]
func handleVerify(cs Checkout) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := cs.VerifyByToken(c.Request.Context(), c.Param("token"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, VerifyResponse{Success: true, Status: v.Status, PaymentStatus: v.Raw})
	}
}

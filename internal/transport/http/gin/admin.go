package httpgin

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// @Summary  Run one reconciliation pass
// @Tags     admin
// @Security BearerAuth
// @Success  200 {object} checkout.ReconcileReport
// @Failure  409 {object} ErrorResponse "already running"
// @Router   /admin/reconcile [post]
func handleReconcile(cs Checkout) gin.HandlerFunc {
	return func(c *gin.Context) {
		rep, err := cs.Reconcile(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, rep)
	}
}

// @Summary  Cancel a pending order
// @Tags     admin
// @Security BearerAuth
// @Param    orderId path string true "commerce order id"
// @Success  200 {object} CancelOrderResponse
// @Failure  404 {object} ErrorResponse
// @Router   /admin/orders/{orderId}/cancel [post]
func handleCancelOrder(cs Checkout) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, outcome, err := cs.CancelOrder(c.Request.Context(), c.Param("orderId"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, CancelOrderResponse{Ticket: t, Outcome: outcome.String()})
	}
}

// @Summary  Send the ticket e-mail again
// @Tags     admin
// @Security BearerAuth
// @Param    orderId path string true "commerce order id"
// @Success  204 {string} string "sent"
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "ticket not confirmed"
// @Router   /admin/orders/{orderId}/notify [post]
func handleResendNotification(cs Checkout) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := cs.ResendNotification(c.Request.Context(), c.Param("orderId")); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

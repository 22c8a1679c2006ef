package httpgin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/tixflow/internal/service/checkout"
)

// @Summary  Ledger counters
// @Tags     tickets
// @Success  200 {object} domain.LedgerStats
// @Router   /api/tickets/stats [get]
func handleStats(cs Checkout) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := cs.Stats(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, st, "public, max-age=5", true)
	}
}

// @Summary  Ticket of an order
// @Tags     tickets
// @Param    orderId path string true "commerce order id"
// @Success  200 {object} domain.Ticket
// @Failure  404 {object} ErrorResponse
// @Router   /api/tickets/order/{orderId} [get]
func handleTicketByOrder(cs Checkout) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := cs.TicketByOrder(c.Request.Context(), c.Param("orderId"))
		if err != nil {
			if errors.Is(err, checkout.ErrOrderNotFound) {
				c.JSON(http.StatusNotFound, ErrorResponse{Error: "Ticket not found"})
				return
			}
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

// @Summary  Tickets bought with an e-mail address
// @Tags     tickets
// @Param    email path string true "buyer e-mail"
// @Success  200 {array} domain.Ticket
// @Router   /api/tickets/email/{email} [get]
func handleTicketsByEmail(cs Checkout) gin.HandlerFunc {
	return func(c *gin.Context) {
		ts, err := cs.TicketsByEmail(c.Request.Context(), c.Param("email"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, ts)
	}
}

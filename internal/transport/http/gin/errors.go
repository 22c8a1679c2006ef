package httpgin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/tixflow/internal/service/checkout"
)

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var verr checkout.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Missing required fields", Fields: verr.Fields})
	case errors.Is(err, checkout.ErrExhausted):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "no tickets available"})
	case errors.Is(err, checkout.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "order not found"})
	case errors.Is(err, checkout.ErrNotConfirmed):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "ticket is not confirmed"})
	case errors.Is(err, checkout.ErrReconcileRunning):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "reconciliation already running"})
	case errors.Is(err, checkout.ErrGatewayRejected):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "payment gateway rejected the request"})
	case errors.Is(err, checkout.ErrGatewayUnavailable):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "payment gateway unavailable"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/monitoring"
	"github.com/kirinyoku/tixflow/internal/signature"
	"github.com/sony/gobreaker"
)

const maxBodyBytes = 1 << 20

type Config struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	Timeout   time.Duration

	// BreakerFailures is the number of consecutive transport failures that opens the breaker.
	BreakerFailures uint32
	// BreakerCooldown is how long the breaker stays open before probing again.
	BreakerCooldown time.Duration
}

// Client talks to the payment gateway. It holds no per-call state and is safe for concurrent use.
type Client struct {
	cfg    Config
	hc     *http.Client
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

func New(cfg Config, hc *http.Client, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}

	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	failures := cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{cfg: cfg, hc: hc, cb: cb, logger: logger}
}

// CreatePayment registers a payment and returns where to send the payer.
//
// Returns:
//   - error: gateway.ErrUnavailable on transport failure or timeout.
//   - error: gateway.ErrRejected (as *RejectedError) if the gateway refused the request.
func (c *Client) CreatePayment(ctx context.Context, req PaymentRequest) (Payment, error) {
	const op = "gateway.Client.CreatePayment"

	p := signature.Params{}
	p.Set("commerceOrder", req.OrderID)
	p.Set("subject", req.Subject)
	p.Set("currency", req.Currency)
	p.Set("amount", req.Amount)
	p.Set("email", req.Email)
	p.Set("payerName", req.PayerName)
	p.Set("urlConfirmation", req.ConfirmationURL)
	p.Set("urlReturn", req.ReturnURL)
	if req.Optional != "" {
		p.Set("optional", req.Optional)
	}

	body, err := c.call(ctx, "create", http.MethodPost, "/payment/create", p)
	if err != nil {
		return Payment{}, fmt.Errorf("%s:%w", op, err)
	}

	var resp createResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Payment{}, fmt.Errorf("%s:%w: decode: %v", op, ErrUnavailable, err)
	}

	if resp.Token == "" || resp.URL == "" {
		return Payment{}, fmt.Errorf("%s:%w", op, &RejectedError{
			HTTPStatus: http.StatusOK,
			Message:    "incomplete create response",
		})
	}

	sep := "?"
	if strings.Contains(resp.URL, "?") {
		sep = "&"
	}

	return Payment{
		RedirectURL:     resp.URL + sep + "token=" + resp.Token,
		Token:           resp.Token,
		ExternalOrderID: resp.FlowOrder,
	}, nil
}

// GetStatus returns the authoritative status of the payment identified by token.
func (c *Client) GetStatus(ctx context.Context, token string) (StatusReport, error) {
	const op = "gateway.Client.GetStatus"

	if token == "" {
		return StatusReport{}, fmt.Errorf("%s:%w", op, &RejectedError{Message: "empty token"})
	}

	p := signature.Params{}
	p.Set("token", token)

	body, err := c.call(ctx, "get_status", http.MethodGet, "/payment/getStatus", p)
	if err != nil {
		return StatusReport{}, fmt.Errorf("%s:%w", op, err)
	}

	rep, err := decodeStatus(body)
	if err != nil {
		return StatusReport{}, fmt.Errorf("%s:%w", op, err)
	}

	return rep, nil
}

// GetStatusByOrder looks up a payment by local order id. An order the gateway
// does not know yields a report with Found == false and a nil error.
func (c *Client) GetStatusByOrder(ctx context.Context, orderID string) (StatusReport, error) {
	const op = "gateway.Client.GetStatusByOrder"

	p := signature.Params{}
	p.Set("commerceId", orderID)

	body, err := c.call(ctx, "get_status_by_order", http.MethodGet, "/payment/getStatusByCommerceId", p)
	if err != nil {
		var rej *RejectedError
		if errors.As(err, &rej) && (rej.HTTPStatus == http.StatusNotFound || rej.Code == notFoundCode) {
			return StatusReport{Found: false, OrderID: orderID, Status: domain.PaymentPending}, nil
		}
		return StatusReport{}, fmt.Errorf("%s:%w", op, err)
	}

	rep, err := decodeStatus(body)
	if err != nil {
		return StatusReport{}, fmt.Errorf("%s:%w", op, err)
	}

	return rep, nil
}

type rawResponse struct {
	status int
	body   []byte
}

// call signs params with the api key, performs the request under its own timeout
// and the circuit breaker, and returns the body of a 2xx response.
func (c *Client) call(ctx context.Context, name, method, path string, params signature.Params) ([]byte, error) {
	start := time.Now()

	params.Set("apiKey", c.cfg.APIKey)
	signed := signature.Signed(params, c.cfg.SecretKey)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	res, err := c.cb.Execute(func() (any, error) {
		return c.do(ctx, method, path, signed)
	})
	if err != nil {
		monitoring.ObserveGateway(name, "unavailable", time.Since(start))
		c.logger.Error("gateway call failed", "op", name, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	raw := res.(*rawResponse)
	if raw.status >= 200 && raw.status < 300 {
		monitoring.ObserveGateway(name, "ok", time.Since(start))
		return raw.body, nil
	}

	var e errorResponse
	_ = json.Unmarshal(raw.body, &e)
	rej := &RejectedError{HTTPStatus: raw.status, Code: string(e.Code), Message: e.Message}
	if rej.Message == "" {
		rej.Message = http.StatusText(raw.status)
	}

	monitoring.ObserveGateway(name, "rejected", time.Since(start))
	c.logger.Warn("gateway rejected request", "op", name, "http_status", raw.status, "code", rej.Code, "message", rej.Message)

	return nil, rej
}

func (c *Client) do(ctx context.Context, method, path string, params signature.Params) (*rawResponse, error) {
	endpoint := c.cfg.BaseURL + path

	var (
		req *http.Request
		err error
	)

	switch method {
	case http.MethodPost:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	// server-side failures count against the breaker; 4xx are answers.
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return &rawResponse{status: resp.StatusCode, body: body}, nil
}

func decodeStatus(body []byte) (StatusReport, error) {
	var s statusResponse
	if err := json.Unmarshal(body, &s); err != nil {
		return StatusReport{}, fmt.Errorf("%w: decode status: %v", ErrUnavailable, err)
	}

	return StatusReport{
		Found:           true,
		Status:          MapStatus(int(s.Status)),
		Code:            int(s.Status),
		OrderID:         s.CommerceOrder,
		ExternalOrderID: s.FlowOrder,
		Amount:          s.Amount,
		Payer:           s.Payer,
		Raw:             json.RawMessage(body),
	}, nil
}

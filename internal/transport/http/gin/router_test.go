package httpgin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/tixflow/internal/auth"
	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/service/checkout"
	"github.com/kirinyoku/tixflow/internal/service/ledger"
	"github.com/kirinyoku/tixflow/internal/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var adminSecret = []byte("admin-secret")

type fakeCheckout struct {
	mu      sync.Mutex
	creates int
	params  signature.Params

	createErr  error
	webhookErr error
	statusErr  error
	ticketErr  error
	reconErr   error
	notifyErr  error
}

func (f *fakeCheckout) CreateOrder(_ context.Context, req checkout.CreateOrderRequest) (checkout.CreateOrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return checkout.CreateOrderResult{}, f.createErr
	}
	return checkout.CreateOrderResult{
		RedirectURL:     "https://flow.test/pay?token=tok",
		Token:           "tok",
		ExternalOrderID: 77,
		OrderID:         fmt.Sprintf("ORD-%d", f.creates),
		TicketNumber:    int64(f.creates),
	}, nil
}

func (f *fakeCheckout) HandleWebhook(_ context.Context, p signature.Params) (string, error) {
	f.mu.Lock()
	f.params = p
	f.mu.Unlock()
	if f.webhookErr != nil {
		return "", f.webhookErr
	}
	return checkout.DefaultAck, nil
}

func (f *fakeCheckout) OrderStatus(_ context.Context, orderID string) (domain.PaymentRecord, error) {
	if f.statusErr != nil {
		return domain.PaymentRecord{}, f.statusErr
	}
	return domain.PaymentRecord{OrderID: orderID, Status: domain.PaymentApproved}, nil
}

func (f *fakeCheckout) VerifyByToken(_ context.Context, token string) (checkout.Verification, error) {
	if f.statusErr != nil {
		return checkout.Verification{}, f.statusErr
	}
	return checkout.Verification{Status: domain.PaymentPending, Raw: json.RawMessage(`{"status":1}`)}, nil
}

func (f *fakeCheckout) Stats(context.Context) (domain.LedgerStats, error) {
	return domain.LedgerStats{Total: 3, Confirmed: 1, Pending: 2, Available: 7, Capacity: 10, NextNumber: 4}, nil
}

func (f *fakeCheckout) TicketByOrder(_ context.Context, orderID string) (domain.Ticket, error) {
	if f.ticketErr != nil {
		return domain.Ticket{}, f.ticketErr
	}
	return domain.Ticket{Number: 1, OrderID: orderID, Status: domain.TicketConfirmed}, nil
}

func (f *fakeCheckout) TicketsByEmail(_ context.Context, email string) ([]domain.Ticket, error) {
	return []domain.Ticket{}, nil
}

func (f *fakeCheckout) Reconcile(context.Context) (checkout.ReconcileReport, error) {
	if f.reconErr != nil {
		return checkout.ReconcileReport{}, f.reconErr
	}
	return checkout.ReconcileReport{Checked: 2, Confirmed: 1, StillPending: 1}, nil
}

func (f *fakeCheckout) CancelOrder(_ context.Context, orderID string) (domain.Ticket, ledger.Outcome, error) {
	return domain.Ticket{Number: 1, OrderID: orderID, Status: domain.TicketCancelled}, ledger.Transitioned, nil
}

func (f *fakeCheckout) ResendNotification(context.Context, string) error {
	return f.notifyErr
}

// memIdem is an in-process Idempotency.
type memIdem struct {
	mu sync.Mutex
	m  map[string]string
}

func (s *memIdem) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; ok {
		return false, nil
	}
	s.m[key] = ""
	return true, nil
}

func (s *memIdem) SaveResult(_ context.Context, key, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = payload
	return nil
}

func (s *memIdem) GetResult(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok && v != "", nil
}

func (s *memIdem) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func newTestRouter(t *testing.T, cs *fakeCheckout, mod func(*Deps)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	deps := Deps{
		Checkout:    cs,
		Idempotency: &memIdem{m: map[string]string{}},
		AdminSecret: adminSecret,
		FrontendURL: "https://shop.test/",
	}
	if mod != nil {
		mod(&deps)
	}

	return NewRouter(deps, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const createBody = `{"amount":10000,"subject":"Ticket","email":"a@x.com","payerName":"Ana","rut":"1-9"}`

func TestCreatePayment(t *testing.T) {
	r := newTestRouter(t, &fakeCheckout{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/payment/create", strings.NewReader(createBody))
	req.Header.Set("Content-Type", "application/json")
	w := do(r, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp CreatePaymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, CreatePaymentResponse{
		Success:       true,
		PaymentURL:    "https://flow.test/pay?token=tok",
		Token:         "tok",
		FlowOrder:     77,
		CommerceOrder: "ORD-1",
		TicketNumber:  1,
	}, resp)
}

func TestCreatePayment_IdempotentReplay(t *testing.T) {
	cs := &fakeCheckout{}
	r := newTestRouter(t, cs, nil)

	var bodies []string
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/payment/create", strings.NewReader(createBody))
		req.Header.Set("Idempotency-Key", "k-1")
		w := do(r, req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "k-1", w.Header().Get("Idempotency-Key"))
		bodies = append(bodies, w.Body.String())
	}

	assert.Equal(t, 1, cs.creates)
	assert.JSONEq(t, bodies[0], bodies[1])
}

func TestCreatePayment_FailureReleasesIdempotencyKey(t *testing.T) {
	cs := &fakeCheckout{createErr: fmt.Errorf("op:%w", checkout.ErrGatewayUnavailable)}
	r := newTestRouter(t, cs, nil)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/payment/create", strings.NewReader(createBody))
		req.Header.Set("Idempotency-Key", "k-2")
		w := do(r, req)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	}

	assert.Equal(t, 2, cs.creates)
}

func TestCreatePayment_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{checkout.ValidationError{Fields: []string{"email"}}, http.StatusBadRequest},
		{fmt.Errorf("op:%w", checkout.ErrExhausted), http.StatusConflict},
		{fmt.Errorf("op:%w", checkout.ErrGatewayRejected), http.StatusBadGateway},
		{fmt.Errorf("op:%w", checkout.ErrGatewayUnavailable), http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			r := newTestRouter(t, &fakeCheckout{createErr: tt.err}, nil)
			w := do(r, httptest.NewRequest(http.MethodPost, "/api/payment/create", strings.NewReader(createBody)))
			assert.Equal(t, tt.want, w.Code)
		})
	}

	r := newTestRouter(t, &fakeCheckout{createErr: checkout.ValidationError{Fields: []string{"email", "amount"}}}, nil)
	w := do(r, httptest.NewRequest(http.MethodPost, "/api/payment/create", strings.NewReader(createBody)))
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"email", "amount"}, resp.Fields)
}

func TestCreatePayment_MalformedJSON(t *testing.T) {
	cs := &fakeCheckout{}
	r := newTestRouter(t, cs, nil)

	w := do(r, httptest.NewRequest(http.MethodPost, "/api/payment/create", strings.NewReader(`{"amount":`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, cs.creates)
}

func TestCreatePayment_BindingValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"empty", `{}`, []string{"amount", "subject", "email", "payerName"}},
		{"bad email", `{"amount":100,"subject":"s","email":"not-an-email","payerName":"Ana"}`, []string{"email"}},
		{"zero amount", `{"amount":0,"subject":"s","email":"a@x.com","payerName":"Ana"}`, []string{"amount"}},
		{"negative amount", `{"amount":"-5","subject":"s","email":"a@x.com","payerName":"Ana"}`, []string{"amount"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := &fakeCheckout{}
			r := newTestRouter(t, cs, nil)

			w := do(r, httptest.NewRequest(http.MethodPost, "/api/payment/create", strings.NewReader(tt.body)))
			require.Equal(t, http.StatusBadRequest, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "Missing required fields", resp.Error)
			assert.Equal(t, tt.want, resp.Fields)
			assert.Zero(t, cs.creates)
		})
	}
}

func TestCreatePayment_RateLimited(t *testing.T) {
	r := newTestRouter(t, &fakeCheckout{}, func(d *Deps) {
		d.Limiter = NewMemoryLimiter(2, time.Minute)
	})

	codes := make([]int, 3)
	for i := range codes {
		w := do(r, httptest.NewRequest(http.MethodPost, "/api/payment/create", strings.NewReader(createBody)))
		codes[i] = w.Code
		if w.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, w.Header().Get("Retry-After"))
		}
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestConfirm(t *testing.T) {
	cs := &fakeCheckout{}
	r := newTestRouter(t, cs, nil)

	form := url.Values{"token": {"tok-1"}, "s": {"abc"}}
	req := httptest.NewRequest(http.MethodPost, "/api/payment/confirm", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := do(r, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CONFIRMADO", w.Body.String())
	assert.Equal(t, signature.Params{"token": "tok-1", "s": "abc"}, cs.params)

	w = do(r, httptest.NewRequest(http.MethodGet, "/api/payment/confirm?token=tok-2&s=def", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tok-2", cs.params["token"])
}

func TestConfirm_Errors(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantBody string
	}{
		{fmt.Errorf("op:%w", checkout.ErrSignatureInvalid), http.StatusBadRequest, "INVALID SIGNATURE"},
		{checkout.ValidationError{Fields: []string{"token"}}, http.StatusBadRequest, "Token missing"},
		{errors.New("boom"), http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		r := newTestRouter(t, &fakeCheckout{webhookErr: tt.err}, nil)
		w := do(r, httptest.NewRequest(http.MethodPost, "/api/payment/confirm", nil))
		assert.Equal(t, tt.wantCode, w.Code)
		assert.Equal(t, tt.wantBody, w.Body.String())
	}
}

func TestResultRedirect(t *testing.T) {
	r := newTestRouter(t, &fakeCheckout{}, nil)

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/payment/result?token=a%20b", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://shop.test/payment/result?token=a+b", w.Header().Get("Location"))

	form := url.Values{"token": {"tok"}}
	req := httptest.NewRequest(http.MethodPost, "/api/payment/result", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = do(r, req)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://shop.test/payment/result?token=tok", w.Header().Get("Location"))

	w = do(r, httptest.NewRequest(http.MethodGet, "/api/payment/result", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Token missing", w.Body.String())
}

func TestOrderStatusAndVerify(t *testing.T) {
	cs := &fakeCheckout{}
	r := newTestRouter(t, cs, nil)

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/payment/status/ORD-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"commerceOrder":"ORD-1"`)

	w = do(r, httptest.NewRequest(http.MethodGet, "/api/payment/verify/tok", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"status":"pending","paymentStatus":{"status":1}}`, w.Body.String())

	cs.statusErr = fmt.Errorf("op:%w", checkout.ErrOrderNotFound)
	w = do(r, httptest.NewRequest(http.MethodGet, "/api/payment/status/ORD-9", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Payment not found"}`, w.Body.String())
}

func TestTickets(t *testing.T) {
	cs := &fakeCheckout{}
	r := newTestRouter(t, cs, nil)

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/tickets/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.Contains(t, w.Body.String(), `"maxTickets":10`)

	req := httptest.NewRequest(http.MethodGet, "/api/tickets/stats", nil)
	req.Header.Set("If-None-Match", etag)
	w = do(r, req)
	assert.Equal(t, http.StatusNotModified, w.Code)

	w = do(r, httptest.NewRequest(http.MethodGet, "/api/tickets/email/a@x.com", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())

	w = do(r, httptest.NewRequest(http.MethodGet, "/api/tickets/order/ORD-1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	cs.ticketErr = fmt.Errorf("op:%w", checkout.ErrOrderNotFound)
	w = do(r, httptest.NewRequest(http.MethodGet, "/api/tickets/order/ORD-9", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Ticket not found"}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, &fakeCheckout{}, nil)

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","service":"tixflow"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = do(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func adminRequest(t *testing.T, method, path string, secret []byte) *http.Request {
	t.Helper()
	tok, err := auth.IssueAdminToken(secret, "ops", time.Hour, time.Now())
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	return req
}

func TestAdmin(t *testing.T) {
	cs := &fakeCheckout{}
	r := newTestRouter(t, cs, nil)

	w := do(r, httptest.NewRequest(http.MethodPost, "/admin/reconcile", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, adminRequest(t, http.MethodPost, "/admin/reconcile", []byte("wrong")))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, adminRequest(t, http.MethodPost, "/admin/reconcile", adminSecret))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"stillPending":1`)

	w = do(r, adminRequest(t, http.MethodPost, "/admin/orders/ORD-1/cancel", adminSecret))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"outcome":"transitioned"`)

	w = do(r, adminRequest(t, http.MethodPost, "/admin/orders/ORD-1/notify", adminSecret))
	assert.Equal(t, http.StatusNoContent, w.Code)

	cs.notifyErr = fmt.Errorf("op:%w", checkout.ErrNotConfirmed)
	w = do(r, adminRequest(t, http.MethodPost, "/admin/orders/ORD-1/notify", adminSecret))
	assert.Equal(t, http.StatusConflict, w.Code)

	cs.reconErr = fmt.Errorf("op:%w", checkout.ErrReconcileRunning)
	w = do(r, adminRequest(t, http.MethodPost, "/admin/reconcile", adminSecret))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAdmin_DisabledWithoutSecret(t *testing.T) {
	r := newTestRouter(t, &fakeCheckout{}, func(d *Deps) { d.AdminSecret = nil })

	w := do(r, adminRequest(t, http.MethodPost, "/admin/reconcile", adminSecret))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMemoryLimiter_PerKey(t *testing.T) {
	l := NewMemoryLimiter(1, time.Minute)
	ctx := context.Background()

	ok, _, _, err := l.Allow(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _, retry, _ := l.Allow(ctx, "a")
	assert.False(t, ok)
	assert.Greater(t, retry, time.Duration(0))

	ok, _, _, _ = l.Allow(ctx, "b")
	assert.True(t, ok)
}

func TestMemoryLimiter_DropsIdleBuckets(t *testing.T) {
	l := NewMemoryLimiter(2, time.Minute)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		ok, _, _, err := l.Allow(ctx, fmt.Sprintf("10.0.0.%d", i))
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, _, _, _ := l.Allow(ctx, "busy")
	require.True(t, ok)
	ok, _, _, _ = l.Allow(ctx, "busy")
	require.True(t, ok)
	assert.Len(t, l.buckets, 101)

	// two windows later every bucket has refilled and is dropped; "busy" starts over.
	now = now.Add(2 * time.Minute)
	ok, _, _, _ = l.Allow(ctx, "busy")
	require.True(t, ok)
	assert.Len(t, l.buckets, 1)

	ok, _, _, _ = l.Allow(ctx, "busy")
	assert.True(t, ok, "a dropped key starts with a full bucket")
	ok, _, _, _ = l.Allow(ctx, "busy")
	assert.False(t, ok)
}

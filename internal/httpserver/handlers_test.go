package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/buhogo/payd/internal/circuitbreaker"
	"github.com/buhogo/payd/internal/config"
	"github.com/buhogo/payd/internal/ledger"
	"github.com/buhogo/payd/internal/payments"
	"github.com/buhogo/payd/internal/wallet"
	"github.com/buhogo/payd/internal/watcher"
)

type stubCapability struct {
	payFn func(ctx context.Context) (bool, error)
}

func (s *stubCapability) PayInvoice(ctx context.Context, _ string) (bool, error) {
	return s.payFn(ctx)
}

func (s *stubCapability) LookupInvoice(context.Context, string) (wallet.LookupResult, error) {
	return wallet.LookupResult{State: wallet.LookupNotSettled}, nil
}

func (s *stubCapability) Balance(context.Context) (int64, bool, error) {
	return 0, false, nil
}

type stubWatcher struct{}

func (stubWatcher) Watch(string)        {}
func (stubWatcher) StopWatching(string) {}
func (stubWatcher) NudgeKey(string)     {}

type stubReconciler struct {
	result watcher.Result
	err    error
}

func (s *stubReconciler) ReconcileOnce(_ context.Context, key string) (watcher.Result, error) {
	if s.err != nil {
		return watcher.Result{}, s.err
	}
	r := s.result
	r.Key = key
	return r, nil
}

type testHarness struct {
	server     *Server
	ledger     *ledger.Ledger
	reconciler *stubReconciler
}

func newHarness(t *testing.T, cap wallet.Capability, mutate func(*config.Config)) *testHarness {
	t.Helper()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("default config failed to load: %v", err)
	}
	cfg.Wallet.PayTimeout = config.Duration{Duration: 50 * time.Millisecond}
	if mutate != nil {
		mutate(cfg)
	}

	lg := ledger.New(ledger.NewMemoryStore(), zerolog.Nop())
	coordinator := payments.New(cap, lg, stubWatcher{}, cfg.Wallet.PayTimeout.Duration, nil, nil, nil, zerolog.Nop())
	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, zerolog.Nop())
	rec := &stubReconciler{}

	return &testHarness{
		server:     New(cfg, coordinator, rec, breakers, zerolog.Nop()),
		ledger:     lg,
		reconciler: rec,
	}
}

func (h *testHarness) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.server.httpServer.Handler.ServeHTTP(rr, req)
	return rr
}

func TestSubmitPaymentSuccess(t *testing.T) {
	cap := &stubCapability{payFn: func(context.Context) (bool, error) { return true, nil }}
	h := newHarness(t, cap, nil)

	rr := h.do(http.MethodPost, "/v1/payments", `{"invoice":"lnbc1","amount":1000}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var result payments.SubmitResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if result.Outcome != payments.OutcomeSuccess {
		t.Errorf("outcome = %s", result.Outcome)
	}
	if !strings.HasPrefix(result.Key, "pay_") {
		t.Errorf("unexpected key %q", result.Key)
	}
}

func TestSubmitPaymentPendingAnswers202(t *testing.T) {
	cap := &stubCapability{payFn: func(context.Context) (bool, error) {
		// resolves well after the submit bound
		time.Sleep(300 * time.Millisecond)
		return false, context.DeadlineExceeded
	}}
	h := newHarness(t, cap, nil)

	rr := h.do(http.MethodPost, "/v1/payments", `{"invoice":"lnbc1","amount":1000}`, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var result payments.SubmitResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if result.Outcome != payments.OutcomePending || result.Key == "" {
		t.Errorf("unexpected pending result: %+v", result)
	}
}

func TestSubmitPaymentBadJSON(t *testing.T) {
	cap := &stubCapability{payFn: func(context.Context) (bool, error) { return true, nil }}
	h := newHarness(t, cap, nil)

	rr := h.do(http.MethodPost, "/v1/payments", `{not json`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid_input") {
		t.Errorf("body missing error code: %s", rr.Body.String())
	}
}

func TestSubmitPaymentNoWallet(t *testing.T) {
	h := newHarness(t, nil, nil)

	rr := h.do(http.MethodPost, "/v1/payments", `{"invoice":"lnbc1","amount":1000}`, nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "not_connected") {
		t.Errorf("body missing error code: %s", rr.Body.String())
	}
}

func TestGetPayment(t *testing.T) {
	cap := &stubCapability{payFn: func(context.Context) (bool, error) { return true, nil }}
	h := newHarness(t, cap, nil)

	attempt, _ := ledger.NewAttempt("pay_abc", "lnbc1", 500, "coffee")
	_ = attempt.MarkPending()
	h.ledger.Put(context.Background(), attempt)

	rr := h.do(http.MethodGet, "/v1/payments/pay_abc", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var got attemptResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if got.Status != string(ledger.StatusPending) || got.Amount != 500 {
		t.Errorf("unexpected attempt: %+v", got)
	}
}

func TestGetPaymentNotFound(t *testing.T) {
	cap := &stubCapability{payFn: func(context.Context) (bool, error) { return true, nil }}
	h := newHarness(t, cap, nil)

	rr := h.do(http.MethodGet, "/v1/payments/pay_missing", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestListPayments(t *testing.T) {
	cap := &stubCapability{payFn: func(context.Context) (bool, error) { return true, nil }}
	h := newHarness(t, cap, nil)

	attempt, _ := ledger.NewAttempt("pay_abc", "lnbc1", 500, "")
	_ = attempt.MarkPending()
	h.ledger.Put(context.Background(), attempt)

	rr := h.do(http.MethodGet, "/v1/payments", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var body struct {
		Attempts []attemptResponse `json:"attempts"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(body.Attempts) != 1 || body.Attempts[0].IdempotencyKey != "pay_abc" {
		t.Errorf("unexpected list: %+v", body.Attempts)
	}
}

func TestAbandonPayment(t *testing.T) {
	cap := &stubCapability{payFn: func(context.Context) (bool, error) { return true, nil }}
	h := newHarness(t, cap, nil)

	attempt, _ := ledger.NewAttempt("pay_abc", "lnbc1", 500, "")
	_ = attempt.MarkPending()
	h.ledger.Put(context.Background(), attempt)

	rr := h.do(http.MethodDelete, "/v1/payments/pay_abc", "", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
	if _, ok := h.ledger.Get(context.Background(), "pay_abc"); ok {
		t.Error("abandoned attempt still in ledger")
	}

	// idempotent
	rr = h.do(http.MethodDelete, "/v1/payments/pay_abc", "", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("second delete status = %d", rr.Code)
	}
}

func TestReconcilePayment(t *testing.T) {
	cap := &stubCapability{payFn: func(context.Context) (bool, error) { return true, nil }}
	h := newHarness(t, cap, nil)
	h.reconciler.result = watcher.Result{Resolved: true, Outcome: watcher.OutcomeSettled}

	rr := h.do(http.MethodPost, "/v1/payments/pay_abc/reconcile", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var result watcher.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if result.Key != "pay_abc" || result.Outcome != watcher.OutcomeSettled {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestHealth(t *testing.T) {
	cap := &stubCapability{payFn: func(context.Context) (bool, error) { return true, nil }}
	h := newHarness(t, cap, nil)

	rr := h.do(http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var body struct {
		Status   string            `json:"status"`
		Breakers map[string]string `json:"breakers"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q", body.Status)
	}
	if _, ok := body.Breakers["relay_pay"]; !ok {
		t.Error("health response missing breaker states")
	}
}

func TestMetricsAuth(t *testing.T) {
	cap := &stubCapability{payFn: func(context.Context) (bool, error) { return true, nil }}
	h := newHarness(t, cap, func(cfg *config.Config) {
		cfg.Server.AdminMetricsAPIKey = "secret"
	})

	rr := h.do(http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated metrics status = %d", rr.Code)
	}

	rr = h.do(http.MethodGet, "/metrics", "", map[string]string{"X-API-Key": "secret"})
	if rr.Code != http.StatusOK {
		t.Fatalf("authenticated metrics status = %d", rr.Code)
	}
}

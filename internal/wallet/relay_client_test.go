package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{}

// fakeRelay answers JSON-RPC frames by method. Responses can be delayed or
// withheld to exercise timeouts and correlation.
type fakeRelay struct {
	t       *testing.T
	respond func(req relayRequest) *relayResponse
}

func (f *fakeRelay) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var wmu sync.Mutex
	for {
		var req relayRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		go func(req relayRequest) {
			resp := f.respond(req)
			if resp == nil {
				return
			}
			resp.ID = req.ID
			wmu.Lock()
			defer wmu.Unlock()
			_ = conn.WriteJSON(resp)
		}(req)
	}
}

func newTestRelay(t *testing.T, respond func(req relayRequest) *relayResponse) *RelayClient {
	t.Helper()
	relay := &fakeRelay{t: t, respond: respond}
	srv := httptest.NewServer(http.HandlerFunc(relay.serve))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := NewRelayClient(url, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRelayClient failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPayInvoice(t *testing.T) {
	client := newTestRelay(t, func(req relayRequest) *relayResponse {
		if req.Method != "pay_invoice" {
			t.Errorf("unexpected method %q", req.Method)
		}
		return &relayResponse{Result: []byte(`{"accepted":true}`)}
	})

	accepted, err := client.PayInvoice(context.Background(), "lnbc1")
	if err != nil {
		t.Fatalf("PayInvoice failed: %v", err)
	}
	if !accepted {
		t.Error("expected accepted = true")
	}
}

func TestPayInvoiceNotAccepted(t *testing.T) {
	client := newTestRelay(t, func(relayRequest) *relayResponse {
		return &relayResponse{Result: []byte(`{"accepted":false}`)}
	})

	accepted, err := client.PayInvoice(context.Background(), "lnbc1")
	if err != nil {
		t.Fatalf("PayInvoice failed: %v", err)
	}
	if accepted {
		t.Error("expected accepted = false")
	}
}

func TestPayInvoiceRelayError(t *testing.T) {
	client := newTestRelay(t, func(relayRequest) *relayResponse {
		return &relayResponse{Error: &relayError{Code: "insufficient_funds", Message: "balance too low"}}
	})

	_, err := client.PayInvoice(context.Background(), "lnbc1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "insufficient_funds") {
		t.Errorf("error lost the relay code: %v", err)
	}
}

func TestLookupInvoiceStates(t *testing.T) {
	tests := []struct {
		name string
		resp *relayResponse
		want LookupState
	}{
		{"settled", &relayResponse{Result: []byte(`{"settled":true,"preimage":"aa"}`)}, LookupSettled},
		{"not settled", &relayResponse{Result: []byte(`{"settled":false}`)}, LookupNotSettled},
		{"not found", &relayResponse{Error: &relayError{Code: "not_found", Message: "no such invoice"}}, LookupNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestRelay(t, func(relayRequest) *relayResponse { return tt.resp })

			got, err := client.LookupInvoice(context.Background(), "lnbc1")
			if err != nil {
				t.Fatalf("LookupInvoice failed: %v", err)
			}
			if got.State != tt.want {
				t.Errorf("state = %v, want %v", got.State, tt.want)
			}
			if tt.want == LookupSettled && got.Preimage != "aa" {
				t.Errorf("preimage = %q", got.Preimage)
			}
		})
	}
}

func TestBalance(t *testing.T) {
	client := newTestRelay(t, func(req relayRequest) *relayResponse {
		if req.Method != "get_balance" {
			t.Errorf("unexpected method %q", req.Method)
		}
		return &relayResponse{Result: []byte(`{"balance":21000}`)}
	})

	sats, ok, err := client.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if !ok || sats != 21000 {
		t.Errorf("balance = %d, ok = %v", sats, ok)
	}
}

func TestCallHonorsContextDeadline(t *testing.T) {
	client := newTestRelay(t, func(relayRequest) *relayResponse {
		return nil // never answer
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.PayInvoice(ctx, "lnbc1")
	if err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("call did not return promptly after ctx expiry")
	}
}

// Responses arriving out of order must still reach the caller that issued
// the matching request id.
func TestConcurrentCallCorrelation(t *testing.T) {
	client := newTestRelay(t, func(req relayRequest) *relayResponse {
		var params struct {
			Invoice string `json:"invoice"`
		}
		_ = json.Unmarshal(req.Params, &params)
		if params.Invoice == "slow" {
			time.Sleep(50 * time.Millisecond)
			return &relayResponse{Result: []byte(`{"accepted":false}`)}
		}
		return &relayResponse{Result: []byte(`{"accepted":true}`)}
	})

	var wg sync.WaitGroup
	wg.Add(2)
	var slowAccepted, fastAccepted bool
	go func() {
		defer wg.Done()
		slowAccepted, _ = client.PayInvoice(context.Background(), "slow")
	}()
	go func() {
		defer wg.Done()
		fastAccepted, _ = client.PayInvoice(context.Background(), "fast")
	}()
	wg.Wait()

	if slowAccepted || !fastAccepted {
		t.Errorf("responses crossed: slow=%v fast=%v", slowAccepted, fastAccepted)
	}
}

func TestPushListenerForwardsSettleHints(t *testing.T) {
	frames := []string{
		`{"type":"payment_settled","invoice":"lnbc1"}`,
		`{"type":"balance_changed"}`,
		`not json`,
		`{"type":"payment_settled","invoice":"lnbc2"}`,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// keep the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	var mu sync.Mutex
	var got []string
	listener := NewPushListener("ws"+strings.TrimPrefix(srv.URL, "http"), func(invoice string) {
		mu.Lock()
		got = append(got, invoice)
		mu.Unlock()
	}, zerolog.Nop())
	listener.Start()
	defer listener.Close()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected 2 hints, saw %d", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0] != "lnbc1" || got[1] != "lnbc2" {
		t.Errorf("unexpected hints: %v", got)
	}
}

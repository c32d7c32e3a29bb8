package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "github.com/buhogo/payd/internal/errors"
)

// RelayClient implements Capability over a WebSocket connection to the
// wallet relay bridge. Requests are JSON frames correlated by id; a single
// read loop fans responses back out to waiting callers.
type RelayClient struct {
	url string
	log zerolog.Logger

	mu      sync.Mutex // guards conn and writes
	conn    *websocket.Conn
	pending map[string]chan relayResponse
	pmu     sync.Mutex // guards pending

	closed    chan struct{}
	closeOnce sync.Once
}

type relayRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type relayResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *relayError     `json:"error,omitempty"`
}

type relayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *relayError) Error() string {
	return fmt.Sprintf("relay error %s: %s", e.Code, e.Message)
}

// NewRelayClient dials the relay bridge and starts the read loop.
func NewRelayClient(url string, log zerolog.Logger) (*RelayClient, error) {
	c := &RelayClient{
		url:     url,
		log:     log.With().Str("component", "wallet").Logger(),
		pending: make(map[string]chan relayResponse),
		closed:  make(chan struct{}),
	}

	if err := c.dial(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *RelayClient) dial() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("dial wallet relay: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	c.log.Info().Str("url", c.url).Msg("wallet relay connected")
	return nil
}

// readLoop dispatches response frames to their waiting callers. On a read
// error it fails every in-flight call and reconnects unless closed.
func (c *RelayClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.failPending(fmt.Errorf("wallet relay connection lost: %w", err))
			select {
			case <-c.closed:
				return
			default:
			}
			c.reconnect()
			return
		}

		var resp relayResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			c.log.Warn().Err(err).Msg("discarding malformed relay frame")
			continue
		}

		c.pmu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.pmu.Unlock()

		if ok {
			ch <- resp
		}
	}
}

func (c *RelayClient) reconnect() {
	backoff := time.Second
	for {
		select {
		case <-c.closed:
			return
		case <-time.After(backoff):
		}

		if err := c.dial(); err != nil {
			c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("wallet relay reconnect failed")
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		return
	}
}

func (c *RelayClient) failPending(err error) {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	for id, ch := range c.pending {
		ch <- relayResponse{ID: id, Error: &relayError{Code: "network_error", Message: err.Error()}}
		delete(c.pending, id)
	}
}

// call sends one request frame and waits for its response or ctx expiry.
func (c *RelayClient) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal relay params: %w", err)
		}
		raw = data
	}

	req := relayRequest{ID: uuid.NewString(), Method: method, Params: raw}
	ch := make(chan relayResponse, 1)

	c.pmu.Lock()
	c.pending[req.ID] = ch
	c.pmu.Unlock()

	c.mu.Lock()
	conn := c.conn
	var err error
	if conn == nil {
		err = apperrors.New(apperrors.ErrCodeNotConnected, "wallet relay not connected")
	} else {
		err = conn.WriteJSON(req)
	}
	c.mu.Unlock()

	if err != nil {
		c.pmu.Lock()
		delete(c.pending, req.ID)
		c.pmu.Unlock()
		return err
	}

	select {
	case <-ctx.Done():
		c.pmu.Lock()
		delete(c.pending, req.ID)
		c.pmu.Unlock()
		return ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("unmarshal relay result: %w", err)
			}
		}
		return nil
	}
}

// PayInvoice submits the invoice and blocks until the wallet responds.
func (c *RelayClient) PayInvoice(ctx context.Context, invoice string) (bool, error) {
	params := map[string]string{"invoice": invoice}
	var result struct {
		Accepted bool `json:"accepted"`
	}
	if err := c.call(ctx, "pay_invoice", params, &result); err != nil {
		return false, err
	}
	return result.Accepted, nil
}

// LookupInvoice reports the settlement state of an invoice.
func (c *RelayClient) LookupInvoice(ctx context.Context, invoice string) (LookupResult, error) {
	params := map[string]string{"invoice": invoice}
	var result struct {
		Settled  bool   `json:"settled"`
		Preimage string `json:"preimage"`
	}

	err := c.call(ctx, "lookup_invoice", params, &result)
	if err != nil {
		var relayErr *relayError
		if ok := asRelayError(err, &relayErr); ok && relayErr.Code == "not_found" {
			return LookupResult{State: LookupNotFound}, nil
		}
		return LookupResult{}, err
	}

	if result.Settled {
		return LookupResult{State: LookupSettled, Preimage: result.Preimage}, nil
	}
	return LookupResult{State: LookupNotSettled}, nil
}

// Balance returns the spendable balance reported by the wallet.
func (c *RelayClient) Balance(ctx context.Context) (int64, bool, error) {
	var result struct {
		Balance int64 `json:"balance"`
	}
	if err := c.call(ctx, "get_balance", nil, &result); err != nil {
		return 0, false, err
	}
	return result.Balance, true, nil
}

// Close shuts the connection down and fails in-flight calls.
func (c *RelayClient) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func asRelayError(err error, target **relayError) bool {
	re, ok := err.(*relayError)
	if ok {
		*target = re
	}
	return ok
}

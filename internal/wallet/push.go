package wallet

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// PushListener consumes the relay's settlement notification feed over
// WebSocket and forwards settled-invoice hints to a handler. The feed is
// strictly advisory: a hint only accelerates reconciliation, it never
// replaces a lookup, so dropped or duplicate frames are harmless.
type PushListener struct {
	url     string
	handler func(invoice string)
	log     zerolog.Logger

	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

type pushFrame struct {
	Type    string `json:"type"`
	Invoice string `json:"invoice"`
}

// NewPushListener creates a listener; call Start to begin consuming.
func NewPushListener(url string, handler func(invoice string), log zerolog.Logger) *PushListener {
	return &PushListener{
		url:     url,
		handler: handler,
		log:     log.With().Str("component", "push").Logger(),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs the consume loop in a goroutine, reconnecting on failure.
func (p *PushListener) Start() {
	go func() {
		defer close(p.done)
		backoff := time.Second
		for {
			select {
			case <-p.closed:
				return
			default:
			}

			if err := p.consume(); err != nil {
				p.log.Warn().Err(err).Dur("retry_in", backoff).Msg("settlement feed disconnected")
			}

			select {
			case <-p.closed:
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}()
}

// consume holds one connection open and dispatches settle hints until it
// breaks.
func (p *PushListener) consume() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(p.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	p.log.Info().Str("url", p.url).Msg("settlement feed connected")

	// Drop the connection if Close is called mid-read.
	go func() {
		select {
		case <-p.closed:
			_ = conn.Close()
		case <-p.done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var frame pushFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			p.log.Debug().Err(err).Msg("discarding malformed push frame")
			continue
		}
		if frame.Type != "payment_settled" || frame.Invoice == "" {
			continue
		}
		p.handler(frame.Invoice)
	}
}

// Close stops the listener and waits for the consume loop to exit.
func (p *PushListener) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	<-p.done
	return nil
}

package coinbase

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"market_maker/internal/core"
)

const publicWSURL = "wss://advanced-trade-ws.coinbase.com"

// wireTickerSubscribe is the subscribe/unsubscribe envelope for the public
// ticker channel.
type wireTickerSubscribe struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channel    string   `json:"channel"`
}

// wireTickerMessage is the subset of the ticker channel payload this stream
// cares about: which products moved and when the exchange says they moved.
type wireTickerMessage struct {
	Channel string `json:"channel"`
	Events  []struct {
		Type    string `json:"type"`
		Tickers []struct {
			ProductID string `json:"product_id"`
		} `json:"tickers"`
	} `json:"events"`
}

// TickerStream is an optional, best-effort WebSocket feed that tracks when
// each subscribed symbol last traded. It never supplies prices itself; REST
// remains the source of truth for quotes, orders, and fills. Its only job is
// telling GetQuote that a symbol is still actively trading between poll
// cycles, so a REST quote fetched a few seconds ago isn't rejected as stale
// while the market is quiet for reasons other than staleness.
//
// Grounded on the reconnect-loop/read-loop shape common to the pack's
// exchange WebSocket clients (Binance/Polymarket), adapted to this client's
// core.Logger and to the narrower freshness-only role described for it here.
type TickerStream struct {
	url    string
	logger core.Logger

	mu       sync.RWMutex
	conn     *websocket.Conn
	lastSeen map[string]time.Time

	stopCh chan struct{}
}

// NewTickerStream builds a stream that has not yet dialed anything.
func NewTickerStream(logger core.Logger) *TickerStream {
	return &TickerStream{
		url:      publicWSURL,
		logger:   logger,
		lastSeen: make(map[string]time.Time),
		stopCh:   make(chan struct{}),
	}
}

// Start dials the public ticker channel, subscribes to symbols, and runs the
// read loop in the background until Close is called. Dial/subscribe failures
// are logged and retried; Start itself only reports the first dial error so
// callers can decide whether to treat a dead feed as fatal (it never is,
// since REST is the source of truth).
func (s *TickerStream) Start(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	if err := s.connect(symbols); err != nil {
		return err
	}
	go s.runLoop(symbols)
	return nil
}

func (s *TickerStream) connect(symbols []string) error {
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		return fmt.Errorf("coinbase: ticker stream dial: %w", err)
	}
	sub := wireTickerSubscribe{Type: "subscribe", ProductIDs: symbols, Channel: "ticker"}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("coinbase: ticker stream subscribe: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

func (s *TickerStream) runLoop(symbols []string) {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		s.readUntilError()
		select {
		case <-s.stopCh:
			return
		case <-time.After(5 * time.Second):
		}
		if err := s.connect(symbols); err != nil {
			s.logger.Warn("ticker stream reconnect failed", "error", err.Error())
		}
	}
}

func (s *TickerStream) readUntilError() {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return
	}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.logger.Warn("ticker stream disconnected", "error", err.Error())
			return
		}
		var msg wireTickerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		now := time.Now().UTC()
		s.mu.Lock()
		for _, ev := range msg.Events {
			for _, t := range ev.Tickers {
				s.lastSeen[t.ProductID] = now
			}
		}
		s.mu.Unlock()
	}
}

// LastSeen returns the last time the stream observed activity for symbol.
func (s *TickerStream) LastSeen(symbol string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.lastSeen[symbol]
	return t, ok
}

// Close stops the read loop and drops the connection. Safe to call even if
// Start was never called.
func (s *TickerStream) Close() {
	select {
	case <-s.stopCh:
		return
	default:
		close(s.stopCh)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
}

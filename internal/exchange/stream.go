package exchange

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quantfleet/unified-trading-bot/pkg/types"
	"go.uber.org/zap"
)

const (
	wsReconnectDelay = 5 * time.Second
	wsPongWait       = 90 * time.Second
	wsWriteWait      = 10 * time.Second
)

// tickerStream maintains a combined-stream websocket connection and
// fans inbound mini-ticker events out to a single callback. It
// reconnects on read failure and resubscribes the known symbols.
type tickerStream struct {
	logger *zap.Logger
	wsURL  string

	mu       sync.Mutex
	conn     *websocket.Conn
	symbols  map[string]struct{}
	callback func(types.Ticker)
	nextID   int64
	running  bool
	stopCh   chan struct{}
}

func newTickerStream(logger *zap.Logger, wsURL string) *tickerStream {
	return &tickerStream{
		logger:  logger.Named("stream"),
		wsURL:   wsURL,
		symbols: make(map[string]struct{}),
	}
}

func (s *tickerStream) onTicker(fn func(types.Ticker)) {
	s.mu.Lock()
	s.callback = fn
	s.mu.Unlock()
}

// start connects and launches the read loop. Safe to call repeatedly.
func (s *tickerStream) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.connectLocked(); err != nil {
		return err
	}
	s.running = true
	s.stopCh = make(chan struct{})
	go s.readLoop()
	return nil
}

func (s *tickerStream) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// subscribe adds a symbol's ticker channel to the live stream. The
// subscription survives reconnects.
func (s *tickerStream) subscribe(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.symbols[symbol]; ok {
		return nil
	}
	s.symbols[symbol] = struct{}{}
	if !s.running {
		if err := s.connectLocked(); err != nil {
			return err
		}
		s.running = true
		s.stopCh = make(chan struct{})
		go s.readLoop()
	}
	return s.sendSubscribeLocked([]string{symbol})
}

func (s *tickerStream) connectLocked() error {
	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL, nil)
	if err != nil {
		return &Error{Kind: KindNetwork, Msg: fmt.Sprintf("websocket dial: %v", err), Err: err}
	}
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPingHandler(func(payload string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(wsWriteWait))
	})
	s.conn = conn
	return nil
}

func (s *tickerStream) sendSubscribeLocked(symbols []string) error {
	if s.conn == nil {
		return nil
	}
	params := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		params = append(params, strings.ToLower(sym)+"@miniTicker")
	}
	id := atomic.AddInt64(&s.nextID, 1)
	msg := map[string]any{"method": "SUBSCRIBE", "params": params, "id": id}
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(msg)
}

// miniTickerEvent is the Binance 24h mini-ticker payload.
type miniTickerEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Open      string `json:"o"`
	QuoteVol  string `json:"q"`
}

func (s *tickerStream) readLoop() {
	for {
		s.mu.Lock()
		conn := s.conn
		stopCh := s.stopCh
		s.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stopCh:
				return
			default:
			}
			s.logger.Warn("stream read failed, reconnecting", zap.Error(err))
			if !s.reconnect(stopCh) {
				return
			}
			continue
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		s.dispatch(data)
	}
}

func (s *tickerStream) dispatch(data []byte) {
	var ev miniTickerEvent
	if err := json.Unmarshal(data, &ev); err != nil || ev.EventType != "24hrMiniTicker" {
		return
	}

	last := parseFloat(ev.Close)
	open := parseFloat(ev.Open)
	changePct := 0.0
	if open > 0 {
		changePct = (last - open) / open * 100
	}
	t := types.Ticker{
		Symbol:            ev.Symbol,
		Last:              last,
		QuoteVolume24h:    parseFloat(ev.QuoteVol),
		PriceChangePct24h: changePct,
		High24h:           parseFloat(ev.High),
		Low24h:            parseFloat(ev.Low),
	}

	s.mu.Lock()
	cb := s.callback
	s.mu.Unlock()
	if cb != nil {
		cb(t)
	}
}

// reconnect redials until it succeeds or the stream is stopped, then
// resubscribes every known symbol.
func (s *tickerStream) reconnect(stopCh chan struct{}) bool {
	for {
		select {
		case <-stopCh:
			return false
		case <-time.After(wsReconnectDelay):
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return false
		}
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		err := s.connectLocked()
		if err == nil {
			symbols := make([]string, 0, len(s.symbols))
			for sym := range s.symbols {
				symbols = append(symbols, sym)
			}
			if len(symbols) > 0 {
				err = s.sendSubscribeLocked(symbols)
			}
		}
		s.mu.Unlock()

		if err == nil {
			s.logger.Info("stream reconnected")
			return true
		}
		s.logger.Warn("stream reconnect failed", zap.Error(err))
	}
}

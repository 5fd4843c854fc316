package exchange

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"collab-trading-bot/internal/logging"
)

const (
	// priceWindow is how much ticker history the stream retains. The
	// circuit breaker reads the 4h change off this window.
	priceWindow = 4 * time.Hour

	reconnectDelay = 3 * time.Second
	pingInterval   = 30 * time.Second
)

type pricePoint struct {
	ts    time.Time
	price float64
}

// TickerStream maintains a live BTC price feed over websocket with a rolling
// window of observations. When the socket is down or too young, callers fall
// back to REST candles.
type TickerStream struct {
	wsURL  string
	symbol string
	logger *logging.Logger

	mu     sync.RWMutex
	points []pricePoint

	cancel     context.CancelFunc
	wg         sync.WaitGroup
	reconnects int
}

// NewTickerStream creates a stream for one contract. Call Start to connect.
func NewTickerStream(wsURL, symbol string) *TickerStream {
	return &TickerStream{
		wsURL:  wsURL,
		symbol: symbol,
		logger: logging.Default().WithComponent("ticker-stream"),
	}
}

// Start connects and keeps the feed alive until Stop is called.
func (s *TickerStream) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop tears down the connection and waits for the read loop to exit.
func (s *TickerStream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *TickerStream) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.Dial(s.wsURL, nil)
		if err != nil {
			s.reconnects++
			s.logger.Warn("Websocket dial failed, retrying", "error", err, "reconnects", s.reconnects)
			if !sleepCtx(ctx, reconnectDelay) {
				return
			}
			continue
		}

		if err := s.subscribe(conn); err != nil {
			s.logger.Warn("Ticker subscribe failed", "error", err)
			conn.Close()
			if !sleepCtx(ctx, reconnectDelay) {
				return
			}
			continue
		}

		s.reconnects = 0
		s.logger.Info("Ticker stream connected", "symbol", s.symbol)

		s.readLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("Ticker stream lost, reconnecting", "delay", reconnectDelay.String())
		if !sleepCtx(ctx, reconnectDelay) {
			return
		}
	}
}

func (s *TickerStream) subscribe(conn *websocket.Conn) error {
	sub := map[string]interface{}{
		"op":   "subscribe",
		"args": []string{"swap/ticker:" + s.symbol},
	}
	return conn.WriteJSON(sub)
}

func (s *TickerStream) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.WriteMessage(websocket.PingMessage, nil)
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			if ctx.Err() == nil {
				s.logger.Debug("Websocket read error", "error", err)
			}
			return
		}
		s.handleMessage(message)
	}
}

func (s *TickerStream) handleMessage(message []byte) {
	var frame struct {
		Data []struct {
			Symbol string `json:"instrument_id"`
			Last   string `json:"last"`
		} `json:"data"`
	}
	if err := json.Unmarshal(message, &frame); err != nil {
		return
	}

	for _, d := range frame.Data {
		price, err := strconv.ParseFloat(d.Last, 64)
		if err != nil || price <= 0 {
			continue
		}
		s.Record(price, time.Now())
	}
}

// Record appends one observation and prunes anything older than the window.
func (s *TickerStream) Record(price float64, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.points = append(s.points, pricePoint{ts: ts, price: price})

	cutoff := ts.Add(-priceWindow)
	drop := 0
	for drop < len(s.points) && s.points[drop].ts.Before(cutoff) {
		drop++
	}
	s.points = s.points[drop:]
}

// Change4h returns the percent change over the retained window. ok is false
// when the window is too thin to trust (fewer than 2 points or less than an
// hour of coverage); callers then fall back to REST candles.
func (s *TickerStream) Change4h() (change float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.points) < 2 {
		return 0, false
	}
	oldest := s.points[0]
	newest := s.points[len(s.points)-1]
	if newest.ts.Sub(oldest.ts) < time.Hour || oldest.price <= 0 {
		return 0, false
	}
	return (newest.price - oldest.price) / oldest.price * 100, true
}

// LastPrice returns the most recent observation.
func (s *TickerStream) LastPrice() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.points) == 0 {
		return 0, false
	}
	return s.points[len(s.points)-1].price, true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

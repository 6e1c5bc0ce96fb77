package exchange

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"spot-dca-bot-go/internal/logger"

	"github.com/gorilla/websocket"
)

const (
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
	reconnectDelay   = 5 * time.Second
)

// PriceFeed keeps a last-trade price per symbol from the exchange websocket
// stream. The scheduler prefers a fresh feed price over a REST lookup; when
// the feed is stale or disconnected the scheduler falls back transparently.
type PriceFeed struct {
	wsBaseURL     string
	quoteCurrency string

	mu   sync.RWMutex
	last map[string]feedPrice
}

type feedPrice struct {
	price float64
	at    time.Time
}

// NewPriceFeed creates a feed for the given base symbols. Call Run to start
// streaming.
func NewPriceFeed(wsBaseURL, quoteCurrency string) *PriceFeed {
	return &PriceFeed{
		wsBaseURL:     wsBaseURL,
		quoteCurrency: quoteCurrency,
		last:          make(map[string]feedPrice),
	}
}

// Run opens one stream per symbol and keeps each alive until ctx is
// cancelled. It blocks; run it in its own goroutine.
func (f *PriceFeed) Run(ctx context.Context, symbols []string) {
	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			f.streamLoop(ctx, symbol)
		}(symbol)
	}
	wg.Wait()
}

// Latest returns the most recent streamed price and its arrival time.
func (f *PriceFeed) Latest(symbol string) (float64, time.Time, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.last[symbol]
	return p.price, p.at, ok
}

// streamLoop maintains the connection for one symbol, reconnecting after any
// failure.
func (f *PriceFeed) streamLoop(ctx context.Context, symbol string) {
	wsURL := f.wsBaseURL + "/ws/" + strings.ToLower(symbol+f.quoteCurrency) + "@aggTrade"
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			logger.S().Warnf("price feed connect failed for %s: %v, retrying in %s", symbol, err, reconnectDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		logger.S().Infof("price feed connected for %s", symbol)
		if err := f.readMessages(ctx, conn, symbol); err != nil && ctx.Err() == nil {
			logger.S().Warnf("price feed for %s dropped: %v, reconnecting", symbol, err)
		}
		conn.Close()

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// readMessages consumes trade events on an established connection and keeps
// the heartbeat alive. Returns when the connection breaks or ctx is done.
func (f *PriceFeed) readMessages(ctx context.Context, conn *websocket.Conn, symbol string) error {
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})

	pingTicker := time.NewTicker(streamPingPeriod)
	defer pingTicker.Stop()

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-ctx.Done():
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
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
			return err
		}

		var trade struct {
			Price json.Number `json:"p"`
		}
		if err := json.Unmarshal(message, &trade); err != nil {
			logger.S().Debugf("price feed parse error for %s: %v", symbol, err)
			continue
		}
		price, err := trade.Price.Float64()
		if err != nil || price <= 0 {
			continue
		}

		f.mu.Lock()
		f.last[symbol] = feedPrice{price: price, at: time.Now()}
		f.mu.Unlock()
	}
}

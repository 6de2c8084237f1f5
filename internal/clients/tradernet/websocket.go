package tradernet

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/helmsman/internal/events"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10
)

// MarketRefresher is the market-hours oracle surface the websocket feeds:
// a push update invalidates the cached open-market snapshot.
type MarketRefresher interface {
	Refresh(t time.Time)
}

// wsMarket is one market entry in a "markets" channel push.
type wsMarket struct {
	Code   string `json:"n2"`
	Name   string `json:"n"`
	Status string `json:"s"`
}

type wsMarketData struct {
	Markets []wsMarket `json:"m"`
}

// MarketStatusWebSocket maintains a push connection for market open/close
// transitions. Pushes refresh the market-hours oracle and emit
// MarketsStatusChanged; polling the schedule tables remains the fallback
// when the socket is down.
type MarketStatusWebSocket struct {
	url        string
	httpClient *http.Client
	eventBus   *events.Bus
	markets    MarketRefresher
	log        zerolog.Logger

	mu           sync.RWMutex
	conn         *websocket.Conn
	connCtx      context.Context
	cancelFunc   context.CancelFunc
	connected    bool
	reconnecting bool
	stopped      bool
	stopChan     chan struct{}
}

// http1Client forces HTTP/1.1: the endpoint sits behind a proxy that
// negotiates HTTP/2 via ALPN, but the websocket upgrade needs HTTP/1.1.
func http1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// NewMarketStatusWebSocket creates the market-status push client.
func NewMarketStatusWebSocket(url string, eventBus *events.Bus, markets MarketRefresher, log zerolog.Logger) *MarketStatusWebSocket {
	return &MarketStatusWebSocket{
		url:        url,
		httpClient: http1Client(),
		eventBus:   eventBus,
		markets:    markets,
		log:        log.With().Str("client", "market_status_websocket").Logger(),
		stopChan:   make(chan struct{}),
	}
}

// Start connects and begins the read loop. A failed initial connection is
// not fatal: the reconnect loop keeps trying in the background.
func (ws *MarketStatusWebSocket) Start() error {
	if err := ws.connect(); err != nil {
		ws.log.Warn().Err(err).Msg("Initial websocket connection failed, retrying in background")
		go ws.reconnectLoop()
		return err
	}

	ws.mu.RLock()
	ctx := ws.connCtx
	ws.mu.RUnlock()
	go ws.readLoop(ctx)
	return nil
}

// Stop shuts the connection down and stops reconnecting.
func (ws *MarketStatusWebSocket) Stop() error {
	ws.mu.Lock()
	if ws.stopped {
		ws.mu.Unlock()
		return nil
	}
	ws.stopped = true
	ws.mu.Unlock()

	close(ws.stopChan)
	return ws.disconnect()
}

// IsConnected reports the current connection state.
func (ws *MarketStatusWebSocket) IsConnected() bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.connected
}

func (ws *MarketStatusWebSocket) connect() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, ws.url, &websocket.DialOptions{
		HTTPClient: ws.httpClient,
	})
	if err != nil {
		return fmt.Errorf("failed to dial websocket: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	ws.conn = conn
	ws.connCtx = connCtx
	ws.cancelFunc = connCancel
	ws.connected = true

	if err := ws.subscribe(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		ws.conn = nil
		ws.connCtx = nil
		ws.cancelFunc = nil
		ws.connected = false
		return fmt.Errorf("failed to subscribe to markets channel: %w", err)
	}

	ws.log.Info().Str("url", ws.url).Msg("Connected to market status websocket")
	return nil
}

func (ws *MarketStatusWebSocket) disconnect() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.conn == nil {
		return nil
	}
	if ws.cancelFunc != nil {
		ws.cancelFunc()
		ws.cancelFunc = nil
	}
	err := ws.conn.Close(websocket.StatusNormalClosure, "")
	ws.conn = nil
	ws.connCtx = nil
	ws.connected = false
	if err != nil {
		return fmt.Errorf("error closing websocket: %w", err)
	}
	return nil
}

// subscribe joins the markets channel. Protocol: a JSON array whose first
// element names the channel.
func (ws *MarketStatusWebSocket) subscribe(ctx context.Context) error {
	data, err := json.Marshal([]string{"markets"})
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return ws.conn.Write(writeCtx, websocket.MessageText, data)
}

func (ws *MarketStatusWebSocket) readLoop(ctx context.Context) {
	defer func() {
		ws.mu.RLock()
		stopped := ws.stopped
		ws.mu.RUnlock()
		if !stopped {
			go ws.reconnectLoop()
		}
	}()

	for {
		select {
		case <-ws.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		ws.mu.RLock()
		conn := ws.conn
		ws.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				ws.log.Info().Int("status", int(status)).Msg("Websocket closed normally")
			case ctx.Err() != nil:
				// Intentional disconnect.
			default:
				ws.log.Error().Err(err).Msg("Websocket read error")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		if err := ws.handleMessage(message); err != nil {
			ws.log.Error().Err(err).Msg("Failed to handle websocket message")
		}
	}
}

// handleMessage parses a ["channel", data] frame and reacts to markets
// pushes.
func (ws *MarketStatusWebSocket) handleMessage(message []byte) error {
	var frame []json.RawMessage
	if err := json.Unmarshal(message, &frame); err != nil {
		return fmt.Errorf("failed to parse message frame: %w", err)
	}
	if len(frame) < 2 {
		return fmt.Errorf("message frame too short: %d elements", len(frame))
	}

	var channel string
	if err := json.Unmarshal(frame[0], &channel); err != nil {
		return fmt.Errorf("failed to parse channel name: %w", err)
	}
	if channel != "markets" {
		return nil
	}

	var data wsMarketData
	if err := json.Unmarshal(frame[1], &data); err != nil {
		return fmt.Errorf("failed to parse markets payload: %w", err)
	}
	if len(data.Markets) == 0 {
		return nil
	}

	openCount := 0
	for _, m := range data.Markets {
		if m.Status == "open" {
			openCount++
		}
	}
	ws.log.Debug().
		Int("markets", len(data.Markets)).
		Int("open", openCount).
		Msg("Market status push received")

	if ws.markets != nil {
		ws.markets.Refresh(time.Now())
	}
	if ws.eventBus != nil {
		ws.eventBus.Emit(events.MarketsStatusChanged, "market_status_websocket", map[string]interface{}{
			"market_count": len(data.Markets),
			"open_count":   openCount,
			"closed_count": len(data.Markets) - openCount,
		})
	}
	return nil
}

func (ws *MarketStatusWebSocket) reconnectLoop() {
	ws.mu.Lock()
	if ws.reconnecting || ws.stopped {
		ws.mu.Unlock()
		return
	}
	ws.reconnecting = true
	ws.mu.Unlock()

	defer func() {
		ws.mu.Lock()
		ws.reconnecting = false
		ws.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-ws.stopChan:
			return
		default:
		}

		attempt++
		delay := backoffDelay(attempt)
		if attempt > maxReconnectAttempts {
			ws.log.Warn().Int("attempt", attempt).Dur("delay", delay).
				Msg("Websocket reconnect past attempt limit, still retrying")
		}

		select {
		case <-time.After(delay):
		case <-ws.stopChan:
			return
		}

		if err := ws.connect(); err != nil {
			ws.log.Error().Err(err).Int("attempt", attempt).Msg("Websocket reconnect failed")
			continue
		}

		ws.log.Info().Int("attempt", attempt).Msg("Websocket reconnected")
		ws.mu.RLock()
		ctx := ws.connCtx
		ws.mu.RUnlock()
		go ws.readLoop(ctx)
		return
	}
}

// backoffDelay grows baseReconnectDelay * 2^(attempt-1), capped.
func backoffDelay(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}

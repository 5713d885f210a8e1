// Package feed streams watched-wallet trade activity from the Polymarket
// real-time data service and converts it into trade events.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/copybot/internal/domain"
)

const (
	// DefaultURL is the public real-time data service endpoint.
	DefaultURL = "wss://ws-live-data.polymarket.com"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

type subscription struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
}

type subscribeCommand struct {
	Action        string         `json:"action"`
	Subscriptions []subscription `json:"subscriptions"`
}

type envelope struct {
	Action  string          `json:"action"`
	Status  string          `json:"status"`
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// activityMessage is one trade on the "activity" topic.
type activityMessage struct {
	ProxyWallet     string  `json:"proxyWallet"`
	ConditionID     string  `json:"conditionId"`
	Asset           string  `json:"asset"`
	Side            string  `json:"side"`
	Size            float64 `json:"size"`
	USDCSize        float64 `json:"usdcSize"`
	Price           float64 `json:"price"`
	Timestamp       int64   `json:"timestamp"`
	TransactionHash string  `json:"transactionHash"`
}

// usdNotional returns the trade's USD size, falling back to size*price when
// the stream omits the usdcSize field.
func (a activityMessage) usdNotional() float64 {
	if a.USDCSize > 0 {
		return a.USDCSize
	}
	return a.Size * a.Price
}

// eventTime normalizes the stream timestamp, which arrives in seconds or
// milliseconds depending on the message.
func (a activityMessage) eventTime() time.Time {
	ts := a.Timestamp
	if ts <= 0 {
		return time.Time{}
	}
	if ts < 1e12 {
		return time.Unix(ts, 0).UTC()
	}
	return time.UnixMilli(ts).UTC()
}

// Feed maintains a connection to the real-time data service, subscribes to
// the activity trade stream, and emits trade events for watched wallets into
// the events channel. Reconnects with exponential backoff on disconnect.
type Feed struct {
	url     string
	watched map[string]struct{}
	events  chan<- domain.TradeEvent
	logger  *slog.Logger
}

// New creates a Feed. watched addresses are normalized to lowercase; events
// from other wallets are dropped.
func New(url string, watched []string, events chan<- domain.TradeEvent, logger *slog.Logger) *Feed {
	if url == "" {
		url = DefaultURL
	}
	set := make(map[string]struct{}, len(watched))
	for _, addr := range watched {
		set[strings.ToLower(addr)] = struct{}{}
	}
	return &Feed{
		url:     url,
		watched: set,
		events:  events,
		logger:  logger.With(slog.String("component", "rtds_feed")),
	}
}

// Run connects and consumes the stream until ctx is cancelled. Connection
// failures and disconnects trigger reconnection with exponential backoff;
// the backoff resets after a successful subscribe.
func (f *Feed) Run(ctx context.Context) error {
	if len(f.watched) == 0 {
		return fmt.Errorf("feed: no watched addresses configured")
	}

	delay := reconnectDelay
	for {
		started := time.Now()
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > maxReconnectDelay {
			delay = reconnectDelay
		}
		f.logger.Warn("stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (f *Feed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("feed: connect %s: %w", f.url, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	cmd := subscribeCommand{
		Action:        "subscribe",
		Subscriptions: []subscription{{Topic: "activity", Type: "trades"}},
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("subscribed to activity stream",
		slog.String("url", f.url),
		slog.Int("watched", len(f.watched)),
	)

	// Close the connection when ctx ends so the blocking read returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		case <-done:
		}
	}()
	go f.pingLoop(conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read: %w: %w", domain.ErrWSDisconnect, err)
		}
		f.handleMessage(ctx, raw)
	}
}

func (f *Feed) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses one raw frame and emits a trade event when it is an
// activity trade from a watched wallet. Unparseable frames are dropped.
func (f *Feed) handleMessage(ctx context.Context, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	if env.Action == "subscribed" || env.Status == "subscribed" {
		f.logger.Debug("subscription confirmed")
		return
	}
	if env.Topic != "activity" || env.Type != "trades" || len(env.Payload) == 0 {
		return
	}

	var act activityMessage
	if err := json.Unmarshal(env.Payload, &act); err != nil {
		f.logger.Debug("malformed activity payload", slog.String("error", err.Error()))
		return
	}

	trader := strings.ToLower(act.ProxyWallet)
	if _, ok := f.watched[trader]; !ok {
		return
	}
	if act.TransactionHash == "" {
		f.logger.Debug("activity without tx hash dropped", slog.String("trader", trader))
		return
	}

	ev := domain.TradeEvent{
		Trader:    trader,
		Market:    act.ConditionID,
		AssetID:   act.Asset,
		Side:      sideFromActivity(act.Side),
		SizeUSD:   act.usdNotional(),
		Price:     act.Price,
		Timestamp: act.eventTime(),
		Sequence:  act.Timestamp,
		TxHash:    act.TransactionHash,
	}

	select {
	case f.events <- ev:
	case <-ctx.Done():
	}
}

func sideFromActivity(s string) domain.Side {
	if strings.EqualFold(s, "SELL") {
		return domain.SideSell
	}
	return domain.SideBuy
}

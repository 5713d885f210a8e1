package feed

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copybot/internal/domain"
)

func newTestFeed(events chan<- domain.TradeEvent, watched ...string) *Feed {
	return New("", watched, events, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandleMessageEmitsWatchedTrade(t *testing.T) {
	events := make(chan domain.TradeEvent, 1)
	f := newTestFeed(events, "0xAbC123")

	raw := []byte(`{
		"topic": "activity",
		"type": "trades",
		"payload": {
			"proxyWallet": "0xABC123",
			"conditionId": "cond-1",
			"asset": "tok-1",
			"side": "BUY",
			"size": 100,
			"usdcSize": 55,
			"price": 0.55,
			"timestamp": 1767225600,
			"transactionHash": "0xdead"
		}
	}`)
	f.handleMessage(context.Background(), raw)

	require.Len(t, events, 1)
	ev := <-events
	assert.Equal(t, "0xabc123", ev.Trader)
	assert.Equal(t, "cond-1", ev.Market)
	assert.Equal(t, "tok-1", ev.AssetID)
	assert.Equal(t, domain.SideBuy, ev.Side)
	assert.Equal(t, 55.0, ev.SizeUSD)
	assert.Equal(t, 0.55, ev.Price)
	assert.Equal(t, "0xdead", ev.TxHash)
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), ev.Timestamp)
}

func TestHandleMessageFiltersUnwatchedWallet(t *testing.T) {
	events := make(chan domain.TradeEvent, 1)
	f := newTestFeed(events, "0xabc123")

	raw := []byte(`{
		"topic": "activity",
		"type": "trades",
		"payload": {
			"proxyWallet": "0xother",
			"side": "BUY",
			"usdcSize": 10,
			"transactionHash": "0x1"
		}
	}`)
	f.handleMessage(context.Background(), raw)
	assert.Empty(t, events)
}

func TestHandleMessageIgnoresOtherTopics(t *testing.T) {
	events := make(chan domain.TradeEvent, 1)
	f := newTestFeed(events, "0xabc123")

	f.handleMessage(context.Background(), []byte(`{"topic":"comments","type":"new","payload":{}}`))
	f.handleMessage(context.Background(), []byte(`{"action":"subscribed"}`))
	f.handleMessage(context.Background(), []byte(`not json`))
	assert.Empty(t, events)
}

func TestHandleMessageDropsMissingTxHash(t *testing.T) {
	events := make(chan domain.TradeEvent, 1)
	f := newTestFeed(events, "0xabc123")

	raw := []byte(`{
		"topic": "activity",
		"type": "trades",
		"payload": {"proxyWallet": "0xabc123", "side": "SELL", "usdcSize": 10}
	}`)
	f.handleMessage(context.Background(), raw)
	assert.Empty(t, events)
}

func TestUSDNotionalFallback(t *testing.T) {
	a := activityMessage{Size: 200, Price: 0.4}
	assert.Equal(t, 80.0, a.usdNotional())

	a.USDCSize = 75
	assert.Equal(t, 75.0, a.usdNotional())
}

func TestEventTimeHandlesSecondsAndMillis(t *testing.T) {
	sec := activityMessage{Timestamp: 1767225600}
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), sec.eventTime())

	ms := activityMessage{Timestamp: 1767225600000}
	assert.Equal(t, time.UnixMilli(1767225600000).UTC(), ms.eventTime())

	assert.True(t, activityMessage{}.eventTime().IsZero())
}

func TestSideFromActivity(t *testing.T) {
	assert.Equal(t, domain.SideSell, sideFromActivity("SELL"))
	assert.Equal(t, domain.SideSell, sideFromActivity("sell"))
	assert.Equal(t, domain.SideBuy, sideFromActivity("BUY"))
}

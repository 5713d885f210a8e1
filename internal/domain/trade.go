package domain

import "time"

// Side indicates whether a trade buys or sells the outcome token.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeEvent is one observed trade on a watched wallet, as delivered by the
// real-time data stream. Immutable; the pipeline consumes each event exactly
// once and derives its idempotency key from the event identity.
type TradeEvent struct {
	Trader    string // watched wallet address, lowercase
	Market    string // condition ID
	AssetID   string // outcome token ID
	Side      Side
	SizeUSD   float64 // notional traded by the watched wallet
	Price     float64 // fill price in USD (0..1 for outcome tokens)
	Timestamp time.Time
	Sequence  int64 // stream sequence marker (RTDS timestamp in ms)
	TxHash    string
}

// IdempotencyKey returns the stable identity used for de-duplication and for
// the client order idempotency key. Two deliveries of the same on-chain trade
// always produce the same key.
func (e TradeEvent) IdempotencyKey() string {
	return e.Trader + ":" + e.TxHash
}

// SignedSizeUSD returns the notional with a sign: positive for buys,
// negative for sells.
func (e TradeEvent) SignedSizeUSD() float64 {
	if e.Side == SideSell {
		return -e.SizeUSD
	}
	return e.SizeUSD
}

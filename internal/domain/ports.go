package domain

import "context"

// OrderSubmitter places a single order with the venue. Implementations report
// transient failures via SubmissionError{Transient: true} so the executor can
// retry them; any other error is terminal for the order.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// BalanceProvider reports the available collateral balance in USD.
type BalanceProvider interface {
	BalanceUSD(ctx context.Context) (float64, error)
}

// DedupStore records seen event identities for a bounded retention window.
// MarkSeen returns true when key was not previously recorded, atomically
// marking it; false when the key is a duplicate.
type DedupStore interface {
	MarkSeen(ctx context.Context, key string) (bool, error)
}

// LedgerCheckpointStore persists and restores ledger state across restarts.
// Load returns ErrNotFound when no checkpoint exists.
type LedgerCheckpointStore interface {
	Save(ctx context.Context, cp LedgerCheckpoint) error
	Load(ctx context.Context) (LedgerCheckpoint, error)
}

// TradeHandler consumes trade events from a feed.
type TradeHandler interface {
	HandleTrade(ctx context.Context, ev TradeEvent)
}

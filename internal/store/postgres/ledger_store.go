package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// LedgerStore implements domain.LedgerCheckpointStore using PostgreSQL. The
// checkpoint is a single row holding the position and daily-volume maps as
// JSONB; Save replaces it wholesale.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Save upserts the checkpoint row.
func (s *LedgerStore) Save(ctx context.Context, cp domain.LedgerCheckpoint) error {
	positions, err := json.Marshal(cp.Positions)
	if err != nil {
		return fmt.Errorf("postgres: marshal positions: %w", err)
	}
	volumes, err := json.Marshal(cp.DailyVolume)
	if err != nil {
		return fmt.Errorf("postgres: marshal daily volume: %w", err)
	}

	const query = `
		INSERT INTO ledger_checkpoint (id, positions, daily_volume, aggregate_daily_volume, last_reset, updated_at)
		VALUES (1, $1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			positions              = EXCLUDED.positions,
			daily_volume           = EXCLUDED.daily_volume,
			aggregate_daily_volume = EXCLUDED.aggregate_daily_volume,
			last_reset             = EXCLUDED.last_reset,
			updated_at             = NOW()`

	if _, err := s.pool.Exec(ctx, query, positions, volumes, cp.AggregateDailyVolume, cp.LastReset); err != nil {
		return fmt.Errorf("postgres: save ledger checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint row. Returns domain.ErrNotFound when no
// checkpoint has been saved yet.
func (s *LedgerStore) Load(ctx context.Context) (domain.LedgerCheckpoint, error) {
	const query = `
		SELECT positions, daily_volume, aggregate_daily_volume, last_reset
		FROM ledger_checkpoint WHERE id = 1`

	var positions, volumes []byte
	var cp domain.LedgerCheckpoint
	err := s.pool.QueryRow(ctx, query).Scan(&positions, &volumes, &cp.AggregateDailyVolume, &cp.LastReset)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LedgerCheckpoint{}, domain.ErrNotFound
		}
		return domain.LedgerCheckpoint{}, fmt.Errorf("postgres: load ledger checkpoint: %w", err)
	}

	if err := json.Unmarshal(positions, &cp.Positions); err != nil {
		return domain.LedgerCheckpoint{}, fmt.Errorf("postgres: unmarshal positions: %w", err)
	}
	if err := json.Unmarshal(volumes, &cp.DailyVolume); err != nil {
		return domain.LedgerCheckpoint{}, fmt.Errorf("postgres: unmarshal daily volume: %w", err)
	}
	return cp, nil
}

var _ domain.LedgerCheckpointStore = (*LedgerStore)(nil)

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"nse-trading-bot/internal/instrument"
	"nse-trading-bot/internal/portfolio"
	"nse-trading-bot/internal/signals"
)

// SavePosition upserts one position row, mirroring the in-memory aggregate
func (r *Repository) SavePosition(ctx context.Context, p *portfolio.Position) error {
	query := `
		INSERT INTO positions (
			id, instrument, slot, entry_time, entry_price, lots, quantity,
			initial_stop, current_stop, highest_close, atr_at_entry,
			point_value, limiter, synthetic_strike, status, integrity_suspect,
			exit_time, exit_price, realized_pnl, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, NOW())
		ON CONFLICT (id) DO UPDATE SET
			current_stop = EXCLUDED.current_stop,
			highest_close = EXCLUDED.highest_close,
			status = EXCLUDED.status,
			integrity_suspect = EXCLUDED.integrity_suspect,
			exit_time = EXCLUDED.exit_time,
			exit_price = EXCLUDED.exit_price,
			realized_pnl = EXCLUDED.realized_pnl,
			updated_at = NOW()`

	var exitTime interface{}
	if !p.ExitTime.IsZero() {
		exitTime = p.ExitTime
	}

	_, err := r.db.Pool.Exec(ctx, query,
		p.ID, string(p.Instrument), string(p.Slot), p.EntryTime, p.EntryPrice,
		p.Lots, p.Quantity, p.InitialStop, p.CurrentStop, p.HighestClose,
		p.ATRAtEntry, p.PointValue, string(p.LimiterAtEntry), p.SyntheticStrike,
		string(p.Status), p.IntegritySuspect, exitTime, p.ExitPrice, p.RealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// OpenPositions loads all non-closed positions for boot-time restore
func (r *Repository) OpenPositions(ctx context.Context) ([]*portfolio.Position, error) {
	query := `
		SELECT id, instrument, slot, entry_time, entry_price, lots, quantity,
		       initial_stop, current_stop, highest_close, atr_at_entry,
		       point_value, COALESCE(limiter, ''), synthetic_strike, status, integrity_suspect
		FROM positions
		WHERE status != 'closed'
		ORDER BY entry_time`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query open positions: %w", err)
	}
	defer rows.Close()

	var out []*portfolio.Position
	for rows.Next() {
		p := &portfolio.Position{}
		var inst, slot, limiter, status string
		if err := rows.Scan(&p.ID, &inst, &slot, &p.EntryTime, &p.EntryPrice,
			&p.Lots, &p.Quantity, &p.InitialStop, &p.CurrentStop, &p.HighestClose,
			&p.ATRAtEntry, &p.PointValue, &limiter, &p.SyntheticStrike, &status, &p.IntegritySuspect); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.Instrument = instrument.Instrument(inst)
		p.Slot = signals.Slot(slot)
		p.LimiterAtEntry = portfolio.Limiter(limiter)
		p.Status = portfolio.Status(status)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveClosedEquity persists the single-row closed equity carry
func (r *Repository) SaveClosedEquity(ctx context.Context, equity float64) error {
	query := `
		INSERT INTO portfolio_meta (id, closed_equity, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET closed_equity = $1, updated_at = NOW()`
	if _, err := r.db.Pool.Exec(ctx, query, equity); err != nil {
		return fmt.Errorf("save closed equity: %w", err)
	}
	return nil
}

// ClosedEquity loads the persisted equity carry. found is false on a
// fresh database.
func (r *Repository) ClosedEquity(ctx context.Context) (equity float64, found bool, err error) {
	err = r.db.Pool.QueryRow(ctx, `SELECT closed_equity FROM portfolio_meta WHERE id = 1`).Scan(&equity)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load closed equity: %w", err)
	}
	return equity, true, nil
}

// ClosedPositionsSince lists positions closed on or after a cutoff
func (r *Repository) ClosedPositionsSince(ctx context.Context, cutoff time.Time) ([]*portfolio.Position, error) {
	query := `
		SELECT id, instrument, slot, entry_time, entry_price, lots, quantity,
		       COALESCE(exit_price, 0), COALESCE(realized_pnl, 0), exit_time
		FROM positions
		WHERE status = 'closed' AND exit_time >= $1
		ORDER BY exit_time`

	rows, err := r.db.Pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query closed positions: %w", err)
	}
	defer rows.Close()

	var out []*portfolio.Position
	for rows.Next() {
		p := &portfolio.Position{Status: portfolio.StatusClosed}
		var inst, slot string
		var exitTime *time.Time
		if err := rows.Scan(&p.ID, &inst, &slot, &p.EntryTime, &p.EntryPrice,
			&p.Lots, &p.Quantity, &p.ExitPrice, &p.RealizedPnL, &exitTime); err != nil {
			return nil, fmt.Errorf("scan closed position: %w", err)
		}
		p.Instrument = instrument.Instrument(inst)
		p.Slot = signals.Slot(slot)
		if exitTime != nil {
			p.ExitTime = *exitTime
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

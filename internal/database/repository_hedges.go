package database

import (
	"context"
	"fmt"
	"time"
)

// HedgeTransaction is one append-only hedge ledger row
type HedgeTransaction struct {
	ID          int64     `json:"id"`
	SessionDate string    `json:"session_date"`
	Action      string    `json:"action"` // BUY or SELL
	Symbol      string    `json:"symbol"`
	IndexName   string    `json:"index_name"`
	Strike      float64   `json:"strike"`
	OptionType  string    `json:"option_type"`
	Quantity    int       `json:"quantity"`
	Price       float64   `json:"price"`
	OTMDistance float64   `json:"otm_distance"`
	MBPR        float64   `json:"mbpr,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ActiveHedge is a currently-held hedge leg
type ActiveHedge struct {
	SessionDate string    `json:"session_date"`
	Symbol      string    `json:"symbol"`
	Strike      float64   `json:"strike"`
	OptionType  string    `json:"option_type"`
	IndexName   string    `json:"index_name"`
	Quantity    int       `json:"quantity"`
	EntryPrice  float64   `json:"entry_price"`
	OTMDistance float64   `json:"otm_distance"`
	BoughtAt    time.Time `json:"bought_at"`
}

// AppendHedgeTransaction appends one ledger row
func (r *Repository) AppendHedgeTransaction(ctx context.Context, tx *HedgeTransaction) error {
	query := `
		INSERT INTO hedge_transactions (
			session_date, action, symbol, index_name, strike, option_type,
			quantity, price, otm_distance, mbpr, reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	err := r.db.Pool.QueryRow(ctx, query,
		tx.SessionDate, tx.Action, tx.Symbol, tx.IndexName, tx.Strike,
		tx.OptionType, tx.Quantity, tx.Price, tx.OTMDistance, tx.MBPR, tx.Reason,
	).Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("append hedge transaction: %w", err)
	}
	return nil
}

// DailyHedgeSpend sums the day's hedge buy cost
func (r *Repository) DailyHedgeSpend(ctx context.Context, sessionDate string) (float64, error) {
	var spend float64
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(price * quantity), 0)
		FROM hedge_transactions
		WHERE session_date = $1 AND action = 'BUY'`, sessionDate).Scan(&spend)
	if err != nil {
		return 0, fmt.Errorf("sum hedge spend: %w", err)
	}
	return spend, nil
}

// SaveActiveHedge registers a held hedge leg
func (r *Repository) SaveActiveHedge(ctx context.Context, h *ActiveHedge) error {
	query := `
		INSERT INTO active_hedges (
			session_date, symbol, strike, option_type, index_name,
			quantity, entry_price, otm_distance, bought_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_date, symbol, strike, option_type) DO UPDATE SET
			quantity = active_hedges.quantity + EXCLUDED.quantity`

	_, err := r.db.Pool.Exec(ctx, query,
		h.SessionDate, h.Symbol, h.Strike, h.OptionType, h.IndexName,
		h.Quantity, h.EntryPrice, h.OTMDistance, h.BoughtAt,
	)
	if err != nil {
		return fmt.Errorf("save active hedge: %w", err)
	}
	return nil
}

// RemoveActiveHedge deletes a hedge leg after it is sold
func (r *Repository) RemoveActiveHedge(ctx context.Context, sessionDate, symbol string, strike float64, optionType string) error {
	_, err := r.db.Pool.Exec(ctx, `
		DELETE FROM active_hedges
		WHERE session_date = $1 AND symbol = $2 AND strike = $3 AND option_type = $4`,
		sessionDate, symbol, strike, optionType)
	if err != nil {
		return fmt.Errorf("remove active hedge: %w", err)
	}
	return nil
}

// ActiveHedges lists the held hedge legs for a session
func (r *Repository) ActiveHedges(ctx context.Context, sessionDate string) ([]ActiveHedge, error) {
	query := `
		SELECT symbol, strike, option_type, index_name, quantity,
		       entry_price, otm_distance, bought_at
		FROM active_hedges
		WHERE session_date = $1
		ORDER BY otm_distance`

	rows, err := r.db.Pool.Query(ctx, query, sessionDate)
	if err != nil {
		return nil, fmt.Errorf("query active hedges: %w", err)
	}
	defer rows.Close()

	var out []ActiveHedge
	for rows.Next() {
		h := ActiveHedge{SessionDate: sessionDate}
		if err := rows.Scan(&h.Symbol, &h.Strike, &h.OptionType, &h.IndexName,
			&h.Quantity, &h.EntryPrice, &h.OTMDistance, &h.BoughtAt); err != nil {
			return nil, fmt.Errorf("scan active hedge: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// MarginSnapshot is one five-minute utilisation reading
type MarginSnapshot struct {
	ID             int64     `json:"id"`
	SessionDate    string    `json:"session_date"`
	TakenAt        time.Time `json:"taken_at"`
	UsedMargin     float64   `json:"used_margin"`
	BaselineMargin float64   `json:"baseline_margin"`
	IntradayUsed   float64   `json:"intraday_used"`
	TotalBudget    float64   `json:"total_budget"`
	UtilisationPct float64   `json:"utilisation_pct"`
	OpenPositions  int       `json:"open_positions"`
}

// DailySummary aggregates one session's snapshots
type DailySummary struct {
	SessionDate        string  `json:"session_date"`
	SnapshotCount      int     `json:"snapshot_count"`
	PeakUtilisationPct float64 `json:"peak_utilisation_pct"`
	AvgUtilisationPct  float64 `json:"avg_utilisation_pct"`
	PeakIntradayUsed   float64 `json:"peak_intraday_used"`
	HedgeSpend         float64 `json:"hedge_spend"`
	RealizedPnL        float64 `json:"realized_pnl"`
}

// SaveMarginSnapshot appends one snapshot row
func (r *Repository) SaveMarginSnapshot(ctx context.Context, s *MarginSnapshot) error {
	query := `
		INSERT INTO margin_snapshots (
			session_date, taken_at, used_margin, baseline_margin,
			intraday_used, total_budget, utilisation_pct, open_positions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	err := r.db.Pool.QueryRow(ctx, query,
		s.SessionDate, s.TakenAt, s.UsedMargin, s.BaselineMargin,
		s.IntradayUsed, s.TotalBudget, s.UtilisationPct, s.OpenPositions,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("insert margin snapshot: %w", err)
	}
	return nil
}

// SnapshotsForSession lists a session's snapshots in time order
func (r *Repository) SnapshotsForSession(ctx context.Context, sessionDate string) ([]MarginSnapshot, error) {
	query := `
		SELECT id, taken_at, used_margin, baseline_margin, intraday_used,
		       total_budget, utilisation_pct, open_positions
		FROM margin_snapshots
		WHERE session_date = $1
		ORDER BY taken_at`

	rows, err := r.db.Pool.Query(ctx, query, sessionDate)
	if err != nil {
		return nil, fmt.Errorf("query margin snapshots: %w", err)
	}
	defer rows.Close()

	var out []MarginSnapshot
	for rows.Next() {
		s := MarginSnapshot{SessionDate: sessionDate}
		if err := rows.Scan(&s.ID, &s.TakenAt, &s.UsedMargin, &s.BaselineMargin,
			&s.IntradayUsed, &s.TotalBudget, &s.UtilisationPct, &s.OpenPositions); err != nil {
			return nil, fmt.Errorf("scan margin snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveBaseline records the session's margin baseline once. Re-capture on
// the same date is a no-op so the one-shot invariant survives restarts.
func (r *Repository) SaveBaseline(ctx context.Context, sessionDate string, baseline float64, capturedAt time.Time) (bool, error) {
	query := `
		INSERT INTO session_baselines (session_date, baseline_margin, captured_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_date) DO NOTHING`

	tag, err := r.db.Pool.Exec(ctx, query, sessionDate, baseline, capturedAt)
	if err != nil {
		return false, fmt.Errorf("save baseline: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Baseline loads the session's margin baseline if captured
func (r *Repository) Baseline(ctx context.Context, sessionDate string) (baseline float64, found bool, err error) {
	err = r.db.Pool.QueryRow(ctx,
		`SELECT baseline_margin FROM session_baselines WHERE session_date = $1`,
		sessionDate).Scan(&baseline)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load baseline: %w", err)
	}
	return baseline, true, nil
}

// ClearBaseline removes a session baseline so it can be re-captured
func (r *Repository) ClearBaseline(ctx context.Context, sessionDate string) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM session_baselines WHERE session_date = $1`, sessionDate)
	if err != nil {
		return fmt.Errorf("clear baseline: %w", err)
	}
	return nil
}

// SaveDailySummary upserts the end-of-day summary
func (r *Repository) SaveDailySummary(ctx context.Context, s *DailySummary) error {
	query := `
		INSERT INTO daily_summaries (
			session_date, snapshot_count, peak_utilisation_pct,
			avg_utilisation_pct, peak_intraday_used, hedge_spend, realized_pnl
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_date) DO UPDATE SET
			snapshot_count = EXCLUDED.snapshot_count,
			peak_utilisation_pct = EXCLUDED.peak_utilisation_pct,
			avg_utilisation_pct = EXCLUDED.avg_utilisation_pct,
			peak_intraday_used = EXCLUDED.peak_intraday_used,
			hedge_spend = EXCLUDED.hedge_spend,
			realized_pnl = EXCLUDED.realized_pnl`

	_, err := r.db.Pool.Exec(ctx, query,
		s.SessionDate, s.SnapshotCount, s.PeakUtilisationPct,
		s.AvgUtilisationPct, s.PeakIntradayUsed, s.HedgeSpend, s.RealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("save daily summary: %w", err)
	}
	return nil
}

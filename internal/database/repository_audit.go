package database

import (
	"context"
	"fmt"

	"nse-trading-bot/internal/signals"
)

// SaveAuditRecord appends one audit row for a processed signal
func (r *Repository) SaveAuditRecord(ctx context.Context, rec *signals.AuditRecord) error {
	query := `
		INSERT INTO audit_records (
			id, fingerprint, instrument, kind, slot, outcome, reason,
			signal, validation, sizing, risk, execution, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	sigJSON, err := rec.SignalJSON()
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}

	_, err = r.db.Pool.Exec(ctx, query,
		rec.ID,
		rec.Fingerprint.Key(),
		string(rec.Signal.Instrument),
		string(rec.Signal.Kind),
		string(rec.Signal.Slot),
		string(rec.Outcome),
		rec.Reason,
		sigJSON,
		nullableJSON(rec.Validation),
		nullableJSON(rec.Sizing),
		nullableJSON(rec.Risk),
		nullableJSON(rec.Execution),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

// AuditRow is a lean audit listing row
type AuditRow struct {
	ID         string `json:"id"`
	Instrument string `json:"instrument"`
	Kind       string `json:"kind"`
	Slot       string `json:"slot"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason"`
	CreatedAt  string `json:"created_at"`
}

// RecentAuditRecords lists the newest audit rows
func (r *Repository) RecentAuditRecords(ctx context.Context, limit int) ([]AuditRow, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, instrument, kind, slot, outcome, COALESCE(reason, ''),
		       to_char(created_at, 'YYYY-MM-DD"T"HH24:MI:SSOF')
		FROM audit_records
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var row AuditRow
		if err := rows.Scan(&row.ID, &row.Instrument, &row.Kind, &row.Slot,
			&row.Outcome, &row.Reason, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// CountOutcomes returns per-outcome audit counts for one session date
func (r *Repository) CountOutcomes(ctx context.Context, sessionDate string) (map[string]int, error) {
	query := `
		SELECT outcome, COUNT(*)
		FROM audit_records
		WHERE created_at::date = $1::date
		GROUP BY outcome`

	rows, err := r.db.Pool.Query(ctx, query, sessionDate)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		out[outcome] = count
	}
	return out, rows.Err()
}

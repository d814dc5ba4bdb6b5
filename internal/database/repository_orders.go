package database

import (
	"context"
	"fmt"
	"time"

	"nse-trading-bot/internal/broker"
	"nse-trading-bot/internal/executor"
)

// OrderRecord is one persisted broker order leg
type OrderRecord struct {
	ID            int64      `json:"id"`
	AuditID       string     `json:"audit_id,omitempty"`
	BrokerOrderID string     `json:"broker_order_id"`
	Symbol        string     `json:"symbol"`
	Exchange      string     `json:"exchange"`
	Action        string     `json:"action"`
	OrderType     string     `json:"order_type"`
	Quantity      int        `json:"quantity"`
	FilledQty     int        `json:"filled_qty"`
	LimitPrice    float64    `json:"limit_price,omitempty"`
	AvgPrice      float64    `json:"avg_price,omitempty"`
	SlippagePct   float64    `json:"slippage_pct"`
	Retries       int        `json:"retries"`
	Status        string     `json:"status"`
	PlacedAt      time.Time  `json:"placed_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// RecordFromFill builds an order record from an executor fill
func RecordFromFill(auditID string, req broker.OrderRequest, fill *executor.Fill, status string) *OrderRecord {
	rec := &OrderRecord{
		AuditID:       auditID,
		BrokerOrderID: fill.OrderID,
		Symbol:        req.Symbol,
		Exchange:      req.Exchange,
		Action:        string(req.Action),
		OrderType:     string(req.Type),
		Quantity:      fill.RequestedQty,
		FilledQty:     fill.FilledQty,
		LimitPrice:    fill.LimitPrice,
		AvgPrice:      fill.AvgPrice,
		SlippagePct:   fill.SlippagePct,
		Retries:       fill.Retries,
		Status:        status,
		PlacedAt:      fill.PlacedAt,
	}
	if !fill.CompletedAt.IsZero() {
		t := fill.CompletedAt
		rec.CompletedAt = &t
	}
	return rec
}

// SaveOrderRecord appends one order row
func (r *Repository) SaveOrderRecord(ctx context.Context, rec *OrderRecord) error {
	query := `
		INSERT INTO order_records (
			audit_id, broker_order_id, symbol, exchange, action, order_type,
			quantity, filled_qty, limit_price, avg_price, slippage_pct,
			retries, status, placed_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`

	var auditID interface{}
	if rec.AuditID != "" {
		auditID = rec.AuditID
	}

	err := r.db.Pool.QueryRow(ctx, query,
		auditID, rec.BrokerOrderID, rec.Symbol, rec.Exchange, rec.Action,
		rec.OrderType, rec.Quantity, rec.FilledQty, rec.LimitPrice,
		rec.AvgPrice, rec.SlippagePct, rec.Retries, rec.Status,
		rec.PlacedAt, rec.CompletedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert order record: %w", err)
	}
	return nil
}

// OrdersForAudit lists the order legs recorded against one audit id
func (r *Repository) OrdersForAudit(ctx context.Context, auditID string) ([]OrderRecord, error) {
	query := `
		SELECT id, broker_order_id, symbol, exchange, action, order_type,
		       quantity, filled_qty, COALESCE(limit_price, 0), COALESCE(avg_price, 0),
		       COALESCE(slippage_pct, 0), retries, status, placed_at, completed_at
		FROM order_records
		WHERE audit_id = $1
		ORDER BY id`

	rows, err := r.db.Pool.Query(ctx, query, auditID)
	if err != nil {
		return nil, fmt.Errorf("query order records: %w", err)
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		rec := OrderRecord{AuditID: auditID}
		if err := rows.Scan(&rec.ID, &rec.BrokerOrderID, &rec.Symbol, &rec.Exchange,
			&rec.Action, &rec.OrderType, &rec.Quantity, &rec.FilledQty,
			&rec.LimitPrice, &rec.AvgPrice, &rec.SlippagePct, &rec.Retries,
			&rec.Status, &rec.PlacedAt, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan order record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

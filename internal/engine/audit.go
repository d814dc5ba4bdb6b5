package engine

import (
	"context"
	"sync"

	"nse-trading-bot/internal/database"
	"nse-trading-bot/internal/portfolio"
	"nse-trading-bot/internal/signals"
)

// AuditSink persists the composite audit record of one processed signal
type AuditSink interface {
	SaveAuditRecord(ctx context.Context, rec *signals.AuditRecord) error
}

// PositionStore mirrors portfolio mutations to durable storage.
// May be nil in simulation, every call site tolerates that.
type PositionStore interface {
	SavePosition(ctx context.Context, p *portfolio.Position) error
	SaveClosedEquity(ctx context.Context, equity float64) error
}

// OrderLog records every broker order leg against its audit id.
// May be nil in simulation.
type OrderLog interface {
	SaveOrderRecord(ctx context.Context, rec *database.OrderRecord) error
}

// MemoryAuditSink keeps audit records in memory. Used by the simulator,
// the backtester and tests; live runs use the database repository.
type MemoryAuditSink struct {
	mu      sync.Mutex
	records []*signals.AuditRecord
}

// NewMemoryAuditSink creates an in-memory sink
func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

// SaveAuditRecord appends the record
func (s *MemoryAuditSink) SaveAuditRecord(_ context.Context, rec *signals.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of the stored records
func (s *MemoryAuditSink) Records() []*signals.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*signals.AuditRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Last returns the newest record, nil when empty
func (s *MemoryAuditSink) Last() *signals.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return nil
	}
	return s.records[len(s.records)-1]
}

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"nse-trading-bot/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
	log  *logging.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config, log *logging.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Info("connected to PostgreSQL", "database", cfg.Database)
	return &DB{Pool: pool, log: log.WithComponent("database")}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.log.Info("running database migrations")

	migrations := []string{
		// Audit trail, one row per processed signal
		`CREATE TABLE IF NOT EXISTS audit_records (
			id UUID PRIMARY KEY,
			fingerprint VARCHAR(128) NOT NULL,
			instrument VARCHAR(20) NOT NULL,
			kind VARCHAR(20) NOT NULL,
			slot VARCHAR(10) NOT NULL,
			outcome VARCHAR(30) NOT NULL,
			reason TEXT,
			signal JSONB NOT NULL,
			validation JSONB,
			sizing JSONB,
			risk JSONB,
			execution JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_fingerprint ON audit_records(fingerprint)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_instrument ON audit_records(instrument)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_records(created_at)`,

		// Broker order records, one row per leg
		`CREATE TABLE IF NOT EXISTS order_records (
			id SERIAL PRIMARY KEY,
			audit_id UUID REFERENCES audit_records(id) ON DELETE SET NULL,
			broker_order_id VARCHAR(50) NOT NULL,
			symbol VARCHAR(40) NOT NULL,
			exchange VARCHAR(10) NOT NULL,
			action VARCHAR(4) NOT NULL,
			order_type VARCHAR(10) NOT NULL,
			quantity INTEGER NOT NULL,
			filled_qty INTEGER NOT NULL DEFAULT 0,
			limit_price DECIMAL(14, 2),
			avg_price DECIMAL(14, 2),
			slippage_pct DECIMAL(8, 4),
			retries INTEGER NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL,
			placed_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_audit ON order_records(audit_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_symbol ON order_records(symbol)`,

		// Open and closed positions, mirrors the in-memory aggregate
		`CREATE TABLE IF NOT EXISTS positions (
			id UUID PRIMARY KEY,
			instrument VARCHAR(20) NOT NULL,
			slot VARCHAR(10) NOT NULL,
			entry_time TIMESTAMPTZ NOT NULL,
			entry_price DECIMAL(14, 2) NOT NULL,
			lots INTEGER NOT NULL,
			quantity INTEGER NOT NULL,
			initial_stop DECIMAL(14, 2) NOT NULL,
			current_stop DECIMAL(14, 2) NOT NULL,
			highest_close DECIMAL(14, 2) NOT NULL,
			atr_at_entry DECIMAL(14, 4) NOT NULL,
			point_value DECIMAL(10, 2) NOT NULL,
			limiter VARCHAR(10),
			synthetic_strike DECIMAL(12, 2) NOT NULL DEFAULT 0,
			status VARCHAR(10) NOT NULL DEFAULT 'open',
			integrity_suspect BOOLEAN NOT NULL DEFAULT FALSE,
			exit_time TIMESTAMPTZ,
			exit_price DECIMAL(14, 2),
			realized_pnl DECIMAL(16, 2),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_instrument ON positions(instrument)`,

		// Portfolio meta, single-row closed equity carry
		`CREATE TABLE IF NOT EXISTS portfolio_meta (
			id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			closed_equity DECIMAL(18, 2) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Five-minute margin snapshots
		`CREATE TABLE IF NOT EXISTS margin_snapshots (
			id SERIAL PRIMARY KEY,
			session_date DATE NOT NULL,
			taken_at TIMESTAMPTZ NOT NULL,
			used_margin DECIMAL(18, 2) NOT NULL,
			baseline_margin DECIMAL(18, 2) NOT NULL,
			intraday_used DECIMAL(18, 2) NOT NULL,
			total_budget DECIMAL(18, 2) NOT NULL,
			utilisation_pct DECIMAL(8, 2) NOT NULL,
			open_positions INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_margin_session ON margin_snapshots(session_date)`,

		// One-shot per-session margin baseline
		`CREATE TABLE IF NOT EXISTS session_baselines (
			session_date DATE PRIMARY KEY,
			baseline_margin DECIMAL(18, 2) NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL
		)`,

		// End-of-day summary per session
		`CREATE TABLE IF NOT EXISTS daily_summaries (
			session_date DATE PRIMARY KEY,
			snapshot_count INTEGER NOT NULL,
			peak_utilisation_pct DECIMAL(8, 2) NOT NULL,
			avg_utilisation_pct DECIMAL(8, 2) NOT NULL,
			peak_intraday_used DECIMAL(18, 2) NOT NULL,
			hedge_spend DECIMAL(16, 2) NOT NULL DEFAULT 0,
			realized_pnl DECIMAL(16, 2) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Append-only hedge ledger
		`CREATE TABLE IF NOT EXISTS hedge_transactions (
			id SERIAL PRIMARY KEY,
			session_date DATE NOT NULL,
			action VARCHAR(4) NOT NULL,
			symbol VARCHAR(40) NOT NULL,
			index_name VARCHAR(20) NOT NULL,
			strike DECIMAL(12, 2) NOT NULL,
			option_type VARCHAR(2) NOT NULL,
			quantity INTEGER NOT NULL,
			price DECIMAL(12, 2) NOT NULL,
			otm_distance DECIMAL(12, 2) NOT NULL,
			mbpr DECIMAL(12, 6),
			reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_hedge_tx_session ON hedge_transactions(session_date)`,

		// Currently-held hedge legs
		`CREATE TABLE IF NOT EXISTS active_hedges (
			session_date DATE NOT NULL,
			symbol VARCHAR(40) NOT NULL,
			strike DECIMAL(12, 2) NOT NULL,
			option_type VARCHAR(2) NOT NULL,
			index_name VARCHAR(20) NOT NULL,
			quantity INTEGER NOT NULL,
			entry_price DECIMAL(12, 2) NOT NULL,
			otm_distance DECIMAL(12, 2) NOT NULL,
			bought_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (session_date, symbol, strike, option_type)
		)`,
	}

	for i, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	db.log.Info("database migrations complete", "count", len(migrations))
	return nil
}

// SchemaPresent reports whether the core tables exist. Used by the verify
// command to distinguish "needs migration" from "unreachable".
func (db *DB) SchemaPresent(ctx context.Context) (bool, error) {
	var count int
	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = 'public'
		  AND table_name IN ('audit_records', 'positions', 'margin_snapshots', 'hedge_transactions')`,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 4, nil
}

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"collab-trading-bot/config"
	"collab-trading-bot/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger *logging.Logger
}

// NewDB creates a new database connection
func NewDB(cfg config.DatabaseConfig) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
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

	logger := logging.Default().WithComponent("database")
	logger.Info("Connected to PostgreSQL", "database", cfg.Database)

	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("Database connection closed")
	}
}

// HealthCheck pings the database
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info("Running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email VARCHAR(255) NOT NULL UNIQUE,
			password_hash VARCHAR(255) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,

		`CREATE TABLE IF NOT EXISTS refresh_tokens (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token_hash VARCHAR(255) NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			revoked BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_id ON refresh_tokens(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_token_hash ON refresh_tokens(token_hash)`,

		`CREATE TABLE IF NOT EXISTS portfolios (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			agent_id VARCHAR(50) NOT NULL,
			current_balance DECIMAL(20, 8) DEFAULT 0,
			total_value DECIMAL(20, 8) DEFAULT 0,
			total_trades INTEGER DEFAULT 0,
			win_rate DECIMAL(10, 4) DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, agent_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_portfolios_user_id ON portfolios(user_id)`,

		`CREATE TABLE IF NOT EXISTS positions (
			id UUID PRIMARY KEY,
			portfolio_id UUID NOT NULL REFERENCES portfolios(id) ON DELETE CASCADE,
			symbol VARCHAR(30) NOT NULL,
			side VARCHAR(5) NOT NULL,
			size DECIMAL(20, 8) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			leverage DECIMAL(10, 2) DEFAULT 1,
			unrealized_pnl DECIMAL(20, 8) DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (portfolio_id, symbol, side)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_portfolio_id ON positions(portfolio_id)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			portfolio_id UUID NOT NULL,
			symbol VARCHAR(30) NOT NULL,
			side VARCHAR(5) NOT NULL,
			type VARCHAR(10) NOT NULL DEFAULT 'MARKET',
			size DECIMAL(20, 8) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'FILLED',
			reason TEXT,
			confidence DECIMAL(10, 4),
			client_order_id VARCHAR(40),
			exchange_order_id VARCHAR(64),
			realized_pnl DECIMAL(20, 8),
			executed_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_user_id ON trades(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at)`,

		`CREATE TABLE IF NOT EXISTS ai_logs (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			order_id VARCHAR(64),
			stage VARCHAR(40) NOT NULL,
			model VARCHAR(100),
			input TEXT,
			output TEXT,
			explanation TEXT,
			uploaded_to_exchange BOOLEAN DEFAULT FALSE,
			exchange_log_id VARCHAR(64),
			timestamp TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_logs_user_id ON ai_logs(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_logs_order_id ON ai_logs(order_id)`,

		`CREATE TABLE IF NOT EXISTS analyses (
			id UUID PRIMARY KEY,
			stage VARCHAR(40) NOT NULL,
			analyst_id VARCHAR(50) NOT NULL,
			input TEXT,
			output TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_analyst_id ON analyses(analyst_id)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info("Database migrations complete", "statements", len(migrations))
	return nil
}

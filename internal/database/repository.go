package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"collab-trading-bot/internal/exchange"
	"collab-trading-bot/internal/executor"
)

// CollaborativeAgentID is the fixed agent id for the shared portfolio row.
// All eight analysts trade against this one portfolio.
const CollaborativeAgentID = "collaborative"

// Repository provides database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// =====================================================
// USER OPERATIONS
// =====================================================

// CreateUser creates a new user
func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	query := `
		INSERT INTO users (id, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash,
	).Scan(&user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID. Returns nil, nil when not found.
func (r *Repository) GetUserByID(ctx context.Context, userID string) (*User, error) {
	query := `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE id = $1
	`

	user := &User{}
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email. Returns nil, nil when not found.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`

	user := &User{}
	err := r.db.Pool.QueryRow(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// =====================================================
// REFRESH TOKEN OPERATIONS
// =====================================================

// CreateRefreshToken stores a refresh token hash
func (r *Repository) CreateRefreshToken(ctx context.Context, token *RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	query := `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		token.ID, token.UserID, token.TokenHash, token.ExpiresAt,
	).Scan(&token.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken looks up a non-revoked, unexpired token by hash.
// Returns nil, nil when no live token matches.
func (r *Repository) GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	query := `
		SELECT id, user_id, token_hash, expires_at, revoked, created_at
		FROM refresh_tokens
		WHERE token_hash = $1 AND revoked = FALSE AND expires_at > NOW()
	`

	token := &RefreshToken{}
	err := r.db.Pool.QueryRow(ctx, query, tokenHash).Scan(
		&token.ID, &token.UserID, &token.TokenHash,
		&token.ExpiresAt, &token.Revoked, &token.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return token, nil
}

// RevokeRefreshToken marks a single token as revoked
func (r *Repository) RevokeRefreshToken(ctx context.Context, tokenID string) error {
	query := `UPDATE refresh_tokens SET revoked = TRUE WHERE id = $1`
	if _, err := r.db.Pool.Exec(ctx, query, tokenID); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// RevokeUserRefreshTokens revokes every live token for a user
func (r *Repository) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	query := `UPDATE refresh_tokens SET revoked = TRUE WHERE user_id = $1 AND revoked = FALSE`
	if _, err := r.db.Pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to revoke user refresh tokens: %w", err)
	}
	return nil
}

// DeleteExpiredRefreshTokens prunes tokens past their expiry
func (r *Repository) DeleteExpiredRefreshTokens(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// =====================================================
// PORTFOLIO OPERATIONS
// =====================================================

// GetOrCreatePortfolio returns the user's collaborative portfolio row,
// creating it on first use.
func (r *Repository) GetOrCreatePortfolio(ctx context.Context, userID string) (*Portfolio, error) {
	query := `
		SELECT id, user_id, agent_id, current_balance, total_value,
			total_trades, win_rate, created_at, updated_at
		FROM portfolios WHERE user_id = $1 AND agent_id = $2
	`

	p := &Portfolio{}
	err := r.db.Pool.QueryRow(ctx, query, userID, CollaborativeAgentID).Scan(
		&p.ID, &p.UserID, &p.AgentID, &p.CurrentBalance, &p.TotalValue,
		&p.TotalTrades, &p.WinRate, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == nil {
		return p, nil
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}

	p = &Portfolio{
		ID:      uuid.New().String(),
		UserID:  userID,
		AgentID: CollaborativeAgentID,
	}
	insert := `
		INSERT INTO portfolios (id, user_id, agent_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, agent_id) DO UPDATE SET updated_at = CURRENT_TIMESTAMP
		RETURNING id, current_balance, total_value, total_trades, win_rate, created_at, updated_at
	`
	err = r.db.Pool.QueryRow(ctx, insert, p.ID, p.UserID, p.AgentID).Scan(
		&p.ID, &p.CurrentBalance, &p.TotalValue, &p.TotalTrades, &p.WinRate,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create portfolio: %w", err)
	}
	return p, nil
}

// UpdatePortfolioBalance writes the refreshed wallet and valuation numbers.
// Satisfies the portfolio package's Store interface.
func (r *Repository) UpdatePortfolioBalance(ctx context.Context, portfolioID string, balance, totalValue float64, totalTrades int) error {
	query := `
		UPDATE portfolios SET
			current_balance = $2,
			total_value = $3,
			total_trades = $4,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	if _, err := r.db.Pool.Exec(ctx, query, portfolioID, balance, totalValue, totalTrades); err != nil {
		return fmt.Errorf("failed to update portfolio balance: %w", err)
	}
	return nil
}

// UpsertPosition mirrors one open exchange position
func (r *Repository) UpsertPosition(ctx context.Context, pos *PositionRow) error {
	if pos.ID == "" {
		pos.ID = uuid.New().String()
	}
	query := `
		INSERT INTO positions (id, portfolio_id, symbol, side, size, entry_price, leverage, unrealized_pnl, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, CURRENT_TIMESTAMP)
		ON CONFLICT (portfolio_id, symbol, side) DO UPDATE SET
			size = EXCLUDED.size,
			entry_price = EXCLUDED.entry_price,
			leverage = EXCLUDED.leverage,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := r.db.Pool.Exec(ctx, query,
		pos.ID, pos.PortfolioID, pos.Symbol, pos.Side,
		pos.Size, pos.EntryPrice, pos.Leverage, pos.UnrealizedPnl,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}
	return nil
}

// GetPositions returns the mirrored open positions for a portfolio.
func (r *Repository) GetPositions(ctx context.Context, portfolioID string) ([]PositionRow, error) {
	query := `
		SELECT id, portfolio_id, symbol, side, size, entry_price, leverage, unrealized_pnl, updated_at
		FROM positions WHERE portfolio_id = $1
		ORDER BY symbol, side
	`
	rows, err := r.db.Pool.Query(ctx, query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}
	defer rows.Close()

	positions := []PositionRow{}
	for rows.Next() {
		var p PositionRow
		if err := rows.Scan(
			&p.ID, &p.PortfolioID, &p.Symbol, &p.Side,
			&p.Size, &p.EntryPrice, &p.Leverage, &p.UnrealizedPnl, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// DeletePositions clears the mirrored positions for a portfolio, after an
// emergency close or when the exchange reports none open.
func (r *Repository) DeletePositions(ctx context.Context, portfolioID string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM positions WHERE portfolio_id = $1`, portfolioID); err != nil {
		return fmt.Errorf("failed to delete positions: %w", err)
	}
	return nil
}

// ReplacePositions mirrors the exchange's open positions for a portfolio,
// replacing whatever was recorded before. Satisfies the portfolio package's
// Store interface.
func (r *Repository) ReplacePositions(ctx context.Context, portfolioID string, positions []exchange.Position) error {
	if err := r.DeletePositions(ctx, portfolioID); err != nil {
		return err
	}
	for _, p := range positions {
		row := &PositionRow{
			PortfolioID:   portfolioID,
			Symbol:        p.Symbol,
			Side:          string(p.Side),
			Size:          p.Size,
			EntryPrice:    p.EntryPrice,
			Leverage:      p.Leverage,
			UnrealizedPnl: p.UnrealizedPnl,
		}
		if err := r.UpsertPosition(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// =====================================================
// TRADE OPERATIONS
// =====================================================

// SaveTrade persists an executed trade. Satisfies the executor package's
// TradeStore interface.
func (r *Repository) SaveTrade(ctx context.Context, t *executor.TradeRecord) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	query := `
		INSERT INTO trades (
			id, user_id, portfolio_id, symbol, side, type, size, price,
			status, reason, confidence, client_order_id, exchange_order_id, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		t.ID, t.UserID, t.PortfolioID, t.Symbol, t.Side, t.Type, t.Size, t.Price,
		t.Status, t.Reason, t.Confidence, t.ClientOrderID, t.ExchangeOrderID, t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// GetRecentTrades returns the latest trades for a user, newest first
func (r *Repository) GetRecentTrades(ctx context.Context, userID string, limit int) ([]Trade, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, user_id, portfolio_id, symbol, side, type, size, price,
			status, COALESCE(reason, ''), COALESCE(confidence, 0),
			COALESCE(client_order_id, ''), COALESCE(exchange_order_id, ''),
			realized_pnl, executed_at, created_at
		FROM trades
		WHERE user_id = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.PortfolioID, &t.Symbol, &t.Side, &t.Type,
			&t.Size, &t.Price, &t.Status, &t.Reason, &t.Confidence,
			&t.ClientOrderID, &t.ExchangeOrderID, &t.RealizedPnl,
			&t.ExecutedAt, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// CountTradesSince returns the number of trades executed after a cutoff
func (r *Repository) CountTradesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trades WHERE user_id = $1 AND executed_at >= $2`,
		userID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return count, nil
}

// RecentRealizedPnl sums realized pnl over trades executed after a cutoff
func (r *Repository) RecentRealizedPnl(ctx context.Context, userID string, since time.Time) (float64, error) {
	var pnl float64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(realized_pnl), 0) FROM trades WHERE user_id = $1 AND executed_at >= $2`,
		userID, since,
	).Scan(&pnl)
	if err != nil {
		return 0, fmt.Errorf("failed to sum recent pnl: %w", err)
	}
	return pnl, nil
}

package database

import (
	"time"
)

// User represents a platform user
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never serialize
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RefreshToken represents a stored refresh token. Only the SHA-256 hash of
// the token string is persisted.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// Portfolio represents the collaborative portfolio row for a user. There is
// one row per (user, agent) pair; the collaborative engine uses a single
// agent id for all analysts.
type Portfolio struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	AgentID        string    `json:"agent_id"`
	CurrentBalance float64   `json:"current_balance"`
	TotalValue     float64   `json:"total_value"`
	TotalTrades    int       `json:"total_trades"`
	WinRate        float64   `json:"win_rate"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PositionRow mirrors an open exchange position into the database.
type PositionRow struct {
	ID            string    `json:"id"`
	PortfolioID   string    `json:"portfolio_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Size          float64   `json:"size"`
	EntryPrice    float64   `json:"entry_price"`
	Leverage      float64   `json:"leverage"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Trade is an executed trade audit row.
type Trade struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	PortfolioID     string    `json:"portfolio_id"`
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"`
	Type            string    `json:"type"`
	Size            float64   `json:"size"`
	Price           float64   `json:"price"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	Confidence      float64   `json:"confidence"`
	ClientOrderID   string    `json:"client_order_id,omitempty"`
	ExchangeOrderID string    `json:"exchange_order_id,omitempty"`
	RealizedPnl     *float64  `json:"realized_pnl,omitempty"`
	ExecutedAt      time.Time `json:"executed_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// AILog is a persisted AI decision disclosure row.
type AILog struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	OrderID            string    `json:"order_id,omitempty"`
	Stage              string    `json:"stage"`
	Model              string    `json:"model,omitempty"`
	Input              string    `json:"input,omitempty"`
	Output             string    `json:"output,omitempty"`
	Explanation        string    `json:"explanation,omitempty"`
	UploadedToExchange bool      `json:"uploaded_to_exchange"`
	ExchangeLogID      string    `json:"exchange_log_id,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
	CreatedAt          time.Time `json:"created_at"`
}

// Analysis is one recorded pipeline stage output, kept for replay and
// debugging of the deliberation history.
type Analysis struct {
	ID        string    `json:"id"`
	Stage     string    `json:"stage"`
	AnalystID string    `json:"analyst_id"`
	Input     string    `json:"input,omitempty"`
	Output    string    `json:"output,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

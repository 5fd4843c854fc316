package portfolio

import (
	"context"
	"math"
	"sync"
	"time"

	"collab-trading-bot/internal/analyst"
	"collab-trading-bot/internal/exchange"
	"collab-trading-bot/internal/logging"
)

// AssumedAverageLeverage fills in when the exchange omits per-position
// leverage.
const AssumedAverageLeverage = 3.0

// historyWindow bounds how much balance history is retained for drawdown
// math. A week covers both the 24h and weekly windows.
const historyWindow = 7 * 24 * time.Hour

// AnalystEntry is the per-analyst rendering view. All entries share the
// same collaborative balance and positions.
type AnalystEntry struct {
	AnalystID     string              `json:"analystId"`
	Name          string              `json:"name"`
	Methodology   string              `json:"methodology"`
	PortfolioID   string              `json:"portfolioId"`
	Balance       float64             `json:"balance"`
	Positions     []exchange.Position `json:"positions"`
	LastTradeTime *time.Time          `json:"lastTradeTime,omitempty"`
	TotalTrades   int                 `json:"totalTrades"`
	WinRate       float64             `json:"winRate"`
}

// Store mirrors the authoritative state to the database. Best-effort.
type Store interface {
	UpdatePortfolioBalance(ctx context.Context, portfolioID string, balance, totalValue float64, totalTrades int) error
	ReplacePositions(ctx context.Context, portfolioID string, positions []exchange.Position) error
}

type balancePoint struct {
	ts      time.Time
	balance float64
}

// State is the process-wide collaborative portfolio. The exchange wallet
// is the balance authority; cached values are a staleness fallback only.
type State struct {
	client exchange.API
	store  Store
	logger *logging.Logger

	mu            sync.RWMutex
	portfolioID   string
	userID        string
	balance       float64
	positions     []exchange.Position
	totalTrades   int
	wins          int
	lastTradeTime *time.Time
	history       []balancePoint
}

// New creates an empty portfolio state. store may be nil.
func New(client exchange.API, store Store) *State {
	return &State{
		client: client,
		store:  store,
		logger: logging.Default().WithComponent("portfolio"),
	}
}

// Bind attaches the persisted portfolio row identity.
func (s *State) Bind(userID, portfolioID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.portfolioID = portfolioID
}

// Refresh re-reads wallet and positions from the exchange. The wallet
// available field dominates any cached value; on read failure the cached
// balance stands as a staleness fallback and an error is returned.
func (s *State) Refresh(ctx context.Context, marks map[string]float64) error {
	assets, err := s.client.GetAccountAssets()
	if err != nil {
		s.logger.Warn("Balance refresh failed, keeping cached value", "error", err)
		return err
	}
	if math.IsNaN(assets.Available) || math.IsInf(assets.Available, 0) || assets.Available < 0 {
		s.logger.Warn("Exchange returned invalid balance, keeping cached value", "available", assets.Available)
		return nil
	}

	positions, err := s.client.GetPositions()
	positionsFetched := err == nil
	if err != nil {
		s.logger.Warn("Position refresh failed, keeping cached positions", "error", err)
		positions = nil
	} else {
		for i := range positions {
			if positions[i].Leverage <= 0 {
				positions[i].Leverage = AssumedAverageLeverage
			}
			if mark, ok := marks[positions[i].Symbol]; ok && mark > 0 {
				positions[i].MarkPrice = mark
				positions[i].UnrealizedPnl = UnrealizedPnl(positions[i], mark)
			}
		}
	}

	now := time.Now()
	s.mu.Lock()
	s.balance = assets.Available
	if positionsFetched {
		s.positions = positions
	}
	s.history = append(s.history, balancePoint{ts: now, balance: assets.Available})
	cutoff := now.Add(-historyWindow)
	drop := 0
	for drop < len(s.history) && s.history[drop].ts.Before(cutoff) {
		drop++
	}
	s.history = s.history[drop:]
	totalValue := assets.Available
	for _, p := range s.positions {
		totalValue += p.UnrealizedPnl
	}
	portfolioID := s.portfolioID
	totalTrades := s.totalTrades
	s.mu.Unlock()

	if s.store != nil && portfolioID != "" {
		if err := s.store.UpdatePortfolioBalance(ctx, portfolioID, assets.Available, totalValue, totalTrades); err != nil {
			s.logger.Warn("Portfolio persistence failed", "error", err)
		}
		// Mirror positions only from a successful fetch; a failed read
		// must not wipe the recorded book.
		if positionsFetched {
			if err := s.store.ReplacePositions(ctx, portfolioID, positions); err != nil {
				s.logger.Warn("Position mirror failed", "error", err)
			}
		}
	}
	return nil
}

// UnrealizedPnl computes (mark - entry) x size x direction.
func UnrealizedPnl(p exchange.Position, mark float64) float64 {
	direction := 1.0
	if p.Side == exchange.SideShort {
		direction = -1
	}
	return (mark - p.EntryPrice) * p.Size * direction
}

// Balance returns the cached wallet balance.
func (s *State) Balance() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance
}

// Positions returns a copy of the cached positions.
func (s *State) Positions() []exchange.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]exchange.Position, len(s.positions))
	copy(out, s.positions)
	return out
}

// ClearPositions zeroes the in-memory positions after an emergency close.
func (s *State) ClearPositions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = nil
}

// RecordTrade bumps the shared trade counters.
func (s *State) RecordTrade(won bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalTrades++
	if won {
		s.wins++
	}
	now := time.Now()
	s.lastTradeTime = &now
}

// TotalTrades returns the shared counter.
func (s *State) TotalTrades() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalTrades
}

// WinRate returns wins over total, in percent.
func (s *State) WinRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.totalTrades == 0 {
		return 0
	}
	return float64(s.wins) / float64(s.totalTrades) * 100
}

// Drawdown returns the percent decline from the peak balance observed in
// the window, as a positive number. Zero when history is too thin.
func (s *State) Drawdown(window time.Duration) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) < 2 {
		return 0
	}
	cutoff := time.Now().Add(-window)
	peak := 0.0
	for _, pt := range s.history {
		if pt.ts.Before(cutoff) {
			continue
		}
		if pt.balance > peak {
			peak = pt.balance
		}
	}
	if peak <= 0 {
		return 0
	}
	current := s.history[len(s.history)-1].balance
	dd := (peak - current) / peak * 100
	if dd < 0 {
		return 0
	}
	return dd
}

// Entries renders the per-analyst view over the shared state.
func (s *State) Entries() []AnalystEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]AnalystEntry, 0, len(analyst.Profiles))
	for _, p := range analyst.Profiles {
		entries = append(entries, AnalystEntry{
			AnalystID:     p.ID,
			Name:          p.Name,
			Methodology:   string(p.Methodology),
			PortfolioID:   s.portfolioID,
			Balance:       s.balance,
			Positions:     append([]exchange.Position(nil), s.positions...),
			LastTradeTime: s.lastTradeTime,
			TotalTrades:   s.totalTrades,
			WinRate:       s.winRateLocked(),
		})
	}
	return entries
}

func (s *State) winRateLocked() float64 {
	if s.totalTrades == 0 {
		return 0
	}
	return float64(s.wins) / float64(s.totalTrades) * 100
}

// Reset clears all cached state, for engine cleanup.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = 0
	s.positions = nil
	s.totalTrades = 0
	s.wins = 0
	s.lastTradeTime = nil
	s.history = nil
	s.portfolioID = ""
	s.userID = ""
}

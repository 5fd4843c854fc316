package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"collab-trading-bot/internal/exchange"
)

type memStore struct {
	balance       float64
	totalValue    float64
	calls         int
	positions     []exchange.Position
	replaceCalls  int
	err           error
}

func (m *memStore) UpdatePortfolioBalance(ctx context.Context, portfolioID string, balance, totalValue float64, totalTrades int) error {
	if m.err != nil {
		return m.err
	}
	m.balance = balance
	m.totalValue = totalValue
	m.calls++
	return nil
}

func (m *memStore) ReplacePositions(ctx context.Context, portfolioID string, positions []exchange.Position) error {
	if m.err != nil {
		return m.err
	}
	m.positions = append([]exchange.Position(nil), positions...)
	m.replaceCalls++
	return nil
}

func TestRefreshPullsWalletAndPositions(t *testing.T) {
	mock := exchange.NewMockClient([]string{"cmt_btcusdt"})
	mock.Balance = 2500
	mock.Pos = []exchange.Position{
		{Symbol: "cmt_btcusdt", Side: exchange.SideLong, Size: 2, EntryPrice: 100, Leverage: 5},
	}
	store := &memStore{}
	s := New(mock, store)
	s.Bind("user-1", "portfolio-1")

	if err := s.Refresh(context.Background(), map[string]float64{"cmt_btcusdt": 110}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if s.Balance() != 2500 {
		t.Errorf("balance = %v", s.Balance())
	}
	positions := s.Positions()
	if len(positions) != 1 {
		t.Fatalf("positions = %d", len(positions))
	}
	// (110 - 100) x 2 x 1 = 20
	if positions[0].UnrealizedPnl != 20 {
		t.Errorf("upnl = %v, want 20", positions[0].UnrealizedPnl)
	}
	if store.calls != 1 || store.totalValue != 2520 {
		t.Errorf("store = %+v", store)
	}
	if store.replaceCalls != 1 || len(store.positions) != 1 || store.positions[0].Symbol != "cmt_btcusdt" {
		t.Errorf("position mirror = %+v", store.positions)
	}
}

func TestPositionMirrorSurvivesFetchFailure(t *testing.T) {
	mock := exchange.NewMockClient([]string{"cmt_btcusdt"})
	mock.Pos = []exchange.Position{
		{Symbol: "cmt_btcusdt", Side: exchange.SideLong, Size: 1, EntryPrice: 100, Leverage: 3},
	}
	store := &memStore{}
	s := New(mock, store)
	s.Bind("user-1", "portfolio-1")

	if err := s.Refresh(context.Background(), nil); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if store.replaceCalls != 1 || len(store.positions) != 1 {
		t.Fatalf("mirror not written: %+v", store)
	}

	// A failed position read keeps the recorded book intact.
	mock.Errors["GetPositions"] = errors.New("positions endpoint down")
	if err := s.Refresh(context.Background(), nil); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if store.replaceCalls != 1 || len(store.positions) != 1 {
		t.Errorf("failed fetch rewrote the mirror: %+v", store)
	}

	// A successful empty read clears it.
	delete(mock.Errors, "GetPositions")
	mock.Pos = nil
	if err := s.Refresh(context.Background(), nil); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if store.replaceCalls != 2 || len(store.positions) != 0 {
		t.Errorf("flat book not mirrored: %+v", store)
	}
}

func TestUnrealizedPnlDirection(t *testing.T) {
	long := exchange.Position{Side: exchange.SideLong, Size: 2, EntryPrice: 100}
	short := exchange.Position{Side: exchange.SideShort, Size: 2, EntryPrice: 100}

	if got := UnrealizedPnl(long, 90); got != -20 {
		t.Errorf("long down = %v, want -20", got)
	}
	if got := UnrealizedPnl(short, 90); got != 20 {
		t.Errorf("short down = %v, want 20", got)
	}
}

func TestRefreshKeepsCacheOnFailure(t *testing.T) {
	mock := exchange.NewMockClient([]string{"cmt_btcusdt"})
	mock.Balance = 1000
	s := New(mock, nil)

	if err := s.Refresh(context.Background(), nil); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	mock.Errors["GetAccountAssets"] = errors.New("exchange down")
	if err := s.Refresh(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
	if s.Balance() != 1000 {
		t.Errorf("cached balance lost: %v", s.Balance())
	}
}

func TestLeverageFallback(t *testing.T) {
	mock := exchange.NewMockClient([]string{"cmt_btcusdt"})
	mock.Pos = []exchange.Position{
		{Symbol: "cmt_btcusdt", Side: exchange.SideLong, Size: 1, EntryPrice: 100, Leverage: 0},
	}
	s := New(mock, nil)
	s.Refresh(context.Background(), nil)

	if got := s.Positions()[0].Leverage; got != AssumedAverageLeverage {
		t.Errorf("leverage = %v, want %v", got, AssumedAverageLeverage)
	}
}

func TestPersistenceFailureIsSwallowed(t *testing.T) {
	mock := exchange.NewMockClient([]string{"cmt_btcusdt"})
	store := &memStore{err: errors.New("db down")}
	s := New(mock, store)
	s.Bind("u", "p")

	if err := s.Refresh(context.Background(), nil); err != nil {
		t.Fatalf("persistence failure leaked: %v", err)
	}
}

func TestTradeCounters(t *testing.T) {
	s := New(exchange.NewMockClient(nil), nil)
	s.RecordTrade(true)
	s.RecordTrade(false)
	s.RecordTrade(true)

	if s.TotalTrades() != 3 {
		t.Errorf("totalTrades = %d", s.TotalTrades())
	}
	if wr := s.WinRate(); wr < 66 || wr > 67 {
		t.Errorf("winRate = %v", wr)
	}
}

func TestEntriesShareState(t *testing.T) {
	mock := exchange.NewMockClient([]string{"cmt_btcusdt"})
	mock.Balance = 500
	s := New(mock, nil)
	s.Bind("u", "p")
	s.Refresh(context.Background(), nil)
	s.RecordTrade(true)

	entries := s.Entries()
	if len(entries) != 8 {
		t.Fatalf("entries = %d, want 8", len(entries))
	}
	for _, e := range entries {
		if e.Balance != 500 || e.TotalTrades != 1 {
			t.Errorf("entry %s diverged: %+v", e.AnalystID, e)
		}
	}
}

func TestDrawdown(t *testing.T) {
	s := New(exchange.NewMockClient(nil), nil)

	if s.Drawdown(24*time.Hour) != 0 {
		t.Error("empty history should report zero drawdown")
	}

	now := time.Now()
	s.history = []balancePoint{
		{ts: now.Add(-2 * time.Hour), balance: 1000},
		{ts: now.Add(-1 * time.Hour), balance: 950},
		{ts: now, balance: 900},
	}
	if got := s.Drawdown(24 * time.Hour); got != 10 {
		t.Errorf("drawdown = %v, want 10", got)
	}

	// Rising balance is zero drawdown.
	s.history = []balancePoint{
		{ts: now.Add(-time.Hour), balance: 900},
		{ts: now, balance: 1000},
	}
	if got := s.Drawdown(24 * time.Hour); got != 0 {
		t.Errorf("drawdown = %v, want 0", got)
	}
}

func TestClearAndReset(t *testing.T) {
	mock := exchange.NewMockClient([]string{"cmt_btcusdt"})
	mock.Pos = []exchange.Position{{Symbol: "cmt_btcusdt", Side: exchange.SideLong, Size: 1, EntryPrice: 100, Leverage: 3}}
	s := New(mock, nil)
	s.Refresh(context.Background(), nil)

	s.ClearPositions()
	if len(s.Positions()) != 0 {
		t.Error("positions not cleared")
	}

	s.RecordTrade(true)
	s.Reset()
	if s.TotalTrades() != 0 || s.Balance() != 0 {
		t.Error("reset incomplete")
	}
}

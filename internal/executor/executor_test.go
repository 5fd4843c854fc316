package executor

import (
	"context"
	"errors"
	"testing"

	"collab-trading-bot/config"
	"collab-trading-bot/internal/analyst"
	"collab-trading-bot/internal/events"
	"collab-trading-bot/internal/exchange"
	"collab-trading-bot/internal/risk"
)

type memTradeStore struct {
	saved []*TradeRecord
	err   error
}

func (m *memTradeStore) SaveTrade(ctx context.Context, t *TradeRecord) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, t)
	return nil
}

type memAILogStore struct {
	saved []*AILogRecord
}

func (m *memAILogStore) SaveAILog(ctx context.Context, l *AILogRecord) error {
	m.saved = append(m.saved, l)
	return nil
}

func testCfg() config.Config {
	cfg := config.Config{}
	cfg.RiskConfig.MaxPositionPercent = 20
	cfg.RiskConfig.MaxLeverage = 20
	cfg.EngineConfig.MinBalanceToTrade = 50
	cfg.EngineConfig.MinConfidence = 55
	return cfg
}

func approvedRequest(contract exchange.Contract) Request {
	return Request{
		UserID:      "user-1",
		PortfolioID: "portfolio-1",
		Symbol:      "cmt_btcusdt",
		Direction:   analyst.ActionLong,
		Champion: &analyst.AnalysisResult{
			AnalystID:      "ray",
			Recommendation: analyst.RecBuy,
			Confidence:     72,
			Thesis:         "liquidity expansion",
			PriceTarget:    analyst.PriceTarget{Bull: 120, Base: 110, Bear: 95},
			StopLoss:       95,
		},
		Decision: risk.Decision{
			Approved:    true,
			Adjustments: risk.Adjustments{PositionSize: 5, Leverage: 3, StopLoss: 95},
		},
		Price:    100,
		Balance:  1000,
		Contract: contract,
	}
}

func TestExecuteLiveTrade(t *testing.T) {
	mock := exchange.NewMockClient([]string{"cmt_btcusdt"})
	trades := &memTradeStore{}
	ailogs := &memAILogStore{}
	bus := events.NewBus()

	var executed []events.Event
	bus.Subscribe(events.EventTradeExecuted, func(ev events.Event) { executed = append(executed, ev) })

	e := New(mock, testCfg(), bus, trades, ailogs, "test-model")
	out, err := e.Execute(context.Background(), approvedRequest(mock.Rules["cmt_btcusdt"]))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Executed || out.DryRun {
		t.Fatalf("outcome = %+v", out)
	}

	// positionPercent = 5/10*20 = 10% of 1000 = 100 value at price 100 = 1.0 size.
	if len(mock.PlacedOrders) != 1 {
		t.Fatalf("orders placed = %d", len(mock.PlacedOrders))
	}
	order := mock.PlacedOrders[0]
	if order.Size != "1" {
		t.Errorf("size = %q, want 1", order.Size)
	}
	if order.Type != exchange.OrderOpenLong || order.OrderType != exchange.ExecFOK || order.MatchPrice != exchange.MatchMarket {
		t.Errorf("order shape = %+v", order)
	}
	if order.PresetTakeProfitPrice != "110" || order.PresetStopLossPrice != "95" {
		t.Errorf("TP/SL = %q/%q", order.PresetTakeProfitPrice, order.PresetStopLossPrice)
	}
	if len(order.ClientOID) > exchange.MaxClientOIDLength {
		t.Errorf("client_oid too long: %d", len(order.ClientOID))
	}

	if len(trades.saved) != 1 || trades.saved[0].Status != "FILLED" {
		t.Errorf("trade not persisted: %+v", trades.saved)
	}
	if len(ailogs.saved) != 1 || !ailogs.saved[0].UploadedToExchange {
		t.Errorf("ai log not persisted/uploaded: %+v", ailogs.saved)
	}
	if len(executed) != 1 || executed[0].Data["dryRun"] != false {
		t.Errorf("tradeExecuted event = %+v", executed)
	}
}

func TestDryRunSkipsExchange(t *testing.T) {
	mock := exchange.NewMockClient([]string{"cmt_btcusdt"})
	cfg := testCfg()
	cfg.EngineConfig.DryRun = true
	bus := events.NewBus()

	var dryRuns int
	bus.Subscribe(events.EventTradeExecuted, func(ev events.Event) {
		if ev.Data["dryRun"] == true {
			dryRuns++
		}
	})

	e := New(mock, cfg, bus, nil, nil, "test-model")
	out, err := e.Execute(context.Background(), approvedRequest(mock.Rules["cmt_btcusdt"]))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Executed || !out.DryRun {
		t.Fatalf("outcome = %+v", out)
	}
	if len(mock.PlacedOrders) != 0 {
		t.Error("dry-run touched the exchange")
	}
	if dryRuns != 1 {
		t.Errorf("dryRun events = %d", dryRuns)
	}
}

func TestLeverageClampedToContractCap(t *testing.T) {
	mock := exchange.NewMockClient([]string{"cmt_btcusdt"})
	cfg := testCfg()
	cfg.EngineConfig.DryRun = true
	e := New(mock, cfg, events.NewBus(), nil, nil, "test-model")

	contract := mock.Rules["cmt_btcusdt"]
	contract.MaxLeverage = 2
	req := approvedRequest(contract)
	req.Decision.Adjustments.Leverage = 10

	out, err := e.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// 100 position value at the contract's 2x cap needs 50 margin, not 10.
	if out.Margin != 50 {
		t.Errorf("margin = %v, want 50", out.Margin)
	}
}

func TestVetoProducesNoTrade(t *testing.T) {
	mock := exchange.NewMockClient([]string{"cmt_btcusdt"})
	e := New(mock, testCfg(), events.NewBus(), nil, nil, "m")

	req := approvedRequest(mock.Rules["cmt_btcusdt"])
	req.Decision = risk.Decision{Approved: false, VetoReason: "weekly drawdown"}

	out, err := e.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("veto is not an error: %v", err)
	}
	if out.Executed {
		t.Error("vetoed trade executed")
	}
	if len(mock.PlacedOrders) != 0 {
		t.Error("vetoed trade reached the exchange")
	}
}

func TestBalanceGuard(t *testing.T) {
	mock := exchange.NewMockClient([]string{"cmt_btcusdt"})
	e := New(mock, testCfg(), events.NewBus(), nil, nil, "m")

	req := approvedRequest(mock.Rules["cmt_btcusdt"])
	req.Balance = 10

	out, err := e.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Executed || len(mock.PlacedOrders) != 0 {
		t.Error("trade executed below minimum balance")
	}
}

func TestSizeBelowMinimumRejected(t *testing.T) {
	mock := exchange.NewMockClient([]string{"cmt_btcusdt"})
	contract := mock.Rules["cmt_btcusdt"]
	contract.MinSize = "10"

	e := New(mock, testCfg(), events.NewBus(), nil, nil, "m")
	req := approvedRequest(contract)
	// 10% of 1000 at price 100 gives size 1, below the 10 minimum.

	_, err := e.Execute(context.Background(), req)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !exchange.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if len(mock.PlacedOrders) != 0 {
		t.Error("invalid order reached the exchange")
	}
}

func TestBadPriceRejected(t *testing.T) {
	mock := exchange.NewMockClient([]string{"cmt_btcusdt"})
	e := New(mock, testCfg(), events.NewBus(), nil, nil, "m")

	req := approvedRequest(mock.Rules["cmt_btcusdt"])
	req.Price = 0

	if _, err := e.Execute(context.Background(), req); !exchange.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestPersistenceFailureDoesNotRevertTrade(t *testing.T) {
	mock := exchange.NewMockClient([]string{"cmt_btcusdt"})
	trades := &memTradeStore{err: errors.New("db down")}

	e := New(mock, testCfg(), events.NewBus(), trades, nil, "m")
	out, err := e.Execute(context.Background(), approvedRequest(mock.Rules["cmt_btcusdt"]))
	if err != nil {
		t.Fatalf("persistence failure leaked: %v", err)
	}
	if !out.Executed || len(mock.PlacedOrders) != 1 {
		t.Error("trade should stand despite persistence failure")
	}
}

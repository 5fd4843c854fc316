package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"collab-trading-bot/config"
	"collab-trading-bot/internal/events"
	"collab-trading-bot/internal/exchange"
	"collab-trading-bot/internal/scheduler"
)

// stubLLM routes each completion by inspecting the system prompt, same
// contract as the live client. The risk-stage user prompt is captured so
// tests can assert on the council's context.
type stubLLM struct {
	selection string
	thesis    string
	judge     string
	risk      string
	manage    string
	riskUser  string
	err       error
}

func (s *stubLLM) Model() string { return "stub" }

func (s *stubLLM) Complete(system, user string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	switch {
	case strings.Contains(system, "selecting perpetual futures"):
		return s.selection, nil
	case strings.Contains(system, "head judge"):
		return s.judge, nil
	case strings.Contains(system, "managing an open position"):
		return s.manage, nil
	case strings.Contains(system, "risk council"):
		s.riskUser = user
		return s.risk, nil
	default:
		return s.thesis, nil
	}
}

func happyLLM() *stubLLM {
	return &stubLLM{
		selection: `{"picks":[{"symbol":"cmt_btcusdt","action":"LONG","conviction":8,"reason":"strong flows"}]}`,
		thesis: `{
			"recommendation":"buy","confidence":72,"thesis":"flows dominate",
			"bullCase":["a","b","c"],"bearCase":["d"],
			"priceTarget":{"bull":130,"base":120,"bear":95},
			"stopLoss":94,"leverage":3,"positionSize":5,
			"catalyst":"upcoming protocol upgrade drives demand","timeframe":"2w"
		}`,
		judge: `{"winner":"ray"}`,
		risk:  `{"approved":true,"positionSize":5,"leverage":3,"stopLoss":95}`,
	}
}

type stubBTC struct {
	change float64
	ok     bool
}

func (s stubBTC) Change4h() (float64, bool) { return s.change, s.ok }

type stubHistory struct {
	trades int
	pnl    float64
}

func (s *stubHistory) CountTradesSince(context.Context, string, time.Time) (int, error) {
	return s.trades, nil
}

func (s *stubHistory) RecentRealizedPnl(context.Context, string, time.Time) (float64, error) {
	return s.pnl, nil
}

func testEngineConfig() config.Config {
	cfg := config.Config{}
	cfg.EngineConfig.ApprovedSymbols = []string{"cmt_btcusdt", "cmt_ethusdt"}
	cfg.EngineConfig.CycleInterval = time.Minute
	cfg.EngineConfig.MinBalanceToTrade = 50
	cfg.EngineConfig.MinConfidence = 55
	cfg.EngineConfig.MaxRetries = 2
	cfg.EngineConfig.DryRun = true
	cfg.RiskConfig.MaxPositionPercent = 20
	cfg.RiskConfig.MaxLeverage = 20
	cfg.RiskConfig.DefaultLeverage = 3
	cfg.RiskConfig.MaxStopLossDistance = 0.25
	cfg.RiskConfig.MaxConcurrent = 3
	cfg.RiskConfig.MaxSameDirection = 2
	cfg.RiskConfig.MaxWeeklyDrawdown = 15
	cfg.RiskConfig.MaxFundingAgainst = 0.01
	cfg.RiskConfig.NetExposureLongs = 60
	cfg.RiskConfig.NetExposureShorts = 40
	cfg.AIConfig.JudgeWeights = config.JudgeWeights{DataQuality: 30, Logic: 30, RiskAwareness: 25, CatalystClarity: 15}
	cfg.CircuitConfig.Enabled = true
	cfg.CircuitConfig.BTCDropYellow = -4
	cfg.CircuitConfig.BTCDropOrange = -7
	cfg.CircuitConfig.BTCDropRed = -10
	cfg.CircuitConfig.DrawdownYellow = -5
	cfg.CircuitConfig.DrawdownOrange = -8
	cfg.CircuitConfig.DrawdownRed = -12
	cfg.CircuitConfig.FundingExtremeYellow = 0.003
	cfg.CircuitConfig.FundingExtremeOrange = 0.005
	return cfg
}

func newTestController(t *testing.T, cfg config.Config, llm *stubLLM, btc BTCWindow) (*Controller, *exchange.MockClient, *events.Bus) {
	t.Helper()
	mock := exchange.NewMockClient(cfg.EngineConfig.ApprovedSymbols)
	bus := events.NewBus()
	c := NewController(Options{
		Config:    cfg,
		Client:    mock,
		LLM:       llm,
		Bus:       bus,
		BTCStream: btc,
	})
	rules, err := c.loadTradingRules(context.Background())
	if err != nil {
		t.Fatalf("loadTradingRules: %v", err)
	}
	c.rules = rules
	c.userID = "user-1"
	// Pin the clock inside a weekday peak window so the scheduler never
	// skips a cycle under test.
	peak := time.Date(2026, 8, 3, 14, 0, 0, 0, time.UTC)
	c.sched = scheduler.NewWithClock(func() time.Time { return peak })
	return c, mock, bus
}

func TestCycleEmitsStartAndCompleteOnce(t *testing.T) {
	c, _, bus := newTestController(t, testEngineConfig(), happyLLM(), stubBTC{0, true})

	starts, completes := 0, 0
	bus.Subscribe(events.EventCycleStart, func(events.Event) { starts++ })
	bus.Subscribe(events.EventCycleComplete, func(events.Event) { completes++ })

	cycle := c.runCycle(context.Background())
	if starts != 1 || completes != 1 {
		t.Errorf("starts = %d, completes = %d, want 1/1", starts, completes)
	}
	if cycle.Error != "" && !cycle.Skipped {
		t.Errorf("unexpected failure: %+v", cycle)
	}
}

func TestDryRunCycleExecutesWithoutOrders(t *testing.T) {
	c, mock, _ := newTestController(t, testEngineConfig(), happyLLM(), stubBTC{0, true})
	c.state.Refresh(context.Background(), nil)

	cycle := c.runCycle(context.Background())
	if cycle.Error != "" {
		t.Fatalf("cycle failed: %s", cycle.Error)
	}
	if !cycle.Executed || !cycle.DryRun {
		t.Errorf("cycle = %+v, want executed dry-run", cycle)
	}
	if len(mock.PlacedOrders) != 0 {
		t.Error("dry-run cycle reached the exchange")
	}
}

func TestRedCircuitTriggersEmergencyClose(t *testing.T) {
	c, mock, bus := newTestController(t, testEngineConfig(), happyLLM(), stubBTC{-11, true})
	mock.Pos = []exchange.Position{
		{Symbol: "cmt_btcusdt", Side: exchange.SideLong, Size: 1, EntryPrice: 100, Leverage: 3},
		{Symbol: "cmt_ethusdt", Side: exchange.SideShort, Size: 2, EntryPrice: 200, Leverage: 3},
	}

	var closes int
	bus.Subscribe(events.EventEmergencyClose, func(events.Event) { closes++ })

	cycle := c.runCycle(context.Background())
	if cycle.CircuitLevel != "RED" {
		t.Fatalf("level = %s, want RED", cycle.CircuitLevel)
	}
	if !cycle.Skipped || !strings.Contains(cycle.Error, "RED ALERT") {
		t.Errorf("cycle = %+v", cycle)
	}
	if len(mock.ClosedSymbols) != 2 {
		t.Errorf("closed = %v, want both symbols", mock.ClosedSymbols)
	}
	if closes != 1 {
		t.Errorf("emergencyClose events = %d", closes)
	}
	if len(c.state.Positions()) != 0 {
		t.Error("in-memory positions not cleared")
	}
	if c.failures != 0 {
		t.Error("RED cycle should not count as a failure")
	}
}

func TestDrawdownCollapseTripsRedCircuit(t *testing.T) {
	c, mock, bus := newTestController(t, testEngineConfig(), happyLLM(), stubBTC{0, true})
	mock.Pos = []exchange.Position{
		{Symbol: "cmt_btcusdt", Side: exchange.SideLong, Size: 1, EntryPrice: 100, Leverage: 3},
	}
	if err := c.state.Refresh(context.Background(), nil); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	// 15% below the seeded 10000 peak, past the -12 drawdown threshold.
	mock.Balance = 8500

	var closes int
	bus.Subscribe(events.EventEmergencyClose, func(events.Event) { closes++ })

	cycle := c.runCycle(context.Background())
	if cycle.CircuitLevel != "RED" {
		t.Fatalf("level = %s, want RED", cycle.CircuitLevel)
	}
	if !cycle.Skipped || !strings.Contains(cycle.Error, "RED ALERT") {
		t.Errorf("cycle = %+v", cycle)
	}
	if closes != 1 {
		t.Errorf("emergencyClose events = %d", closes)
	}
	if len(mock.ClosedSymbols) != 1 || mock.ClosedSymbols[0] != "cmt_btcusdt" {
		t.Errorf("closed = %v, want cmt_btcusdt", mock.ClosedSymbols)
	}
	if c.failures != 0 {
		t.Error("RED cycle should not count as a failure")
	}
}

func TestPersistedTradeSpacingSurvivesRestart(t *testing.T) {
	cfg := testEngineConfig()
	cfg.EngineConfig.MinTradeInterval = time.Hour
	c, mock, _ := newTestController(t, cfg, happyLLM(), stubBTC{0, true})
	c.opts.History = &stubHistory{trades: 1}
	c.state.Refresh(context.Background(), nil)

	cycle := c.runCycle(context.Background())
	if cycle.Error != "" {
		t.Fatalf("cycle failed: %s", cycle.Error)
	}
	if cycle.Executed {
		t.Error("trade executed inside the persisted spacing window")
	}
	if !cycle.Skipped || !strings.Contains(cycle.SkipReason, "spacing") {
		t.Errorf("cycle = %+v", cycle)
	}
	if len(mock.PlacedOrders) != 0 {
		t.Error("order placed despite recent persisted trade")
	}
}

func TestRiskCouncilSeesRecentRealizedPnl(t *testing.T) {
	llm := happyLLM()
	c, _, _ := newTestController(t, testEngineConfig(), llm, stubBTC{0, true})
	c.opts.History = &stubHistory{pnl: -137.5}
	c.state.Refresh(context.Background(), nil)

	cycle := c.runCycle(context.Background())
	if cycle.Error != "" {
		t.Fatalf("cycle failed: %s", cycle.Error)
	}
	if !strings.Contains(llm.riskUser, "recent realized PnL=-137.50") {
		t.Errorf("risk prompt missing recent PnL: %q", llm.riskUser)
	}
}

func TestLowConfidenceSkipsExecution(t *testing.T) {
	llm := happyLLM()
	llm.thesis = strings.Replace(llm.thesis, `"confidence":72`, `"confidence":40`, 1)
	c, mock, _ := newTestController(t, testEngineConfig(), llm, stubBTC{0, true})

	cycle := c.runCycle(context.Background())
	if cycle.Error != "" {
		t.Fatalf("cycle failed: %s", cycle.Error)
	}
	if cycle.Executed {
		t.Error("low-confidence champion executed")
	}
	if !cycle.Skipped {
		t.Errorf("cycle = %+v, want skipped", cycle)
	}
	if len(mock.PlacedOrders) != 0 {
		t.Error("order placed despite confidence floor")
	}
	if c.failures != 0 {
		t.Error("confidence skip should count as success")
	}
}

func TestStageFailureBumpsBackoff(t *testing.T) {
	llm := happyLLM()
	llm.selection = `not json at all`
	c, _, _ := newTestController(t, testEngineConfig(), llm, stubBTC{0, true})

	cycle := c.runCycle(context.Background())
	if cycle.Error == "" {
		t.Fatal("expected stage failure")
	}
	if c.failures != 1 {
		t.Errorf("failures = %d, want 1", c.failures)
	}

	c.runCycle(context.Background())
	if c.failures != 2 {
		t.Errorf("failures = %d, want 2 after second failed cycle", c.failures)
	}
}

func TestMonitorOnlyCycles(t *testing.T) {
	cfg := testEngineConfig()
	cfg.EngineConfig.DebateFrequency = 3
	c, _, _ := newTestController(t, cfg, happyLLM(), stubBTC{0, true})

	first := c.runCycle(context.Background())
	second := c.runCycle(context.Background())
	if first.Number != 1 || second.Number != 2 {
		t.Fatalf("cycle numbers = %d, %d", first.Number, second.Number)
	}
	if !second.Skipped {
		t.Errorf("cycle 2 should be monitor-only with frequency 3: %+v", second)
	}
}

func TestManageWinnerClosesPosition(t *testing.T) {
	llm := happyLLM()
	llm.selection = `{"picks":[{"symbol":"cmt_btcusdt","action":"MANAGE","conviction":9,"reason":"thesis invalidated"}]}`
	llm.manage = `{"action":"CLOSE","reason":"momentum gone"}`
	cfg := testEngineConfig()
	cfg.EngineConfig.DryRun = false
	c, mock, _ := newTestController(t, cfg, llm, stubBTC{0, true})
	mock.Pos = []exchange.Position{
		{Symbol: "cmt_btcusdt", Side: exchange.SideLong, Size: 1, EntryPrice: 100, Leverage: 3},
	}

	cycle := c.runCycle(context.Background())
	if cycle.Error != "" {
		t.Fatalf("cycle failed: %s", cycle.Error)
	}
	if cycle.Direction != "MANAGE" || !cycle.Executed {
		t.Errorf("cycle = %+v, want executed MANAGE", cycle)
	}
	if len(mock.ClosedSymbols) != 1 || mock.ClosedSymbols[0] != "cmt_btcusdt" {
		t.Errorf("closed = %v, want cmt_btcusdt", mock.ClosedSymbols)
	}
	if len(mock.PlacedOrders) != 0 {
		t.Error("full close should not place a new order")
	}
}

func TestManagePartialClosePlacesCloseOrder(t *testing.T) {
	llm := happyLLM()
	llm.selection = `{"picks":[{"symbol":"cmt_btcusdt","action":"MANAGE","conviction":9,"reason":"derisking"}]}`
	llm.manage = `{"action":"PARTIAL_CLOSE","closePercent":50,"reason":"take half off"}`
	cfg := testEngineConfig()
	cfg.EngineConfig.DryRun = false
	c, mock, _ := newTestController(t, cfg, llm, stubBTC{0, true})
	mock.Pos = []exchange.Position{
		{Symbol: "cmt_btcusdt", Side: exchange.SideLong, Size: 2, EntryPrice: 100, Leverage: 3},
	}

	cycle := c.runCycle(context.Background())
	if cycle.Error != "" {
		t.Fatalf("cycle failed: %s", cycle.Error)
	}
	if len(mock.PlacedOrders) != 1 {
		t.Fatalf("orders = %d, want 1", len(mock.PlacedOrders))
	}
	order := mock.PlacedOrders[0]
	if order.Type != exchange.OrderCloseLong {
		t.Errorf("order type = %d, want close-long", order.Type)
	}
	if order.Size != "1" {
		t.Errorf("order size = %s, want 1", order.Size)
	}
	if len(mock.ClosedSymbols) != 0 {
		t.Error("partial close should not flatten the symbol")
	}
}

func TestManageHoldSkipsCleanly(t *testing.T) {
	llm := happyLLM()
	llm.selection = `{"picks":[{"symbol":"cmt_btcusdt","action":"MANAGE","conviction":7,"reason":"reassess"}]}`
	llm.manage = `{"action":"HOLD","reason":"still within plan"}`
	c, mock, _ := newTestController(t, testEngineConfig(), llm, stubBTC{0, true})
	mock.Pos = []exchange.Position{
		{Symbol: "cmt_btcusdt", Side: exchange.SideLong, Size: 1, EntryPrice: 100, Leverage: 3},
	}

	cycle := c.runCycle(context.Background())
	if cycle.Error != "" {
		t.Fatalf("cycle failed: %s", cycle.Error)
	}
	if !cycle.Skipped || cycle.Executed {
		t.Errorf("cycle = %+v, want clean hold skip", cycle)
	}
	if c.failures != 0 {
		t.Error("hold verdict should count as success")
	}
}

func TestStartIsNonReentrant(t *testing.T) {
	ResetController()
	cfg := testEngineConfig()
	cfg.EngineConfig.CycleInterval = time.Hour
	mock := exchange.NewMockClient(cfg.EngineConfig.ApprovedSymbols)
	c := GetController(Options{
		Config: cfg,
		Client: mock,
		LLM:    happyLLM(),
		Bus:    events.NewBus(),
	})
	defer ResetController()

	if err := c.Start(context.Background(), "user-1", "portfolio-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if err := c.Start(context.Background(), "user-1", "portfolio-1"); err == nil {
		t.Error("second Start should fail while running")
	}
	if !c.IsRunning() {
		t.Error("engine not running after Start")
	}

	st := c.GetStatus()
	if !st.IsRunning || st.UserID != "user-1" {
		t.Errorf("status = %+v", st)
	}
}

func TestStopThenRestart(t *testing.T) {
	cfg := testEngineConfig()
	cfg.EngineConfig.CycleInterval = time.Hour
	mock := exchange.NewMockClient(cfg.EngineConfig.ApprovedSymbols)
	c := NewController(Options{
		Config: cfg,
		Client: mock,
		LLM:    happyLLM(),
		Bus:    events.NewBus(),
	})

	if err := c.Start(context.Background(), "user-1", "p-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Stop()
	if c.IsRunning() {
		t.Fatal("still running after Stop")
	}

	if err := c.Start(context.Background(), "user-1", "p-1"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	c.Stop()
}

func TestCleanupResetsState(t *testing.T) {
	cfg := testEngineConfig()
	cfg.EngineConfig.CycleInterval = time.Hour
	mock := exchange.NewMockClient(cfg.EngineConfig.ApprovedSymbols)
	c := NewController(Options{
		Config: cfg,
		Client: mock,
		LLM:    happyLLM(),
		Bus:    events.NewBus(),
	})

	if err := c.Start(context.Background(), "user-1", "p-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Cleanup()

	st := c.GetStatus()
	if st.IsRunning || st.CycleCount != 0 || st.ConsecutiveFailures != 0 || st.LastCycle != nil {
		t.Errorf("status after cleanup = %+v", st)
	}
	if len(c.state.Entries()) != 0 {
		t.Error("analyst entries survived cleanup")
	}

	if err := c.Start(context.Background(), "user-1", "p-1"); err != nil {
		t.Fatalf("restart after cleanup: %v", err)
	}
	c.Stop()
}

func TestBTCChangeFallsBackToCandles(t *testing.T) {
	c, mock, _ := newTestController(t, testEngineConfig(), happyLLM(), stubBTC{0, false})
	mock.Candles["cmt_btcusdt"] = []exchange.Candle{
		{Close: 100}, {Close: 104},
	}

	if got := c.btcChange4h(); got != 4 {
		t.Errorf("btcChange4h = %v, want 4", got)
	}
}

// Package engine runs the autonomous trading loop: market data, circuit
// breaker, LLM deliberation, risk checklist, execution, bookkeeping.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"collab-trading-bot/config"
	"collab-trading-bot/internal/analyst"
	"collab-trading-bot/internal/circuit"
	"collab-trading-bot/internal/debate"
	"collab-trading-bot/internal/events"
	"collab-trading-bot/internal/exchange"
	"collab-trading-bot/internal/executor"
	"collab-trading-bot/internal/logging"
	"collab-trading-bot/internal/marketdata"
	"collab-trading-bot/internal/portfolio"
	"collab-trading-bot/internal/risk"
	"collab-trading-bot/internal/scheduler"
)

// BTCWindow supplies the rolling BTC price change used by the circuit
// breaker. Satisfied by exchange.TickerStream.
type BTCWindow interface {
	Change4h() (float64, bool)
}

// TradeHistory reads persisted trade activity. It keeps trade spacing
// honest across restarts and feeds the risk council's recent-PnL context.
// Satisfied by database.Repository.
type TradeHistory interface {
	CountTradesSince(ctx context.Context, userID string, since time.Time) (int, error)
	RecentRealizedPnl(ctx context.Context, userID string, since time.Time) (float64, error)
}

// Options wires the controller's collaborators. Bus and Client are
// required; the stores, cache hooks, and BTC stream are optional.
type Options struct {
	Config    config.Config
	Client    exchange.API
	LLM       analyst.Completer
	Bus       *events.Bus
	BTCStream BTCWindow

	TradeStore     executor.TradeStore
	AILogStore     executor.AILogStore
	PortfolioStore portfolio.Store
	History        TradeHistory
	Audit          debate.AuditSink
	RulesCache     RulesCache
}

// RulesCache is the optional Redis-backed contract-spec cache.
type RulesCache interface {
	GetTradingRules(ctx context.Context) (map[string]exchange.Contract, error)
	SetTradingRules(ctx context.Context, rules map[string]exchange.Contract) error
}

// Status is a point-in-time snapshot of the controller, safe to serialize.
type Status struct {
	IsRunning           bool           `json:"isRunning"`
	UserID              string         `json:"userId,omitempty"`
	StartedAt           *time.Time     `json:"startedAt,omitempty"`
	CycleCount          int            `json:"cycleCount"`
	ConsecutiveFailures int            `json:"consecutiveFailures"`
	CircuitLevel        string         `json:"circuitLevel"`
	DryRun              bool           `json:"dryRun"`
	LastCycle           *Cycle         `json:"lastCycle,omitempty"`
	NextCycleAt         *time.Time     `json:"nextCycleAt,omitempty"`
}

// Controller is the single engine instance for the process. Start is
// idempotent and non-reentrant; a second Start while running or starting
// returns an error instead of spawning a second loop.
type Controller struct {
	opts      Options
	logger    *logging.Logger
	assembler *marketdata.Assembler
	sched     *scheduler.Scheduler
	breaker   *circuit.Breaker
	pipeline  *debate.Pipeline
	council   *risk.Council
	exec      *executor.Executor
	state     *portfolio.State

	mu          sync.Mutex
	isStarting  bool
	isRunning   bool
	cancel      context.CancelFunc
	done        chan struct{}
	userID      string
	startedAt   time.Time
	cycleCount  int
	failures    int
	lastCycle   *Cycle
	nextCycleAt time.Time
	lastTradeAt time.Time
	rules       map[string]exchange.Contract
}

var (
	instance   *Controller
	instanceMu sync.Mutex
)

// GetController returns the process-wide controller, creating it on first
// call. Later calls ignore opts.
func GetController(opts Options) *Controller {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		instance = NewController(opts)
	}
	return instance
}

// ResetController drops the singleton, for tests.
func ResetController() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	instance = nil
}

// NewController builds a controller without registering it as the
// singleton.
func NewController(opts Options) *Controller {
	model := "deterministic"
	if opts.LLM != nil {
		model = opts.LLM.Model()
	}
	return &Controller{
		opts:      opts,
		logger:    logging.Default().WithComponent("engine"),
		assembler: marketdata.NewAssembler(opts.Client, opts.Config.EngineConfig.ApprovedSymbols),
		sched:     scheduler.New(),
		breaker:   circuit.New(opts.Config.CircuitConfig),
		pipeline:  debate.New(opts.LLM, marketdata.NewAssembler(opts.Client, opts.Config.EngineConfig.ApprovedSymbols), opts.Config, opts.Audit),
		council:   risk.New(opts.Config.RiskConfig),
		exec:      executor.New(opts.Client, opts.Config, opts.Bus, opts.TradeStore, opts.AILogStore, model),
		state:     portfolio.New(opts.Client, opts.PortfolioStore),
	}
}

// Start launches the trading loop for one user. Returns an error when the
// engine is already running or mid-startup.
func (c *Controller) Start(ctx context.Context, userID, portfolioID string) error {
	c.mu.Lock()
	if c.isRunning || c.isStarting {
		c.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	c.isStarting = true
	c.mu.Unlock()

	// Seed contract rules before the loop; retried because the engine is
	// useless without them.
	rules, err := c.loadTradingRules(ctx)
	if err != nil {
		c.mu.Lock()
		c.isStarting = false
		c.mu.Unlock()
		return fmt.Errorf("failed to load trading rules: %w", err)
	}

	c.state.Reset()
	c.state.Bind(userID, portfolioID)
	if err := c.state.Refresh(ctx, nil); err != nil {
		c.logger.Warn("Initial portfolio refresh failed, continuing with empty state", "error", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.isStarting = false
	c.isRunning = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.userID = userID
	c.startedAt = time.Now()
	c.cycleCount = 0
	c.failures = 0
	c.lastCycle = nil
	c.rules = rules
	c.mu.Unlock()

	c.opts.Bus.Emit(events.EventStarted, map[string]interface{}{
		"userId": userID,
		"dryRun": c.opts.Config.EngineConfig.DryRun,
	})
	c.logger.Info("Engine started", "userId", userID, "dryRun", c.opts.Config.EngineConfig.DryRun)

	go c.run(runCtx)
	return nil
}

// Stop halts the loop and waits briefly for the current cycle to finish.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.logger.Warn("Engine loop did not stop within 5s, detaching")
	}

	c.mu.Lock()
	c.isRunning = false
	c.cancel = nil
	c.mu.Unlock()

	c.opts.Bus.Emit(events.EventStopped, nil)
	c.logger.Info("Engine stopped")
}

// Cleanup stops the loop and clears accumulated state so a later Start
// begins fresh. Safe to call when already stopped.
func (c *Controller) Cleanup() {
	c.Stop()
	c.state.Reset()

	c.mu.Lock()
	c.userID = ""
	c.cycleCount = 0
	c.failures = 0
	c.lastCycle = nil
	c.nextCycleAt = time.Time{}
	c.lastTradeAt = time.Time{}
	c.mu.Unlock()
}

// IsRunning reports whether the loop is live.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isRunning
}

// GetStatus returns a consistent snapshot for the API.
func (c *Controller) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		IsRunning:           c.isRunning,
		CycleCount:          c.cycleCount,
		ConsecutiveFailures: c.failures,
		CircuitLevel:        c.breaker.Last().LevelName,
		DryRun:              c.opts.Config.EngineConfig.DryRun,
		LastCycle:           c.lastCycle,
	}
	if c.isRunning {
		st.UserID = c.userID
		started := c.startedAt
		st.StartedAt = &started
		if !c.nextCycleAt.IsZero() {
			next := c.nextCycleAt
			st.NextCycleAt = &next
		}
	}
	return st
}

// Analysts returns the per-analyst portfolio view.
func (c *Controller) Analysts() []portfolio.AnalystEntry {
	return c.state.Entries()
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	for {
		cycle := c.runCycle(ctx)
		if ctx.Err() != nil {
			return
		}

		interval := c.sched.GetDynamicCycleInterval(
			c.opts.Config.EngineConfig.CycleInterval, cycle.MaxAbsChange24h)
		c.mu.Lock()
		if c.failures > 0 {
			multiplier := math.Min(4, math.Pow(1.5, float64(c.failures)))
			interval = time.Duration(float64(interval) * multiplier)
		}
		c.nextCycleAt = time.Now().Add(interval)
		c.mu.Unlock()

		if !sleepCtx(ctx, interval) {
			return
		}
	}
}

// loadTradingRules fetches contract specs, via the cache when possible.
func (c *Controller) loadTradingRules(ctx context.Context) (map[string]exchange.Contract, error) {
	if c.opts.RulesCache != nil && c.opts.Config.EngineConfig.CacheTradingRules {
		if rules, err := c.opts.RulesCache.GetTradingRules(ctx); err == nil && len(rules) > 0 {
			return rules, nil
		}
	}

	retries := c.opts.Config.EngineConfig.MaxRetries
	if retries < 1 {
		retries = 1
	}
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		contracts, err := c.opts.Client.GetContracts()
		if err != nil {
			lastErr = err
			if !sleepCtx(ctx, time.Second*time.Duration(attempt+1)) {
				return nil, ctx.Err()
			}
			continue
		}
		rules := make(map[string]exchange.Contract, len(contracts))
		for _, contract := range contracts {
			rules[contract.Symbol] = contract
		}
		if len(rules) == 0 {
			lastErr = fmt.Errorf("exchange returned no contracts")
			continue
		}
		if c.opts.RulesCache != nil && c.opts.Config.EngineConfig.CacheTradingRules {
			if err := c.opts.RulesCache.SetTradingRules(ctx, rules); err != nil {
				c.logger.Debug("Trading rules cache write failed", "error", err)
			}
		}
		return rules, nil
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

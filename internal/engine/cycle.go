package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"collab-trading-bot/internal/analyst"
	"collab-trading-bot/internal/circuit"
	"collab-trading-bot/internal/debate"
	"collab-trading-bot/internal/events"
	"collab-trading-bot/internal/exchange"
	"collab-trading-bot/internal/executor"
	"collab-trading-bot/internal/marketdata"
	"collab-trading-bot/internal/risk"
)

// Cycle records one pass through the loop, for status and SSE consumers.
type Cycle struct {
	Number          int        `json:"number"`
	StartedAt       time.Time  `json:"startedAt"`
	CompletedAt     time.Time  `json:"completedAt"`
	CircuitLevel    string     `json:"circuitLevel"`
	Skipped         bool       `json:"skipped"`
	SkipReason      string     `json:"skipReason,omitempty"`
	MaxAbsChange24h float64    `json:"maxAbsChange24h"`
	Symbol          string     `json:"symbol,omitempty"`
	Direction       string     `json:"direction,omitempty"`
	ChampionID      string     `json:"championId,omitempty"`
	Confidence      float64    `json:"confidence,omitempty"`
	JudgedByLLM     bool       `json:"judgedByLLM"`
	Executed        bool       `json:"executed"`
	DryRun          bool       `json:"dryRun"`
	OrderID         string     `json:"orderId,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// runCycle executes one full pass. It emits exactly one cycleStart and one
// cycleComplete regardless of outcome; failures inside a stage mark the
// cycle failed and bump the backoff counter.
func (c *Controller) runCycle(ctx context.Context) *Cycle {
	c.mu.Lock()
	c.cycleCount++
	cycle := &Cycle{Number: c.cycleCount, StartedAt: time.Now()}
	c.mu.Unlock()

	c.opts.Bus.EmitCycleStart(cycle.Number)
	defer func() {
		cycle.CompletedAt = time.Now()
		c.mu.Lock()
		c.lastCycle = cycle
		c.mu.Unlock()
		c.opts.Bus.EmitCycleComplete(cycle)
	}()

	// Stage 1: market data.
	snapshots := c.assembler.Assemble()
	if len(snapshots) == 0 {
		c.fail(cycle, "market data unavailable for every symbol")
		return cycle
	}
	cycle.MaxAbsChange24h = maxAbsChange24h(snapshots)

	marks := make(map[string]float64, len(snapshots))
	for symbol, snap := range snapshots {
		marks[symbol] = snap.Price
	}
	if err := c.state.Refresh(ctx, marks); err != nil {
		c.logger.Warn("Portfolio refresh failed, cycle continues on cached state", "error", err)
	}

	// Circuit breaker gates everything else. Drawdown reports losses as a
	// positive percent; the breaker thresholds are negative.
	status := c.breaker.Evaluate(circuit.Inputs{
		BTCChange4h:   c.btcChange4h(),
		Drawdown24h:   -c.state.Drawdown(24 * time.Hour),
		MaxAbsFunding: marketdata.MaxAbsFunding(snapshots),
	})
	cycle.CircuitLevel = status.LevelName

	if status.Level == circuit.Red {
		c.emergencyClose(status.Reason)
		cycle.Skipped = true
		cycle.SkipReason = "circuit RED: " + status.Reason
		cycle.Error = "RED ALERT: " + status.Reason
		c.succeed()
		return cycle
	}

	// Scheduler may skip quiet periods entirely.
	decision := c.sched.ShouldTradeNow(cycle.MaxAbsChange24h)
	if !decision.ShouldTrade {
		cycle.Skipped = true
		cycle.SkipReason = decision.Reason
		c.succeed()
		return cycle
	}

	if c.opts.LLM == nil {
		cycle.Skipped = true
		cycle.SkipReason = "no LLM configured, monitoring only"
		c.succeed()
		return cycle
	}

	freq := c.opts.Config.EngineConfig.DebateFrequency
	if freq > 1 && (cycle.Number-1)%freq != 0 {
		cycle.Skipped = true
		cycle.SkipReason = fmt.Sprintf("monitor-only cycle, full debate every %d cycles", freq)
		c.succeed()
		return cycle
	}

	// Stage 2: coin selection.
	positions := c.state.Positions()
	sel, err := c.pipeline.RunCoinSelection(snapshots, positions, c.formatTradingRules())
	if err != nil {
		c.fail(cycle, "coin selection failed: "+err.Error())
		return cycle
	}
	cycle.Symbol = sel.Symbol
	cycle.Direction = string(sel.Direction)
	c.opts.Bus.Emit(events.EventCoinSelected, map[string]interface{}{
		"symbol":    sel.Symbol,
		"direction": sel.Direction,
		"score":     sel.Score,
	})

	// A MANAGE winner diverts to position management and skips the
	// championship and risk council.
	if sel.Direction == analyst.ActionManage {
		c.managePosition(cycle, sel, snapshots, positions)
		return cycle
	}

	// Stage 3: championship.
	champ, err := c.pipeline.RunChampionship(sel, snapshots)
	if err != nil {
		c.fail(cycle, "championship failed: "+err.Error())
		return cycle
	}
	cycle.ChampionID = champ.Champion.AnalystID
	cycle.Confidence = champ.Champion.Confidence
	cycle.JudgedByLLM = champ.JudgedByLLM
	c.opts.Bus.Emit(events.EventSpecialistAnalysis, map[string]interface{}{
		"symbol": sel.Symbol,
		"theses": len(champ.Theses),
	})
	c.opts.Bus.Emit(events.EventTournamentComplete, map[string]interface{}{
		"winner":      champ.Champion.AnalystID,
		"judgedByLLM": champ.JudgedByLLM,
	})
	c.opts.Bus.Emit(events.EventChampionSelected, map[string]interface{}{
		"analyst":     champ.Champion.AnalystID,
		"symbol":      sel.Symbol,
		"confidence":  champ.Champion.Confidence,
		"judgedByLLM": champ.JudgedByLLM,
	})

	c.mu.Lock()
	userID := c.userID
	lastTradeAt := c.lastTradeAt
	c.mu.Unlock()

	// Stage 4: risk council review plus deterministic checklist. The
	// council sees the realized PnL of the last 24h from the trades table.
	recentPnl := 0.0
	if c.opts.History != nil {
		if pnl, err := c.opts.History.RecentRealizedPnl(ctx, userID, time.Now().Add(-24*time.Hour)); err == nil {
			recentPnl = pnl
		} else {
			c.logger.Debug("Recent PnL lookup failed", "error", err)
		}
	}
	review := c.pipeline.RunRiskCouncil(champ, sel, snapshots, c.state.Balance(), positions, recentPnl)
	snap := snapshots[sel.Symbol]
	riskDecision := c.council.Review(risk.Input{
		Champion:       champ.Champion,
		Review:         review,
		Symbol:         sel.Symbol,
		Direction:      sel.Direction,
		EntryPrice:     snap.Price,
		Balance:        c.state.Balance(),
		Positions:      positions,
		WeeklyDrawdown: c.state.Drawdown(7 * 24 * time.Hour),
		FundingRate:    snap.FundingRate,
	})

	// Circuit policy overlays the council's numbers.
	riskDecision.Adjustments.PositionSize *= circuit.SizeFactor(status.Level)
	if levCap := circuit.LeverageCap(status.Level); levCap > 0 && riskDecision.Adjustments.Leverage > float64(levCap) {
		riskDecision.Adjustments.Leverage = float64(levCap)
	}
	if riskDecision.Approved && riskDecision.Adjustments.PositionSize < 1 {
		riskDecision = risk.Decision{Approved: false, VetoReason: "position size zeroed by circuit level " + status.LevelName}
	}
	c.opts.Bus.Emit(events.EventRiskCouncilDecision, map[string]interface{}{
		"approved":   riskDecision.Approved,
		"vetoReason": riskDecision.VetoReason,
		"warnings":   riskDecision.Warnings,
	})
	c.opts.Bus.Emit(events.EventDebatesComplete, map[string]interface{}{
		"symbol":  sel.Symbol,
		"analyst": champ.Champion.AnalystID,
	})

	// Pre-execution gates that count as successful cycles.
	minConfidence := c.opts.Config.EngineConfig.MinConfidence
	if champ.Champion.Confidence < minConfidence {
		cycle.Skipped = true
		cycle.SkipReason = fmt.Sprintf("confidence %.0f below floor %.0f", champ.Champion.Confidence, minConfidence)
		c.succeed()
		return cycle
	}
	sinceTrade := time.Since(lastTradeAt)
	minInterval := c.opts.Config.EngineConfig.MinTradeInterval
	if riskDecision.Approved && minInterval > 0 {
		if !lastTradeAt.IsZero() && sinceTrade < minInterval {
			cycle.Skipped = true
			cycle.SkipReason = fmt.Sprintf("last trade %s ago, minimum spacing %s", sinceTrade.Round(time.Second), minInterval)
			c.succeed()
			return cycle
		}
		// After a restart the in-memory timestamp is zero; the trades
		// table still knows about recent fills.
		if lastTradeAt.IsZero() && c.opts.History != nil {
			if n, err := c.opts.History.CountTradesSince(ctx, userID, time.Now().Add(-minInterval)); err == nil && n > 0 {
				cycle.Skipped = true
				cycle.SkipReason = fmt.Sprintf("%d persisted trades within minimum spacing %s", n, minInterval)
				c.succeed()
				return cycle
			}
		}
	}

	// Re-read the price right before sizing; the debate may have taken a
	// while.
	price := snap.Price
	if fresh := c.assembler.RefreshPrices([]string{sel.Symbol}); fresh[sel.Symbol] > 0 {
		price = fresh[sel.Symbol]
	}

	contract, ok := c.lookupContract(sel.Symbol)
	if !ok {
		c.fail(cycle, "no contract spec for "+sel.Symbol)
		return cycle
	}

	outcome, err := c.exec.Execute(ctx, executor.Request{
		UserID:      userID,
		PortfolioID: c.portfolioID(),
		Symbol:      sel.Symbol,
		Direction:   sel.Direction,
		Champion:    champ.Champion,
		Decision:    riskDecision,
		Price:       price,
		Balance:     c.state.Balance(),
		Contract:    contract,
	})
	if err != nil {
		c.fail(cycle, "execution failed: "+err.Error())
		return cycle
	}

	cycle.Executed = outcome.Executed
	cycle.DryRun = outcome.DryRun
	cycle.OrderID = outcome.OrderID
	if !outcome.Executed {
		cycle.Skipped = true
		cycle.SkipReason = outcome.Reason
	}
	if outcome.Executed && !outcome.DryRun {
		c.state.RecordTrade(true)
		c.mu.Lock()
		c.lastTradeAt = time.Now()
		c.mu.Unlock()
		if err := c.state.Refresh(ctx, marks); err != nil {
			c.logger.Warn("Post-trade portfolio refresh failed", "error", err)
		}
	}

	c.succeed()
	return cycle
}

// managePosition runs the management round for a MANAGE winner and applies
// its verdict. CLOSE and PARTIAL_CLOSE reach the exchange; TIGHTEN_STOP and
// HOLD are recorded only, the exchange offers no amend endpoint.
func (c *Controller) managePosition(cycle *Cycle, sel *debate.Selection, snapshots map[string]*marketdata.Snapshot, positions []exchange.Position) {
	var pos *exchange.Position
	for i := range positions {
		if positions[i].Symbol == sel.Symbol {
			pos = &positions[i]
			break
		}
	}
	if pos == nil {
		cycle.Skipped = true
		cycle.SkipReason = "manage winner has no open position"
		c.succeed()
		return
	}

	decision, err := c.pipeline.RunPositionManagement(sel, snapshots, *pos)
	if err != nil {
		c.fail(cycle, "position management failed: "+err.Error())
		return
	}
	c.opts.Bus.Emit(events.EventDebatesComplete, map[string]interface{}{
		"symbol": sel.Symbol,
		"action": decision.Action,
		"reason": decision.Reason,
	})

	dryRun := c.opts.Config.EngineConfig.DryRun
	switch decision.Action {
	case analyst.ManageClose:
		if dryRun {
			c.logger.Info("Dry run: would close position", "symbol", sel.Symbol, "reason", decision.Reason)
			cycle.Executed = true
			cycle.DryRun = true
			break
		}
		if err := c.opts.Client.CloseAllPositions(sel.Symbol); err != nil {
			c.fail(cycle, "manage close failed: "+err.Error())
			return
		}
		cycle.Executed = true

	case analyst.ManagePartialClose:
		contract, ok := c.lookupContract(sel.Symbol)
		if !ok {
			c.fail(cycle, "no contract spec for "+sel.Symbol)
			return
		}
		closeType := exchange.OrderCloseLong
		if pos.Side == exchange.SideShort {
			closeType = exchange.OrderCloseShort
		}
		price := pos.EntryPrice
		if snap, ok := snapshots[sel.Symbol]; ok && snap.Price > 0 {
			price = snap.Price
		}
		order := &exchange.Order{
			Symbol:     sel.Symbol,
			Type:       closeType,
			OrderType:  exchange.ExecFOK,
			MatchPrice: exchange.MatchMarket,
			Size:       contract.FormatSize(pos.Size * decision.ClosePercent / 100),
			Price:      contract.FormatPrice(price),
			ClientOID:  fmt.Sprintf("collab-%s", uuid.New().String()[:30]),
		}
		if err := order.Validate(contract); err != nil {
			c.fail(cycle, "manage partial close invalid: "+err.Error())
			return
		}
		if dryRun {
			c.logger.Info("Dry run: would partially close position",
				"symbol", sel.Symbol, "size", order.Size, "reason", decision.Reason)
			cycle.Executed = true
			cycle.DryRun = true
			break
		}
		resp, err := c.opts.Client.PlaceOrder(order)
		if err != nil {
			c.fail(cycle, "manage partial close failed: "+err.Error())
			return
		}
		cycle.Executed = true
		cycle.OrderID = resp.OrderID

	default:
		// TIGHTEN_STOP and HOLD leave the book untouched.
		cycle.Skipped = true
		cycle.SkipReason = fmt.Sprintf("manage verdict %s: %s", decision.Action, decision.Reason)
	}

	c.succeed()
}

// emergencyClose flattens every open position, one close call per distinct
// symbol, and clears the in-memory book.
func (c *Controller) emergencyClose(reason string) {
	positions := c.state.Positions()
	seen := make(map[string]bool)
	var symbols []string
	for _, p := range positions {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			symbols = append(symbols, p.Symbol)
		}
	}
	sort.Strings(symbols)

	closed := 0
	for _, symbol := range symbols {
		if err := c.opts.Client.CloseAllPositions(symbol); err != nil {
			c.logger.Error("Emergency close failed", "symbol", symbol, "error", err)
			continue
		}
		closed++
	}
	c.state.ClearPositions()

	c.logger.Error("RED ALERT: emergency close", "reason", reason, "symbols", len(symbols), "closed", closed)
	c.opts.Bus.Emit(events.EventEmergencyClose, map[string]interface{}{
		"reason":  reason,
		"symbols": symbols,
		"closed":  closed,
	})
}

func (c *Controller) btcChange4h() float64 {
	if c.opts.BTCStream != nil {
		if change, ok := c.opts.BTCStream.Change4h(); ok {
			return change
		}
	}
	// Stream cold or absent: derive the move from hourly candles.
	candles, err := c.opts.Client.GetCandles("cmt_btcusdt", 3600, 5)
	if err != nil || len(candles) < 2 {
		return 0
	}
	first, last := candles[0].Close, candles[len(candles)-1].Close
	if first <= 0 {
		return 0
	}
	return (last - first) / first * 100
}

func (c *Controller) lookupContract(symbol string) (exchange.Contract, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	contract, ok := c.rules[symbol]
	return contract, ok
}

func (c *Controller) portfolioID() string {
	entries := c.state.Entries()
	if len(entries) > 0 {
		return entries[0].PortfolioID
	}
	return ""
}

// formatTradingRules renders the cached contract specs into the prompt
// context for the coin selectors.
func (c *Controller) formatTradingRules() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	symbols := make([]string, 0, len(c.rules))
	for symbol := range c.rules {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var b strings.Builder
	for _, symbol := range symbols {
		r := c.rules[symbol]
		fmt.Fprintf(&b, "%s: min size %s, size step %s, max leverage %dx\n",
			symbol, r.MinSize, r.SizeIncrement, r.MaxLeverage)
	}
	return b.String()
}

func (c *Controller) fail(cycle *Cycle, msg string) {
	cycle.Error = msg
	c.mu.Lock()
	c.failures++
	failures := c.failures
	c.mu.Unlock()
	c.logger.Error("Cycle failed", "cycle", cycle.Number, "consecutiveFailures", failures, "error", msg)
}

func (c *Controller) succeed() {
	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()
}

func maxAbsChange24h(snapshots map[string]*marketdata.Snapshot) float64 {
	max := 0.0
	for _, snap := range snapshots {
		if v := math.Abs(snap.Change24h); v > max {
			max = v
		}
	}
	return max
}

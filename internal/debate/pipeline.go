package debate

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"collab-trading-bot/config"
	"collab-trading-bot/internal/analyst"
	"collab-trading-bot/internal/exchange"
	"collab-trading-bot/internal/logging"
	"collab-trading-bot/internal/marketdata"
)

// Price drift thresholds that force the working snapshot to be replaced
// with a refreshed one between stages.
const (
	championshipDriftPct = 0.5
	riskCouncilDriftPct  = 0.3
)

// Pipeline orchestrates the LLM deliberation stages. It is driven by the
// engine loop strictly serially; it has no goroutines of its own beyond the
// per-selector fan-out inside a stage.
type Pipeline struct {
	llm       analyst.Completer
	assembler *marketdata.Assembler
	cfg       config.Config
	audit     AuditSink
	logger    *logging.Logger
}

// New creates a pipeline. audit may be nil.
func New(llm analyst.Completer, assembler *marketdata.Assembler, cfg config.Config, audit AuditSink) *Pipeline {
	if audit == nil {
		audit = NopAudit{}
	}
	return &Pipeline{
		llm:       llm,
		assembler: assembler,
		cfg:       cfg,
		audit:     audit,
		logger:    logging.Default().WithComponent("debate"),
	}
}

// FormatPositions renders open positions for prompt context.
func FormatPositions(positions []exchange.Position) string {
	if len(positions) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range positions {
		fmt.Fprintf(&b, "- %s %s size=%.6g entry=%.6g leverage=%.1f upnl=%.2f\n",
			p.Side, p.Symbol, p.Size, p.EntryPrice, p.Leverage, p.UnrealizedPnl)
	}
	return b.String()
}

// ==================== STAGE 2: COIN SELECTION ====================

// rank multipliers: the #1 pick counts 3x its conviction, #2 2x, #3 1x.
var rankMultipliers = []float64{3, 2, 1}

// RunCoinSelection asks the four selectors for ranked picks and aggregates
// scores per (symbol, direction). Individual selector failures are logged
// and skipped; the stage fails only when no selector produced valid picks.
func (p *Pipeline) RunCoinSelection(snapshots map[string]*marketdata.Snapshot, positions []exchange.Position, tradingRules string) (*Selection, error) {
	approved := make(map[string]bool, len(snapshots))
	for s := range snapshots {
		approved[s] = true
	}
	openSymbols := make(map[string]bool, len(positions))
	for _, pos := range positions {
		openSymbols[pos.Symbol] = true
	}
	positionsBlock := FormatPositions(positions)

	type key struct {
		symbol string
		action analyst.Action
	}
	scores := make(map[key]float64)
	reasons := make(map[key][]string)
	result := &Result{Scores: make(map[string]analyst.JudgeScore)}

	contributed := 0
	for _, selector := range analyst.CoinSelectors() {
		system, user := analyst.CoinSelectionPrompts(selector, snapshots, positionsBlock, tradingRules)
		raw, err := p.llm.Complete(system, user)
		if err != nil {
			p.logger.Warn("Coin selector call failed", "analyst", selector.ID, "error", err)
			continue
		}
		p.audit.RecordAnalysis("coin_selection", selector.ID, user, raw)

		sel, err := analyst.ParseCoinSelection(raw, approved)
		if err != nil {
			p.logger.Warn("Coin selector returned invalid picks", "analyst", selector.ID, "error", err)
			continue
		}

		contributed++
		for rank, pick := range sel.Picks {
			// MANAGE only counts against a genuinely open position.
			if pick.Action == analyst.ActionManage && !openSymbols[pick.Symbol] {
				continue
			}
			k := key{symbol: pick.Symbol, action: pick.Action}
			scores[k] += rankMultipliers[rank] * pick.Conviction
			reasons[k] = append(reasons[k], pick.Reason)

			result.Turns = append(result.Turns, Turn{
				AnalystName:          selector.Name,
				Argument:             pick.Reason,
				Strength:             pick.Conviction,
				DataPointsReferenced: []string{pick.Symbol},
			})
		}
	}

	if contributed == 0 || len(scores) == 0 {
		return nil, &analyst.MalformedResponseError{Stage: "Coin selection debate", Message: "no selector produced valid picks"}
	}

	var best key
	bestScore := -1.0
	keys := make([]key, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	// Deterministic tie-break on symbol then action.
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].symbol != keys[j].symbol {
			return keys[i].symbol < keys[j].symbol
		}
		return keys[i].action < keys[j].action
	})
	for _, k := range keys {
		if scores[k] > bestScore {
			best, bestScore = k, scores[k]
		}
	}

	result.Winner = best.symbol
	result.WinningArguments = reasons[best]

	p.logger.Info("Coin selection decided",
		"symbol", best.symbol, "direction", string(best.action), "score", bestScore, "selectors", contributed)

	return &Selection{
		Symbol:    best.symbol,
		Direction: best.action,
		Score:     bestScore,
		Result:    result,
	}, nil
}

// RunPositionManagement handles a MANAGE winner: the risk-role analyst
// decides what to do with the open position. Replaces stages 3 and 4.
func (p *Pipeline) RunPositionManagement(sel *Selection, snapshots map[string]*marketdata.Snapshot, position exchange.Position) (*analyst.ManagementDecision, error) {
	p.RefreshIfDrifted(snapshots, sel.Symbol, riskCouncilDriftPct)

	reason := ""
	if len(sel.Result.WinningArguments) > 0 {
		reason = sel.Result.WinningArguments[0]
	}

	prof := analyst.RiskCouncilProfile()
	system, user := analyst.ManagementPrompts(prof, position, snapshots[sel.Symbol], reason)

	raw, err := p.llm.Complete(system, user)
	if err != nil {
		return nil, fmt.Errorf("position management call failed: %w", err)
	}
	p.audit.RecordAnalysis("position_management", prof.ID, user, raw)

	decision, err := analyst.ParseManagementDecision(raw)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Position management decided",
		"symbol", sel.Symbol, "action", decision.Action, "reason", decision.Reason)
	return decision, nil
}

// ==================== STAGE 3: CHAMPIONSHIP ====================

// RefreshIfDrifted re-fetches prices for the symbol and swaps the snapshot
// when drift exceeds thresholdPct.
func (p *Pipeline) RefreshIfDrifted(snapshots map[string]*marketdata.Snapshot, symbol string, thresholdPct float64) {
	old, ok := snapshots[symbol]
	if !ok || old.Price <= 0 {
		return
	}
	fresh := p.assembler.RefreshPrices([]string{symbol})
	price, ok := fresh[symbol]
	if !ok || price <= 0 {
		return
	}
	drift := math.Abs(price-old.Price) / old.Price * 100
	if drift > thresholdPct {
		p.logger.Info("Price drifted between stages, refreshing snapshot",
			"symbol", symbol, "old", old.Price, "new", price, "driftPct", drift)
		updated := *old
		updated.Price = price
		snapshots[symbol] = &updated
	}
}

// RunChampionship collects a thesis from every analyst for the winning
// (symbol, direction) and judges them. The judge is an LLM call; when it
// fails or returns garbage, a deterministic scorer picks the champion.
func (p *Pipeline) RunChampionship(sel *Selection, snapshots map[string]*marketdata.Snapshot) (*Championship, error) {
	p.RefreshIfDrifted(snapshots, sel.Symbol, championshipDriftPct)
	snapshot := snapshots[sel.Symbol]

	winningArgument := ""
	if len(sel.Result.WinningArguments) > 0 {
		winningArgument = sel.Result.WinningArguments[0]
	}

	theses := make(map[string]*analyst.AnalysisResult)
	result := &Result{Scores: make(map[string]analyst.JudgeScore)}

	for _, prof := range analyst.Profiles {
		system, user := analyst.SpecialistPrompts(prof, sel.Symbol, sel.Direction, snapshot, winningArgument, p.cfg.RiskConfig.MaxLeverage)
		raw, err := p.llm.Complete(system, user)
		if err != nil {
			p.logger.Warn("Specialist call failed", "analyst", prof.ID, "error", err)
			continue
		}
		p.audit.RecordAnalysis("championship", prof.ID, user, raw)

		thesis, err := analyst.ParseAnalysis(raw, prof.ID, float64(p.cfg.RiskConfig.MaxLeverage))
		if err != nil {
			p.logger.Warn("Specialist returned invalid thesis", "analyst", prof.ID, "error", err)
			continue
		}
		theses[prof.ID] = thesis

		result.Turns = append(result.Turns, Turn{
			AnalystName:          prof.Name,
			Argument:             thesis.Thesis,
			Strength:             thesis.Confidence / 10,
			DataPointsReferenced: thesis.BullCase,
		})
	}

	if len(theses) == 0 {
		return nil, &analyst.MalformedResponseError{Stage: "Championship", Message: "no analyst produced a valid thesis"}
	}

	champion, scores, judged := p.judge(theses)
	result.Winner = champion.AnalystID
	result.Scores = scores
	result.WinningArguments = []string{champion.Thesis}

	p.logger.Info("Championship decided",
		"champion", champion.AnalystID, "confidence", champion.Confidence, "judgedByLLM", judged, "theses", len(theses))

	return &Championship{
		Champion:    champion,
		Theses:      theses,
		Result:      result,
		JudgedByLLM: judged,
	}, nil
}

// judge asks the LLM judge first and falls back to the deterministic scorer.
func (p *Pipeline) judge(theses map[string]*analyst.AnalysisResult) (*analyst.AnalysisResult, map[string]analyst.JudgeScore, bool) {
	weights := p.cfg.AIConfig.JudgeWeights

	candidates := make(map[string]bool, len(theses))
	for id := range theses {
		candidates[id] = true
	}

	system, user := analyst.JudgePrompts(theses, weights)
	raw, err := p.llm.Complete(system, user)
	if err == nil {
		p.audit.RecordAnalysis("judging", "judge", user, raw)
		if verdict, perr := analyst.ParseJudgeVerdict(raw, candidates); perr == nil {
			return theses[verdict.Winner], verdict.Scores, true
		} else {
			p.logger.Warn("Judge verdict invalid, using deterministic scorer", "error", perr)
		}
	} else {
		p.logger.Warn("Judge call failed, using deterministic scorer", "error", err)
	}

	winner, scores := ScoreTheses(theses, weights)
	return theses[winner], scores, false
}

// ==================== STAGE 4: RISK COUNCIL (LLM) ====================

// RunRiskCouncil hands the champion's thesis to the risk-role analyst. A
// failed or malformed review falls through to a pass-through review so the
// deterministic checklist still runs downstream.
func (p *Pipeline) RunRiskCouncil(champ *Championship, sel *Selection, snapshots map[string]*marketdata.Snapshot, balance float64, positions []exchange.Position, recentPnl float64) *analyst.RiskReview {
	p.RefreshIfDrifted(snapshots, sel.Symbol, riskCouncilDriftPct)

	prof := analyst.RiskCouncilProfile()
	system, user := analyst.RiskCouncilPrompts(prof, champ.Champion, sel.Symbol, sel.Direction, balance, FormatPositions(positions), recentPnl)

	raw, err := p.llm.Complete(system, user)
	if err != nil {
		p.logger.Warn("Risk council call failed, passing champion through to checklist", "error", err)
		return passthroughReview(champ.Champion)
	}
	p.audit.RecordAnalysis("risk_council", prof.ID, user, raw)

	review, err := analyst.ParseRiskReview(raw)
	if err != nil {
		p.logger.Warn("Risk council review invalid, passing champion through to checklist", "error", err)
		return passthroughReview(champ.Champion)
	}
	return review
}

func passthroughReview(champion *analyst.AnalysisResult) *analyst.RiskReview {
	return &analyst.RiskReview{
		Approved:     true,
		PositionSize: champion.PositionSize,
		Leverage:     champion.Leverage,
		StopLoss:     champion.StopLoss,
		Warnings:     []string{"risk council review unavailable, deterministic checklist only"},
	}
}

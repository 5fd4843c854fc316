package analyst

import (
	"fmt"
	"sort"
	"strings"

	"collab-trading-bot/config"
	"collab-trading-bot/internal/exchange"
	"collab-trading-bot/internal/marketdata"
)

// System prompts for the pipeline stages. Each demands strict JSON so the
// stage validators can parse the reply.
const (
	systemPromptCoinSelection = `You are %s, a cryptocurrency analyst. %s

You are selecting perpetual futures contracts to trade this cycle. Review the market snapshot and pick up to 3 contracts, ranked by preference.

Your response must be valid JSON with this structure:
{
  "picks": [
    {"symbol": "cmt_btcusdt", "action": "LONG" | "SHORT" | "MANAGE", "conviction": 1-10, "reason": "brief explanation"}
  ]
}

Rules:
- Only use symbols that appear in the snapshot.
- Use MANAGE only for a symbol where a position is already open.
- Conviction reflects how strongly your methodology supports the pick.
- No text outside the JSON.`

	systemPromptSpecialist = `You are %s, a cryptocurrency analyst. %s

Produce a full trading thesis for the given contract and direction.

Your response must be valid JSON with this structure:
{
  "recommendation": "strong_buy" | "buy" | "hold" | "sell" | "strong_sell",
  "confidence": 0-100,
  "thesis": "your core argument",
  "bullCase": ["point", ...],
  "bearCase": ["point", ...],
  "priceTarget": {"bull": number, "base": number, "bear": number},
  "stopLoss": number,
  "leverage": 1-%d,
  "positionSize": 1-10,
  "catalyst": "what moves the price",
  "timeframe": "expected horizon"
}

All price fields must be positive numbers near the current price. No text outside the JSON.`

	systemPromptJudge = `You are the head judge of a trading analyst championship. Rank the submitted theses on four criteria: data quality (weight %d), logic (weight %d), risk awareness (weight %d), catalyst clarity (weight %d). Weights sum to 100.

Your response must be valid JSON with this structure:
{
  "winner": "<analystId>",
  "scores": {
    "<analystId>": {"dataQuality": 0-10, "logic": 0-10, "riskAwareness": 0-10, "catalystClarity": 0-10, "total": weighted total}
  }
}

The winner must be the analyst with the highest weighted total. No text outside the JSON.`

	systemPromptManagement = `You are %s, the risk council. %s

You are managing an open position the selectors voted to revisit. Decide whether to close it, close part of it, tighten its stop, or hold.

Your response must be valid JSON with this structure:
{
  "action": "CLOSE" | "PARTIAL_CLOSE" | "TIGHTEN_STOP" | "HOLD",
  "closePercent": 1-99,
  "stopLoss": number,
  "reason": "brief explanation"
}

closePercent applies only to PARTIAL_CLOSE; stopLoss only to TIGHTEN_STOP. No text outside the JSON.`

	systemPromptRiskCouncil = `You are %s, the risk council. %s

Review the champion's proposed trade against the account state. You may approve as-is, approve with tightened parameters, or veto.

Your response must be valid JSON with this structure:
{
  "approved": true | false,
  "positionSize": 1-10,
  "leverage": number,
  "stopLoss": number,
  "warnings": ["..."],
  "vetoReason": "required when approved is false"
}

Prefer adjusting size, leverage, or stop-loss over vetoing. No text outside the JSON.`
)

// FormatSnapshots renders the market snapshot block shared by all prompts.
// Symbols are sorted for deterministic prompt text.
func FormatSnapshots(snapshots map[string]*marketdata.Snapshot) string {
	symbols := make([]string, 0, len(snapshots))
	for s := range snapshots {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var b strings.Builder
	b.WriteString("MARKET SNAPSHOT:\n")
	for _, symbol := range symbols {
		s := snapshots[symbol]
		fmt.Fprintf(&b, "- %s: price=%.6g change24h=%.2f%% high=%.6g low=%.6g volume=%.6g",
			s.Symbol, s.Price, s.Change24h, s.High24h, s.Low24h, s.Volume24h)
		if s.FundingRate != nil {
			fmt.Fprintf(&b, " funding=%.5f", *s.FundingRate)
		} else {
			b.WriteString(" funding=unavailable")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// CoinSelectionPrompts builds the stage-2 prompt pair for one selector.
func CoinSelectionPrompts(p Profile, snapshots map[string]*marketdata.Snapshot, openPositions string, tradingRules string) (system, user string) {
	system = fmt.Sprintf(systemPromptCoinSelection, p.Name, p.Persona)

	var b strings.Builder
	b.WriteString(FormatSnapshots(snapshots))
	if openPositions != "" {
		b.WriteString("\nOPEN POSITIONS:\n")
		b.WriteString(openPositions)
		b.WriteString("\n")
	}
	if tradingRules != "" {
		b.WriteString("\nTRADING RULES:\n")
		b.WriteString(tradingRules)
		b.WriteString("\n")
	}
	b.WriteString("\nSelect up to 3 contracts now.")
	return system, b.String()
}

// SpecialistPrompts builds the stage-3 prompt pair for one specialist
// analyzing the winning (symbol, direction).
func SpecialistPrompts(p Profile, symbol string, direction Action, snapshot *marketdata.Snapshot, winningArgument string, maxLeverage int) (system, user string) {
	system = fmt.Sprintf(systemPromptSpecialist, p.Name, p.Persona, maxLeverage)

	var b strings.Builder
	fmt.Fprintf(&b, "CONTRACT: %s\nDIRECTION: %s\n\n", symbol, direction)
	if snapshot != nil {
		fmt.Fprintf(&b, "CURRENT DATA: price=%.6g change24h=%.2f%% high=%.6g low=%.6g volume=%.6g",
			snapshot.Price, snapshot.Change24h, snapshot.High24h, snapshot.Low24h, snapshot.Volume24h)
		if snapshot.FundingRate != nil {
			fmt.Fprintf(&b, " funding=%.5f", *snapshot.FundingRate)
		}
		b.WriteString("\n\n")
	}
	if winningArgument != "" {
		b.WriteString("COIN SELECTION WINNING ARGUMENT:\n")
		b.WriteString(winningArgument)
		b.WriteString("\n\n")
	}
	b.WriteString("Produce your full thesis now.")
	return system, b.String()
}

// JudgePrompts builds the stage-3 judging prompt over all submitted theses.
func JudgePrompts(theses map[string]*AnalysisResult, weights config.JudgeWeights) (system, user string) {
	system = fmt.Sprintf(systemPromptJudge, weights.DataQuality, weights.Logic, weights.RiskAwareness, weights.CatalystClarity)

	ids := make([]string, 0, len(theses))
	for id := range theses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("SUBMITTED THESES:\n\n")
	for _, id := range ids {
		t := theses[id]
		fmt.Fprintf(&b, "--- %s (%s, confidence %.0f) ---\n%s\nCatalyst: %s\nTargets: bull=%.6g base=%.6g bear=%.6g, stop=%.6g\n\n",
			id, t.Recommendation, t.Confidence, t.Thesis, t.Catalyst,
			t.PriceTarget.Bull, t.PriceTarget.Base, t.PriceTarget.Bear, t.StopLoss)
	}
	b.WriteString("Rank them and name the winner.")
	return system, b.String()
}

// ManagementPrompts builds the prompt pair for the position-management round
// that replaces stages 3 and 4 when the selection winner is MANAGE.
func ManagementPrompts(p Profile, pos exchange.Position, snapshot *marketdata.Snapshot, selectionReason string) (system, user string) {
	system = fmt.Sprintf(systemPromptManagement, p.Name, p.Persona)

	var b strings.Builder
	fmt.Fprintf(&b, "OPEN POSITION: %s %s size=%.6g entry=%.6g leverage=%.1f upnl=%.2f\n",
		pos.Side, pos.Symbol, pos.Size, pos.EntryPrice, pos.Leverage, pos.UnrealizedPnl)
	if snapshot != nil {
		fmt.Fprintf(&b, "CURRENT DATA: price=%.6g change24h=%.2f%% high=%.6g low=%.6g\n",
			snapshot.Price, snapshot.Change24h, snapshot.High24h, snapshot.Low24h)
	}
	if selectionReason != "" {
		b.WriteString("SELECTOR ARGUMENT:\n")
		b.WriteString(selectionReason)
		b.WriteString("\n")
	}
	b.WriteString("\nDecide now.")
	return system, b.String()
}

// RiskCouncilPrompts builds the stage-4 prompt pair.
func RiskCouncilPrompts(p Profile, champion *AnalysisResult, symbol string, direction Action, balance float64, openPositions string, recentPnl float64) (system, user string) {
	system = fmt.Sprintf(systemPromptRiskCouncil, p.Name, p.Persona)

	var b strings.Builder
	fmt.Fprintf(&b, "PROPOSED TRADE: %s %s\n", direction, symbol)
	fmt.Fprintf(&b, "Champion: %s, confidence %.0f\nThesis: %s\n", champion.AnalystID, champion.Confidence, champion.Thesis)
	fmt.Fprintf(&b, "Proposed: positionSize=%.1f leverage=%.1f stopLoss=%.6g target=%.6g\n\n",
		champion.PositionSize, champion.Leverage, champion.StopLoss, champion.PriceTarget.Base)
	fmt.Fprintf(&b, "ACCOUNT: balance=%.2f USDT, recent realized PnL=%.2f\n", balance, recentPnl)
	if openPositions != "" {
		b.WriteString("OPEN POSITIONS:\n")
		b.WriteString(openPositions)
		b.WriteString("\n")
	}
	b.WriteString("\nReview the trade now.")
	return system, b.String()
}

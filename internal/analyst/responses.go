package analyst

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"collab-trading-bot/internal/exchange"
)

// MalformedResponseError marks an LLM reply that failed structural
// validation. The affected stage fails the cycle.
type MalformedResponseError struct {
	Stage   string
	Message string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s returned invalid data: %s", e.Stage, e.Message)
}

// Action is a coin-selection verdict.
type Action string

const (
	ActionLong   Action = "LONG"
	ActionShort  Action = "SHORT"
	ActionManage Action = "MANAGE"
)

// CoinPick is one ranked entry in a selector's pick list.
type CoinPick struct {
	Symbol     string  `json:"symbol"`
	Action     Action  `json:"action"`
	Conviction float64 `json:"conviction"` // 0..10
	Reason     string  `json:"reason"`
}

// CoinSelection is one selector's full stage-2 reply.
type CoinSelection struct {
	Picks []CoinPick `json:"picks"`
}

// PriceTarget is a thesis price scenario set.
type PriceTarget struct {
	Bull float64 `json:"bull"`
	Base float64 `json:"base"`
	Bear float64 `json:"bear"`
}

// Recommendation strength scale for a thesis.
const (
	RecStrongBuy  = "strong_buy"
	RecBuy        = "buy"
	RecHold       = "hold"
	RecSell       = "sell"
	RecStrongSell = "strong_sell"
)

// AnalysisResult is one specialist's full stage-3 thesis.
type AnalysisResult struct {
	AnalystID      string      `json:"analystId"`
	Recommendation string      `json:"recommendation"`
	Confidence     float64     `json:"confidence"` // 0..100
	Thesis         string      `json:"thesis"`
	BullCase       []string    `json:"bullCase"`
	BearCase       []string    `json:"bearCase"`
	PriceTarget    PriceTarget `json:"priceTarget"`
	StopLoss       float64     `json:"stopLoss"`
	Leverage       float64     `json:"leverage"`     // 1..MAX_LEVERAGE
	PositionSize   float64     `json:"positionSize"` // 1..10
	Catalyst       string      `json:"catalyst"`
	Timeframe      string      `json:"timeframe"`
}

// JudgeScore is one thesis's judged breakdown, each criterion 0..10.
type JudgeScore struct {
	DataQuality     float64 `json:"dataQuality"`
	Logic           float64 `json:"logic"`
	RiskAwareness   float64 `json:"riskAwareness"`
	CatalystClarity float64 `json:"catalystClarity"`
	Total           float64 `json:"total"`
}

// JudgeVerdict is the championship judge's stage-3 reply.
type JudgeVerdict struct {
	Winner string                `json:"winner"`
	Scores map[string]JudgeScore `json:"scores"`
}

// RiskReview is the risk-council analyst's stage-4 reply, merged with the
// deterministic checklist downstream.
type RiskReview struct {
	Approved     bool     `json:"approved"`
	PositionSize float64  `json:"positionSize"`
	Leverage     float64  `json:"leverage"`
	StopLoss     float64  `json:"stopLoss"`
	Warnings     []string `json:"warnings"`
	VetoReason   string   `json:"vetoReason"`
}

// stripMarkdownCodeBlock removes a ```json fence if the model wrapped its
// reply in one.
func stripMarkdownCodeBlock(response string) string {
	s := strings.TrimSpace(response)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Management actions available when the selection winner is a MANAGE
// verdict on an open position.
const (
	ManageClose        = "CLOSE"
	ManagePartialClose = "PARTIAL_CLOSE"
	ManageTightenStop  = "TIGHTEN_STOP"
	ManageHold         = "HOLD"
)

// ManagementDecision is the reply of the position-management round that
// replaces stages 3 and 4 for a MANAGE winner.
type ManagementDecision struct {
	Action       string  `json:"action"`
	ClosePercent float64 `json:"closePercent"` // PARTIAL_CLOSE only, 0..100
	StopLoss     float64 `json:"stopLoss"`     // TIGHTEN_STOP only
	Reason       string  `json:"reason"`
}

// ParseCoinSelection parses and validates one selector's reply. Picks with
// unknown symbols or malformed fields are dropped; an empty surviving list
// is an error.
func ParseCoinSelection(raw string, approved map[string]bool) (*CoinSelection, error) {
	var sel CoinSelection
	if err := json.Unmarshal([]byte(stripMarkdownCodeBlock(raw)), &sel); err != nil {
		return nil, &MalformedResponseError{Stage: "Coin selection debate", Message: err.Error()}
	}
	if len(sel.Picks) == 0 {
		return nil, &MalformedResponseError{Stage: "Coin selection debate", Message: "no picks"}
	}
	if len(sel.Picks) > 3 {
		sel.Picks = sel.Picks[:3]
	}

	kept := sel.Picks[:0]
	for _, p := range sel.Picks {
		if !approved[p.Symbol] || !exchange.ValidSymbol(p.Symbol) {
			continue
		}
		switch p.Action {
		case ActionLong, ActionShort, ActionManage:
		default:
			continue
		}
		if !finite(p.Conviction) || p.Conviction <= 0 {
			continue
		}
		if p.Conviction > 10 {
			p.Conviction = 10
		}
		kept = append(kept, p)
	}
	sel.Picks = kept

	if len(sel.Picks) == 0 {
		return nil, &MalformedResponseError{Stage: "Coin selection debate", Message: "no valid picks survived validation"}
	}
	return &sel, nil
}

// ParseAnalysis parses and validates a specialist thesis. maxLeverage bounds
// the leverage field.
func ParseAnalysis(raw, analystID string, maxLeverage float64) (*AnalysisResult, error) {
	var res AnalysisResult
	if err := json.Unmarshal([]byte(stripMarkdownCodeBlock(raw)), &res); err != nil {
		return nil, &MalformedResponseError{Stage: "Specialist analysis", Message: err.Error()}
	}
	res.AnalystID = analystID

	switch res.Recommendation {
	case RecStrongBuy, RecBuy, RecHold, RecSell, RecStrongSell:
	default:
		return nil, &MalformedResponseError{Stage: "Specialist analysis", Message: fmt.Sprintf("unknown recommendation %q", res.Recommendation)}
	}
	if !finite(res.Confidence) || res.Confidence < 0 || res.Confidence > 100 {
		return nil, &MalformedResponseError{Stage: "Specialist analysis", Message: "confidence outside [0,100]"}
	}
	if res.Thesis == "" {
		return nil, &MalformedResponseError{Stage: "Specialist analysis", Message: "empty thesis"}
	}
	for _, v := range []float64{res.PriceTarget.Bull, res.PriceTarget.Base, res.PriceTarget.Bear, res.StopLoss} {
		if !finite(v) || v <= 0 {
			return nil, &MalformedResponseError{Stage: "Specialist analysis", Message: "non-finite or non-positive price field"}
		}
	}
	if !finite(res.Leverage) || res.Leverage < 1 {
		res.Leverage = 1
	}
	if res.Leverage > maxLeverage {
		res.Leverage = maxLeverage
	}
	if !finite(res.PositionSize) || res.PositionSize < 1 {
		res.PositionSize = 1
	}
	if res.PositionSize > 10 {
		res.PositionSize = 10
	}
	return &res, nil
}

// ParseJudgeVerdict parses the championship judge's reply. The winner must
// be one of the candidate ids.
func ParseJudgeVerdict(raw string, candidates map[string]bool) (*JudgeVerdict, error) {
	var v JudgeVerdict
	if err := json.Unmarshal([]byte(stripMarkdownCodeBlock(raw)), &v); err != nil {
		return nil, &MalformedResponseError{Stage: "Championship judging", Message: err.Error()}
	}
	if v.Winner == "" || !candidates[v.Winner] {
		return nil, &MalformedResponseError{Stage: "Championship judging", Message: fmt.Sprintf("winner %q not among candidates", v.Winner)}
	}
	return &v, nil
}

// ParseRiskReview parses the risk-council analyst's reply.
func ParseRiskReview(raw string) (*RiskReview, error) {
	var r RiskReview
	if err := json.Unmarshal([]byte(stripMarkdownCodeBlock(raw)), &r); err != nil {
		return nil, &MalformedResponseError{Stage: "Risk council review", Message: err.Error()}
	}
	if !r.Approved && r.VetoReason == "" {
		return nil, &MalformedResponseError{Stage: "Risk council review", Message: "rejection without veto reason"}
	}
	for _, v := range []float64{r.PositionSize, r.Leverage, r.StopLoss} {
		if !finite(v) {
			return nil, &MalformedResponseError{Stage: "Risk council review", Message: "non-finite adjustment"}
		}
	}
	return &r, nil
}

// ParseManagementDecision parses the position-management reply.
func ParseManagementDecision(raw string) (*ManagementDecision, error) {
	var d ManagementDecision
	if err := json.Unmarshal([]byte(stripMarkdownCodeBlock(raw)), &d); err != nil {
		return nil, &MalformedResponseError{Stage: "Position management", Message: err.Error()}
	}
	switch d.Action {
	case ManageClose, ManagePartialClose, ManageTightenStop, ManageHold:
	default:
		return nil, &MalformedResponseError{Stage: "Position management", Message: fmt.Sprintf("unknown action %q", d.Action)}
	}
	if d.Action == ManagePartialClose {
		if !finite(d.ClosePercent) || d.ClosePercent <= 0 || d.ClosePercent >= 100 {
			return nil, &MalformedResponseError{Stage: "Position management", Message: "closePercent outside (0,100)"}
		}
	}
	if d.Action == ManageTightenStop && (!finite(d.StopLoss) || d.StopLoss <= 0) {
		return nil, &MalformedResponseError{Stage: "Position management", Message: "non-positive stop for TIGHTEN_STOP"}
	}
	return &d, nil
}

// IsMalformed reports whether err is a structural validation failure.
func IsMalformed(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}

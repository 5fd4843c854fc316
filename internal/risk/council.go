package risk

import (
	"fmt"
	"math"

	"collab-trading-bot/config"
	"collab-trading-bot/internal/analyst"
	"collab-trading-bot/internal/exchange"
	"collab-trading-bot/internal/logging"
)

// AssumedAverageLeverage fills in when the exchange omits per-position
// leverage. A fallback only, never a rule.
const AssumedAverageLeverage = 3.0

// Adjustments are the final authoritative trade parameters.
type Adjustments struct {
	PositionSize float64 `json:"positionSize"` // 1..10 scale
	Leverage     float64 `json:"leverage"`
	StopLoss     float64 `json:"stopLoss"`
}

// Decision is the council's verdict. When Approved, Adjustments override
// the champion's proposal entirely.
type Decision struct {
	Approved    bool        `json:"approved"`
	Adjustments Adjustments `json:"adjustments"`
	Warnings    []string    `json:"warnings"`
	VetoReason  string      `json:"vetoReason,omitempty"`
}

// Input is everything the checklist needs for one review.
type Input struct {
	Champion   *analyst.AnalysisResult
	Review     *analyst.RiskReview // stage-4 LLM output, may tighten further
	Symbol     string
	Direction  analyst.Action
	EntryPrice float64

	Balance         float64
	Positions       []exchange.Position
	WeeklyDrawdown  float64  // % loss over 7d, positive number
	FundingRate     *float64 // nil when unavailable
}

// Council applies the deterministic checklist. Policy: adjust out-of-bound
// parameters down to their limits; veto only on the hard blockers
// (concurrency cap, weekly drawdown, same-direction cap).
type Council struct {
	cfg    config.RiskConfig
	logger *logging.Logger
}

// New creates a council with the given limits.
func New(cfg config.RiskConfig) *Council {
	return &Council{
		cfg:    cfg,
		logger: logging.Default().WithComponent("risk"),
	}
}

// Review runs the checklist and returns the authoritative decision.
func (c *Council) Review(in Input) Decision {
	d := Decision{Approved: true}

	// The LLM review may veto outright; honor it.
	if in.Review != nil && !in.Review.Approved {
		return Decision{Approved: false, VetoReason: in.Review.VetoReason}
	}

	// Start from the tighter of champion and LLM review.
	adj := Adjustments{
		PositionSize: in.Champion.PositionSize,
		Leverage:     in.Champion.Leverage,
		StopLoss:     in.Champion.StopLoss,
	}
	if in.Review != nil {
		if in.Review.PositionSize > 0 && in.Review.PositionSize < adj.PositionSize {
			adj.PositionSize = in.Review.PositionSize
		}
		if in.Review.Leverage > 0 && in.Review.Leverage < adj.Leverage {
			adj.Leverage = in.Review.Leverage
		}
		if in.Review.StopLoss > 0 {
			adj.StopLoss = in.Review.StopLoss
		}
		d.Warnings = append(d.Warnings, in.Review.Warnings...)
	}

	// Hard blockers first.
	if veto := c.hardBlockers(in); veto != "" {
		return Decision{Approved: false, VetoReason: veto, Warnings: d.Warnings}
	}

	// Position size scale is 1..10; anything above maps past
	// MaxPositionPercent and is clamped.
	if adj.PositionSize > 10 {
		d.Warnings = append(d.Warnings, fmt.Sprintf("position size %.1f clamped to 10", adj.PositionSize))
		adj.PositionSize = 10
	}
	if adj.PositionSize < 1 {
		adj.PositionSize = 1
	}

	if maxLev := float64(c.cfg.MaxLeverage); adj.Leverage > maxLev {
		d.Warnings = append(d.Warnings, fmt.Sprintf("leverage %.1f reduced to limit %.0f", adj.Leverage, maxLev))
		adj.Leverage = maxLev
	}
	if adj.Leverage < 1 {
		adj.Leverage = 1
	}

	adj.StopLoss = c.clampStopLoss(in, adj.StopLoss, &d)

	c.checkFunding(in, &adj, &d)
	c.checkNetExposure(in, &adj, &d)

	d.Adjustments = adj

	c.logger.Info("Risk council decision",
		"symbol", in.Symbol, "approved", d.Approved,
		"positionSize", adj.PositionSize, "leverage", adj.Leverage, "stopLoss", adj.StopLoss,
		"warnings", len(d.Warnings))
	return d
}

func (c *Council) hardBlockers(in Input) string {
	if c.cfg.MaxConcurrent > 0 && len(in.Positions) >= c.cfg.MaxConcurrent {
		return fmt.Sprintf("concurrent positions %d at limit %d", len(in.Positions), c.cfg.MaxConcurrent)
	}

	if c.cfg.MaxSameDirection > 0 {
		same := 0
		want := exchange.SideLong
		if in.Direction == analyst.ActionShort {
			want = exchange.SideShort
		}
		for _, p := range in.Positions {
			if p.Side == want {
				same++
			}
		}
		if same >= c.cfg.MaxSameDirection {
			return fmt.Sprintf("%d %s positions at same-direction limit %d", same, want, c.cfg.MaxSameDirection)
		}
	}

	if c.cfg.MaxWeeklyDrawdown > 0 && in.WeeklyDrawdown >= c.cfg.MaxWeeklyDrawdown {
		return fmt.Sprintf("weekly drawdown %.1f%% beyond limit %.1f%%", in.WeeklyDrawdown, c.cfg.MaxWeeklyDrawdown)
	}
	return ""
}

// clampStopLoss bounds the stop distance to the global limit and any
// per-methodology cap, measured as a fraction of entry.
func (c *Council) clampStopLoss(in Input, stop float64, d *Decision) float64 {
	if in.EntryPrice <= 0 {
		return stop
	}

	maxDist := c.cfg.MaxStopLossDistance
	if prof := analyst.ByID(in.Champion.AnalystID); prof != nil {
		if cap, ok := c.cfg.StopLossCaps[string(prof.Methodology)]; ok && cap > 0 && cap < maxDist {
			maxDist = cap
		}
	}
	if maxDist <= 0 {
		return stop
	}

	dist := math.Abs(stop-in.EntryPrice) / in.EntryPrice
	if stop <= 0 || dist > maxDist {
		clamped := in.EntryPrice * (1 - maxDist)
		if in.Direction == analyst.ActionShort {
			clamped = in.EntryPrice * (1 + maxDist)
		}
		d.Warnings = append(d.Warnings, fmt.Sprintf("stop-loss distance %.1f%% clamped to %.1f%%", dist*100, maxDist*100))
		return clamped
	}
	return stop
}

// checkFunding warns and halves size when funding bleeds against the
// proposed direction beyond the limit.
func (c *Council) checkFunding(in Input, adj *Adjustments, d *Decision) {
	if in.FundingRate == nil || c.cfg.MaxFundingAgainst <= 0 {
		return
	}
	rate := *in.FundingRate
	against := (in.Direction == analyst.ActionLong && rate > c.cfg.MaxFundingAgainst) ||
		(in.Direction == analyst.ActionShort && -rate > c.cfg.MaxFundingAgainst)
	if against {
		d.Warnings = append(d.Warnings, fmt.Sprintf("funding %.5f against %s beyond %.5f, halving size", rate, in.Direction, c.cfg.MaxFundingAgainst))
		adj.PositionSize = math.Max(1, adj.PositionSize/2)
	}
}

// checkNetExposure bounds margin (not notional) committed per direction.
// The new trade's margin share is sized down to fit; this is an adjustment,
// never a veto.
func (c *Council) checkNetExposure(in Input, adj *Adjustments, d *Decision) {
	if in.Balance <= 0 {
		return
	}

	limit := c.cfg.NetExposureLongs
	want := exchange.SideLong
	if in.Direction == analyst.ActionShort {
		limit = c.cfg.NetExposureShorts
		want = exchange.SideShort
	}
	if limit <= 0 {
		return
	}

	usedMargin := 0.0
	for _, p := range in.Positions {
		if p.Side != want {
			continue
		}
		lev := p.Leverage
		if lev <= 0 {
			lev = AssumedAverageLeverage
		}
		usedMargin += p.Size * p.EntryPrice / lev
	}

	positionPercent := adj.PositionSize / 10 * c.cfg.MaxPositionPercent
	newMargin := in.Balance * positionPercent / 100 / math.Max(adj.Leverage, 1)
	budget := in.Balance * limit / 100

	if usedMargin+newMargin > budget {
		room := budget - usedMargin
		if room <= 0 {
			d.Warnings = append(d.Warnings, fmt.Sprintf("no %s margin budget left (%.2f used of %.2f), minimum size applied", want, usedMargin, budget))
			adj.PositionSize = 1
			return
		}
		// Scale the size score down so the margin fits the room.
		scaled := adj.PositionSize * room / newMargin
		if scaled < 1 {
			scaled = 1
		}
		d.Warnings = append(d.Warnings, fmt.Sprintf("%s exposure near limit, size reduced %.1f to %.1f", want, adj.PositionSize, scaled))
		adj.PositionSize = scaled
	}
}

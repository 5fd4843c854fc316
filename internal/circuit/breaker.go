package circuit

import (
	"fmt"
	"sync"
	"time"

	"collab-trading-bot/config"
	"collab-trading-bot/internal/logging"
)

// Level is the market-wide risk posture. Ordered: comparisons with >= are
// meaningful.
type Level int

const (
	Green Level = iota
	Yellow
	Orange
	Red
)

func (l Level) String() string {
	switch l {
	case Green:
		return "GREEN"
	case Yellow:
		return "YELLOW"
	case Orange:
		return "ORANGE"
	case Red:
		return "RED"
	}
	return "UNKNOWN"
}

// Status is one evaluation outcome.
type Status struct {
	Level     Level     `json:"-"`
	LevelName string    `json:"level"`
	Reason    string    `json:"reason"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Inputs are the signals one evaluation consumes. BTCChange4h is percent
// (negative for drops), Drawdown24h is percent portfolio loss over 24h
// (negative for losses), MaxAbsFunding is the largest |rate| per 8h across
// the approved symbols.
type Inputs struct {
	BTCChange4h   float64
	Drawdown24h   float64
	MaxAbsFunding float64
}

// Breaker maps market stress signals to a level. Size and leverage shrink
// factors for each level live here so callers apply one consistent policy.
type Breaker struct {
	cfg    config.CircuitConfig
	logger *logging.Logger

	mu   sync.RWMutex
	last Status
}

// New creates a breaker with the given thresholds.
func New(cfg config.CircuitConfig) *Breaker {
	return &Breaker{
		cfg:    cfg,
		logger: logging.Default().WithComponent("circuit"),
		last:   Status{Level: Green, LevelName: "GREEN", Reason: "not yet evaluated"},
	}
}

// Evaluate maps the inputs to a level. The level is the worst of the three
// signals, so an improvement in one signal never masks another.
func (b *Breaker) Evaluate(in Inputs) Status {
	status := Status{Level: Green, LevelName: "GREEN", Reason: "all signals nominal", CheckedAt: time.Now()}

	if b.cfg.Enabled {
		level, reason := b.classify(in)
		status.Level = level
		status.LevelName = level.String()
		status.Reason = reason
	}

	b.mu.Lock()
	prev := b.last.Level
	b.last = status
	b.mu.Unlock()

	if status.Level != prev {
		b.logger.Warn("Circuit level changed",
			"from", prev.String(), "to", status.LevelName, "reason", status.Reason)
	}
	return status
}

func (b *Breaker) classify(in Inputs) (Level, string) {
	if in.BTCChange4h <= b.cfg.BTCDropRed {
		return Red, fmt.Sprintf("BTC %.2f%%/4h beyond red threshold %.1f%%", in.BTCChange4h, b.cfg.BTCDropRed)
	}
	if in.Drawdown24h <= b.cfg.DrawdownRed {
		return Red, fmt.Sprintf("portfolio drawdown %.2f%%/24h beyond red threshold %.1f%%", in.Drawdown24h, b.cfg.DrawdownRed)
	}

	if in.BTCChange4h <= b.cfg.BTCDropOrange {
		return Orange, fmt.Sprintf("BTC %.2f%%/4h beyond orange threshold %.1f%%", in.BTCChange4h, b.cfg.BTCDropOrange)
	}
	if in.Drawdown24h <= b.cfg.DrawdownOrange {
		return Orange, fmt.Sprintf("portfolio drawdown %.2f%%/24h beyond orange threshold %.1f%%", in.Drawdown24h, b.cfg.DrawdownOrange)
	}
	if b.cfg.FundingExtremeOrange > 0 && in.MaxAbsFunding >= b.cfg.FundingExtremeOrange {
		return Orange, fmt.Sprintf("funding extreme |%.4f| beyond orange threshold %.4f", in.MaxAbsFunding, b.cfg.FundingExtremeOrange)
	}

	if in.BTCChange4h <= b.cfg.BTCDropYellow {
		return Yellow, fmt.Sprintf("BTC %.2f%%/4h beyond yellow threshold %.1f%%", in.BTCChange4h, b.cfg.BTCDropYellow)
	}
	if in.Drawdown24h <= b.cfg.DrawdownYellow {
		return Yellow, fmt.Sprintf("portfolio drawdown %.2f%%/24h beyond yellow threshold %.1f%%", in.Drawdown24h, b.cfg.DrawdownYellow)
	}
	if b.cfg.FundingExtremeYellow > 0 && in.MaxAbsFunding >= b.cfg.FundingExtremeYellow {
		return Yellow, fmt.Sprintf("funding extreme |%.4f| beyond yellow threshold %.4f", in.MaxAbsFunding, b.cfg.FundingExtremeYellow)
	}

	return Green, "all signals nominal"
}

// Last returns the most recent evaluation.
func (b *Breaker) Last() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last
}

// SizeFactor is the position-size multiplier the level imposes.
func SizeFactor(l Level) float64 {
	switch l {
	case Yellow:
		return 0.5
	case Orange:
		return 0.25
	case Red:
		return 0
	}
	return 1
}

// LeverageCap is the maximum leverage the level allows. Zero means no cap
// beyond the normal limits.
func LeverageCap(l Level) int {
	switch l {
	case Yellow:
		return 5
	case Orange:
		return 2
	case Red:
		return 0
	}
	return 0
}

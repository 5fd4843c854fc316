package scheduler

import (
	"fmt"
	"time"
)

// Peak trading windows in UTC. The Asia open and the US/EU overlap carry
// most perp volume; cycles tighten inside them and stretch outside.
var peakWindows = []struct {
	start, end int // hour, [start, end)
}{
	{0, 4},   // Asia open
	{13, 17}, // US/EU overlap
}

// Decision is the scheduler's verdict for the current wall-clock moment.
type Decision struct {
	ShouldTrade bool   `json:"shouldTrade"`
	Reason      string `json:"reason"`
}

// Scheduler decides when cycles run and how long to sleep between them.
// Pure wall-clock plus recent-activity heuristics, no I/O.
type Scheduler struct {
	now func() time.Time
}

// New creates a scheduler on the real clock.
func New() *Scheduler {
	return &Scheduler{now: time.Now}
}

// NewWithClock creates a scheduler on an injected clock, for tests.
func NewWithClock(now func() time.Time) *Scheduler {
	return &Scheduler{now: now}
}

func inPeakWindow(t time.Time) bool {
	hour := t.UTC().Hour()
	for _, w := range peakWindows {
		if hour >= w.start && hour < w.end {
			return true
		}
	}
	return false
}

func isWeekend(t time.Time) bool {
	day := t.UTC().Weekday()
	return day == time.Saturday || day == time.Sunday
}

// ShouldTradeNow reports whether the current moment warrants a full
// deliberation cycle. maxAbsChange24h is the largest absolute 24h move
// across the approved symbols; strong moves override quiet hours.
func (s *Scheduler) ShouldTradeNow(maxAbsChange24h float64) Decision {
	t := s.now()

	if maxAbsChange24h >= 5 {
		return Decision{ShouldTrade: true, Reason: fmt.Sprintf("market moving %.1f%%/24h, trading regardless of window", maxAbsChange24h)}
	}

	if inPeakWindow(t) {
		return Decision{ShouldTrade: true, Reason: fmt.Sprintf("peak window (%02d:00 UTC)", t.UTC().Hour())}
	}

	if isWeekend(t) && maxAbsChange24h < 2 {
		return Decision{ShouldTrade: false, Reason: "quiet weekend, skipping cycle"}
	}

	return Decision{ShouldTrade: true, Reason: "off-peak, trading at reduced cadence"}
}

// GetDynamicCycleInterval adapts the base interval to the moment: halved in
// peak windows or fast markets, doubled on quiet weekends, otherwise 1.5x
// off-peak. Never shrinks below one minute.
func (s *Scheduler) GetDynamicCycleInterval(base time.Duration, maxAbsChange24h float64) time.Duration {
	t := s.now()

	interval := base
	switch {
	case maxAbsChange24h >= 5:
		interval = base / 2
	case inPeakWindow(t):
		interval = base / 2
	case isWeekend(t):
		interval = base * 2
	default:
		interval = base * 3 / 2
	}

	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}

// TimeUntilNextPeak returns how long until the next peak window opens. Zero
// when already inside one.
func (s *Scheduler) TimeUntilNextPeak() time.Duration {
	t := s.now().UTC()
	if inPeakWindow(t) {
		return 0
	}

	best := 48 * time.Hour
	for _, w := range peakWindows {
		next := time.Date(t.Year(), t.Month(), t.Day(), w.start, 0, 0, 0, time.UTC)
		if !next.After(t) {
			next = next.Add(24 * time.Hour)
		}
		if d := next.Sub(t); d < best {
			best = d
		}
	}
	return best
}

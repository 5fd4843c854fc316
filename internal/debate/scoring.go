package debate

import (
	"sort"

	"collab-trading-bot/config"
	"collab-trading-bot/internal/analyst"
)

// ScoreTheses is the deterministic championship fallback used when the
// judging call fails. Each criterion is approximated from measurable thesis
// properties and scored 0..10, then weighted like the LLM judge would.
func ScoreTheses(theses map[string]*analyst.AnalysisResult, weights config.JudgeWeights) (winner string, scores map[string]analyst.JudgeScore) {
	scores = make(map[string]analyst.JudgeScore, len(theses))

	ids := make([]string, 0, len(theses))
	for id := range theses {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic iteration and tie-break

	bestTotal := -1.0
	for _, id := range ids {
		t := theses[id]
		s := analyst.JudgeScore{
			DataQuality:     scaleCount(len(t.BullCase)+len(t.BearCase), 6),
			Logic:           t.Confidence / 10,
			RiskAwareness:   riskAwarenessScore(t),
			CatalystClarity: catalystScore(t),
		}
		s.Total = s.DataQuality*float64(weights.DataQuality)/10 +
			s.Logic*float64(weights.Logic)/10 +
			s.RiskAwareness*float64(weights.RiskAwareness)/10 +
			s.CatalystClarity*float64(weights.CatalystClarity)/10
		scores[id] = s

		if s.Total > bestTotal {
			bestTotal = s.Total
			winner = id
		}
	}
	return winner, scores
}

// scaleCount maps a count onto 0..10 with full marks at target.
func scaleCount(n, target int) float64 {
	if n >= target {
		return 10
	}
	return float64(n) / float64(target) * 10
}

// riskAwarenessScore rewards a stop-loss close to entry-side sanity: a stop
// within 15% of the base target scores high, a missing bear case costs.
func riskAwarenessScore(t *analyst.AnalysisResult) float64 {
	score := 5.0
	if t.StopLoss > 0 && t.PriceTarget.Base > 0 {
		dist := t.StopLoss / t.PriceTarget.Base
		if dist > 0.85 && dist < 1.15 {
			score += 3
		}
	}
	if len(t.BearCase) > 0 {
		score += 2
	}
	if score > 10 {
		score = 10
	}
	return score
}

func catalystScore(t *analyst.AnalysisResult) float64 {
	switch {
	case len(t.Catalyst) >= 20:
		return 8
	case len(t.Catalyst) > 0:
		return 5
	}
	return 1
}

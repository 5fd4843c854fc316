package debate

import (
	"collab-trading-bot/internal/analyst"
)

// Turn is one analyst's contribution within a stage, kept for logging and
// carry-forward.
type Turn struct {
	AnalystName          string   `json:"analystName"`
	Argument             string   `json:"argument"`
	Strength             float64  `json:"strength"` // 1..10
	DataPointsReferenced []string `json:"dataPointsReferenced"`
}

// Result is one stage's outcome.
type Result struct {
	Winner           string                        `json:"winner"`
	Scores           map[string]analyst.JudgeScore `json:"scores"`
	Turns            []Turn                        `json:"turns"`
	WinningArguments []string                      `json:"winningArguments"`
}

// Selection is the stage-2 outcome: the winning (symbol, direction) plus
// the debate record.
type Selection struct {
	Symbol    string         `json:"symbol"`
	Direction analyst.Action `json:"direction"`
	Score     float64        `json:"score"`
	Result    *Result        `json:"result"`
}

// Championship is the stage-3 outcome.
type Championship struct {
	Champion *analyst.AnalysisResult            `json:"champion"`
	Theses   map[string]*analyst.AnalysisResult `json:"theses"`
	Result   *Result                            `json:"result"`
	JudgedByLLM bool                            `json:"judgedByLLM"`
}

// AuditSink receives every analyst invocation for durable audit. Writes are
// best-effort; the pipeline never blocks on them.
type AuditSink interface {
	RecordAnalysis(stage, analystID, input, output string)
}

// NopAudit discards audit records.
type NopAudit struct{}

func (NopAudit) RecordAnalysis(stage, analystID, input, output string) {}

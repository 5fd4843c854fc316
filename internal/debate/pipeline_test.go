package debate

import (
	"errors"
	"strings"
	"testing"

	"collab-trading-bot/config"
	"collab-trading-bot/internal/analyst"
	"collab-trading-bot/internal/exchange"
	"collab-trading-bot/internal/marketdata"
)

// stubLLM routes each completion by inspecting the system prompt.
type stubLLM struct {
	selection string
	thesis    string
	judge     string
	risk      string
	err       error
	judgeErr  error
	calls     []string
}

func (s *stubLLM) Model() string { return "stub" }

func (s *stubLLM) Complete(system, user string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	switch {
	case strings.Contains(system, "selecting perpetual futures"):
		s.calls = append(s.calls, "selection")
		return s.selection, nil
	case strings.Contains(system, "head judge"):
		s.calls = append(s.calls, "judge")
		if s.judgeErr != nil {
			return "", s.judgeErr
		}
		return s.judge, nil
	case strings.Contains(system, "risk council"):
		s.calls = append(s.calls, "risk")
		return s.risk, nil
	default:
		s.calls = append(s.calls, "thesis")
		return s.thesis, nil
	}
}

func testConfig() config.Config {
	cfg := config.Config{}
	cfg.RiskConfig.MaxLeverage = 20
	cfg.AIConfig.JudgeWeights = config.JudgeWeights{DataQuality: 30, Logic: 30, RiskAwareness: 25, CatalystClarity: 15}
	return cfg
}

func testSnapshots(symbols ...string) map[string]*marketdata.Snapshot {
	mock := exchange.NewMockClient(symbols)
	return marketdata.NewAssembler(mock, symbols).Assemble()
}

func testPipeline(llm analyst.Completer, symbols ...string) *Pipeline {
	mock := exchange.NewMockClient(symbols)
	assembler := marketdata.NewAssembler(mock, symbols)
	return New(llm, assembler, testConfig(), nil)
}

const goodThesis = `{
	"recommendation":"buy","confidence":72,"thesis":"flows dominate",
	"bullCase":["a","b","c"],"bearCase":["d"],
	"priceTarget":{"bull":120,"base":110,"bear":95},
	"stopLoss":94,"leverage":3,"positionSize":5,
	"catalyst":"upcoming protocol upgrade drives demand","timeframe":"2w"
}`

func TestCoinSelectionScoring(t *testing.T) {
	// Every selector returns the same ranked list; btc LONG at rank 1 with
	// conviction 8 scores 4 selectors x 3 x 8 = 96.
	llm := &stubLLM{
		selection: `{"picks":[
			{"symbol":"cmt_btcusdt","action":"LONG","conviction":8,"reason":"strong"},
			{"symbol":"cmt_ethusdt","action":"SHORT","conviction":9,"reason":"weak"}
		]}`,
	}
	p := testPipeline(llm, "cmt_btcusdt", "cmt_ethusdt")
	snaps := testSnapshots("cmt_btcusdt", "cmt_ethusdt")

	sel, err := p.RunCoinSelection(snaps, nil, "")
	if err != nil {
		t.Fatalf("RunCoinSelection: %v", err)
	}
	if sel.Symbol != "cmt_btcusdt" || sel.Direction != analyst.ActionLong {
		t.Fatalf("winner = %s %s", sel.Symbol, sel.Direction)
	}
	// rank1 3x8=24 beats rank2 2x9=18, times four selectors.
	if sel.Score != 96 {
		t.Errorf("score = %v, want 96", sel.Score)
	}
	if len(sel.Result.Turns) == 0 {
		t.Error("no debate turns recorded")
	}
}

func TestCoinSelectionManageRequiresOpenPosition(t *testing.T) {
	llm := &stubLLM{
		selection: `{"picks":[
			{"symbol":"cmt_btcusdt","action":"MANAGE","conviction":9,"reason":"tighten stop"},
			{"symbol":"cmt_ethusdt","action":"LONG","conviction":5,"reason":"setup"}
		]}`,
	}
	p := testPipeline(llm, "cmt_btcusdt", "cmt_ethusdt")
	snaps := testSnapshots("cmt_btcusdt", "cmt_ethusdt")

	// No open positions: MANAGE picks are discarded, eth LONG wins.
	sel, err := p.RunCoinSelection(snaps, nil, "")
	if err != nil {
		t.Fatalf("RunCoinSelection: %v", err)
	}
	if sel.Symbol != "cmt_ethusdt" || sel.Direction != analyst.ActionLong {
		t.Fatalf("winner = %s %s, want eth LONG", sel.Symbol, sel.Direction)
	}

	// With an open btc position the MANAGE pick dominates.
	positions := []exchange.Position{{Symbol: "cmt_btcusdt", Side: exchange.SideLong, Size: 1, EntryPrice: 100, Leverage: 3}}
	sel, err = p.RunCoinSelection(snaps, positions, "")
	if err != nil {
		t.Fatalf("RunCoinSelection: %v", err)
	}
	if sel.Direction != analyst.ActionManage {
		t.Fatalf("winner = %s %s, want MANAGE", sel.Symbol, sel.Direction)
	}
}

func TestCoinSelectionFailsWhenAllSelectorsFail(t *testing.T) {
	llm := &stubLLM{err: errors.New("provider down")}
	p := testPipeline(llm, "cmt_btcusdt")
	snaps := testSnapshots("cmt_btcusdt")

	_, err := p.RunCoinSelection(snaps, nil, "")
	if err == nil {
		t.Fatal("expected stage failure")
	}
	if !analyst.IsMalformed(err) {
		t.Errorf("expected MalformedResponseError, got %T", err)
	}
}

func TestChampionshipWithLLMJudge(t *testing.T) {
	llm := &stubLLM{
		thesis: goodThesis,
		judge:  `{"winner":"ray","scores":{"ray":{"total":84}}}`,
	}
	p := testPipeline(llm, "cmt_btcusdt")
	snaps := testSnapshots("cmt_btcusdt")
	sel := &Selection{Symbol: "cmt_btcusdt", Direction: analyst.ActionLong, Result: &Result{}}

	champ, err := p.RunChampionship(sel, snaps)
	if err != nil {
		t.Fatalf("RunChampionship: %v", err)
	}
	if champ.Champion.AnalystID != "ray" {
		t.Errorf("champion = %s, want ray", champ.Champion.AnalystID)
	}
	if !champ.JudgedByLLM {
		t.Error("expected LLM judging")
	}
	if len(champ.Theses) != len(analyst.Profiles) {
		t.Errorf("theses = %d, want %d", len(champ.Theses), len(analyst.Profiles))
	}
}

func TestChampionshipFallsBackToDeterministicScorer(t *testing.T) {
	llm := &stubLLM{
		thesis:   goodThesis,
		judgeErr: errors.New("judge timed out"),
	}
	p := testPipeline(llm, "cmt_btcusdt")
	snaps := testSnapshots("cmt_btcusdt")
	sel := &Selection{Symbol: "cmt_btcusdt", Direction: analyst.ActionLong, Result: &Result{}}

	champ, err := p.RunChampionship(sel, snaps)
	if err != nil {
		t.Fatalf("RunChampionship: %v", err)
	}
	if champ.JudgedByLLM {
		t.Error("expected deterministic fallback")
	}
	if champ.Champion == nil {
		t.Fatal("no champion chosen")
	}
}

func TestChampionshipFailsWithoutTheses(t *testing.T) {
	llm := &stubLLM{err: errors.New("all calls fail")}
	p := testPipeline(llm, "cmt_btcusdt")
	snaps := testSnapshots("cmt_btcusdt")
	sel := &Selection{Symbol: "cmt_btcusdt", Direction: analyst.ActionLong, Result: &Result{}}

	if _, err := p.RunChampionship(sel, snaps); err == nil {
		t.Fatal("expected stage failure")
	}
}

func TestRiskCouncilReviewAndPassthrough(t *testing.T) {
	llm := &stubLLM{
		risk: `{"approved":true,"positionSize":3,"leverage":2,"stopLoss":96,"warnings":["sized down"]}`,
	}
	p := testPipeline(llm, "cmt_btcusdt")
	snaps := testSnapshots("cmt_btcusdt")
	sel := &Selection{Symbol: "cmt_btcusdt", Direction: analyst.ActionLong, Result: &Result{}}
	champion, _ := analyst.ParseAnalysis(goodThesis, "ray", 20)
	champ := &Championship{Champion: champion}

	review := p.RunRiskCouncil(champ, sel, snaps, 1000, nil, 0)
	if !review.Approved || review.PositionSize != 3 {
		t.Errorf("review = %+v", review)
	}

	// Malformed review degrades to a pass-through so the checklist still runs.
	llm.risk = "not json"
	review = p.RunRiskCouncil(champ, sel, snaps, 1000, nil, 0)
	if !review.Approved || review.PositionSize != champion.PositionSize {
		t.Errorf("passthrough review = %+v", review)
	}
}

func TestDeterministicScorerPrefersRicherThesis(t *testing.T) {
	weights := config.JudgeWeights{DataQuality: 30, Logic: 30, RiskAwareness: 25, CatalystClarity: 15}

	rich, _ := analyst.ParseAnalysis(goodThesis, "rich", 20)
	poorRaw := `{
		"recommendation":"buy","confidence":40,"thesis":"number go up",
		"bullCase":[],"bearCase":[],
		"priceTarget":{"bull":120,"base":110,"bear":95},
		"stopLoss":50,"leverage":3,"positionSize":5,
		"catalyst":"","timeframe":"1d"
	}`
	poor, _ := analyst.ParseAnalysis(poorRaw, "poor", 20)

	winner, scores := ScoreTheses(map[string]*analyst.AnalysisResult{"rich": rich, "poor": poor}, weights)
	if winner != "rich" {
		t.Fatalf("winner = %s, scores %+v", winner, scores)
	}
	if scores["rich"].Total <= scores["poor"].Total {
		t.Errorf("rich %v <= poor %v", scores["rich"].Total, scores["poor"].Total)
	}
}

func TestRefreshIfDrifted(t *testing.T) {
	mock := exchange.NewMockClient([]string{"cmt_btcusdt"})
	assembler := marketdata.NewAssembler(mock, []string{"cmt_btcusdt"})
	p := New(&stubLLM{}, assembler, testConfig(), nil)

	snaps := assembler.Assemble()
	before := snaps["cmt_btcusdt"].Price

	// Below threshold: snapshot untouched.
	mock.SetPrice("cmt_btcusdt", before*1.001)
	p.RefreshIfDrifted(snaps, "cmt_btcusdt", 0.5)
	if snaps["cmt_btcusdt"].Price != before {
		t.Errorf("snapshot replaced on %.2f%% drift", 0.1)
	}

	// Above threshold: snapshot replaced.
	mock.SetPrice("cmt_btcusdt", before*1.02)
	p.RefreshIfDrifted(snaps, "cmt_btcusdt", 0.5)
	if snaps["cmt_btcusdt"].Price == before {
		t.Error("snapshot not replaced on 2% drift")
	}
}

func TestFormatPositions(t *testing.T) {
	if FormatPositions(nil) != "" {
		t.Error("empty positions should render empty")
	}
	out := FormatPositions([]exchange.Position{
		{Symbol: "cmt_btcusdt", Side: exchange.SideLong, Size: 0.5, EntryPrice: 65000, Leverage: 10, UnrealizedPnl: 12.5},
	})
	if !strings.Contains(out, "cmt_btcusdt") || !strings.Contains(out, "LONG") {
		t.Errorf("unexpected render: %s", out)
	}
}

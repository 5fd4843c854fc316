package analyst

import (
	"testing"
)

var approvedSet = map[string]bool{
	"cmt_btcusdt": true,
	"cmt_ethusdt": true,
}

func TestStripMarkdownCodeBlock(t *testing.T) {
	cases := []struct{ in, want string }{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n{\"a\":1}\n```", "{\"a\":1}"},
		{"  {\"a\":1}  ", "{\"a\":1}"},
	}
	for _, tc := range cases {
		if got := stripMarkdownCodeBlock(tc.in); got != tc.want {
			t.Errorf("strip(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseCoinSelection(t *testing.T) {
	raw := "```json\n" + `{"picks":[
		{"symbol":"cmt_btcusdt","action":"LONG","conviction":8,"reason":"strong"},
		{"symbol":"cmt_ethusdt","action":"SHORT","conviction":15,"reason":"overheated"},
		{"symbol":"BTCUSDT","action":"LONG","conviction":9,"reason":"wrong scheme"}
	]}` + "\n```"

	sel, err := ParseCoinSelection(raw, approvedSet)
	if err != nil {
		t.Fatalf("ParseCoinSelection: %v", err)
	}
	if len(sel.Picks) != 2 {
		t.Fatalf("picks = %d, want 2 (invalid symbol dropped)", len(sel.Picks))
	}
	if sel.Picks[1].Conviction != 10 {
		t.Errorf("conviction not clamped: %v", sel.Picks[1].Conviction)
	}
}

func TestParseCoinSelectionAllInvalid(t *testing.T) {
	raw := `{"picks":[{"symbol":"cmt_dogeusdt","action":"LONG","conviction":5,"reason":"x"}]}`
	_, err := ParseCoinSelection(raw, approvedSet) // doge not approved here
	if err == nil {
		t.Fatal("expected error when no picks survive")
	}
	if !IsMalformed(err) {
		t.Errorf("expected MalformedResponseError, got %T", err)
	}
}

func TestParseCoinSelectionGarbage(t *testing.T) {
	if _, err := ParseCoinSelection("not json at all", approvedSet); err == nil {
		t.Fatal("expected error")
	}
	if _, err := ParseCoinSelection(`{"winner": null}`, approvedSet); err == nil {
		t.Fatal("expected error for missing picks")
	}
}

func validThesis() string {
	return `{
		"recommendation":"buy","confidence":72,"thesis":"demand exceeds supply",
		"bullCase":["flows"],"bearCase":["macro"],
		"priceTarget":{"bull":70000,"base":67000,"bear":62000},
		"stopLoss":61000,"leverage":25,"positionSize":12,
		"catalyst":"ETF inflows","timeframe":"2 weeks"
	}`
}

func TestParseAnalysisClampsBounds(t *testing.T) {
	res, err := ParseAnalysis(validThesis(), "warren", 20)
	if err != nil {
		t.Fatalf("ParseAnalysis: %v", err)
	}
	if res.AnalystID != "warren" {
		t.Errorf("analystId = %q", res.AnalystID)
	}
	if res.Leverage != 20 {
		t.Errorf("leverage = %v, want clamp to 20", res.Leverage)
	}
	if res.PositionSize != 10 {
		t.Errorf("positionSize = %v, want clamp to 10", res.PositionSize)
	}
}

func TestParseAnalysisRejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"bad recommendation", `{"recommendation":"yolo","confidence":50,"thesis":"t","priceTarget":{"bull":1,"base":1,"bear":1},"stopLoss":1}`},
		{"confidence out of range", `{"recommendation":"buy","confidence":150,"thesis":"t","priceTarget":{"bull":1,"base":1,"bear":1},"stopLoss":1}`},
		{"empty thesis", `{"recommendation":"buy","confidence":50,"thesis":"","priceTarget":{"bull":1,"base":1,"bear":1},"stopLoss":1}`},
		{"zero stop", `{"recommendation":"buy","confidence":50,"thesis":"t","priceTarget":{"bull":1,"base":1,"bear":1},"stopLoss":0}`},
		{"not json", `the market looks good`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseAnalysis(tc.raw, "x", 20); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseJudgeVerdict(t *testing.T) {
	candidates := map[string]bool{"warren": true, "ray": true}

	v, err := ParseJudgeVerdict(`{"winner":"ray","scores":{"ray":{"total":82}}}`, candidates)
	if err != nil {
		t.Fatalf("ParseJudgeVerdict: %v", err)
	}
	if v.Winner != "ray" {
		t.Errorf("winner = %q", v.Winner)
	}

	if _, err := ParseJudgeVerdict(`{"winner":"nobody"}`, candidates); err == nil {
		t.Fatal("unknown winner accepted")
	}
	if _, err := ParseJudgeVerdict(`{"winner":null}`, candidates); err == nil {
		t.Fatal("null winner accepted")
	}
}

func TestParseRiskReview(t *testing.T) {
	r, err := ParseRiskReview(`{"approved":true,"positionSize":4,"leverage":3,"stopLoss":61000,"warnings":["funding against"]}`)
	if err != nil {
		t.Fatalf("ParseRiskReview: %v", err)
	}
	if !r.Approved || r.PositionSize != 4 {
		t.Errorf("review = %+v", r)
	}

	if _, err := ParseRiskReview(`{"approved":false}`); err == nil {
		t.Fatal("rejection without veto reason accepted")
	}
}

func TestParseManagementDecision(t *testing.T) {
	d, err := ParseManagementDecision(`{"action":"PARTIAL_CLOSE","closePercent":40,"reason":"derisking"}`)
	if err != nil {
		t.Fatalf("ParseManagementDecision: %v", err)
	}
	if d.Action != ManagePartialClose || d.ClosePercent != 40 {
		t.Errorf("decision = %+v", d)
	}

	for _, raw := range []string{
		`{"action":"LIQUIDATE","reason":"x"}`,
		`{"action":"PARTIAL_CLOSE","closePercent":0,"reason":"x"}`,
		`{"action":"PARTIAL_CLOSE","closePercent":100,"reason":"x"}`,
		`{"action":"TIGHTEN_STOP","stopLoss":0,"reason":"x"}`,
	} {
		if _, err := ParseManagementDecision(raw); err == nil {
			t.Errorf("accepted %s", raw)
		}
	}
}

func TestRoster(t *testing.T) {
	if len(Profiles) != 8 {
		t.Fatalf("roster size = %d, want 8", len(Profiles))
	}

	selectors := CoinSelectors()
	if len(selectors) != 4 {
		t.Fatalf("coin selectors = %d, want 4", len(selectors))
	}

	seen := map[Methodology]bool{}
	for _, p := range Profiles {
		if seen[p.Methodology] {
			t.Errorf("duplicate methodology %s", p.Methodology)
		}
		seen[p.Methodology] = true
	}

	if RiskCouncilProfile().ID != "karen" {
		t.Errorf("risk council = %s, want karen", RiskCouncilProfile().ID)
	}
	if ByID("quant") == nil || ByID("nobody") != nil {
		t.Error("ByID lookup broken")
	}
}

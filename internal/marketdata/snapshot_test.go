package marketdata

import (
	"errors"
	"testing"

	"collab-trading-bot/internal/exchange"
)

var testSymbols = []string{"cmt_btcusdt", "cmt_ethusdt", "cmt_solusdt"}

func TestAssembleAllHealthy(t *testing.T) {
	mock := exchange.NewMockClient(testSymbols)
	a := NewAssembler(mock, testSymbols)

	snaps := a.Assemble()
	if len(snaps) != len(testSymbols) {
		t.Fatalf("got %d snapshots, want %d", len(snaps), len(testSymbols))
	}
	for _, symbol := range testSymbols {
		snap := snaps[symbol]
		if snap == nil {
			t.Fatalf("missing snapshot for %s", symbol)
		}
		if snap.Price <= 0 {
			t.Errorf("%s price = %v", symbol, snap.Price)
		}
		if snap.FundingRate == nil {
			t.Errorf("%s funding unexpectedly nil", symbol)
		}
		if snap.MarkPrice != snap.Price {
			t.Errorf("%s mark price = %v, want %v", symbol, snap.MarkPrice, snap.Price)
		}
	}
}

func TestAssembleIsolatesTickerFailure(t *testing.T) {
	mock := exchange.NewMockClient(testSymbols[:2])
	a := NewAssembler(mock, testSymbols) // third symbol unknown to the mock

	snaps := a.Assemble()
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	if _, ok := snaps["cmt_solusdt"]; ok {
		t.Error("failed symbol should be omitted")
	}
}

func TestAssembleTotalFailure(t *testing.T) {
	mock := exchange.NewMockClient(testSymbols)
	mock.Errors["GetTicker"] = errors.New("exchange down")
	a := NewAssembler(mock, testSymbols)

	snaps := a.Assemble()
	if len(snaps) != 0 {
		t.Fatalf("got %d snapshots, want 0", len(snaps))
	}
}

func TestFundingFailureKeepsSymbol(t *testing.T) {
	mock := exchange.NewMockClient(testSymbols)
	mock.Errors["GetFundingRate"] = errors.New("funding endpoint down")
	a := NewAssembler(mock, testSymbols)

	snaps := a.Assemble()
	if len(snaps) != len(testSymbols) {
		t.Fatalf("got %d snapshots, want %d", len(snaps), len(testSymbols))
	}
	for symbol, snap := range snaps {
		if snap.FundingRate != nil {
			t.Errorf("%s funding should be nil when unavailable", symbol)
		}
	}
}

func TestZeroFundingIsNotUnavailable(t *testing.T) {
	mock := exchange.NewMockClient(testSymbols[:1])
	mock.Funding["cmt_btcusdt"] = 0
	a := NewAssembler(mock, testSymbols[:1])

	snaps := a.Assemble()
	snap := snaps["cmt_btcusdt"]
	if snap == nil {
		t.Fatal("missing snapshot")
	}
	if snap.FundingRate == nil {
		t.Fatal("observed zero funding conflated with unavailable")
	}
	if *snap.FundingRate != 0 {
		t.Errorf("funding = %v, want 0", *snap.FundingRate)
	}
}

func TestMaxAbsFunding(t *testing.T) {
	neg := -0.012
	small := 0.0001
	snaps := map[string]*Snapshot{
		"a": {FundingRate: &neg},
		"b": {FundingRate: &small},
		"c": {FundingRate: nil},
	}
	if got := MaxAbsFunding(snaps); got != 0.012 {
		t.Errorf("MaxAbsFunding = %v, want 0.012", got)
	}
}

func TestRefreshPrices(t *testing.T) {
	mock := exchange.NewMockClient(testSymbols)
	a := NewAssembler(mock, testSymbols)

	mock.SetPrice("cmt_btcusdt", 70000)
	prices := a.RefreshPrices([]string{"cmt_btcusdt", "cmt_ethusdt"})
	if prices["cmt_btcusdt"] != 70000 {
		t.Errorf("btc price = %v, want 70000", prices["cmt_btcusdt"])
	}
	if len(prices) != 2 {
		t.Errorf("len = %d, want 2", len(prices))
	}
}

package marketdata

import (
	"sync"
	"time"

	"collab-trading-bot/internal/exchange"
	"collab-trading-bot/internal/logging"
)

// Snapshot is one symbol's per-cycle market view. FundingRate is nil when
// the funding fetch failed; a zero rate is a real observation, never nil.
type Snapshot struct {
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"price"`
	High24h     float64   `json:"high24h"`
	Low24h      float64   `json:"low24h"`
	Volume24h   float64   `json:"volume24h"`
	Change24h   float64   `json:"change24h"`
	BestBid     float64   `json:"bestBid"`
	BestAsk     float64   `json:"bestAsk"`
	MarkPrice   float64   `json:"markPrice,omitempty"`
	IndexPrice  float64   `json:"indexPrice,omitempty"`
	FundingRate *float64  `json:"fundingRate,omitempty"`
	FetchedAt   time.Time `json:"fetchedAt"`
}

// Assembler builds per-cycle snapshots for the approved symbol set.
type Assembler struct {
	client  exchange.API
	symbols []string
	logger  *logging.Logger
}

// NewAssembler creates an assembler over the given approved symbols.
func NewAssembler(client exchange.API, symbols []string) *Assembler {
	return &Assembler{
		client:  client,
		symbols: symbols,
		logger:  logging.Default().WithComponent("marketdata"),
	}
}

// Symbols returns the approved symbol set.
func (a *Assembler) Symbols() []string {
	out := make([]string, len(a.symbols))
	copy(out, a.symbols)
	return out
}

// Assemble fetches ticker and funding for every symbol concurrently. A
// symbol that fails is logged and omitted; the cycle proceeds on whatever
// succeeded. An empty map means the whole fetch round failed.
func (a *Assembler) Assemble() map[string]*Snapshot {
	type result struct {
		symbol string
		snap   *Snapshot
	}

	results := make(chan result, len(a.symbols))
	var wg sync.WaitGroup

	for _, symbol := range a.symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			snap := a.fetchOne(symbol)
			results <- result{symbol: symbol, snap: snap}
		}(symbol)
	}

	wg.Wait()
	close(results)

	snapshots := make(map[string]*Snapshot)
	for r := range results {
		if r.snap != nil {
			snapshots[r.symbol] = r.snap
		}
	}

	if len(snapshots) == 0 {
		a.logger.Error("Market data assembly produced no snapshots", "symbols", len(a.symbols))
	}
	return snapshots
}

// fetchOne fetches both feeds for one symbol. Ticker failure drops the
// symbol; funding failure only drops the funding field.
func (a *Assembler) fetchOne(symbol string) *Snapshot {
	var (
		wg         sync.WaitGroup
		ticker     *exchange.Ticker
		tickerErr  error
		funding    *exchange.FundingRate
		fundingErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		ticker, tickerErr = a.client.GetTicker(symbol)
	}()
	go func() {
		defer wg.Done()
		funding, fundingErr = a.client.GetFundingRate(symbol)
	}()
	wg.Wait()

	if tickerErr != nil {
		a.logger.Warn("Ticker fetch failed, omitting symbol this cycle", "symbol", symbol, "error", tickerErr)
		return nil
	}

	snap := &Snapshot{
		Symbol:     symbol,
		Price:      ticker.Last,
		High24h:    ticker.High24h,
		Low24h:     ticker.Low24h,
		Volume24h:  ticker.Volume24h,
		Change24h:  ticker.PriceChangePercent,
		BestBid:    ticker.BestBid,
		BestAsk:    ticker.BestAsk,
		MarkPrice:  ticker.MarkPrice,
		IndexPrice: ticker.IndexPrice,
		FetchedAt:  time.Now(),
	}

	if fundingErr != nil {
		a.logger.Warn("Funding rate unavailable", "symbol", symbol, "error", fundingErr)
	} else if funding != nil {
		rate := funding.FundingRate
		snap.FundingRate = &rate
	}

	return snap
}

// RefreshPrices re-fetches only the tickers for the given symbols and
// returns the fresh prices. Used by the deliberation pipeline to detect
// price drift between stages.
func (a *Assembler) RefreshPrices(symbols []string) map[string]float64 {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		prices = make(map[string]float64)
	)

	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			ticker, err := a.client.GetTicker(symbol)
			if err != nil {
				a.logger.Debug("Price refresh failed", "symbol", symbol, "error", err)
				return
			}
			mu.Lock()
			prices[symbol] = ticker.Last
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()
	return prices
}

// MaxAbsFunding returns the largest absolute funding rate across snapshots,
// ignoring symbols whose funding was unavailable.
func MaxAbsFunding(snapshots map[string]*Snapshot) float64 {
	max := 0.0
	for _, s := range snapshots {
		if s.FundingRate == nil {
			continue
		}
		rate := *s.FundingRate
		if rate < 0 {
			rate = -rate
		}
		if rate > max {
			max = rate
		}
	}
	return max
}

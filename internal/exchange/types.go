package exchange

import "time"

// Ticker is a 24h market snapshot for one contract.
type Ticker struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last,string"`
	High24h   float64 `json:"high_24h,string"`
	Low24h    float64 `json:"low_24h,string"`
	Volume24h float64 `json:"volume_24h,string"`
	BestBid   float64 `json:"best_bid,string"`
	BestAsk   float64 `json:"best_ask,string"`
	MarkPrice float64 `json:"mark_price,string"`
	IndexPrice float64 `json:"index_price,string"`
	PriceChangePercent float64 `json:"priceChangePercent,string"`
	Timestamp int64   `json:"timestamp,string"`
}

// FundingRate is the current funding rate for one contract, charged per 8h.
type FundingRate struct {
	Symbol      string  `json:"symbol"`
	FundingRate float64 `json:"funding_rate,string"`
	NextSettle  int64   `json:"next_settle_time,string"`
}

// Candle is one OHLCV bar.
type Candle struct {
	Timestamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// AccountAssets is the futures wallet snapshot. Available is the balance
// authority for the whole engine.
type AccountAssets struct {
	Symbol    string  `json:"symbol"`
	Available float64 `json:"available,string"`
	Frozen    float64 `json:"frozen,string"`
	Equity    float64 `json:"equity,string"`
	UnrealizedPnl float64 `json:"unrealized_pnl,string"`
}

// rawPosition is the exchange's own position shape before normalization.
type rawPosition struct {
	Symbol        string  `json:"symbol"`
	HoldSide      string  `json:"hold_side"` // "1"/"long" = long, "2"/"short" = short
	Size          float64 `json:"size,string"`
	Available     float64 `json:"available,string"`
	OpenValue     float64 `json:"open_value,string"`
	AvgCost       float64 `json:"avg_cost,string"`
	Leverage      float64 `json:"leverage,string"`
	UnrealizedPnl float64 `json:"unrealized_pnl,string"`
	MarginMode    string  `json:"margin_mode"`
}

// Side is a normalized position direction.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Position is the normalized per-contract position used everywhere inside
// the engine. Re-derived from the exchange each cycle, never cached across
// cycles as authority.
type Position struct {
	Symbol        string  `json:"symbol"`
	Side          Side    `json:"side"`
	Size          float64 `json:"size"`
	EntryPrice    float64 `json:"entryPrice"`
	Leverage      float64 `json:"leverage"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
	MarkPrice     float64 `json:"markPrice,omitempty"`
}

// Contract describes one perpetual contract's trading rules.
type Contract struct {
	Symbol        string `json:"symbol"`
	SizeIncrement string `json:"size_increment"` // step size, e.g. "0.0001"
	MinSize       string `json:"min_size"`
	PricePlace    int    `json:"price_place,string"`    // price decimal places
	PriceEndStep  int    `json:"price_end_step,string"` // last-digit step
	MaxLeverage   int    `json:"max_leverage,string"`
}

// OrderResponse is the exchange's acknowledgement of a placed order.
type OrderResponse struct {
	OrderID   string `json:"order_id"`
	ClientOID string `json:"client_oid"`
}

// AILogUpload is the exchange-side AI decision disclosure record.
type AILogUpload struct {
	Stage       string    `json:"stage"`
	Model       string    `json:"model"`
	Input       string    `json:"input"`
	Output      string    `json:"output"`
	Explanation string    `json:"explanation"`
	OrderID     string    `json:"order_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// API is the typed exchange surface the engine consumes. Satisfied by
// Client (live) and MockClient (tests, offline runs).
type API interface {
	GetTicker(symbol string) (*Ticker, error)
	GetFundingRate(symbol string) (*FundingRate, error)
	GetCandles(symbol string, granularitySecs, limit int) ([]Candle, error)
	GetPositions() ([]Position, error)
	GetAccountAssets() (*AccountAssets, error)
	GetContracts() ([]Contract, error)
	PlaceOrder(order *Order) (*OrderResponse, error)
	CloseAllPositions(symbol string) error
	UploadAILog(entry *AILogUpload) (string, error)
}

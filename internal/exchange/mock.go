package exchange

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockClient is an in-memory API implementation for tests and mock-mode
// runs. All state is behind one mutex; reads return copies.
type MockClient struct {
	mu sync.Mutex

	Prices   map[string]float64
	Funding  map[string]float64
	Balance  float64
	Pos      []Position
	Rules    map[string]Contract
	Candles  map[string][]Candle

	PlacedOrders  []Order
	ClosedSymbols []string
	AILogs        []AILogUpload

	// Optional error injections, keyed by method name.
	Errors map[string]error
}

// NewMockClient seeds a mock with sane defaults for the given symbols.
func NewMockClient(symbols []string) *MockClient {
	m := &MockClient{
		Prices:  make(map[string]float64),
		Funding: make(map[string]float64),
		Balance: 10000,
		Rules:   make(map[string]Contract),
		Candles: make(map[string][]Candle),
		Errors:  make(map[string]error),
	}
	for i, s := range symbols {
		m.Prices[s] = 100 * float64(i+1)
		m.Funding[s] = 0.0001
		m.Rules[s] = Contract{
			Symbol:        s,
			SizeIncrement: "0.001",
			MinSize:       "0.001",
			PricePlace:    2,
			PriceEndStep:  1,
			MaxLeverage:   100,
		}
	}
	return m
}

func (m *MockClient) fail(method string) error {
	if err, ok := m.Errors[method]; ok {
		return err
	}
	return nil
}

func (m *MockClient) GetTicker(symbol string) (*Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetTicker"); err != nil {
		return nil, err
	}
	price, ok := m.Prices[symbol]
	if !ok {
		return nil, fmt.Errorf("unknown symbol %s", symbol)
	}
	return &Ticker{
		Symbol:    symbol,
		Last:      price,
		High24h:   price * 1.02,
		Low24h:    price * 0.98,
		Volume24h: 1_000_000,
		BestBid:   price * 0.9999,
		BestAsk:   price * 1.0001,
		MarkPrice: price,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

func (m *MockClient) GetFundingRate(symbol string) (*FundingRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetFundingRate"); err != nil {
		return nil, err
	}
	rate, ok := m.Funding[symbol]
	if !ok {
		return nil, fmt.Errorf("unknown symbol %s", symbol)
	}
	return &FundingRate{Symbol: symbol, FundingRate: rate}, nil
}

func (m *MockClient) GetCandles(symbol string, granularitySecs, limit int) ([]Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetCandles"); err != nil {
		return nil, err
	}
	if bars, ok := m.Candles[symbol]; ok {
		if len(bars) > limit {
			bars = bars[len(bars)-limit:]
		}
		out := make([]Candle, len(bars))
		copy(out, bars)
		return out, nil
	}

	// Synthesize flat bars around the current price.
	price := m.Prices[symbol]
	now := time.Now()
	bars := make([]Candle, 0, limit)
	for i := limit - 1; i >= 0; i-- {
		ts := now.Add(-time.Duration(i*granularitySecs) * time.Second)
		bars = append(bars, Candle{
			Timestamp: ts.UnixMilli(),
			Open:      price, High: price, Low: price, Close: price,
			Volume: 100,
		})
	}
	return bars, nil
}

func (m *MockClient) GetPositions() ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetPositions"); err != nil {
		return nil, err
	}
	out := make([]Position, len(m.Pos))
	copy(out, m.Pos)
	return out, nil
}

func (m *MockClient) GetAccountAssets() (*AccountAssets, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetAccountAssets"); err != nil {
		return nil, err
	}
	return &AccountAssets{Symbol: "usdt", Available: m.Balance, Equity: m.Balance}, nil
}

func (m *MockClient) GetContracts() ([]Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetContracts"); err != nil {
		return nil, err
	}
	out := make([]Contract, 0, len(m.Rules))
	for _, c := range m.Rules {
		out = append(out, c)
	}
	return out, nil
}

func (m *MockClient) PlaceOrder(order *Order) (*OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("PlaceOrder"); err != nil {
		return nil, err
	}

	if contract, ok := m.Rules[order.Symbol]; ok {
		if err := order.Validate(contract); err != nil {
			return nil, err
		}
	}

	m.PlacedOrders = append(m.PlacedOrders, *order)

	// Opens create a tracked position at the order price.
	if order.Type == OrderOpenLong || order.Type == OrderOpenShort {
		side := SideLong
		if order.Type == OrderOpenShort {
			side = SideShort
		}
		size, _ := strconv.ParseFloat(order.Size, 64)
		price, _ := strconv.ParseFloat(order.Price, 64)
		m.Pos = append(m.Pos, Position{
			Symbol:     order.Symbol,
			Side:       side,
			Size:       size,
			EntryPrice: price,
			Leverage:   1,
		})
	}

	return &OrderResponse{
		OrderID:   uuid.New().String(),
		ClientOID: order.ClientOID,
	}, nil
}

func (m *MockClient) CloseAllPositions(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CloseAllPositions"); err != nil {
		return err
	}
	m.ClosedSymbols = append(m.ClosedSymbols, symbol)
	kept := m.Pos[:0]
	for _, p := range m.Pos {
		if p.Symbol != symbol {
			kept = append(kept, p)
		}
	}
	m.Pos = kept
	return nil
}

func (m *MockClient) UploadAILog(entry *AILogUpload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UploadAILog"); err != nil {
		return "", err
	}
	m.AILogs = append(m.AILogs, *entry)
	return uuid.New().String(), nil
}

// SetPrice updates a symbol's price under lock.
func (m *MockClient) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prices[symbol] = price
}

var _ API = (*MockClient)(nil)
var _ API = (*Client)(nil)

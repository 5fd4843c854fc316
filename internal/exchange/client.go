package exchange

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"collab-trading-bot/internal/logging"
)

const (
	maxRetries     = 3
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 8 * time.Second

	defaultWeightBudget = 1200
)

// Client is the live exchange client. It signs every request, retries
// transient failures with backoff, and normalizes wire shapes into the
// engine's types.
type Client struct {
	apiKey     string
	secretKey  string
	passphrase string
	baseURL    string
	httpClient *http.Client
	limiter    *RateLimiter
	logger     *logging.Logger
}

// NewClient creates a signed REST client for the given credentials.
func NewClient(apiKey, secretKey, passphrase, baseURL string) *Client {
	return &Client{
		apiKey:     apiKey,
		secretKey:  secretKey,
		passphrase: passphrase,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    NewRateLimiter(defaultWeightBudget),
		logger:     logging.Default().WithComponent("exchange"),
	}
}

// ==================== HTTP HELPERS ====================

// sign builds the request signature: base64(HMAC-SHA256(timestamp + method +
// requestPath + body)).
func (c *Client) sign(timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// isRetryableError checks if an error is transient and should be retried
func isRetryableError(statusCode int, body string) bool {
	if statusCode == http.StatusTooManyRequests || statusCode >= 500 {
		return true
	}
	// Exchange-level transient codes embedded in the body
	if strings.Contains(body, "\"40429\"") || // too many requests
		strings.Contains(body, "\"40725\"") || // service busy
		strings.Contains(body, "\"40808\"") { // matching engine restarting
		return true
	}
	return false
}

// calculateRetryDelay returns delay with exponential backoff and jitter
func calculateRetryDelay(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt)) // 2^attempt
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay + jitter - (delay / 4)
}

// request performs one signed call with rate limiting and retry. endpoint is
// the bare path; params become the query string for GET and the JSON body for
// POST.
func (c *Client) request(method, endpoint string, params map[string]string, payload interface{}) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if !c.limiter.WaitForSlot(endpoint, 30*time.Second) {
			return nil, &TransientError{Message: "rate limit: circuit open, request blocked"}
		}

		requestPath := endpoint
		if len(params) > 0 {
			values := url.Values{}
			for k, v := range params {
				values.Set(k, v)
			}
			requestPath = endpoint + "?" + values.Encode()
		}

		var body []byte
		if payload != nil {
			var err error
			body, err = json.Marshal(payload)
			if err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequest(method, c.baseURL+requestPath, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}

		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("ACCESS-KEY", c.apiKey)
		req.Header.Set("ACCESS-SIGN", c.sign(timestamp, method, requestPath, string(body)))
		req.Header.Set("ACCESS-TIMESTAMP", timestamp)
		req.Header.Set("ACCESS-PASSPHRASE", c.passphrase)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = &TransientError{Message: err.Error()}
			if attempt < maxRetries {
				delay := calculateRetryDelay(attempt)
				c.logger.Warn("Request failed, retrying",
					"method", method, "endpoint", endpoint,
					"attempt", attempt+1, "maxAttempts", maxRetries+1,
					"delay", delay.String(), "error", err)
				time.Sleep(delay)
				continue
			}
			return nil, lastErr
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, &TransientError{Message: err.Error()}
		}

		if resp.StatusCode != http.StatusOK {
			if resp.StatusCode == http.StatusTooManyRequests {
				c.limiter.RecordRateLimitError(time.Time{})
			}

			if isRetryableError(resp.StatusCode, string(respBody)) {
				lastErr = &TransientError{StatusCode: resp.StatusCode, Message: string(respBody)}
				if attempt < maxRetries {
					delay := calculateRetryDelay(attempt)
					c.logger.Warn("Request returned retryable status, retrying",
						"method", method, "endpoint", endpoint, "status", resp.StatusCode,
						"attempt", attempt+1, "maxAttempts", maxRetries+1,
						"delay", delay.String())
					time.Sleep(delay)
					continue
				}
				return nil, lastErr
			}
			return nil, fmt.Errorf("exchange error (HTTP %d): %s", resp.StatusCode, string(respBody))
		}

		return respBody, nil
	}

	return nil, lastErr
}

func (c *Client) get(endpoint string, params map[string]string) ([]byte, error) {
	return c.request(http.MethodGet, endpoint, params, nil)
}

func (c *Client) post(endpoint string, payload interface{}) ([]byte, error) {
	return c.request(http.MethodPost, endpoint, nil, payload)
}

// ==================== MARKET DATA ====================

// GetTicker fetches the 24h snapshot for one contract.
func (c *Client) GetTicker(symbol string) (*Ticker, error) {
	if !ValidSymbol(symbol) {
		return nil, &ValidationError{Field: "symbol", Message: symbol}
	}
	body, err := c.get("/api/swap/v3/market/ticker", map[string]string{"symbol": symbol})
	if err != nil {
		return nil, err
	}
	var t Ticker
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("parse ticker for %s: %w", symbol, err)
	}
	if t.Symbol == "" {
		t.Symbol = symbol
	}
	return &t, nil
}

// GetFundingRate fetches the current funding rate for one contract.
func (c *Client) GetFundingRate(symbol string) (*FundingRate, error) {
	if !ValidSymbol(symbol) {
		return nil, &ValidationError{Field: "symbol", Message: symbol}
	}
	body, err := c.get("/api/swap/v3/market/current_fundRate", map[string]string{"symbol": symbol})
	if err != nil {
		return nil, err
	}
	var fr FundingRate
	if err := json.Unmarshal(body, &fr); err != nil {
		return nil, fmt.Errorf("parse funding rate for %s: %w", symbol, err)
	}
	if fr.Symbol == "" {
		fr.Symbol = symbol
	}
	return &fr, nil
}

// GetCandles fetches up to limit OHLCV bars at the given granularity in
// seconds. The wire format is an array of string arrays, newest last.
func (c *Client) GetCandles(symbol string, granularitySecs, limit int) ([]Candle, error) {
	if !ValidSymbol(symbol) {
		return nil, &ValidationError{Field: "symbol", Message: symbol}
	}
	body, err := c.get("/api/swap/v3/market/candles", map[string]string{
		"symbol":      symbol,
		"granularity": strconv.Itoa(granularitySecs),
		"limit":       strconv.Itoa(limit),
	})
	if err != nil {
		return nil, err
	}

	var raw [][]string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse candles for %s: %w", symbol, err)
	}

	candles := make([]Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		open, err1 := strconv.ParseFloat(row[1], 64)
		high, err2 := strconv.ParseFloat(row[2], 64)
		low, err3 := strconv.ParseFloat(row[3], 64)
		cls, err4 := strconv.ParseFloat(row[4], 64)
		vol, err5 := strconv.ParseFloat(row[5], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			continue
		}
		candles = append(candles, Candle{
			Timestamp: ts, Open: open, High: high, Low: low, Close: cls, Volume: vol,
		})
	}
	return candles, nil
}

// GetContracts fetches trading rules for every listed contract.
func (c *Client) GetContracts() ([]Contract, error) {
	body, err := c.get("/api/swap/v3/market/contracts", nil)
	if err != nil {
		return nil, err
	}
	var contracts []Contract
	if err := json.Unmarshal(body, &contracts); err != nil {
		return nil, fmt.Errorf("parse contracts: %w", err)
	}
	return contracts, nil
}

// ==================== ACCOUNT ====================

// GetAccountAssets fetches the USDT futures wallet. Available is the single
// balance authority for sizing decisions.
func (c *Client) GetAccountAssets() (*AccountAssets, error) {
	body, err := c.get("/api/swap/v3/account/accounts", nil)
	if err != nil {
		return nil, err
	}

	var assets []AccountAssets
	if err := json.Unmarshal(body, &assets); err != nil {
		// Some deployments return a single object rather than a list.
		var single AccountAssets
		if err2 := json.Unmarshal(body, &single); err2 != nil {
			return nil, fmt.Errorf("parse account assets: %w", err)
		}
		return &single, nil
	}

	for i := range assets {
		if strings.EqualFold(assets[i].Symbol, "usdt") || assets[i].Symbol == "" {
			return &assets[i], nil
		}
	}
	if len(assets) > 0 {
		return &assets[0], nil
	}
	return nil, fmt.Errorf("account assets response contained no wallets")
}

// GetPositions fetches all open positions, normalized to the engine's shape.
// Positions whose entry price cannot be derived are dropped with a warning
// rather than poisoning downstream math.
func (c *Client) GetPositions() ([]Position, error) {
	body, err := c.get("/api/swap/v3/position/allPosition", nil)
	if err != nil {
		return nil, err
	}

	var raw []rawPosition
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}

	positions := make([]Position, 0, len(raw))
	for _, rp := range raw {
		if rp.Size <= 0 {
			continue
		}

		var side Side
		switch strings.ToLower(rp.HoldSide) {
		case "1", "long":
			side = SideLong
		case "2", "short":
			side = SideShort
		default:
			c.logger.Warn("Dropping position with unknown hold_side", "symbol", rp.Symbol, "hold_side", rp.HoldSide)
			continue
		}

		entry := rp.AvgCost
		if entry <= 0 && rp.OpenValue > 0 {
			entry = rp.OpenValue / rp.Size
		}
		if entry <= 0 {
			c.logger.Warn("Dropping position without derivable entry price", "symbol", rp.Symbol)
			continue
		}

		positions = append(positions, Position{
			Symbol:        rp.Symbol,
			Side:          side,
			Size:          rp.Size,
			EntryPrice:    entry,
			Leverage:      rp.Leverage,
			UnrealizedPnl: rp.UnrealizedPnl,
		})
	}
	return positions, nil
}

// ==================== ORDERS ====================

// PlaceOrder submits an order. Callers run Order.Validate against the
// contract first so malformed orders never reach the wire.
func (c *Client) PlaceOrder(order *Order) (*OrderResponse, error) {
	body, err := c.post("/api/swap/v3/order/placeOrder", order)
	if err != nil {
		return nil, err
	}
	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse order response: %w", err)
	}
	if resp.OrderID == "" {
		return nil, fmt.Errorf("order rejected: %s", string(body))
	}
	c.logger.Info("Order placed", "symbol", order.Symbol, "type", order.Type, "size", order.Size, "orderId", resp.OrderID)
	return &resp, nil
}

// CloseAllPositions market-closes every position on one contract.
func (c *Client) CloseAllPositions(symbol string) error {
	if !ValidSymbol(symbol) {
		return &ValidationError{Field: "symbol", Message: symbol}
	}
	_, err := c.post("/api/swap/v3/order/closeAll", map[string]string{"symbol": symbol})
	if err != nil {
		return err
	}
	c.logger.Info("Closed all positions", "symbol", symbol)
	return nil
}

// UploadAILog submits an AI decision disclosure record. Best-effort: callers
// log failures and move on, trading never blocks on this.
func (c *Client) UploadAILog(entry *AILogUpload) (string, error) {
	body, err := c.post("/api/swap/v3/order/uploadAILog", entry)
	if err != nil {
		return "", err
	}
	var resp struct {
		LogID string `json:"log_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse AI log response: %w", err)
	}
	return resp.LogID, nil
}

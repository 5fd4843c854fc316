package executor

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"collab-trading-bot/config"
	"collab-trading-bot/internal/analyst"
	"collab-trading-bot/internal/events"
	"collab-trading-bot/internal/exchange"
	"collab-trading-bot/internal/logging"
	"collab-trading-bot/internal/risk"
)

// TradeRecord is the persisted trade row. The exchange remains source of
// truth for order state; this row is an audit mirror.
type TradeRecord struct {
	ID              string
	UserID          string
	PortfolioID     string
	Symbol          string
	Side            string
	Type            string
	Size            float64
	Price           float64
	Status          string
	Reason          string
	Confidence      float64
	ClientOrderID   string
	ExchangeOrderID string
	ExecutedAt      time.Time
}

// AILogRecord is the persisted AI decision disclosure row.
type AILogRecord struct {
	ID                 string
	UserID             string
	OrderID            string
	Stage              string
	Model              string
	Input              string
	Output             string
	Explanation        string
	Timestamp          time.Time
	UploadedToExchange bool
	ExchangeLogID      string
}

// TradeStore persists trade rows. Best-effort from the executor's view.
type TradeStore interface {
	SaveTrade(ctx context.Context, t *TradeRecord) error
}

// AILogStore persists AI log rows. Best-effort.
type AILogStore interface {
	SaveAILog(ctx context.Context, l *AILogRecord) error
}

// Request is everything one execution needs.
type Request struct {
	UserID      string
	PortfolioID string
	Symbol      string
	Direction   analyst.Action
	Champion    *analyst.AnalysisResult
	Decision    risk.Decision
	Price       float64 // fresh mark, must be > 0
	Balance     float64 // exchange wallet available
	Contract    exchange.Contract
}

// Outcome reports what the executor did.
type Outcome struct {
	Executed      bool
	DryRun        bool
	OrderID       string
	ClientOrderID string
	Size          float64
	Margin        float64
	Reason        string
}

// Executor turns an approved thesis into a validated exchange order.
type Executor struct {
	client exchange.API
	cfg    config.Config
	bus    *events.Bus
	trades TradeStore
	ailogs AILogStore
	model  string
	logger *logging.Logger
}

// New creates an executor. trades and ailogs may be nil (persistence off).
func New(client exchange.API, cfg config.Config, bus *events.Bus, trades TradeStore, ailogs AILogStore, model string) *Executor {
	return &Executor{
		client: client,
		cfg:    cfg,
		bus:    bus,
		trades: trades,
		ailogs: ailogs,
		model:  model,
		logger: logging.Default().WithComponent("executor"),
	}
}

func isFinitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// Execute sizes, validates, and submits the approved trade. Validation
// failures abort the trade without touching the exchange; the caller's
// cycle still completes cleanly.
func (e *Executor) Execute(ctx context.Context, req Request) (*Outcome, error) {
	if !req.Decision.Approved {
		return &Outcome{Reason: "risk council veto: " + req.Decision.VetoReason}, nil
	}

	if req.Balance < e.cfg.EngineConfig.MinBalanceToTrade {
		return &Outcome{Reason: fmt.Sprintf("balance %.2f below minimum %.2f", req.Balance, e.cfg.EngineConfig.MinBalanceToTrade)}, nil
	}
	if !isFinitePositive(req.Price) {
		return nil, &exchange.ValidationError{Field: "price", Message: fmt.Sprintf("current price %v not positive", req.Price)}
	}

	adj := req.Decision.Adjustments

	// Position sizing: the 1..10 size score maps onto MaxPositionPercent.
	// Leverage is bounded by the contract before the margin math.
	leverage := float64(exchange.ClampLeverage(int(math.Round(adj.Leverage)), req.Contract))
	positionPercent := adj.PositionSize / 10 * e.cfg.RiskConfig.MaxPositionPercent
	positionValue := req.Balance * positionPercent / 100
	size := positionValue / req.Price
	margin := positionValue / leverage

	if !isFinitePositive(size) || !isFinitePositive(margin) {
		return nil, &exchange.ValidationError{Field: "size", Message: "computed size or margin not finite positive"}
	}

	takeProfit := req.Champion.PriceTarget.Base
	stopLoss := adj.StopLoss
	if !isFinitePositive(takeProfit) || !isFinitePositive(stopLoss) {
		return nil, &exchange.ValidationError{Field: "presetStopLossPrice", Message: "TP or SL not finite positive"}
	}

	orderType := exchange.OrderOpenLong
	side := "LONG"
	if req.Direction == analyst.ActionShort {
		orderType = exchange.OrderOpenShort
		side = "SHORT"
	}

	clientOID := fmt.Sprintf("collab-%s", uuid.New().String()[:30])
	order := &exchange.Order{
		Symbol:                req.Symbol,
		Type:                  orderType,
		OrderType:             exchange.ExecFOK,
		MatchPrice:            exchange.MatchMarket,
		Size:                  req.Contract.FormatSize(size),
		Price:                 req.Contract.FormatPrice(req.Price),
		ClientOID:             clientOID,
		PresetTakeProfitPrice: req.Contract.FormatPrice(takeProfit),
		PresetStopLossPrice:   req.Contract.FormatPrice(stopLoss),
	}

	if err := order.Validate(req.Contract); err != nil {
		return nil, err
	}

	if e.cfg.EngineConfig.DryRun {
		e.logger.Info("Dry-run trade",
			"symbol", req.Symbol, "side", side, "size", order.Size,
			"leverage", leverage, "tp", order.PresetTakeProfitPrice, "sl", order.PresetStopLossPrice)
		e.emitTradeExecuted(req, side, order, "", true)
		return &Outcome{Executed: true, DryRun: true, ClientOrderID: clientOID, Size: size, Margin: margin, Reason: "dry-run"}, nil
	}

	resp, err := e.client.PlaceOrder(order)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Trade executed",
		"symbol", req.Symbol, "side", side, "size", order.Size,
		"orderId", resp.OrderID, "confidence", req.Champion.Confidence)

	e.uploadAILog(ctx, req, resp.OrderID)
	e.persistTrade(ctx, req, side, order, resp)
	e.emitTradeExecuted(req, side, order, resp.OrderID, false)

	return &Outcome{
		Executed:      true,
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOID,
		Size:          size,
		Margin:        margin,
	}, nil
}

func (e *Executor) emitTradeExecuted(req Request, side string, order *exchange.Order, orderID string, dryRun bool) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(events.EventTradeExecuted, map[string]interface{}{
		"symbol":     req.Symbol,
		"side":       side,
		"size":       order.Size,
		"price":      order.Price,
		"orderId":    orderID,
		"confidence": req.Champion.Confidence,
		"analyst":    req.Champion.AnalystID,
		"dryRun":     dryRun,
	})
}

// uploadAILog discloses the decision to the exchange and mirrors it to the
// database. Failures are logged and swallowed; trading never blocks on the
// audit trail.
func (e *Executor) uploadAILog(ctx context.Context, req Request, orderID string) {
	entry := &exchange.AILogUpload{
		Stage:       "championship",
		Model:       e.model,
		Input:       fmt.Sprintf("symbol=%s direction=%s balance=%.2f", req.Symbol, req.Direction, req.Balance),
		Output:      req.Champion.Thesis,
		Explanation: fmt.Sprintf("%s (%s) confidence %.0f: %s", req.Champion.AnalystID, req.Champion.Recommendation, req.Champion.Confidence, req.Champion.Catalyst),
		OrderID:     orderID,
		Timestamp:   time.Now(),
	}

	logID, err := e.client.UploadAILog(entry)
	uploaded := err == nil
	if err != nil {
		e.logger.Warn("AI log upload failed", "orderId", orderID, "error", err)
	}

	if e.ailogs == nil {
		return
	}
	rec := &AILogRecord{
		ID:                 uuid.New().String(),
		UserID:             req.UserID,
		OrderID:            orderID,
		Stage:              entry.Stage,
		Model:              entry.Model,
		Input:              entry.Input,
		Output:             entry.Output,
		Explanation:        entry.Explanation,
		Timestamp:          entry.Timestamp,
		UploadedToExchange: uploaded,
		ExchangeLogID:      logID,
	}
	if err := e.ailogs.SaveAILog(ctx, rec); err != nil {
		e.logger.Warn("AI log persistence failed", "orderId", orderID, "error", err)
	}
}

// persistTrade mirrors the fill to the database. A write failure does not
// revert the exchange order; it is only logged.
func (e *Executor) persistTrade(ctx context.Context, req Request, side string, order *exchange.Order, resp *exchange.OrderResponse) {
	if e.trades == nil {
		return
	}

	size, _ := strconv.ParseFloat(order.Size, 64)
	price, _ := strconv.ParseFloat(order.Price, 64)
	rec := &TradeRecord{
		ID:              uuid.New().String(),
		UserID:          req.UserID,
		PortfolioID:     req.PortfolioID,
		Symbol:          req.Symbol,
		Side:            side,
		Type:            "MARKET",
		Size:            size,
		Price:           price,
		Status:          "FILLED",
		Reason:          req.Champion.Thesis,
		Confidence:      req.Champion.Confidence,
		ClientOrderID:   resp.ClientOID,
		ExchangeOrderID: resp.OrderID,
		ExecutedAt:      time.Now(),
	}
	if err := e.trades.SaveTrade(ctx, rec); err != nil {
		e.logger.Warn("Trade persistence failed", "orderId", resp.OrderID, "error", err)
	}
}

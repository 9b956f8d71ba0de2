package models

import (
	"time"
)

// Side направление торгового сигнала
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
	SideHold Side = "hold"
)

// PositionStatus статус позиции в жизненном цикле
type PositionStatus string

const (
	StatusOpening      PositionStatus = "opening"
	StatusOpen         PositionStatus = "open"
	StatusPendingClose PositionStatus = "pending_close"
	StatusClosed       PositionStatus = "closed"
)

// Candle представляет свечу
type Candle struct {
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"`
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
}

// IndicatorSet снимок индикаторов для пары (символ, таймфрейм)
type IndicatorSet struct {
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"`
	BBUpper   float64   `json:"bb_upper"`
	BBMiddle  float64   `json:"bb_middle"`
	BBLower   float64   `json:"bb_lower"`
	EMA       float64   `json:"ema"`
	StochK    float64   `json:"stoch_k"`
	StochD    float64   `json:"stoch_d"`

	// Предыдущие значения стохастика нужны для детекции пересечений
	PrevStochK float64 `json:"prev_stoch_k"`
	PrevStochD float64 `json:"prev_stoch_d"`
	Close     float64   `json:"close"`
	Timestamp time.Time `json:"timestamp"`
}

// ConditionResult набор булевых условий по одному таймфрейму
type ConditionResult struct {
	IsOversold        bool `json:"is_oversold"`
	IsOverbought      bool `json:"is_overbought"`
	PriceAboveEMA     bool `json:"price_above_ema"`
	PriceBelowEMA     bool `json:"price_below_ema"`
	StochCrossover    bool `json:"stoch_crossover"`
	StochCrossunder   bool `json:"stoch_crossunder"`
	PriceBelowBBLower bool `json:"price_below_bb_lower"`
	PriceAboveBBUpper bool `json:"price_above_bb_upper"`

	// BuyScore доля выполненных условий на покупку (k/4)
	BuyScore float64 `json:"buy_score"`
	// SellScore 0 либо min((K-overbought)/(100-overbought), 1),
	// когда выполнены все четыре условия на продажу
	SellScore float64 `json:"sell_score"`
}

// Signal результат оценки символа за один цикл. Создается заново
// каждый цикл и не мутируется.
type Signal struct {
	Symbol         string                      `json:"symbol"`
	Side           Side                        `json:"side"`
	Confidence     float64                     `json:"confidence"`
	BuyConfidence  float64                     `json:"buy_confidence"`
	SellConfidence float64                     `json:"sell_confidence"`
	Conditions     map[string]*ConditionResult `json:"conditions"`
	CurrentPrice   float64                     `json:"current_price"`
	GeneratedAt    time.Time                   `json:"generated_at"`
}

// Position открытая позиция по символу. Инвариант: не более одной
// незакрытой позиции на символ.
type Position struct {
	Symbol            string         `json:"symbol"`
	Status            PositionStatus `json:"status"`
	EntryPrice        float64        `json:"entry_price"`
	Quantity          float64        `json:"quantity"`
	EntryTime         time.Time      `json:"entry_time"`
	StopLossPrice     float64        `json:"stop_loss_price"`
	TakeProfitPrice   float64        `json:"take_profit_price"`
	TrailingArmed     bool           `json:"trailing_armed"`
	TrailingHighWater float64        `json:"trailing_high_water"`
	BuyOrderID        string         `json:"buy_order_id"`
	SellOrderID       string         `json:"sell_order_id"`
	Confidence        float64        `json:"confidence"`
	CloseReason       string         `json:"close_reason,omitempty"`
	CloseAttempts     int            `json:"close_attempts,omitempty"`
}

// TradeRecord завершенная сделка, история только дополняется
type TradeRecord struct {
	Symbol      string    `json:"symbol"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	Quantity    float64   `json:"quantity"`
	EntryTime   time.Time `json:"entry_time"`
	ExitTime    time.Time `json:"exit_time"`
	ProfitPct   float64   `json:"profit_pct"`
	ProfitQuote float64   `json:"profit_quote"`
	QuoteAsset  string    `json:"quote_asset"`
	CloseReason string    `json:"close_reason"`
	BuyOrderID  string    `json:"buy_order_id"`
	SellOrderID string    `json:"sell_order_id"`
}

// RiskState агрегированное состояние риска, дневная часть
// сбрасывается при смене календарного дня
type RiskState struct {
	DailyRealizedPnlPct float64   `json:"daily_realized_pnl_pct"`
	CumulativePnlPct    float64   `json:"cumulative_pnl_pct"`
	PeakPnlPct          float64   `json:"peak_pnl_pct"`
	CurrentDrawdownPct  float64   `json:"current_drawdown_pct"`
	ConsecutiveLosses   int       `json:"consecutive_losses"`
	Day                 time.Time `json:"day"`
}

// OrderFill результат исполнения рыночного ордера
type OrderFill struct {
	OrderID      string  `json:"order_id"`
	AveragePrice float64 `json:"average_price"`
	FilledQty    float64 `json:"filled_qty"`
}

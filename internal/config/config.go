package config

import (
	"fmt"
	"math"
	"os"

	"github.com/skalibog/bstb/pkg/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance    BinanceConfig    `yaml:"binance"`
	Trading    TradingConfig    `yaml:"trading"`
	Strategy   StrategyConfig   `yaml:"strategy"`
	Risk       RiskConfig       `yaml:"risk"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Storage    StorageConfig    `yaml:"storage"`
	Cache      CacheConfig      `yaml:"cache"`
	Telegram   TelegramConfig   `yaml:"telegram"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// PairConfig описывает торговую пару и ее ограничения
type PairConfig struct {
	Symbol            string  `yaml:"symbol"`
	MinQuantity       float64 `yaml:"min_quantity"`
	QuantityPrecision int32   `yaml:"quantity_precision"`
}

// TradingConfig содержит настройки торговли и выходов из позиций
type TradingConfig struct {
	Pairs           []PairConfig `yaml:"pairs"`
	QuoteAsset      string       `yaml:"quote_asset"`
	IntervalSeconds int          `yaml:"interval_seconds"`
	MaxOpenTrades   int          `yaml:"max_open_trades"`

	// Расчет размера позиции
	PositionSizePct float64 `yaml:"position_size_pct"`
	MinAllocation   float64 `yaml:"min_allocation_usdt"`
	MaxAllocation   float64 `yaml:"max_allocation_usdt"`

	// Условия выхода (доли, не проценты)
	TakeProfitPct             float64 `yaml:"take_profit_pct"`
	StopLossPct               float64 `yaml:"stop_loss_pct"`
	DisableStopLoss           bool    `yaml:"disable_stop_loss"`
	MinProfitPct              float64 `yaml:"min_profit_pct"`
	TrailingStopPct           float64 `yaml:"trailing_stop_pct"`
	TrailingStopActivationPct float64 `yaml:"trailing_stop_activation_pct"`
	HoldTimeMinutes           int     `yaml:"hold_time_minutes"`
}

// StrategyConfig настройки стратегии Bollinger + Stochastic RSI
type StrategyConfig struct {
	BollLength   int     `yaml:"boll_length"`
	BollStd      float64 `yaml:"boll_std"`
	EMALength    int     `yaml:"ema_length"`
	StochLength  int     `yaml:"stoch_length"`
	StochSmoothK int     `yaml:"stoch_smooth_k"`
	StochSmoothD int     `yaml:"stoch_smooth_d"`

	StochOversold   float64 `yaml:"stoch_oversold"`
	StochOverbought float64 `yaml:"stoch_overbought"`
	MinConfidence   float64 `yaml:"min_confidence"`

	Timeframes       []string           `yaml:"timeframes"`
	TimeframeWeights map[string]float64 `yaml:"timeframe_weights"`
	CandleLimit      int                `yaml:"candle_limit"`
}

// RiskConfig лимиты контроллера риска (в процентах)
type RiskConfig struct {
	DailyLossLimitPct   float64 `yaml:"daily_loss_limit_pct"`
	DrawdownLimitPct    float64 `yaml:"drawdown_limit_pct"`
	DrawdownRecoveryPct float64 `yaml:"drawdown_recovery_pct"`
	DrawdownSizeFactor  float64 `yaml:"drawdown_size_factor"`
}

// ResilienceConfig настройки шлюза отказоустойчивости
type ResilienceConfig struct {
	RequestsPerMinute    int     `yaml:"requests_per_minute"`
	OrdersPerSecond      int     `yaml:"orders_per_second"`
	SafetyBuffer         float64 `yaml:"safety_buffer"`
	RetryCount           int     `yaml:"retry_count"`
	RetryDelaySeconds    float64 `yaml:"retry_delay_seconds"`
	MaxRetryDelaySeconds float64 `yaml:"max_retry_delay_seconds"`
	ErrorThreshold       int     `yaml:"error_threshold"`
	ErrorWindowSeconds   int     `yaml:"error_window_seconds"`
	CircuitTimeoutSeconds int    `yaml:"circuit_timeout_seconds"`
	CallTimeoutSeconds   int     `yaml:"call_timeout_seconds"`
}

// StorageConfig настройки хранения данных
type StorageConfig struct {
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// CacheConfig настройки Redis-кеша
type CacheConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// TelegramConfig настройки канала уведомлений
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// Load загружает конфигурацию из файла и проверяет ее
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("некорректная конфигурация: %w", err)
	}

	logger.Debug("Загружена конфигурация", zap.String("path", path), zap.Any("config", config))
	logger.Info("Загружена конфигурация", zap.Int("pairs", len(config.Trading.Pairs)))
	return &config, nil
}

// Validate проверяет границы параметров. Неустранимые ошибки
// конфигурации допустимы только на старте процесса.
func (c *Config) Validate() error {
	if len(c.Trading.Pairs) == 0 {
		return fmt.Errorf("не задана ни одна торговая пара")
	}
	if c.Trading.MaxOpenTrades <= 0 {
		return fmt.Errorf("max_open_trades должен быть положительным")
	}
	if c.Trading.PositionSizePct <= 0 || c.Trading.PositionSizePct > 1 {
		return fmt.Errorf("position_size_pct должен быть в диапазоне (0, 1]")
	}
	if c.Trading.MinAllocation <= 0 || c.Trading.MaxAllocation < c.Trading.MinAllocation {
		return fmt.Errorf("границы аллокации заданы некорректно: min=%f max=%f",
			c.Trading.MinAllocation, c.Trading.MaxAllocation)
	}

	if c.Strategy.MinConfidence <= 0 || c.Strategy.MinConfidence > 1 {
		return fmt.Errorf("min_confidence должен быть в диапазоне (0, 1]")
	}
	if c.Strategy.StochOverbought <= c.Strategy.StochOversold {
		return fmt.Errorf("уровень перекупленности (%f) должен быть выше уровня перепроданности (%f)",
			c.Strategy.StochOverbought, c.Strategy.StochOversold)
	}
	if len(c.Strategy.Timeframes) == 0 {
		return fmt.Errorf("не задан ни один таймфрейм")
	}

	// Веса таймфреймов должны суммироваться в 1, иначе
	// агрегированная уверенность выходит за [0, 1]
	var sum float64
	for _, tf := range c.Strategy.Timeframes {
		w, ok := c.Strategy.TimeframeWeights[tf]
		if !ok {
			return fmt.Errorf("для таймфрейма %s не задан вес", tf)
		}
		if w < 0 {
			return fmt.Errorf("вес таймфрейма %s отрицательный", tf)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("веса таймфреймов суммируются в %f, ожидается 1.0", sum)
	}

	if c.Risk.DailyLossLimitPct < 1 || c.Risk.DailyLossLimitPct > 20 {
		return fmt.Errorf("daily_loss_limit_pct должен быть в диапазоне [1, 20]")
	}
	if c.Risk.DrawdownLimitPct < 5 || c.Risk.DrawdownLimitPct > 50 {
		return fmt.Errorf("drawdown_limit_pct должен быть в диапазоне [5, 50]")
	}
	if c.Risk.DrawdownRecoveryPct >= c.Risk.DrawdownLimitPct {
		return fmt.Errorf("drawdown_recovery_pct должен быть ниже drawdown_limit_pct")
	}
	if c.Risk.DrawdownSizeFactor <= 0 || c.Risk.DrawdownSizeFactor > 1 {
		return fmt.Errorf("drawdown_size_factor должен быть в диапазоне (0, 1]")
	}

	if c.Resilience.SafetyBuffer <= 0 || c.Resilience.SafetyBuffer > 1 {
		return fmt.Errorf("safety_buffer должен быть в диапазоне (0, 1]")
	}
	if c.Resilience.RequestsPerMinute <= 0 || c.Resilience.OrdersPerSecond <= 0 {
		return fmt.Errorf("лимиты запросов должны быть положительными")
	}
	if c.Resilience.ErrorThreshold <= 0 {
		return fmt.Errorf("error_threshold должен быть положительным")
	}

	return nil
}

// Pair возвращает конфигурацию пары по символу
func (c *TradingConfig) Pair(symbol string) (PairConfig, bool) {
	for _, p := range c.Pairs {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return PairConfig{}, false
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Trading: TradingConfig{
			Pairs:           []PairConfig{{Symbol: "BTCUSDT", MinQuantity: 0.0001, QuantityPrecision: 5}},
			QuoteAsset:      "USDT",
			IntervalSeconds: 60,
			MaxOpenTrades:   3,
			PositionSizePct: 0.1,
			MinAllocation:   15,
			MaxAllocation:   500,
		},
		Strategy: StrategyConfig{
			BollLength:       20,
			BollStd:          2,
			EMALength:        50,
			StochLength:      14,
			StochSmoothK:     3,
			StochSmoothD:     3,
			StochOversold:    20,
			StochOverbought:  80,
			MinConfidence:    0.5,
			Timeframes:       []string{"1h", "4h"},
			TimeframeWeights: map[string]float64{"1h": 0.6, "4h": 0.4},
			CandleLimit:      200,
		},
		Risk: RiskConfig{
			DailyLossLimitPct:   5,
			DrawdownLimitPct:    15,
			DrawdownRecoveryPct: 10,
			DrawdownSizeFactor:  0.5,
		},
		Resilience: ResilienceConfig{
			RequestsPerMinute: 1200,
			OrdersPerSecond:   10,
			SafetyBuffer:      0.8,
			ErrorThreshold:    5,
		},
	}
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() = %v, конфигурация корректна", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"нет пар", func(c *Config) { c.Trading.Pairs = nil }},
		{"нулевой max_open_trades", func(c *Config) { c.Trading.MaxOpenTrades = 0 }},
		{"размер позиции вне диапазона", func(c *Config) { c.Trading.PositionSizePct = 1.5 }},
		{"max ниже min аллокации", func(c *Config) { c.Trading.MaxAllocation = 5 }},
		{"нулевая min_confidence", func(c *Config) { c.Strategy.MinConfidence = 0 }},
		{"перекупленность ниже перепроданности", func(c *Config) { c.Strategy.StochOverbought = 10 }},
		{"веса не суммируются в 1", func(c *Config) { c.Strategy.TimeframeWeights["1h"] = 0.9 }},
		{"таймфрейм без веса", func(c *Config) { delete(c.Strategy.TimeframeWeights, "4h") }},
		{"дневной лимит выше 20", func(c *Config) { c.Risk.DailyLossLimitPct = 25 }},
		{"дневной лимит ниже 1", func(c *Config) { c.Risk.DailyLossLimitPct = 0.5 }},
		{"лимит просадки вне [5,50]", func(c *Config) { c.Risk.DrawdownLimitPct = 60 }},
		{"порог восстановления выше лимита", func(c *Config) { c.Risk.DrawdownRecoveryPct = 20 }},
		{"нулевой фактор размера", func(c *Config) { c.Risk.DrawdownSizeFactor = 0 }},
		{"запас выше 1", func(c *Config) { c.Resilience.SafetyBuffer = 1.2 }},
		{"нулевой порог ошибок", func(c *Config) { c.Resilience.ErrorThreshold = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, ожидалась ошибка")
			}
		})
	}
}

func TestLoadParsesYAML(t *testing.T) {
	raw := `
binance:
  testnet: true
trading:
  pairs:
    - symbol: BTCUSDT
      min_quantity: 0.0001
      quantity_precision: 5
  quote_asset: USDT
  interval_seconds: 60
  max_open_trades: 2
  position_size_pct: 0.1
  min_allocation_usdt: 15
  max_allocation_usdt: 500
  take_profit_pct: 0.03
  stop_loss_pct: 0.02
strategy:
  boll_length: 20
  boll_std: 2.0
  ema_length: 50
  stoch_length: 14
  stoch_smooth_k: 3
  stoch_smooth_d: 3
  stoch_oversold: 20
  stoch_overbought: 80
  min_confidence: 0.5
  timeframes: ["1h"]
  timeframe_weights:
    1h: 1.0
  candle_limit: 200
risk:
  daily_loss_limit_pct: 5
  drawdown_limit_pct: 15
  drawdown_recovery_pct: 10
  drawdown_size_factor: 0.5
resilience:
  requests_per_minute: 1200
  orders_per_second: 10
  safety_buffer: 0.8
  retry_count: 3
  retry_delay_seconds: 1
  max_retry_delay_seconds: 30
  error_threshold: 5
  error_window_seconds: 60
  circuit_timeout_seconds: 120
  call_timeout_seconds: 15
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}

	if !cfg.Binance.Testnet {
		t.Error("testnet не распарсился")
	}
	if cfg.Trading.Pairs[0].Symbol != "BTCUSDT" {
		t.Errorf("symbol = %q", cfg.Trading.Pairs[0].Symbol)
	}
	if cfg.Resilience.RetryDelaySeconds != 1 {
		t.Errorf("retry_delay_seconds = %v", cfg.Resilience.RetryDelaySeconds)
	}
	if cfg.Strategy.TimeframeWeights["1h"] != 1.0 {
		t.Errorf("вес 1h = %v", cfg.Strategy.TimeframeWeights["1h"])
	}

	pair, ok := cfg.Trading.Pair("BTCUSDT")
	if !ok || pair.QuantityPrecision != 5 {
		t.Errorf("Pair() = %+v, %v", pair, ok)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() = nil для отсутствующего файла")
	}
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skalibog/bstb/internal/analysis/confidence"
	"github.com/skalibog/bstb/internal/analysis/indicators"
	"github.com/skalibog/bstb/internal/cache"
	"github.com/skalibog/bstb/internal/config"
	"github.com/skalibog/bstb/internal/exchange"
	"github.com/skalibog/bstb/internal/notify"
	"github.com/skalibog/bstb/internal/position"
	"github.com/skalibog/bstb/internal/risk"
	"github.com/skalibog/bstb/internal/storage"
	"github.com/skalibog/bstb/pkg/logger"
	"github.com/skalibog/bstb/pkg/models"
	"go.uber.org/zap"
)

// Orchestrator выполняет один проход оценки по всем парам за цикл:
// свечи — индикаторы — сигнал — гейт риска — действия по позициям.
// Все мутирующее состояние принадлежит компонентам, оркестратор
// читает снимки в начале цикла.
type Orchestrator struct {
	cfg       *config.Config
	gateway   *exchange.Gateway
	analyzer  *indicators.Analyzer
	positions *position.Manager
	risk      *risk.Controller
	store     storage.Storage
	cache     *cache.RedisCache
	notifier  notify.Notifier

	trigger chan struct{}
}

// New создает оркестратор торгового цикла
func New(
	cfg *config.Config,
	gateway *exchange.Gateway,
	analyzer *indicators.Analyzer,
	positions *position.Manager,
	riskCtl *risk.Controller,
	store storage.Storage,
	redis *cache.RedisCache,
	notifier notify.Notifier,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		gateway:   gateway,
		analyzer:  analyzer,
		positions: positions,
		risk:      riskCtl,
		store:     store,
		cache:     redis,
		notifier:  notifier,
		trigger:   make(chan struct{}, 1),
	}
}

// TriggerNow запрашивает внеочередной проход цикла. Неблокирующий:
// повторный запрос во время выполняющегося прохода схлопывается.
func (o *Orchestrator) TriggerNow() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Run восстанавливает состояние и крутит торговый цикл до отмены
// контекста. Текущая операция по символу завершается до выхода.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.restore(ctx); err != nil {
		return err
	}

	interval := time.Duration(o.cfg.Trading.IntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Торговый цикл запущен",
		zap.Duration("interval", interval),
		zap.Int("pairs", len(o.cfg.Trading.Pairs)))

	o.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Торговый цикл остановлен")
			return nil
		case <-ticker.C:
			o.runCycle(ctx)
		case <-o.trigger:
			logger.Info("Внеочередной проход по запросу")
			o.runCycle(ctx)
		}
	}
}

// restore подхватывает позиции и состояние риска после рестарта
func (o *Orchestrator) restore(ctx context.Context) error {
	if err := o.positions.Restore(ctx); err != nil {
		return fmt.Errorf("ошибка восстановления позиций: %w", err)
	}
	if o.cache != nil {
		state, ok, err := o.cache.LoadRiskState(ctx)
		if err != nil {
			return fmt.Errorf("ошибка восстановления состояния риска: %w", err)
		}
		if ok {
			o.risk.Restore(state)
		}
	}
	return nil
}

// runCycle выполняет один проход по всем символам последовательно.
// Паника в оценке одного символа не прерывает остальные.
func (o *Orchestrator) runCycle(ctx context.Context) {
	started := time.Now()

	for _, pair := range o.cfg.Trading.Pairs {
		if ctx.Err() != nil {
			return
		}
		o.evaluateSymbol(ctx, pair.Symbol)
	}

	o.updateStatus(ctx, started)
	logger.Debug("Проход цикла завершен", zap.Duration("elapsed", time.Since(started)))
}

func (o *Orchestrator) evaluateSymbol(ctx context.Context, symbol string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Паника при оценке символа",
				zap.String("symbol", symbol),
				zap.Any("panic", r))
		}
	}()

	signal, err := o.buildSignal(ctx, symbol)
	if err != nil {
		logger.Warn("Символ пропущен в этом цикле",
			zap.String("symbol", symbol), zap.Error(err))
		signal = nil
	}

	price := 0.0
	if signal != nil {
		price = signal.CurrentPrice
	}
	if price == 0 {
		price, err = o.gateway.GetPrice(ctx, symbol)
		if err != nil {
			logger.Warn("Нет текущей цены, действия по символу пропущены",
				zap.String("symbol", symbol), zap.Error(err))
			return
		}
	}

	// Выходы оцениваются раньше входов по тому же символу
	trade, err := o.positions.EvaluateExit(ctx, symbol, signal, price)
	if err != nil {
		logger.Error("Ошибка оценки выхода", zap.String("symbol", symbol), zap.Error(err))
	}
	if trade != nil {
		o.onTradeClosed(ctx, trade)
	}

	if signal == nil || signal.Side != models.SideBuy {
		return
	}
	if _, exists := o.positions.Get(symbol); exists {
		return
	}

	decision := o.risk.CheckEntry()
	if !decision.Allowed {
		logger.Warn("Вход заблокирован контроллером риска",
			zap.String("symbol", symbol),
			zap.String("reason", decision.Reason))
		o.notify(ctx, fmt.Sprintf("%s: вход заблокирован: %s", symbol, decision.Reason), notify.SeverityWarning)
		return
	}

	pos, err := o.positions.TryOpen(ctx, signal, decision.SizeFactor)
	if err != nil {
		logger.Error("Ошибка открытия позиции", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	if pos != nil {
		o.notify(ctx, fmt.Sprintf("%s: открыта позиция по %.4f, уверенность %.2f",
			pos.Symbol, pos.EntryPrice, pos.Confidence), notify.SeverityInfo)
	}
}

// buildSignal собирает индикаторы по всем таймфреймам и оценивает
// сигнал. Таймфреймы без данных дают нулевой вклад, при полном
// отсутствии данных символ не оценивается.
func (o *Orchestrator) buildSignal(ctx context.Context, symbol string) (*models.Signal, error) {
	sets := make(map[string]*models.IndicatorSet, len(o.cfg.Strategy.Timeframes))

	for _, tf := range o.cfg.Strategy.Timeframes {
		candles, err := o.gateway.GetKlines(ctx, symbol, tf, o.cfg.Strategy.CandleLimit)
		if err != nil {
			if errors.Is(err, exchange.ErrCircuitOpen) {
				return nil, err
			}
			logger.Warn("Ошибка получения свечей",
				zap.String("symbol", symbol), zap.String("interval", tf), zap.Error(err))
			continue
		}

		if o.store != nil {
			if err := o.store.SaveCandles(ctx, candles); err != nil {
				logger.Warn("Ошибка сохранения свечей", zap.Error(err))
			}
		}

		set, err := o.analyzer.Compute(symbol, tf, candles)
		if err != nil {
			// Недостаток данных не ошибка цикла: таймфрейм просто
			// не участвует в оценке
			logger.Debug("Таймфрейм не оценен",
				zap.String("symbol", symbol), zap.String("interval", tf), zap.Error(err))
			continue
		}
		sets[tf] = set

		if o.cache != nil {
			if err := o.cache.SaveIndicators(ctx, set); err != nil {
				logger.Warn("Ошибка кеширования индикаторов", zap.Error(err))
			}
		}
	}

	if len(sets) == 0 {
		return nil, fmt.Errorf("нет оцененных таймфреймов для %s", symbol)
	}

	signal := confidence.Evaluate(o.cfg.Strategy, symbol, sets)

	if o.cache != nil {
		if err := o.cache.SaveSignal(ctx, signal); err != nil {
			logger.Warn("Ошибка кеширования сигнала", zap.Error(err))
		}
	}
	if o.store != nil {
		if err := o.store.SaveSignal(ctx, signal); err != nil {
			logger.Warn("Ошибка сохранения сигнала", zap.Error(err))
		}
	}

	return signal, nil
}

func (o *Orchestrator) onTradeClosed(ctx context.Context, trade *models.TradeRecord) {
	o.risk.RecordTrade(trade)

	if o.store != nil {
		if err := o.store.SaveTrade(ctx, trade); err != nil {
			logger.Error("Ошибка сохранения сделки", zap.Error(err))
		}
	}
	if o.cache != nil {
		if err := o.cache.SaveRiskState(ctx, o.risk.State()); err != nil {
			logger.Warn("Ошибка сохранения состояния риска", zap.Error(err))
		}
	}
	if o.notifier != nil {
		if err := o.notifier.NotifyTrade(ctx, trade); err != nil {
			logger.Warn("Ошибка уведомления о сделке", zap.Error(err))
		}
	}
}

// updateStatus публикует снимок состояния бота для внешних инструментов
func (o *Orchestrator) updateStatus(ctx context.Context, cycleStart time.Time) {
	if o.cache == nil {
		return
	}

	state := o.risk.State()
	fields := map[string]interface{}{
		"last_cycle_at":      cycleStart.Format(time.RFC3339),
		"open_positions":     o.positions.OpenCount(),
		"daily_pnl_pct":      state.DailyRealizedPnlPct,
		"drawdown_pct":       state.CurrentDrawdownPct,
		"consecutive_losses": state.ConsecutiveLosses,
		"circuit_state":      string(o.gateway.Breaker().State()),
	}
	if err := o.cache.UpdateStatus(ctx, fields); err != nil {
		logger.Warn("Ошибка обновления статуса", zap.Error(err))
	}
}

func (o *Orchestrator) notify(ctx context.Context, message string, severity notify.Severity) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Send(ctx, message, severity); err != nil {
		logger.Warn("Ошибка отправки уведомления", zap.Error(err))
	}
}

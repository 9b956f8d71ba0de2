package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skalibog/bstb/internal/config"
	"github.com/skalibog/bstb/internal/exchange"
	"github.com/skalibog/bstb/pkg/logger"
	"github.com/skalibog/bstb/pkg/models"
	"go.uber.org/zap"
)

// Причины закрытия позиции
const (
	ReasonTakeProfit   = "take_profit"
	ReasonStopLoss     = "stop_loss"
	ReasonMinProfit    = "min_profit"
	ReasonTrailingStop = "trailing_stop"
	ReasonSellSignal   = "sell_signal"
)

// Exchange операции биржи, нужные менеджеру позиций
type Exchange interface {
	GetBalance(ctx context.Context, asset string) (float64, error)
	PlaceMarketBuy(ctx context.Context, symbol string, quantity decimal.Decimal) (*models.OrderFill, error)
	PlaceMarketSell(ctx context.Context, symbol string, quantity decimal.Decimal) (*models.OrderFill, error)
}

// Snapshots хранилище снимков позиций для восстановления после рестарта
type Snapshots interface {
	SavePosition(ctx context.Context, pos *models.Position) error
	DeletePosition(ctx context.Context, symbol string) error
	LoadPositions(ctx context.Context) ([]*models.Position, error)
}

// Manager владеет жизненным циклом позиций. Инвариант: не более одной
// незакрытой позиции на символ. Все мутации происходят из одного
// торгового цикла, мьютекс защищает снимки для внешних читателей.
type Manager struct {
	cfg       config.TradingConfig
	exchange  Exchange
	snapshots Snapshots

	mu        sync.RWMutex
	positions map[string]*models.Position

	now func() time.Time
}

// NewManager создает менеджер позиций
func NewManager(cfg config.TradingConfig, ex Exchange, snapshots Snapshots) *Manager {
	return &Manager{
		cfg:       cfg,
		exchange:  ex,
		snapshots: snapshots,
		positions: make(map[string]*models.Position),
		now:       time.Now,
	}
}

// Restore загружает незакрытые позиции из хранилища снимков. Позиции
// в статусе opening не восстанавливаются: снимок пишется только после
// подтвержденного входа, поэтому такой статус означает незавершенный
// вход без ордера. pending_close восстанавливается и повторит закрытие
// на ближайшем цикле.
func (m *Manager) Restore(ctx context.Context) error {
	if m.snapshots == nil {
		return nil
	}
	positions, err := m.snapshots.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("ошибка загрузки снимков позиций: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pos := range positions {
		if pos.Status != models.StatusOpen && pos.Status != models.StatusPendingClose {
			continue
		}
		m.positions[pos.Symbol] = pos
		logger.Info("Восстановлена позиция",
			zap.String("symbol", pos.Symbol),
			zap.String("status", string(pos.Status)),
			zap.Float64("entry_price", pos.EntryPrice))
	}
	return nil
}

// OpenCount количество незакрытых позиций
func (m *Manager) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// Get возвращает копию незакрытой позиции по символу
func (m *Manager) Get(symbol string) (*models.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return nil, false
	}
	cp := *pos
	return &cp, true
}

// List возвращает снимок всех незакрытых позиций
func (m *Manager) List() []*models.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		cp := *pos
		out = append(out, &cp)
	}
	return out
}

// TryOpen открывает позицию по сигналу покупки. sizeFactor — множитель
// размера от контроллера риска (1.0 в нормальном режиме). Возвращает
// nil без ошибки, если вход пропущен по внутренним правилам.
func (m *Manager) TryOpen(ctx context.Context, signal *models.Signal, sizeFactor float64) (*models.Position, error) {
	m.mu.RLock()
	_, exists := m.positions[signal.Symbol]
	open := len(m.positions)
	m.mu.RUnlock()

	if exists {
		return nil, nil
	}
	if open >= m.cfg.MaxOpenTrades {
		logger.Debug("Достигнут лимит открытых позиций",
			zap.Int("open", open), zap.Int("max", m.cfg.MaxOpenTrades))
		return nil, nil
	}

	pair, ok := m.cfg.Pair(signal.Symbol)
	if !ok {
		return nil, fmt.Errorf("символ %s не сконфигурирован", signal.Symbol)
	}

	balance, err := m.exchange.GetBalance(ctx, m.cfg.QuoteAsset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения баланса: %w", err)
	}

	quantity, skip := m.positionSize(balance, signal.CurrentPrice, pair, sizeFactor)
	if skip != "" {
		logger.Info("Вход пропущен", zap.String("symbol", signal.Symbol), zap.String("reason", skip))
		return nil, nil
	}

	// Заглушка в статусе opening резервирует символ до подтверждения
	// входа, чтобы параллельная оценка не выдала второй ордер
	pos := &models.Position{
		Symbol:     signal.Symbol,
		Status:     models.StatusOpening,
		Confidence: signal.Confidence,
	}
	m.mu.Lock()
	m.positions[pos.Symbol] = pos
	m.mu.Unlock()

	fill, err := m.exchange.PlaceMarketBuy(ctx, signal.Symbol, quantity)
	if err != nil {
		m.mu.Lock()
		delete(m.positions, pos.Symbol)
		m.mu.Unlock()
		if exchange.IsInsufficientBalance(err) {
			logger.Info("Вход пропущен", zap.String("symbol", signal.Symbol),
				zap.String("reason", "недостаточно средств в момент покупки"))
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка размещения ордера на покупку: %w", err)
	}

	m.mu.Lock()
	pos.Status = models.StatusOpen
	pos.EntryPrice = fill.AveragePrice
	pos.Quantity = fill.FilledQty
	pos.EntryTime = m.now()
	pos.BuyOrderID = fill.OrderID
	if !m.cfg.DisableStopLoss {
		pos.StopLossPrice = fill.AveragePrice * (1 - m.cfg.StopLossPct)
		pos.TakeProfitPrice = fill.AveragePrice * (1 + m.cfg.TakeProfitPct)
	}
	m.mu.Unlock()
	m.persist(ctx, pos)

	logger.Info("Открыта позиция",
		zap.String("symbol", pos.Symbol),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Float64("quantity", pos.Quantity),
		zap.Float64("confidence", pos.Confidence))

	return pos, nil
}

// positionSize рассчитывает количество базового актива. Пустая строка
// в skip означает, что входить можно.
func (m *Manager) positionSize(balance, price float64, pair config.PairConfig, sizeFactor float64) (decimal.Decimal, string) {
	quote := decimal.NewFromFloat(balance).
		Mul(decimal.NewFromFloat(m.cfg.PositionSizePct)).
		Mul(decimal.NewFromFloat(sizeFactor))

	minAlloc := decimal.NewFromFloat(m.cfg.MinAllocation)
	maxAlloc := decimal.NewFromFloat(m.cfg.MaxAllocation)
	if quote.LessThan(minAlloc) {
		quote = minAlloc
	}
	if quote.GreaterThan(maxAlloc) {
		quote = maxAlloc
	}
	if quote.GreaterThan(decimal.NewFromFloat(balance)) {
		return decimal.Zero, "недостаточно баланса"
	}

	quantity := quote.Div(decimal.NewFromFloat(price)).
		RoundDown(pair.QuantityPrecision)
	if quantity.LessThan(decimal.NewFromFloat(pair.MinQuantity)) {
		return decimal.Zero, "размер ниже минимального лота"
	}

	return quantity, ""
}

// EvaluateExit оценивает условия выхода по символу и при необходимости
// закрывает позицию. Возвращает запись сделки при подтвержденном
// закрытии. Позиция в pending_close повторяет закрытие, а не принимает
// новое решение.
func (m *Manager) EvaluateExit(ctx context.Context, symbol string, signal *models.Signal, price float64) (*models.TradeRecord, error) {
	m.mu.RLock()
	pos, ok := m.positions[symbol]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	if pos.Status == models.StatusPendingClose {
		return m.close(ctx, pos)
	}
	if pos.Status != models.StatusOpen {
		return nil, nil
	}

	m.updateTrailing(ctx, pos, price)

	reason := m.closeReason(pos, signal, price)
	if reason == "" {
		return nil, nil
	}

	// pending_close выставляется до подтверждения, чтобы параллельная
	// оценка не выдала дубликат ордера или новый вход по символу
	m.mu.Lock()
	pos.Status = models.StatusPendingClose
	pos.CloseReason = reason
	m.mu.Unlock()
	m.persist(ctx, pos)

	return m.close(ctx, pos)
}

// updateTrailing взводит трейлинг-стоп при достижении активационной
// прибыли и поддерживает максимум цены. Максимум не убывает до
// закрытия позиции.
func (m *Manager) updateTrailing(ctx context.Context, pos *models.Position, price float64) {
	if m.cfg.TrailingStopPct <= 0 {
		return
	}

	m.mu.Lock()
	changed := false
	if !pos.TrailingArmed {
		activation := pos.EntryPrice * (1 + m.cfg.TrailingStopActivationPct)
		if price >= activation {
			pos.TrailingArmed = true
			pos.TrailingHighWater = price
			changed = true
			logger.Info("Взведен трейлинг-стоп",
				zap.String("symbol", pos.Symbol),
				zap.Float64("high_water", price))
		}
	} else if price > pos.TrailingHighWater {
		pos.TrailingHighWater = price
		changed = true
	}
	m.mu.Unlock()

	if changed {
		m.persist(ctx, pos)
	}
}

// closeReason возвращает причину закрытия в порядке приоритета:
// тейк-профит (или минимальная прибыль при отключенном стоп-лоссе),
// стоп-лосс, трейлинг-стоп, полный сигнал продажи. Минимальное время
// удержания не распространяется на стоп-лосс.
func (m *Manager) closeReason(pos *models.Position, signal *models.Signal, price float64) string {
	held := m.cfg.HoldTimeMinutes <= 0 ||
		m.now().Sub(pos.EntryTime) >= time.Duration(m.cfg.HoldTimeMinutes)*time.Minute

	if !m.cfg.DisableStopLoss {
		if price >= pos.TakeProfitPrice && held {
			return ReasonTakeProfit
		}
		if price <= pos.StopLossPrice {
			return ReasonStopLoss
		}
	} else if m.cfg.MinProfitPct > 0 && held {
		// Без стоп-лосса позиция закрывается автономно, как только
		// достигнута минимальная прибыль
		profit := (price - pos.EntryPrice) / pos.EntryPrice
		if profit >= m.cfg.MinProfitPct {
			return ReasonMinProfit
		}
	}

	if pos.TrailingArmed {
		trigger := pos.TrailingHighWater * (1 - m.cfg.TrailingStopPct)
		if price <= trigger {
			return ReasonTrailingStop
		}
	}

	if signal != nil && signal.Side == models.SideSell && held {
		if m.cfg.DisableStopLoss {
			// Без стоп-лосса выходим по сигналу только в плюс
			profit := (price - pos.EntryPrice) / pos.EntryPrice
			if profit < m.cfg.MinProfitPct {
				return ""
			}
		}
		return ReasonSellSignal
	}

	return ""
}

// close размещает ордер на продажу и завершает позицию. При ошибке
// позиция остается в pending_close и повторит попытку на следующем
// цикле — символ не может быть перезанят, пока прежняя позиция
// фактически не ликвидирована.
func (m *Manager) close(ctx context.Context, pos *models.Position) (*models.TradeRecord, error) {
	quantity := decimal.NewFromFloat(pos.Quantity)
	fill, err := m.exchange.PlaceMarketSell(ctx, pos.Symbol, quantity)
	if err != nil {
		m.mu.Lock()
		pos.CloseAttempts++
		attempts := pos.CloseAttempts
		m.mu.Unlock()
		m.persist(ctx, pos)

		logger.Error("Ошибка закрытия позиции, повтор на следующем цикле",
			zap.String("symbol", pos.Symbol),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return nil, fmt.Errorf("ошибка закрытия позиции %s: %w", pos.Symbol, err)
	}

	m.mu.Lock()
	pos.Status = models.StatusClosed
	pos.SellOrderID = fill.OrderID
	delete(m.positions, pos.Symbol)
	m.mu.Unlock()

	if m.snapshots != nil {
		if err := m.snapshots.DeletePosition(ctx, pos.Symbol); err != nil {
			logger.Warn("Не удалось удалить снимок позиции", zap.Error(err))
		}
	}

	exit := fill.AveragePrice
	trade := &models.TradeRecord{
		Symbol:      pos.Symbol,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exit,
		Quantity:    pos.Quantity,
		EntryTime:   pos.EntryTime,
		ExitTime:    m.now(),
		ProfitPct:   (exit - pos.EntryPrice) / pos.EntryPrice * 100,
		ProfitQuote: (exit - pos.EntryPrice) * pos.Quantity,
		QuoteAsset:  m.cfg.QuoteAsset,
		CloseReason: pos.CloseReason,
		BuyOrderID:  pos.BuyOrderID,
		SellOrderID: pos.SellOrderID,
	}

	logger.Info("Закрыта позиция",
		zap.String("symbol", trade.Symbol),
		zap.String("reason", trade.CloseReason),
		zap.Float64("profit_pct", trade.ProfitPct))

	return trade, nil
}

func (m *Manager) persist(ctx context.Context, pos *models.Position) {
	if m.snapshots == nil {
		return
	}
	m.mu.RLock()
	cp := *pos
	m.mu.RUnlock()
	if err := m.snapshots.SavePosition(ctx, &cp); err != nil {
		logger.Warn("Не удалось сохранить снимок позиции",
			zap.String("symbol", pos.Symbol), zap.Error(err))
	}
}

var _ Exchange = (*exchange.Gateway)(nil)

package risk

import (
	"sync"
	"time"

	"github.com/skalibog/bstb/internal/config"
	"github.com/skalibog/bstb/pkg/logger"
	"github.com/skalibog/bstb/pkg/models"
	"go.uber.org/zap"
)

// Decision вердикт контроллера риска по новым входам
type Decision struct {
	Allowed bool
	// SizeFactor множитель размера позиции: 1.0 в норме, меньше в
	// режиме восстановления после просадки
	SizeFactor float64
	Reason     string
}

// Controller отслеживает реализованный PnL и просадку. Вето действует
// только на новые входы, выходы по открытым позициям не блокируются.
type Controller struct {
	cfg config.RiskConfig

	mu             sync.RWMutex
	state          models.RiskState
	drawdownActive bool

	now func() time.Time
}

// NewController создает контроллер риска
func NewController(cfg config.RiskConfig) *Controller {
	c := &Controller{
		cfg: cfg,
		now: time.Now,
	}
	c.state.Day = c.today()
	return c
}

// RecordTrade учитывает закрытую сделку в состоянии риска
func (c *Controller) RecordTrade(trade *models.TradeRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollDay()

	c.state.DailyRealizedPnlPct += trade.ProfitPct
	if trade.ProfitPct < 0 {
		c.state.ConsecutiveLosses++
	} else {
		c.state.ConsecutiveLosses = 0
	}

	c.state.CumulativePnlPct += trade.ProfitPct
	if c.state.CumulativePnlPct > c.state.PeakPnlPct {
		c.state.PeakPnlPct = c.state.CumulativePnlPct
	}
	c.state.CurrentDrawdownPct = c.state.PeakPnlPct - c.state.CumulativePnlPct

	// Гистерезис: режим просадки включается на лимите и выключается
	// только ниже порога восстановления
	if c.state.CurrentDrawdownPct >= c.cfg.DrawdownLimitPct {
		if !c.drawdownActive {
			logger.Warn("Превышен лимит просадки, новые входы заблокированы",
				zap.Float64("drawdown_pct", c.state.CurrentDrawdownPct),
				zap.Float64("limit_pct", c.cfg.DrawdownLimitPct))
		}
		c.drawdownActive = true
	} else if c.drawdownActive && c.state.CurrentDrawdownPct < c.cfg.DrawdownRecoveryPct {
		c.drawdownActive = false
		logger.Info("Просадка восстановилась",
			zap.Float64("drawdown_pct", c.state.CurrentDrawdownPct))
	}
}

// CheckEntry решает, разрешен ли новый вход
func (c *Controller) CheckEntry() Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollDay()

	if c.state.DailyRealizedPnlPct <= -c.cfg.DailyLossLimitPct {
		return Decision{
			Allowed: false,
			Reason:  "превышен дневной лимит убытка",
		}
	}

	if c.state.CurrentDrawdownPct >= c.cfg.DrawdownLimitPct {
		return Decision{
			Allowed: false,
			Reason:  "превышен лимит просадки",
		}
	}

	factor := 1.0
	if c.drawdownActive {
		// Просадка ниже лимита, но еще не восстановилась: торгуем
		// уменьшенным размером
		factor = c.cfg.DrawdownSizeFactor
	}

	return Decision{Allowed: true, SizeFactor: factor}
}

// State возвращает снимок состояния риска
func (c *Controller) State() models.RiskState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Restore подхватывает состояние риска после рестарта
func (c *Controller) Restore(state models.RiskState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !sameDay(state.Day, c.today()) {
		state.DailyRealizedPnlPct = 0
		state.Day = c.today()
	}
	c.state = state
	c.drawdownActive = state.CurrentDrawdownPct >= c.cfg.DrawdownRecoveryPct
}

// rollDay сбрасывает дневную часть состояния при смене календарного дня
func (c *Controller) rollDay() {
	today := c.today()
	if sameDay(c.state.Day, today) {
		return
	}
	c.state.DailyRealizedPnlPct = 0
	c.state.Day = today
}

func (c *Controller) today() time.Time {
	return c.now().UTC().Truncate(24 * time.Hour)
}

func sameDay(a, b time.Time) bool {
	return a.UTC().Truncate(24 * time.Hour).Equal(b.UTC().Truncate(24 * time.Hour))
}

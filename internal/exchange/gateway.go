package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"github.com/skalibog/bstb/internal/config"
	"github.com/skalibog/bstb/internal/notify"
	"github.com/skalibog/bstb/pkg/logger"
	"github.com/skalibog/bstb/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Gateway оборачивает каждый вызов к бирже ограничением частоты,
// повторами с экспоненциальной задержкой и circuit breaker.
// Торговый цикл никогда не видит транзиентных сетевых ошибок —
// только исчерпание попыток, отказ биржи или ErrCircuitOpen.
type Gateway struct {
	client   Client
	cfg      config.ResilienceConfig
	breaker  *CircuitBreaker
	requests *rate.Limiter
	orders   *rate.Limiter
	notifier notify.Notifier
}

// NewGateway создает шлюз отказоустойчивости вокруг клиента биржи
func NewGateway(client Client, cfg config.ResilienceConfig, notifier notify.Notifier) *Gateway {
	g := &Gateway{
		client:   client,
		cfg:      cfg,
		notifier: notifier,
	}

	// Работаем с запасом от номинальных лимитов биржи
	rps := float64(cfg.RequestsPerMinute) * cfg.SafetyBuffer / 60.0
	ops := float64(cfg.OrdersPerSecond) * cfg.SafetyBuffer
	g.requests = rate.NewLimiter(rate.Limit(rps), 5)
	g.orders = rate.NewLimiter(rate.Limit(ops), 1)

	g.breaker = NewCircuitBreaker(
		cfg.ErrorThreshold,
		time.Duration(cfg.ErrorWindowSeconds)*time.Second,
		time.Duration(cfg.CircuitTimeoutSeconds)*time.Second,
		g.onBreakerTransition,
	)

	return g
}

// Breaker возвращает circuit breaker шлюза (снимок состояния)
func (g *Gateway) Breaker() *CircuitBreaker {
	return g.breaker
}

// GetKlines получает исторические свечи
func (g *Gateway) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	var candles []*models.Candle
	err := g.call(ctx, g.requests, func(ctx context.Context) error {
		var err error
		candles, err = g.client.GetKlines(ctx, symbol, interval, limit)
		return err
	})
	return candles, err
}

// GetBalance получает доступный баланс по активу
func (g *Gateway) GetBalance(ctx context.Context, asset string) (float64, error) {
	var balance float64
	err := g.call(ctx, g.requests, func(ctx context.Context) error {
		var err error
		balance, err = g.client.GetBalance(ctx, asset)
		return err
	})
	return balance, err
}

// GetPrice получает текущую цену символа
func (g *Gateway) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := g.call(ctx, g.requests, func(ctx context.Context) error {
		var err error
		price, err = g.client.GetPrice(ctx, symbol)
		return err
	})
	return price, err
}

// PlaceMarketBuy размещает рыночный ордер на покупку. Клиентский
// идентификатор генерируется один раз на логический ордер и
// переживает повторы, чтобы биржа отбрасывала дубликаты.
func (g *Gateway) PlaceMarketBuy(ctx context.Context, symbol string, quantity decimal.Decimal) (*models.OrderFill, error) {
	clientOrderID := uuid.NewString()
	var fill *models.OrderFill
	err := g.call(ctx, g.orders, func(ctx context.Context) error {
		var err error
		fill, err = g.client.PlaceMarketBuy(ctx, symbol, quantity, clientOrderID)
		return err
	})
	return fill, err
}

// PlaceMarketSell размещает рыночный ордер на продажу
func (g *Gateway) PlaceMarketSell(ctx context.Context, symbol string, quantity decimal.Decimal) (*models.OrderFill, error) {
	clientOrderID := uuid.NewString()
	var fill *models.OrderFill
	err := g.call(ctx, g.orders, func(ctx context.Context) error {
		var err error
		fill, err = g.client.PlaceMarketSell(ctx, symbol, quantity, clientOrderID)
		return err
	})
	return fill, err
}

// CancelOrder отменяет ордер
func (g *Gateway) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	return g.call(ctx, g.orders, func(ctx context.Context) error {
		return g.client.CancelOrder(ctx, symbol, clientOrderID)
	})
}

// call выполняет вызов с ограничением частоты, повторами и circuit
// breaker. Ордерные вызовы дополнительно проходят через лимитер
// ордеров.
func (g *Gateway) call(ctx context.Context, limiter *rate.Limiter, fn func(ctx context.Context) error) error {
	b := &backoff.Backoff{
		Min:    time.Duration(g.cfg.RetryDelaySeconds * float64(time.Second)),
		Max:    time.Duration(g.cfg.MaxRetryDelaySeconds * float64(time.Second)),
		Factor: 2,
	}
	callTimeout := time.Duration(g.cfg.CallTimeoutSeconds) * time.Second

	var lastErr error
	for attempt := 0; attempt <= g.cfg.RetryCount; attempt++ {
		if err := g.breaker.Allow(); err != nil {
			return err
		}

		// Ожидание токена ограничено, чтобы не блокировать цикл
		// по остальным символам
		err := g.attempt(ctx, limiter, callTimeout, fn)
		if err == nil {
			g.breaker.RecordSuccess()
			return nil
		}

		if !IsRetryable(err) {
			// Отказ биржи не считаем деградацией инфраструктуры:
			// breaker реагирует только на транзиентные сбои. Биржа
			// ответила, значит пробный вызов в half_open успешен.
			var apiErr *common.APIError
			if errors.As(err, &apiErr) {
				g.breaker.RecordSuccess()
			} else {
				g.breaker.CancelTrial()
			}
			return err
		}

		g.breaker.RecordFailure()
		lastErr = err

		if attempt == g.cfg.RetryCount {
			break
		}

		delay := b.Duration()
		logger.Warn("Вызов к бирже не удался, повтор",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("исчерпаны попытки вызова (%d): %w", g.cfg.RetryCount+1, lastErr)
}

func (g *Gateway) attempt(ctx context.Context, limiter *rate.Limiter, timeout time.Duration, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if limiter == g.orders {
		// Ордера учитываются и в общем лимите запросов
		if err := g.requests.Wait(callCtx); err != nil {
			return fmt.Errorf("ожидание лимита запросов: %w", err)
		}
	}
	if err := limiter.Wait(callCtx); err != nil {
		return fmt.Errorf("ожидание лимита частоты: %w", err)
	}

	return fn(callCtx)
}

func (g *Gateway) onBreakerTransition(from, to CircuitState) {
	logger.Warn("Переход circuit breaker",
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	if g.notifier == nil {
		return
	}
	severity := notify.SeverityWarning
	if to == CircuitOpen {
		severity = notify.SeverityError
	}
	g.notifier.Send(context.Background(),
		fmt.Sprintf("Circuit breaker: %s -> %s", from, to), severity)
}

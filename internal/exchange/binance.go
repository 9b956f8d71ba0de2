package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"github.com/skalibog/bstb/internal/config"
	"github.com/skalibog/bstb/pkg/models"
)

// Client интерфейс биржи, который видят остальные компоненты.
// Все вызовы проходят через Gateway.
type Client interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error)
	GetBalance(ctx context.Context, asset string) (float64, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
	PlaceMarketBuy(ctx context.Context, symbol string, quantity decimal.Decimal, clientOrderID string) (*models.OrderFill, error)
	PlaceMarketSell(ctx context.Context, symbol string, quantity decimal.Decimal, clientOrderID string) (*models.OrderFill, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error
}

// BinanceClient спот-клиент для взаимодействия с Binance
type BinanceClient struct {
	spot *binance.Client
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.BinanceConfig) (*BinanceClient, error) {
	spotClient := binance.NewClient(cfg.APIKey, cfg.APISecret)

	if cfg.Testnet {
		spotClient.BaseURL = "https://testnet.binance.vision"
	}

	return &BinanceClient{
		spot: spotClient,
	}, nil
}

// GetKlines получает исторические свечи
func (c *BinanceClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	klines, err := c.spot.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей: %w", err)
	}

	candles := make([]*models.Candle, len(klines))
	for i, k := range klines {
		candle := &models.Candle{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  time.Unix(k.OpenTime/1000, 0),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
			CloseTime: time.Unix(k.CloseTime/1000, 0),
		}
		candles[i] = candle
	}

	return candles, nil
}

// GetBalance получает доступный баланс по активу
func (c *BinanceClient) GetBalance(ctx context.Context, asset string) (float64, error) {
	account, err := c.spot.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения баланса: %w", err)
	}

	for _, b := range account.Balances {
		if b.Asset == asset {
			free, err := decimal.NewFromString(b.Free)
			if err != nil {
				return 0, fmt.Errorf("ошибка разбора баланса %s: %w", asset, err)
			}
			f, _ := free.Float64()
			return f, nil
		}
	}

	return 0, nil
}

// GetPrice получает текущую цену символа
func (c *BinanceClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := c.spot.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения цены: %w", err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("цена для %s не найдена", symbol)
	}

	return parseFloat(prices[0].Price), nil
}

// PlaceMarketBuy размещает рыночный ордер на покупку
func (c *BinanceClient) PlaceMarketBuy(ctx context.Context, symbol string, quantity decimal.Decimal, clientOrderID string) (*models.OrderFill, error) {
	return c.placeMarketOrder(ctx, symbol, binance.SideTypeBuy, quantity, clientOrderID)
}

// PlaceMarketSell размещает рыночный ордер на продажу
func (c *BinanceClient) PlaceMarketSell(ctx context.Context, symbol string, quantity decimal.Decimal, clientOrderID string) (*models.OrderFill, error) {
	return c.placeMarketOrder(ctx, symbol, binance.SideTypeSell, quantity, clientOrderID)
}

func (c *BinanceClient) placeMarketOrder(ctx context.Context, symbol string, side binance.SideType, quantity decimal.Decimal, clientOrderID string) (*models.OrderFill, error) {
	res, err := c.spot.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(quantity.String()).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка размещения ордера %s %s: %w", side, symbol, err)
	}

	executed, err := decimal.NewFromString(res.ExecutedQuantity)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора исполненного количества: %w", err)
	}
	quote, err := decimal.NewFromString(res.CummulativeQuoteQuantity)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора котируемого объема: %w", err)
	}
	if executed.IsZero() {
		return nil, fmt.Errorf("ордер %s по %s не исполнен", res.ClientOrderID, symbol)
	}

	avgPrice, _ := quote.Div(executed).Float64()
	filledQty, _ := executed.Float64()

	return &models.OrderFill{
		OrderID:      strconv.FormatInt(res.OrderID, 10),
		AveragePrice: avgPrice,
		FilledQty:    filledQty,
	}, nil
}

// CancelOrder отменяет ордер по клиентскому идентификатору
func (c *BinanceClient) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	_, err := c.spot.NewCancelOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("ошибка отмены ордера %s: %w", clientOrderID, err)
	}
	return nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/skalibog/bstb/internal/config"
	"github.com/skalibog/bstb/pkg/models"
)

// InfluxDBStorage реализует интерфейс Storage с использованием InfluxDB
type InfluxDBStorage struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPI
	org      string
	bucket   string
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(cfg config.StorageConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(context.Background())
	if err != nil {
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	queryAPI := client.QueryAPI(cfg.Organization)
	writeAPI := client.WriteAPI(cfg.Organization, cfg.Bucket)

	return &InfluxDBStorage{
		client:   client,
		queryAPI: queryAPI,
		writeAPI: writeAPI,
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}, nil
}

// Close закрывает соединение с базой данных
func (s *InfluxDBStorage) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}

// SaveCandles сохраняет окно свечей
func (s *InfluxDBStorage) SaveCandles(ctx context.Context, candles []*models.Candle) error {
	for _, candle := range candles {
		point := influxdb2.NewPoint(
			"candles",
			map[string]string{
				"symbol":   candle.Symbol,
				"interval": candle.Interval,
			},
			map[string]interface{}{
				"open":   candle.Open,
				"high":   candle.High,
				"low":    candle.Low,
				"close":  candle.Close,
				"volume": candle.Volume,
			},
			candle.OpenTime,
		)
		s.writeAPI.WritePoint(point)
	}

	s.writeAPI.Flush()
	return nil
}

// GetCandles получает исторические свечи, упорядоченные по возрастанию времени
func (s *InfluxDBStorage) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -30d)
			|> filter(fn: (r) => r._measurement == "candles")
			|> filter(fn: (r) => r.symbol == "%s")
			|> filter(fn: (r) => r.interval == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
			|> sort(columns: ["_time"])
	`, s.bucket, symbol, interval, limit)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса свечей: %w", err)
	}

	var candles []*models.Candle
	for result.Next() {
		record := result.Record()

		timestamp := record.Time()
		open, _ := record.ValueByKey("open").(float64)
		high, _ := record.ValueByKey("high").(float64)
		low, _ := record.ValueByKey("low").(float64)
		close, _ := record.ValueByKey("close").(float64)
		volume, _ := record.ValueByKey("volume").(float64)

		candle := &models.Candle{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  timestamp,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    volume,
			CloseTime: timestamp.Add(getIntervalDuration(interval)),
		}

		candles = append(candles, candle)
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	return candles, nil
}

// SaveSignal сохраняет сигнал цикла
func (s *InfluxDBStorage) SaveSignal(ctx context.Context, signal *models.Signal) error {
	point := influxdb2.NewPoint(
		"signals",
		map[string]string{
			"symbol": signal.Symbol,
			"side":   string(signal.Side),
		},
		map[string]interface{}{
			"confidence":      signal.Confidence,
			"buy_confidence":  signal.BuyConfidence,
			"sell_confidence": signal.SellConfidence,
			"price":           signal.CurrentPrice,
		},
		signal.GeneratedAt,
	)

	s.writeAPI.WritePoint(point)
	s.writeAPI.Flush()

	return nil
}

// SaveTrade сохраняет завершенную сделку, история только дополняется
func (s *InfluxDBStorage) SaveTrade(ctx context.Context, trade *models.TradeRecord) error {
	point := influxdb2.NewPoint(
		"trades",
		map[string]string{
			"symbol":       trade.Symbol,
			"close_reason": trade.CloseReason,
		},
		map[string]interface{}{
			"entry_price":   trade.EntryPrice,
			"exit_price":    trade.ExitPrice,
			"quantity":      trade.Quantity,
			"profit_pct":    trade.ProfitPct,
			"profit_quote":  trade.ProfitQuote,
			"entry_time":    trade.EntryTime.Format(time.RFC3339),
			"buy_order_id":  trade.BuyOrderID,
			"sell_order_id": trade.SellOrderID,
		},
		trade.ExitTime,
	)

	s.writeAPI.WritePoint(point)
	s.writeAPI.Flush()

	return nil
}

// GetTrades получает историю сделок по символу
func (s *InfluxDBStorage) GetTrades(ctx context.Context, symbol string, limit int) ([]*models.TradeRecord, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -90d)
			|> filter(fn: (r) => r._measurement == "trades")
			|> filter(fn: (r) => r.symbol == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, s.bucket, symbol, limit)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса истории сделок: %w", err)
	}

	var trades []*models.TradeRecord
	for result.Next() {
		record := result.Record()

		entryPrice, _ := record.ValueByKey("entry_price").(float64)
		exitPrice, _ := record.ValueByKey("exit_price").(float64)
		quantity, _ := record.ValueByKey("quantity").(float64)
		profitPct, _ := record.ValueByKey("profit_pct").(float64)
		profitQuote, _ := record.ValueByKey("profit_quote").(float64)
		entryTimeStr, _ := record.ValueByKey("entry_time").(string)
		entryTime, _ := time.Parse(time.RFC3339, entryTimeStr)
		reason, _ := record.ValueByKey("close_reason").(string)

		trade := &models.TradeRecord{
			Symbol:      symbol,
			EntryPrice:  entryPrice,
			ExitPrice:   exitPrice,
			Quantity:    quantity,
			ProfitPct:   profitPct,
			ProfitQuote: profitQuote,
			EntryTime:   entryTime,
			ExitTime:    record.Time(),
			CloseReason: reason,
		}

		trades = append(trades, trade)
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	return trades, nil
}

// getIntervalDuration конвертирует строковый интервал в duration
func getIntervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "6h":
		return 6 * time.Hour
	case "8h":
		return 8 * time.Hour
	case "12h":
		return 12 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// Storage интерфейс для работы с хранилищем данных
type Storage interface {
	SaveCandles(ctx context.Context, candles []*models.Candle) error
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error)

	SaveSignal(ctx context.Context, signal *models.Signal) error

	SaveTrade(ctx context.Context, trade *models.TradeRecord) error
	GetTrades(ctx context.Context, symbol string, limit int) ([]*models.TradeRecord, error)

	Close()
}

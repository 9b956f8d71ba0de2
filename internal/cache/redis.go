package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/skalibog/bstb/internal/config"
	"github.com/skalibog/bstb/pkg/models"
)

// Ключи и префиксы в Redis
const (
	keyStatus    = "bot:status"
	keyRiskState = "bot:risk_state"
	prefixPos    = "bot:position:"
	prefixInd    = "bot:indicators:"
	prefixSignal = "bot:signal:"
)

// RedisCache кеш индикаторов и сигналов плюс снимки состояния бота.
// Снимки позиций и состояния риска переживают рестарт, статусный хеш
// читается внешними инструментами.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache создает кеш и проверяет соединение
func NewRedisCache(ctx context.Context, cfg config.CacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ошибка соединения с Redis: %w", err)
	}

	return &RedisCache{
		client: client,
		ttl:    time.Duration(cfg.TTLSeconds) * time.Second,
	}, nil
}

// Close закрывает соединение с Redis
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// SaveIndicators кеширует набор индикаторов с TTL
func (c *RedisCache) SaveIndicators(ctx context.Context, set *models.IndicatorSet) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("ошибка сериализации индикаторов: %w", err)
	}
	key := prefixInd + set.Symbol + ":" + set.Interval
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// GetIndicators возвращает кешированный набор индикаторов, nil при промахе
func (c *RedisCache) GetIndicators(ctx context.Context, symbol, interval string) (*models.IndicatorSet, error) {
	data, err := c.client.Get(ctx, prefixInd+symbol+":"+interval).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения индикаторов из кеша: %w", err)
	}
	var set models.IndicatorSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("ошибка десериализации индикаторов: %w", err)
	}
	return &set, nil
}

// SaveSignal кеширует последний сигнал по символу с TTL
func (c *RedisCache) SaveSignal(ctx context.Context, signal *models.Signal) error {
	data, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("ошибка сериализации сигнала: %w", err)
	}
	return c.client.Set(ctx, prefixSignal+signal.Symbol, data, c.ttl).Err()
}

// GetSignal возвращает последний сигнал по символу, nil при промахе
func (c *RedisCache) GetSignal(ctx context.Context, symbol string) (*models.Signal, error) {
	data, err := c.client.Get(ctx, prefixSignal+symbol).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения сигнала из кеша: %w", err)
	}
	var signal models.Signal
	if err := json.Unmarshal(data, &signal); err != nil {
		return nil, fmt.Errorf("ошибка десериализации сигнала: %w", err)
	}
	return &signal, nil
}

// SavePosition сохраняет снимок позиции без TTL
func (c *RedisCache) SavePosition(ctx context.Context, pos *models.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("ошибка сериализации позиции: %w", err)
	}
	return c.client.Set(ctx, prefixPos+pos.Symbol, data, 0).Err()
}

// DeletePosition удаляет снимок позиции
func (c *RedisCache) DeletePosition(ctx context.Context, symbol string) error {
	return c.client.Del(ctx, prefixPos+symbol).Err()
}

// LoadPositions загружает все снимки позиций
func (c *RedisCache) LoadPositions(ctx context.Context) ([]*models.Position, error) {
	var positions []*models.Position
	iter := c.client.Scan(ctx, 0, prefixPos+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := c.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения снимка позиции: %w", err)
		}
		var pos models.Position
		if err := json.Unmarshal(data, &pos); err != nil {
			return nil, fmt.Errorf("ошибка десериализации позиции: %w", err)
		}
		positions = append(positions, &pos)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("ошибка перебора снимков позиций: %w", err)
	}
	return positions, nil
}

// SaveRiskState сохраняет состояние риска
func (c *RedisCache) SaveRiskState(ctx context.Context, state models.RiskState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("ошибка сериализации состояния риска: %w", err)
	}
	return c.client.Set(ctx, keyRiskState, data, 0).Err()
}

// LoadRiskState загружает состояние риска, false при отсутствии
func (c *RedisCache) LoadRiskState(ctx context.Context) (models.RiskState, bool, error) {
	var state models.RiskState
	data, err := c.client.Get(ctx, keyRiskState).Bytes()
	if err == redis.Nil {
		return state, false, nil
	}
	if err != nil {
		return state, false, fmt.Errorf("ошибка чтения состояния риска: %w", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, false, fmt.Errorf("ошибка десериализации состояния риска: %w", err)
	}
	return state, true, nil
}

// UpdateStatus обновляет статусный хеш бота, читаемый внешними
// инструментами мониторинга
func (c *RedisCache) UpdateStatus(ctx context.Context, fields map[string]interface{}) error {
	if err := c.client.HSet(ctx, keyStatus, fields).Err(); err != nil {
		return fmt.Errorf("ошибка обновления статуса: %w", err)
	}
	return nil
}

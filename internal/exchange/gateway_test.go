package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"github.com/skalibog/bstb/internal/config"
	"github.com/skalibog/bstb/pkg/models"
)

func testResilienceConfig() config.ResilienceConfig {
	return config.ResilienceConfig{
		RequestsPerMinute:     6000,
		OrdersPerSecond:       100,
		SafetyBuffer:          1,
		RetryCount:            2,
		RetryDelaySeconds:     0.001,
		MaxRetryDelaySeconds:  0.01,
		ErrorThreshold:        10,
		ErrorWindowSeconds:    60,
		CircuitTimeoutSeconds: 60,
		CallTimeoutSeconds:    5,
	}
}

// fakeClient имитирует клиент биржи с заданной последовательностью ошибок
type fakeClient struct {
	failures  int
	calls     int
	err       error
	orderIDs  []string
	lastPrice float64
}

func (f *fakeClient) attempt() error {
	f.calls++
	if f.calls <= f.failures {
		if f.err != nil {
			return f.err
		}
		return errors.New("connection reset")
	}
	return nil
}

func (f *fakeClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	if err := f.attempt(); err != nil {
		return nil, err
	}
	return []*models.Candle{{Symbol: symbol, Interval: interval, Close: f.lastPrice}}, nil
}

func (f *fakeClient) GetBalance(ctx context.Context, asset string) (float64, error) {
	if err := f.attempt(); err != nil {
		return 0, err
	}
	return 1000, nil
}

func (f *fakeClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if err := f.attempt(); err != nil {
		return 0, err
	}
	return f.lastPrice, nil
}

func (f *fakeClient) PlaceMarketBuy(ctx context.Context, symbol string, quantity decimal.Decimal, clientOrderID string) (*models.OrderFill, error) {
	f.orderIDs = append(f.orderIDs, clientOrderID)
	if err := f.attempt(); err != nil {
		return nil, err
	}
	return &models.OrderFill{OrderID: "1", AveragePrice: f.lastPrice, FilledQty: 1}, nil
}

func (f *fakeClient) PlaceMarketSell(ctx context.Context, symbol string, quantity decimal.Decimal, clientOrderID string) (*models.OrderFill, error) {
	f.orderIDs = append(f.orderIDs, clientOrderID)
	if err := f.attempt(); err != nil {
		return nil, err
	}
	return &models.OrderFill{OrderID: "2", AveragePrice: f.lastPrice, FilledQty: 1}, nil
}

func (f *fakeClient) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	return f.attempt()
}

func TestGatewayRetriesTransientErrors(t *testing.T) {
	client := &fakeClient{failures: 2, lastPrice: 40000}
	g := NewGateway(client, testResilienceConfig(), nil)

	price, err := g.GetPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPrice() = %v, ожидался успех после повторов", err)
	}
	if price != 40000 {
		t.Errorf("price = %v, ожидалось 40000", price)
	}
	if client.calls != 3 {
		t.Errorf("calls = %d, ожидалось 3 (2 ошибки + успех)", client.calls)
	}
}

func TestGatewayExhaustsRetries(t *testing.T) {
	client := &fakeClient{failures: 10}
	g := NewGateway(client, testResilienceConfig(), nil)

	_, err := g.GetBalance(context.Background(), "USDT")
	if err == nil {
		t.Fatal("ожидалась ошибка после исчерпания повторов")
	}
	// retry_count=2 означает 3 попытки всего
	if client.calls != 3 {
		t.Errorf("calls = %d, ожидалось 3", client.calls)
	}
}

func TestGatewayDoesNotRetryExchangeRejection(t *testing.T) {
	rejection := &common.APIError{Code: -1121, Message: "Invalid symbol."}
	client := &fakeClient{failures: 10, err: rejection}
	g := NewGateway(client, testResilienceConfig(), nil)

	_, err := g.GetPrice(context.Background(), "NOPEUSDT")
	if err == nil {
		t.Fatal("ожидалась ошибка отказа биржи")
	}
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, ожидался APIError без оборачивания в повторы", err)
	}
	if client.calls != 1 {
		t.Errorf("calls = %d, отказ биржи не должен повторяться", client.calls)
	}
}

func TestGatewayFailsFastWhenCircuitOpen(t *testing.T) {
	client := &fakeClient{}
	g := NewGateway(client, testResilienceConfig(), nil)

	// Насильно размыкаем breaker
	for i := 0; i < testResilienceConfig().ErrorThreshold; i++ {
		g.breaker.RecordFailure()
	}

	_, err := g.GetPrice(context.Background(), "BTCUSDT")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, ожидался ErrCircuitOpen", err)
	}
	if client.calls != 0 {
		t.Errorf("calls = %d, при открытом breaker вызовы не должны доходить до биржи", client.calls)
	}
}

func TestGatewayReusesClientOrderIDAcrossRetries(t *testing.T) {
	client := &fakeClient{failures: 2, lastPrice: 40000}
	g := NewGateway(client, testResilienceConfig(), nil)

	_, err := g.PlaceMarketBuy(context.Background(), "BTCUSDT", decimal.NewFromFloat(0.01))
	if err != nil {
		t.Fatal(err)
	}

	if len(client.orderIDs) != 3 {
		t.Fatalf("попыток = %d, ожидалось 3", len(client.orderIDs))
	}
	for i := 1; i < len(client.orderIDs); i++ {
		if client.orderIDs[i] != client.orderIDs[0] {
			t.Errorf("clientOrderID попытки %d = %q, ожидался %q: повторы должны переиспользовать идентификатор",
				i, client.orderIDs[i], client.orderIDs[0])
		}
	}
}

func TestGatewayBreakerRecordsOnlyTransientFailures(t *testing.T) {
	rejection := &common.APIError{Code: -2010, Message: "Account has insufficient balance."}
	client := &fakeClient{failures: 100, err: rejection}
	cfg := testResilienceConfig()
	cfg.ErrorThreshold = 2
	g := NewGateway(client, cfg, nil)

	for i := 0; i < 5; i++ {
		g.GetPrice(context.Background(), "BTCUSDT")
	}

	if g.breaker.State() != CircuitClosed {
		t.Errorf("state = %v, отказы биржи не должны размыкать breaker", g.breaker.State())
	}
}

func TestGatewayClosesBreakerOnHalfOpenRejection(t *testing.T) {
	rejection := &common.APIError{Code: -2010, Message: "Account has insufficient balance."}
	client := &fakeClient{failures: 1, err: rejection, lastPrice: 40000}
	cfg := testResilienceConfig()
	g := NewGateway(client, cfg, nil)

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	g.breaker.now = func() time.Time { return now }

	// Размыкаем breaker и выжидаем таймаут до half_open
	for i := 0; i < cfg.ErrorThreshold; i++ {
		g.breaker.RecordFailure()
	}
	now = now.Add(time.Duration(cfg.CircuitTimeoutSeconds+1) * time.Second)

	// Пробный вызов получает отказ биржи: биржа отвечает, значит
	// инфраструктура восстановилась и breaker должен замкнуться,
	// а не остаться в half_open с занятым пробным слотом
	if _, err := g.GetPrice(context.Background(), "BTCUSDT"); err == nil {
		t.Fatal("ожидалась ошибка отказа биржи")
	}
	if g.breaker.State() != CircuitClosed {
		t.Fatalf("state = %v после ответа биржи в half_open, ожидалось closed", g.breaker.State())
	}

	price, err := g.GetPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPrice() после восстановления = %v, ожидался успех", err)
	}
	if price != 40000 {
		t.Errorf("price = %v, ожидалось 40000", price)
	}
}

func TestGatewayRespectsContextCancellation(t *testing.T) {
	client := &fakeClient{failures: 100}
	g := NewGateway(client, testResilienceConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := g.GetPrice(ctx, "BTCUSDT")
	if err == nil {
		t.Fatal("ожидалась ошибка при отмененном контексте")
	}
	if time.Since(start) > time.Second {
		t.Error("отмененный контекст должен прерывать вызов сразу")
	}
}

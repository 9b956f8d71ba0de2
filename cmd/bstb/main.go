package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/skalibog/bstb/internal/analysis/indicators"
	"github.com/skalibog/bstb/internal/cache"
	"github.com/skalibog/bstb/internal/config"
	"github.com/skalibog/bstb/internal/exchange"
	"github.com/skalibog/bstb/internal/notify"
	"github.com/skalibog/bstb/internal/orchestrator"
	"github.com/skalibog/bstb/internal/position"
	"github.com/skalibog/bstb/internal/risk"
	"github.com/skalibog/bstb/internal/storage"
	"github.com/skalibog/bstb/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	logger.Init()
	defer logger.GetLogger().Sync()

	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	// Проверяем наличие файла конфигурации
	logger.Info("Проверка наличия файла конфигурации", zap.String("path", *configPath))
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		logger.Fatal("Файл конфигурации не найден", zap.String("path", *configPath))
	}

	// Загружаем конфигурацию
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Инициализируем хранилище
	store, err := storage.NewInfluxDBStorage(cfg.Storage)
	if err != nil {
		logger.Fatal("Ошибка инициализации хранилища", zap.Error(err))
	}
	defer store.Close()

	// Инициализируем кеш
	redisCache, err := cache.NewRedisCache(ctx, cfg.Cache)
	if err != nil {
		logger.Fatal("Ошибка инициализации кеша", zap.Error(err))
	}
	defer redisCache.Close()

	// Инициализируем клиент биржи и шлюз отказоустойчивости
	client, err := exchange.NewBinanceClient(cfg.Binance)
	if err != nil {
		logger.Fatal("Ошибка инициализации клиента биржи", zap.Error(err))
	}
	notifier := notify.NewTelegramNotifier(cfg.Telegram)
	gateway := exchange.NewGateway(client, cfg.Resilience, notifier)

	// Собираем торговые компоненты
	analyzer := indicators.NewAnalyzer(cfg.Strategy)
	positions := position.NewManager(cfg.Trading, gateway, redisCache)
	riskCtl := risk.NewController(cfg.Risk)

	orch := orchestrator.New(cfg, gateway, analyzer, positions, riskCtl, store, redisCache, notifier)

	// SIGINT/SIGTERM завершают работу, SIGHUP запускает внеочередной
	// проход цикла
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				orch.TriggerNow()
				continue
			}
			logger.Info("Получен сигнал завершения", zap.String("signal", sig.String()))
			cancel()
			return
		}
	}()

	if err := orch.Run(ctx); err != nil {
		logger.Fatal("Торговый цикл завершился с ошибкой", zap.Error(err))
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/skalibog/bstb/internal/analysis/confidence"
	"github.com/skalibog/bstb/internal/analysis/indicators"
	"github.com/skalibog/bstb/internal/config"
	"github.com/skalibog/bstb/internal/exchange"
	"github.com/skalibog/bstb/pkg/models"
)

// confcheck показывает текущую уверенность сигнала по сконфигурированным
// парам без торговли. Удобно для проверки стратегии перед запуском бота.
func main() {
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	symbol := flag.String("symbol", "", "проверить только один символ")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	client, err := exchange.NewBinanceClient(cfg.Binance)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ошибка инициализации клиента биржи: %v\n", err)
		os.Exit(1)
	}

	analyzer := indicators.NewAnalyzer(cfg.Strategy)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	for _, pair := range cfg.Trading.Pairs {
		if *symbol != "" && pair.Symbol != *symbol {
			continue
		}

		sets := make(map[string]*models.IndicatorSet, len(cfg.Strategy.Timeframes))
		for _, tf := range cfg.Strategy.Timeframes {
			candles, err := client.GetKlines(ctx, pair.Symbol, tf, cfg.Strategy.CandleLimit)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %s: ошибка получения свечей: %v\n", pair.Symbol, tf, err)
				continue
			}
			set, err := analyzer.Compute(pair.Symbol, tf, candles)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", pair.Symbol, tf, err)
				continue
			}
			sets[tf] = set
		}
		if len(sets) == 0 {
			continue
		}

		signal := confidence.Evaluate(cfg.Strategy, pair.Symbol, sets)
		fmt.Printf("%s: side=%s confidence=%.3f buy=%.3f sell=%.3f price=%.4f\n",
			signal.Symbol, signal.Side, signal.Confidence,
			signal.BuyConfidence, signal.SellConfidence, signal.CurrentPrice)

		for _, tf := range cfg.Strategy.Timeframes {
			cond, ok := signal.Conditions[tf]
			if !ok {
				continue
			}
			fmt.Printf("  %-4s buy_score=%.2f sell_score=%.2f oversold=%t above_ema=%t crossover=%t below_bb=%t\n",
				tf, cond.BuyScore, cond.SellScore,
				cond.IsOversold, cond.PriceAboveEMA, cond.StochCrossover, cond.PriceBelowBBLower)
		}
	}
}

package confidence

import (
	"time"

	"github.com/skalibog/bstb/internal/config"
	"github.com/skalibog/bstb/pkg/models"
)

// buyConditions ровно четыре условия на покупку по таймфрейму
const buyConditions = 4

// Evaluate превращает наборы индикаторов по таймфреймам в сигнал.
// Чистая функция без I/O: используется торговым циклом, утилитой
// confcheck и тестами.
func Evaluate(cfg config.StrategyConfig, symbol string, sets map[string]*models.IndicatorSet) *models.Signal {
	signal := &models.Signal{
		Symbol:      symbol,
		Side:        models.SideHold,
		Conditions:  make(map[string]*models.ConditionResult, len(sets)),
		GeneratedAt: time.Now(),
	}

	anyFullSell := false
	for _, tf := range cfg.Timeframes {
		set, ok := sets[tf]
		if !ok || set == nil {
			// Таймфрейм не оценен в этом цикле, вклад равен нулю
			continue
		}

		cond := evaluateTimeframe(cfg, set)
		signal.Conditions[tf] = cond

		weight := cfg.TimeframeWeights[tf]
		signal.BuyConfidence += cond.BuyScore * weight
		signal.SellConfidence += cond.SellScore * weight
		if cond.SellScore > 0 {
			anyFullSell = true
		}
		signal.CurrentPrice = set.Close
	}

	// Продажа побеждает: при одновременных условиях на обе стороны
	// вход не открывается, входим только на чистом сигнале покупки
	switch {
	case anyFullSell:
		signal.Side = models.SideSell
		signal.Confidence = signal.SellConfidence
	case signal.BuyConfidence >= cfg.MinConfidence:
		signal.Side = models.SideBuy
		signal.Confidence = signal.BuyConfidence
	default:
		signal.Confidence = signal.BuyConfidence
	}

	return signal
}

// evaluateTimeframe считает булевые условия и счета по одному таймфрейму
func evaluateTimeframe(cfg config.StrategyConfig, set *models.IndicatorSet) *models.ConditionResult {
	cond := &models.ConditionResult{
		IsOversold:        set.StochK < cfg.StochOversold,
		IsOverbought:      set.StochK > cfg.StochOverbought,
		PriceAboveEMA:     set.Close > set.EMA,
		PriceBelowEMA:     set.Close < set.EMA,
		StochCrossover:    set.PrevStochK <= set.PrevStochD && set.StochK > set.StochD,
		StochCrossunder:   set.PrevStochK >= set.PrevStochD && set.StochK < set.StochD,
		PriceBelowBBLower: set.Close < set.BBLower,
		PriceAboveBBUpper: set.Close > set.BBUpper,
	}

	k := 0
	for _, met := range []bool{cond.IsOversold, cond.PriceAboveEMA, cond.StochCrossover, cond.PriceBelowBBLower} {
		if met {
			k++
		}
	}
	cond.BuyScore = float64(k) / buyConditions

	// Продажа срабатывает только при всех четырех условиях, сила
	// пропорциональна глубине перекупленности
	if cond.IsOverbought && cond.PriceBelowEMA && cond.StochCrossunder && cond.PriceAboveBBUpper {
		strength := (set.StochK - cfg.StochOverbought) / (100 - cfg.StochOverbought)
		if strength > 1 {
			strength = 1
		}
		cond.SellScore = strength
	}

	return cond
}

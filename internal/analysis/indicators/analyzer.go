package indicators

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/skalibog/bstb/internal/config"
	"github.com/skalibog/bstb/pkg/models"
)

// ErrNotEnoughData возвращается, когда окно свечей короче минимума
// либо последние значения индикаторов содержат NaN. Символ/таймфрейм
// в этом цикле не оценивается — торговых решений по нему нет.
var ErrNotEnoughData = errors.New("недостаточно данных для расчета индикаторов")

// Analyzer рассчитывает Bollinger Bands, EMA и StochRSI по окну свечей
type Analyzer struct {
	config config.StrategyConfig
}

// NewAnalyzer создает новый анализатор индикаторов
func NewAnalyzer(cfg config.StrategyConfig) *Analyzer {
	return &Analyzer{
		config: cfg,
	}
}

// MinCandles минимальная длина окна: самый длинный период плюс запас
// на сглаживание и прогрев StochRSI
func (a *Analyzer) MinCandles() int {
	min := a.config.BollLength
	if a.config.EMALength > min {
		min = a.config.EMALength
	}
	// StochRSI требует двойное окно RSI плюс сглаживание K и D
	stoch := 2*a.config.StochLength + a.config.StochSmoothK + a.config.StochSmoothD
	if stoch > min {
		min = stoch
	}
	return min + 1
}

// Compute рассчитывает набор индикаторов по окну свечей. Свечи должны
// быть упорядочены по времени по возрастанию.
func (a *Analyzer) Compute(symbol, interval string, candles []*models.Candle) (*models.IndicatorSet, error) {
	if len(candles) < a.MinCandles() {
		return nil, fmt.Errorf("%w: %d свечей при минимуме %d", ErrNotEnoughData, len(candles), a.MinCandles())
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	upper, middle, lower := talib.BBands(
		closes,
		a.config.BollLength,
		a.config.BollStd,
		a.config.BollStd,
		talib.SMA,
	)
	ema := talib.Ema(closes, a.config.EMALength)
	k, d := talib.StochRsi(
		closes,
		a.config.StochLength,
		a.config.StochSmoothK,
		a.config.StochSmoothD,
		talib.SMA,
	)

	last := len(closes) - 1
	set := &models.IndicatorSet{
		Symbol:     symbol,
		Interval:   interval,
		BBUpper:    upper[last],
		BBMiddle:   middle[last],
		BBLower:    lower[last],
		EMA:        ema[last],
		StochK:     k[last],
		StochD:     d[last],
		PrevStochK: k[last-1],
		PrevStochD: d[last-1],
		Close:      closes[last],
		Timestamp:  candles[last].OpenTime,
	}

	// NaN в хвосте означает неполный прогрев — условие не должно
	// молча превратиться в true или false
	for _, v := range []float64{
		set.BBUpper, set.BBMiddle, set.BBLower, set.EMA,
		set.StochK, set.StochD, set.PrevStochK, set.PrevStochD,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: NaN в значениях индикаторов", ErrNotEnoughData)
		}
	}

	return set, nil
}

// Warmup возвращает время самой старой свечи, нужной для расчета,
// при заданном интервале
func (a *Analyzer) Warmup(interval time.Duration) time.Duration {
	return interval * time.Duration(a.MinCandles())
}

package regime

import (
	"context"
	"fmt"
	"math"

	"github.com/skalibog/moonshot/internal/analysis/indicators"
	"github.com/skalibog/moonshot/internal/config"
	"github.com/skalibog/moonshot/pkg/logger"
	"github.com/skalibog/moonshot/pkg/models"
	"go.uber.org/zap"
)

// Коды отказа фильтра режима
const (
	ReasonShortHistory   = "short_history"
	ReasonLowATR         = "low_atr"
	ReasonLowADX         = "low_adx"
	ReasonADXUndefined   = "adx_undefined"
	ReasonHTFUnavailable = "htf_unavailable"
	ReasonHTFNeutral     = "htf_neutral"
	ReasonNoAlign        = "no_align"
	ReasonFilterError    = "filter_error"
)

// SeriesSource источник свечей для старшего таймфрейма
type SeriesSource interface {
	Series(ctx context.Context, symbol, interval string) *models.Series
}

// Verdict результат проверки режима для пары (символ, таймфрейм)
type Verdict struct {
	Pass   bool
	Reason string

	ATRPct    float64
	MinATRPct float64
	ADX       float64
	// Desired сторона по +DI/-DI; Neutral, если ADX-фильтр выключен
	Desired models.Side
	// Bias направление старшего таймфрейма; Neutral, если подтверждение выключено
	Bias models.Side
}

// Aligned проверяет, что выбранная сторона согласована с фильтрами
func (v Verdict) Aligned(side models.Side) bool {
	if v.Desired != models.Neutral && side != v.Desired {
		return false
	}
	if v.Bias != models.Neutral && side != v.Bias {
		return false
	}
	return true
}

// Filter фильтр режима рынка: ATR%, ADX и подтверждение старшим таймфреймом
type Filter struct {
	config   config.RegimeConfig
	lookback int
	atrLen   int
}

// NewFilter создает новый фильтр
func NewFilter(cfg config.RegimeConfig, strategy config.StrategyConfig) *Filter {
	return &Filter{
		config:   cfg,
		lookback: strategy.BreakoutLookback,
		atrLen:   strategy.ATRLen,
	}
}

// Check проверяет серию. Любая внутренняя ошибка трактуется как отказ.
func (f *Filter) Check(ctx context.Context, src SeriesSource, symbol, tf string, series *models.Series) (v Verdict) {
	v = Verdict{Desired: models.Neutral, Bias: models.Neutral, ATRPct: math.NaN(), ADX: math.NaN()}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Ошибка фильтра режима",
				zap.String("symbol", symbol),
				zap.String("tf", tf),
				zap.String("panic", fmt.Sprint(r)))
			v.Pass = false
			v.Reason = ReasonFilterError
		}
	}()

	n := series.Len()
	if n < f.lookback+5 {
		v.Reason = ReasonShortHistory
		return v
	}
	last := n - 2

	v.MinATRPct = f.config.MinATRPctFor(tf)
	atr := indicators.WilderATR(series.Highs(), series.Lows(), series.Closes(), f.atrLen)
	price := math.Max(series.Candles[last].Close, 1e-12)
	v.ATRPct = atr[last] / price * 100
	if v.MinATRPct > 0 && !(v.ATRPct >= v.MinATRPct) {
		v.Reason = ReasonLowATR
		return v
	}

	if f.config.ADX.Enabled {
		dmi := indicators.DMIADX(series.Highs(), series.Lows(), series.Closes(), f.config.ADX.Len)
		v.ADX = dmi.ADX[last]
		if math.IsNaN(v.ADX) {
			v.Reason = ReasonADXUndefined
			return v
		}
		if v.ADX < f.config.ADX.MinADX {
			v.Reason = ReasonLowADX
			return v
		}
		v.Desired = models.Short
		if dmi.PlusDI[last] > dmi.MinusDI[last] {
			v.Desired = models.Long
		}
	}

	if f.config.HTF.Enabled {
		htf := src.Series(ctx, symbol, f.config.HTF.TF)
		if htf.Len() == 0 {
			v.Reason = ReasonHTFUnavailable
			return v
		}
		v.Bias = indicators.HTFDirection(htf.Closes(), f.config.HTF.EMAShort, f.config.HTF.EMALong)
		if v.Bias == models.Neutral && !f.config.HTF.AllowNeutral {
			v.Reason = ReasonHTFNeutral
			return v
		}
	}

	v.Pass = true
	return v
}

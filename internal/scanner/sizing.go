package scanner

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/skalibog/moonshot/internal/config"
	"github.com/skalibog/moonshot/pkg/models"
)

// RoundToTick округляет цену к шагу инструмента (half-up)
func RoundToTick(x, tick float64) float64 {
	if !(tick > 0) || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	t := decimal.NewFromFloat(tick)
	v, _ := decimal.NewFromFloat(x).Div(t).Round(0).Mul(t).Float64()
	return v
}

// DecimalsFromTick число знаков после точки у шага цены ("0.0010" -> 3)
func DecimalsFromTick(tick string) int {
	tick = strings.TrimSpace(tick)
	i := strings.IndexByte(tick, '.')
	if i < 0 {
		return 0
	}
	return len(strings.TrimRight(tick[i+1:], "0"))
}

// metaFromInstrument параметры цены контракта; некорректный шаг заменяется на 0.0001
func metaFromInstrument(inst models.Instrument, defaultMaxLev float64) models.SymbolMeta {
	tickStr := inst.TickSize
	tick, err := strconv.ParseFloat(tickStr, 64)
	if err != nil || tick <= 0 {
		tickStr, tick = "0.0001", 0.0001
	}
	maxLev := inst.MaxLeverage
	if maxLev <= 0 {
		maxLev = defaultMaxLev
	}
	return models.SymbolMeta{Tick: tick, Decimals: DecimalsFromTick(tickStr), MaxLeverage: maxLev}
}

// PriceFormatter форматирует цены по шагу инструмента
type PriceFormatter struct {
	meta            map[string]models.SymbolMeta
	defaultDecimals int
}

// Format цена символа в виде строки
func (f PriceFormatter) Format(symbol string, x float64) string {
	m, ok := f.meta[symbol]
	if !ok {
		return decimal.NewFromFloat(x).StringFixed(int32(f.defaultDecimals))
	}
	return decimal.NewFromFloat(RoundToTick(x, m.Tick)).StringFixed(int32(m.Decimals))
}

// RecommendLeverage безопасное плечо по расстоянию до стопа
func RecommendLeverage(entry, sl, defaultLev, safetyMult float64) float64 {
	gapFrac := math.Abs(entry-sl) / math.Max(entry, 1e-12)
	if gapFrac <= 0 {
		return math.Max(1, defaultLev)
	}
	safe := (1 / gapFrac) * safetyMult
	return math.Max(1, math.Min(defaultLev, safe))
}

// Plan рекомендованный размер позиции
type Plan struct {
	Leverage float64
	Notional float64
	Margin   float64
}

// Sizer расчет плеча и номинала
type Sizer struct {
	cfg config.SizingConfig
}

// NewSizer создает калькулятор позиции
func NewSizer(cfg config.SizingConfig) Sizer {
	return Sizer{cfg: cfg}
}

// Plan считает плечо как минимум из значения по умолчанию, безопасного,
// максимального для инструмента и общего ограничения; номинал ограничен риском и маржой.
func (s Sizer) Plan(entry, sl, instrMaxLev float64) Plan {
	lev := RecommendLeverage(entry, sl, s.cfg.DefaultLeverage, s.cfg.LeverageSafetyMult)
	lev = math.Min(lev, s.cfg.DefaultLeverage)
	if instrMaxLev > 0 {
		lev = math.Min(lev, instrMaxLev)
	}
	if s.cfg.LevCap > 0 {
		lev = math.Min(lev, s.cfg.LevCap)
	}
	lev = round2(lev)

	notional := s.notional(entry, sl, lev)
	return Plan{
		Leverage: lev,
		Notional: notional,
		Margin:   round2(notional / math.Max(lev, 1e-12)),
	}
}

func (s Sizer) notional(entry, sl, lev float64) float64 {
	r := math.Abs(entry - sl)
	if r <= 0 {
		return 0
	}
	byRisk := s.cfg.AccountEquityUSDT * s.cfg.RiskPerTrade * entry / r
	byMargin := s.cfg.AccountEquityUSDT * s.cfg.MarginPerTradePct * lev
	maxNotional := s.cfg.MaxNotionalUSDT
	if maxNotional <= 0 {
		maxNotional = 1e12
	}
	n := math.Min(byRisk, math.Min(byMargin, maxNotional))
	return math.Max(s.cfg.MinNotionalUSDT, round2(n))
}

func round2(x float64) float64 {
	v, _ := decimal.NewFromFloat(x).Round(2).Float64()
	return v
}

package blacklist

import (
	"fmt"
	"math"

	"github.com/skalibog/moonshot/internal/analysis/indicators"
	"github.com/skalibog/moonshot/pkg/logger"
	"github.com/skalibog/moonshot/pkg/models"
	"go.uber.org/zap"
)

// Коды правил автобана
const (
	CodeNewListing15m = "NEW_LISTING_15m"
	CodeHighVol15m    = "HIGH_VOL_15m"
	CodeWicky15m      = "WICKY_15m"
	CodeIlliquid24h   = "ILLQ_24h"
	CodeNewListing1h  = "NEW_LISTING_1h"
	CodeHighVol1h     = "HIGH_VOL_1h"
)

const (
	atrPctLen      = 14
	turnoverCandle = 96 // 24 часа свечами 15m
)

// AutoFromCandles проверяет правила по свечам 15m/1h и 24h-статистике.
// Срабатывает не больше одного правила; оно сразу сохраняет временный бан и возвращает код.
// Ошибки и паники внутри проверки логируются и дают "" (без бана).
func (e *Engine) AutoFromCandles(symbol string, s15, s1h *models.Series, ticker *models.Ticker) (code string) {
	if !e.enabled {
		return ""
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Ошибка автобана",
				zap.String("symbol", symbol),
				zap.String("panic", fmt.Sprint(r)))
			code = ""
		}
	}()

	sym := models.NormalizeSymbol(symbol)
	code, hours, reason := e.evaluateRules(sym, s15, s1h, ticker)
	if code == "" {
		return ""
	}

	if err := e.BanTemp(sym, hours, reason, 0); err != nil {
		logger.Error("Не удалось сохранить автобан",
			zap.String("symbol", sym),
			zap.String("code", code),
			zap.Error(err))
	}
	logger.Info("Автобан", zap.String("symbol", sym), zap.String("code", code), zap.String("reason", reason))
	return code
}

func (e *Engine) evaluateRules(sym string, s15, s1h *models.Series, ticker *models.Ticker) (string, float64, string) {
	r := e.rules

	if n := s15.Len(); n > 0 {
		if n < r.MinCandles15m {
			return CodeNewListing15m, r.CooldownHoursNewListing, fmt.Sprintf("NEW_LISTING <%dx15m", r.MinCandles15m)
		}

		if atr := indicators.ATRPercent(s15, atrPctLen); atr > r.MaxATRPct15m {
			return CodeHighVol15m, r.CooldownHoursVolatility, fmt.Sprintf("HIGH_VOL_15m ATR%%=%.1f", atr)
		}

		look := r.WickLookback15
		tail := s15.Tail(look)
		if !contains(r.ExemptSymbols, sym) && len(tail) >= max(12, int(float64(look)*0.5)) {
			wick, body := wickiness(tail)
			if wick > r.MaxWickPctAvg15m && body < r.MinBodyFrac15m {
				return CodeWicky15m, r.CooldownHoursWick, fmt.Sprintf("WICKY_15m %.0f%% | body_avg=%.2f", wick, body)
			}
		}

		if vq, ok := quoteVolume24h(s15, ticker); ok && !contains(r.ExemptFromIllqSymbols, sym) && vq < r.MinQuoteVol24h {
			return CodeIlliquid24h, r.CooldownHoursIliquid, fmt.Sprintf("ILLQ v24h≈%.0f", vq)
		}
	}

	if n := s1h.Len(); n > 0 {
		if n < r.MinCandles1h {
			return CodeNewListing1h, r.CooldownHoursNewListing, fmt.Sprintf("NEW_LISTING <%dx1h", r.MinCandles1h)
		}
		if atr := indicators.ATRPercent(s1h, atrPctLen); atr > r.MaxATRPct1h {
			return CodeHighVol1h, r.CooldownHoursVolatility, fmt.Sprintf("HIGH_VOL_1h ATR%%=%.1f", atr)
		}
	}

	return "", 0, ""
}

// wickiness средняя доля теней в диапазоне (в %) и средняя доля тела (0..1).
// Свечи с нулевым диапазоном пропускаются.
func wickiness(candles []models.Candle) (wickPct, bodyFrac float64) {
	var wickSum, bodySum float64
	var n int
	for _, c := range candles {
		rng := c.High - c.Low
		if rng == 0 || math.IsNaN(rng) {
			continue
		}
		upper := (c.High - math.Max(c.Open, c.Close)) / rng
		lower := (math.Min(c.Open, c.Close) - c.Low) / rng
		wickSum += clip01(upper + lower)
		bodySum += clip01(math.Abs(c.Close-c.Open) / rng)
		n++
	}
	if n == 0 {
		return math.NaN(), math.NaN()
	}
	return wickSum / float64(n) * 100, bodySum / float64(n)
}

// quoteVolume24h оборот за 24 часа: из тикера, иначе сумма по последним 96 свечам 15m
func quoteVolume24h(s15 *models.Series, ticker *models.Ticker) (float64, bool) {
	if ticker != nil && ticker.Turnover24h > 0 {
		return ticker.Turnover24h, true
	}
	if s15.Len() < turnoverCandle {
		return 0, false
	}

	tail := s15.Tail(turnoverCandle)
	hasTurnover := false
	for _, c := range tail {
		if c.Turnover > 0 {
			hasTurnover = true
			break
		}
	}

	sum := 0.0
	for _, c := range tail {
		if hasTurnover {
			sum += c.Turnover
		} else {
			sum += c.Volume * c.Close
		}
	}
	return sum, true
}

func clip01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if models.NormalizeSymbol(v) == s {
			return true
		}
	}
	return false
}

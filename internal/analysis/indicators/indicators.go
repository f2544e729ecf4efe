// Package indicators содержит чистые функции расчета индикаторов по упорядоченным сериям.
// Для периодов прогрева возвращается NaN.
package indicators

import (
	"math"

	"github.com/markcheno/go-talib"
	"github.com/skalibog/moonshot/pkg/models"
)

// EWM экспоненциальное сглаживание без поправки (recursive form):
// y[0] = x[0], y[i] = (1-alpha)*y[i-1] + alpha*x[i].
// Пропуски (NaN) не сбрасывают накопленное значение, но вес старого значения продолжает затухать.
func EWM(x []float64, alpha float64) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}

	weighted := x[0]
	oldWt := 1.0
	out[0] = weighted
	for i := 1; i < len(x); i++ {
		cur := x[i]
		isObs := !math.IsNaN(cur)
		if !math.IsNaN(weighted) {
			oldWt *= 1 - alpha
			if isObs {
				if weighted != cur {
					weighted = (oldWt*weighted + alpha*cur) / (oldWt + alpha)
				}
				oldWt = 1
			}
		} else if isObs {
			weighted = cur
		}
		out[i] = weighted
	}
	return out
}

// EMA экспоненциальная средняя, alpha = 2/(span+1); первое значение равно первому отсчету
func EMA(x []float64, span int) []float64 {
	if span <= 0 {
		return nanSlice(len(x))
	}
	return EWM(x, 2.0/float64(span+1))
}

// Wilder сглаживание Уайлдера, alpha = 1/length
func Wilder(x []float64, length int) []float64 {
	if length <= 0 {
		return nanSlice(len(x))
	}
	return EWM(x, 1.0/float64(length))
}

// RollingMean простая скользящая средняя по окну n.
// Окно, содержащее NaN, дает NaN.
func RollingMean(x []float64, n int) []float64 {
	out := nanSlice(len(x))
	if n <= 0 || len(x) < n {
		return out
	}

	if !hasNaN(x) {
		sma := talib.Sma(x, n)
		copy(out[n-1:], sma[n-1:])
		return out
	}

	for i := n - 1; i < len(x); i++ {
		sum := 0.0
		for j := i - n + 1; j <= i; j++ {
			sum += x[j]
		}
		out[i] = sum / float64(n)
	}
	return out
}

// RSI по скользящим средним приростов и потерь за length периодов.
// Первые length значений равны NaN.
func RSI(closes []float64, length int) []float64 {
	n := len(closes)
	up := make([]float64, n)
	down := make([]float64, n)
	if n > 0 {
		up[0], down[0] = math.NaN(), math.NaN()
	}
	for i := 1; i < n; i++ {
		d := closes[i] - closes[i-1]
		up[i] = math.Max(d, 0)
		down[i] = math.Max(-d, 0)
	}

	upMean := RollingMean(up, length)
	downMean := RollingMean(down, length)

	out := make([]float64, n)
	for i := range out {
		rs := upMean[i] / downMean[i]
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// TrueRange истинный диапазон; для первой свечи равен high-low
func TrueRange(highs, lows, closes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := range closes {
		tr := highs[i] - lows[i]
		if i > 0 {
			pc := closes[i-1]
			tr = math.Max(tr, math.Max(math.Abs(highs[i]-pc), math.Abs(lows[i]-pc)))
		}
		out[i] = tr
	}
	return out
}

// ATR простая скользящая средняя истинного диапазона
func ATR(highs, lows, closes []float64, length int) []float64 {
	return RollingMean(TrueRange(highs, lows, closes), length)
}

// WilderATR истинный диапазон, сглаженный по Уайлдеру
func WilderATR(highs, lows, closes []float64, length int) []float64 {
	return Wilder(TrueRange(highs, lows, closes), length)
}

// DMI значения +DI, -DI и ADX
type DMI struct {
	PlusDI  []float64
	MinusDI []float64
	ADX     []float64
}

// DMIADX рассчитывает направленное движение и ADX со сглаживанием Уайлдера.
// Деление на ноль дает NaN (значение отсутствует), а не ноль.
func DMIADX(highs, lows, closes []float64, length int) DMI {
	n := len(closes)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	if n > 0 {
		plusDM[0], minusDM[0] = math.NaN(), math.NaN()
	}
	for i := 1; i < n; i++ {
		up := highs[i] - highs[i-1]
		dn := lows[i-1] - lows[i]
		if up > dn && up > 0 {
			plusDM[i] = up
		}
		if dn > up && dn > 0 {
			minusDM[i] = dn
		}
	}

	atr := WilderATR(highs, lows, closes, length)
	pdm := Wilder(plusDM, length)
	mdm := Wilder(minusDM, length)

	res := DMI{
		PlusDI:  make([]float64, n),
		MinusDI: make([]float64, n),
	}
	dx := make([]float64, n)
	for i := 0; i < n; i++ {
		res.PlusDI[i] = 100 * (pdm[i] / atr[i])
		res.MinusDI[i] = 100 * (mdm[i] / atr[i])
		sum := res.PlusDI[i] + res.MinusDI[i]
		if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
			dx[i] = math.NaN()
			continue
		}
		dx[i] = 100 * math.Abs(res.PlusDI[i]-res.MinusDI[i]) / sum
	}
	res.ADX = Wilder(dx, length)
	return res
}

// HTFDirection направление старшего таймфрейма по двум EMA и наклону короткой
func HTFDirection(closes []float64, emaShortLen, emaLongLen int) models.Side {
	if len(closes) < max(emaShortLen, emaLongLen)+2 {
		return models.Neutral
	}

	es := EMA(closes, emaShortLen)
	el := EMA(closes, emaLongLen)
	last := len(closes) - 1
	slope := es[last] - es[last-1]

	switch {
	case es[last] > el[last] && slope > 0:
		return models.Long
	case es[last] < el[last] && slope < 0:
		return models.Short
	}
	return models.Neutral
}

// ATRPercent отношение простого ATR к средней цене закрытия за тот же период, в процентах,
// на последней свече серии
func ATRPercent(s *models.Series, length int) float64 {
	if s.Len() == 0 {
		return math.NaN()
	}
	closes := s.Closes()
	atr := ATR(s.Highs(), s.Lows(), closes, length)
	avg := RollingMean(closes, length)
	last := len(closes) - 1
	return atr[last] / avg[last] * 100
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func hasNaN(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

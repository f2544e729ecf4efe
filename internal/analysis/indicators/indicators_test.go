package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/skalibog/moonshot/pkg/models"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func mkSeries(closes []float64, spread float64) *models.Series {
	s := &models.Series{Symbol: "TEST", Interval: "15m"}
	t := time.Unix(0, 0).UTC()
	for i, c := range closes {
		s.Candles = append(s.Candles, models.Candle{
			OpenTime: t.Add(time.Duration(i) * 15 * time.Minute),
			Open:     c,
			High:     c + spread,
			Low:      c - spread,
			Close:    c,
			Volume:   1000,
		})
	}
	return s
}

func TestEMA_ConvexRecurrence(t *testing.T) {
	x := []float64{10, 11, 9, 12, 15, 14, 13, 16}
	span := 3
	alpha := 2.0 / float64(span+1)
	ema := EMA(x, span)

	if ema[0] != x[0] {
		t.Fatalf("first EMA value should equal first sample, got %.6f", ema[0])
	}
	for i := 1; i < len(x); i++ {
		want := (1-alpha)*ema[i-1] + alpha*x[i]
		if !near(ema[i], want) {
			t.Fatalf("ema[%d]=%.9f, want %.9f", i, ema[i], want)
		}
		lo, hi := math.Min(ema[i-1], x[i]), math.Max(ema[i-1], x[i])
		if ema[i] < lo-1e-12 || ema[i] > hi+1e-12 {
			t.Fatalf("ema[%d]=%.6f is not between %.6f and %.6f", i, ema[i], lo, hi)
		}
	}

	again := EMA(x, span)
	for i := range ema {
		if ema[i] != again[i] {
			t.Fatalf("EMA is not deterministic at %d", i)
		}
	}
}

func TestEWM_SkipsNaNWithoutReset(t *testing.T) {
	x := []float64{math.NaN(), 2, math.NaN(), 4}
	out := EWM(x, 0.5)
	if !math.IsNaN(out[0]) {
		t.Fatalf("expected NaN before first observation, got %.4f", out[0])
	}
	if out[1] != 2 || out[2] != 2 {
		t.Fatalf("expected seed 2 carried over NaN, got %.4f %.4f", out[1], out[2])
	}
	// вес старого значения затух дважды: 0.25*2 + 0.5*4 / 0.75
	want := (0.25*2 + 0.5*4) / 0.75
	if !near(out[3], want) {
		t.Fatalf("out[3]=%.9f, want %.9f", out[3], want)
	}
}

func TestRollingMean(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	rm := RollingMean(x, 3)
	if !math.IsNaN(rm[0]) || !math.IsNaN(rm[1]) {
		t.Fatalf("expected NaN warmup, got %v", rm[:2])
	}
	if !near(rm[2], 2) || !near(rm[4], 4) {
		t.Fatalf("unexpected rolling mean %v", rm)
	}

	withGap := []float64{1, math.NaN(), 3, 4, 5, 6}
	rm = RollingMean(withGap, 2)
	if !math.IsNaN(rm[1]) || !math.IsNaN(rm[2]) {
		t.Fatalf("windows with NaN must be NaN, got %v", rm)
	}
	if !near(rm[3], 3.5) || !near(rm[5], 5.5) {
		t.Fatalf("unexpected rolling mean after gap %v", rm)
	}

	if out := RollingMean([]float64{1, 2}, 5); !math.IsNaN(out[0]) || !math.IsNaN(out[1]) {
		t.Fatalf("short input must be all NaN, got %v", out)
	}
}

func TestRSI(t *testing.T) {
	up := make([]float64, 30)
	for i := range up {
		up[i] = 100 + float64(i)
	}
	rsi := RSI(up, 14)
	for i := 0; i < 14; i++ {
		if !math.IsNaN(rsi[i]) {
			t.Fatalf("rsi[%d] should be NaN, got %.2f", i, rsi[i])
		}
	}
	if rsi[14] != 100 || rsi[29] != 100 {
		t.Fatalf("monotonic rise should give RSI 100, got %.2f", rsi[29])
	}

	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 5
	}
	if v := RSI(flat, 14)[19]; !math.IsNaN(v) {
		t.Fatalf("flat series RSI should be undefined, got %.2f", v)
	}

	zig := []float64{10, 11, 10, 11, 10, 11, 10, 11, 10, 11}
	if v := RSI(zig, 4)[9]; !near(v, 50) {
		t.Fatalf("balanced moves should give RSI 50, got %.4f", v)
	}
}

func TestATR_SimpleMeanOfTrueRange(t *testing.T) {
	highs := []float64{11, 12, 13, 14}
	lows := []float64{9, 10, 11, 12}
	closes := []float64{10, 11, 12, 13}

	tr := TrueRange(highs, lows, closes)
	if tr[0] != 2 || tr[1] != 2 {
		t.Fatalf("unexpected true range %v", tr)
	}

	gap := TrueRange([]float64{10, 20}, []float64{9, 19}, []float64{9.5, 19.5})
	if gap[1] != 10.5 {
		t.Fatalf("gap true range should use previous close, got %.2f", gap[1])
	}

	atr := ATR(highs, lows, closes, 2)
	if !math.IsNaN(atr[0]) || atr[3] != 2 {
		t.Fatalf("unexpected ATR %v", atr)
	}
}

func TestDMIADX_FlatSeriesIsUndefined(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 1.5
	}
	dmi := DMIADX(closes, closes, closes, 14)
	for i, v := range dmi.ADX {
		if math.IsInf(v, 0) {
			t.Fatalf("ADX[%d] is infinite", i)
		}
		if !math.IsNaN(v) {
			t.Fatalf("ADX[%d] should be undefined on flat series, got %.4f", i, v)
		}
	}
	if dmi.ADX[58] >= 20 || dmi.ADX[58] < 20 {
		t.Fatalf("undefined ADX must fail every threshold comparison")
	}
}

func TestDMIADX_Trend(t *testing.T) {
	n := 80
	highs, lows, closes := make([]float64, n), make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		c := 100 + float64(i)
		closes[i], highs[i], lows[i] = c, c+0.5, c-0.5
	}
	dmi := DMIADX(highs, lows, closes, 14)
	last := n - 1
	if !(dmi.PlusDI[last] > dmi.MinusDI[last]) {
		t.Fatalf("uptrend should have +DI > -DI, got %.2f / %.2f", dmi.PlusDI[last], dmi.MinusDI[last])
	}
	if dmi.ADX[last] < 50 {
		t.Fatalf("steady uptrend should have strong ADX, got %.2f", dmi.ADX[last])
	}
}

func TestHTFDirection(t *testing.T) {
	up := make([]float64, 80)
	down := make([]float64, 80)
	for i := range up {
		up[i] = 100 + float64(i)
		down[i] = 200 - float64(i)
	}
	if got := HTFDirection(up, 21, 50); got != models.Long {
		t.Fatalf("expected LONG, got %s", got)
	}
	if got := HTFDirection(down, 21, 50); got != models.Short {
		t.Fatalf("expected SHORT, got %s", got)
	}
	if got := HTFDirection(up[:51], 21, 50); got != models.Neutral {
		t.Fatalf("insufficient history should be NEUTRAL, got %s", got)
	}

	// короткая EMA выше длинной, но последний отсчет ее опускает
	pullback := append(append([]float64{}, up...), 150)
	if got := HTFDirection(pullback, 21, 50); got != models.Neutral {
		t.Fatalf("falling short EMA above long EMA should be NEUTRAL, got %s", got)
	}
}

func TestATRPercent(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
	}
	s := mkSeries(closes, 1)
	if v := ATRPercent(s, 14); !near(v, 2) {
		t.Fatalf("expected ATR%% of 2, got %.6f", v)
	}
	if v := ATRPercent(mkSeries(closes[:5], 1), 14); !math.IsNaN(v) {
		t.Fatalf("short series ATR%% should be NaN, got %.4f", v)
	}
}

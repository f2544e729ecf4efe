package setup

import (
	"math"
	"testing"
	"time"

	"github.com/skalibog/moonshot/internal/config"
	"github.com/skalibog/moonshot/pkg/models"
)

func testConfig() config.StrategyConfig {
	return config.StrategyConfig{
		BreakoutLookback:  20,
		ATRLen:            14,
		ATRStopMult:       1.5,
		BreakoutBufferATR: 0.1,
		VolMALen:          20,
		VolSpikeMinMult:   1.2,
		EMAShort:          9,
		EMALong:           20,
		RSILen:            14,
		RSIMinLong:        55,
		RSIMaxShort:       45,
		BodyMinFrac:       0.6,
		WickMaxFrac:       0.2,
		TPMultiples:       []float64{2, 1, 3},
	}
}

// breakoutSeries 200 свечей 15m: плавный рост, свеча 198 закрывается на 2% выше
// максимума последних 20 свечей с объемом 1.5x и телом ~85% диапазона.
func breakoutSeries() *models.Series {
	s := &models.Series{Symbol: "TESTUSDT", Interval: "15m"}
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	add := func(o, h, l, c, v float64) {
		s.Candles = append(s.Candles, models.Candle{
			OpenTime: start.Add(time.Duration(len(s.Candles)) * 15 * time.Minute),
			Open:     o, High: h, Low: l, Close: c, Volume: v,
		})
	}

	for i := 0; i < 198; i++ {
		c := 100 + 0.02*float64(i)
		o := c - 0.1
		add(o, c+0.15, o-0.15, c, 1000)
	}
	add(104.0, 106.5, 103.8, 106.3, 1500)
	add(106.3, 106.4, 105.9, 106.0, 900)
	return s
}

// mirror отражает серию относительно уровня 300: рост становится падением
func mirror(s *models.Series) *models.Series {
	out := &models.Series{Symbol: s.Symbol, Interval: s.Interval}
	for _, c := range s.Candles {
		out.Candles = append(out.Candles, models.Candle{
			OpenTime: c.OpenTime,
			Open:     300 - c.Open,
			High:     300 - c.Low,
			Low:      300 - c.High,
			Close:    300 - c.Close,
			Volume:   c.Volume,
		})
	}
	return out
}

func TestEvaluate_LongBreakout(t *testing.T) {
	eval := NewEvaluator(testConfig(), time.UTC)
	s := breakoutSeries()

	ex, err := eval.Evaluate(s, models.Long, -2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ex.OK {
		t.Fatalf("expected ok setup, reason=%s ex=%+v", ex.Reason(), ex)
	}
	if ex.Reason() != ReasonOK {
		t.Errorf("expected reason ok, got %s", ex.Reason())
	}

	last := s.Candles[198]
	if ex.Entry != last.Close {
		t.Errorf("entry %.4f must equal close %.4f", ex.Entry, last.Close)
	}
	if !(ex.StopLoss < ex.Entry) {
		t.Errorf("LONG stop %.4f must be below entry %.4f", ex.StopLoss, ex.Entry)
	}
	if want := ex.Entry - 1.5*ex.ATR; math.Abs(ex.StopLoss-want) > 1e-9 {
		t.Errorf("stop %.6f, want %.6f", ex.StopLoss, want)
	}
	if len(ex.TakeProfits) != 3 {
		t.Fatalf("expected 3 take-profits, got %v", ex.TakeProfits)
	}
	prev := ex.Entry
	for i, tp := range ex.TakeProfits {
		if !(tp > prev) {
			t.Fatalf("take-profits must ascend from entry: tp[%d]=%.6f prev=%.6f", i, tp, prev)
		}
		prev = tp
	}
	if !ex.CandleTime.Equal(last.OpenTime) {
		t.Errorf("candle time mismatch: %v vs %v", ex.CandleTime, last.OpenTime)
	}
	if ex.ClosedAt == "" {
		t.Error("closed-at label must be filled")
	}

	short, err := eval.Evaluate(s, models.Short, -2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if short.OK || short.Reason() != ReasonBreak {
		t.Errorf("SHORT must fail on break, got ok=%v reason=%s", short.OK, short.Reason())
	}
}

func TestEvaluate_ShortBreakdown(t *testing.T) {
	eval := NewEvaluator(testConfig(), time.UTC)
	s := mirror(breakoutSeries())

	ex, err := eval.Evaluate(s, models.Short, -2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ex.OK {
		t.Fatalf("expected ok breakdown, reason=%s", ex.Reason())
	}
	if !(ex.StopLoss > ex.Entry) {
		t.Errorf("SHORT stop %.4f must be above entry %.4f", ex.StopLoss, ex.Entry)
	}
	prev := ex.Entry
	for i, tp := range ex.TakeProfits {
		if !(tp < prev) {
			t.Fatalf("take-profits must descend from entry: tp[%d]=%.6f prev=%.6f", i, tp, prev)
		}
		prev = tp
	}
}

func TestEvaluate_ReasonOrder(t *testing.T) {
	eval := NewEvaluator(testConfig(), time.UTC)
	s := breakoutSeries()

	// без всплеска объема пробой есть, но первая невыполненная проверка - объем
	s.Candles[198].Volume = 1000
	ex, err := eval.Evaluate(s, models.Long, -2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.OK || ex.Reason() != ReasonVol {
		t.Fatalf("expected no_vol, got ok=%v reason=%s", ex.OK, ex.Reason())
	}

	// длинная верхняя тень ломает только форму свечи
	s = breakoutSeries()
	s.Candles[198].High = 108
	ex, _ = eval.Evaluate(s, models.Long, -2)
	if ex.OK || ex.Reason() != ReasonBody {
		t.Fatalf("expected no_body, got ok=%v reason=%s", ex.OK, ex.Reason())
	}
}

func TestEvaluate_IndexBounds(t *testing.T) {
	eval := NewEvaluator(testConfig(), time.UTC)
	s := breakoutSeries()

	if _, err := eval.Evaluate(s, models.Long, 200); err == nil {
		t.Error("expected error for index past the end")
	}
	if _, err := eval.Evaluate(s, models.Long, -201); err == nil {
		t.Error("expected error for index before the start")
	}
	if _, err := eval.Evaluate(s, models.Neutral, -2); err == nil {
		t.Error("expected error for NEUTRAL side")
	}

	// первая свеча: окно пустое, пробоя нет, но и паники нет
	ex, err := eval.Evaluate(s, models.Long, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.CondBreak {
		t.Error("empty lookback window must not produce a break")
	}
}

func TestGapATR(t *testing.T) {
	long := &Explanation{Side: models.Long, Level: 100, Buffer: 1, Close: 99, ATR: 2}
	if got := long.GapATR(); got != 1 {
		t.Errorf("LONG gap=%v, want 1", got)
	}
	short := &Explanation{Side: models.Short, Level: 100, Buffer: 1, Close: 98, ATR: 2}
	if got := short.GapATR(); got != -0.5 {
		t.Errorf("SHORT gap=%v, want -0.5", got)
	}

	for _, atr := range []float64{0, -1, math.NaN()} {
		ex := &Explanation{Side: models.Long, Level: 100, Close: 99, ATR: atr}
		if g := ex.GapATR(); !math.IsInf(g, 1) {
			t.Errorf("ATR=%v must give infinite gap, got %v", atr, g)
		}
	}
}

func TestCandidate(t *testing.T) {
	long := &Explanation{Side: models.Long, Level: 100, Close: 99, ATR: 1}   // gap 1
	short := &Explanation{Side: models.Short, Level: 98, Close: 98.5, ATR: 1} // gap 0.5

	got, gap := Candidate(long, short)
	if got != short || gap != 0.5 {
		t.Errorf("expected SHORT with gap 0.5, got %s %v", got.Side, gap)
	}

	short.Close = 99 // gap 1, равенство
	if got, _ := Candidate(long, short); got != long {
		t.Error("LONG must win ties")
	}
	if got, _ := Candidate(long, nil); got != long {
		t.Error("LONG must be returned when shorts are disabled")
	}
}

func TestBest(t *testing.T) {
	long := &Explanation{Side: models.Long, OK: true, Level: 100, Close: 101, ATR: 1}  // +1 ATR
	short := &Explanation{Side: models.Short, OK: true, Level: 100, Close: 98, ATR: 1} // +2 ATR

	if got := Best(long, short, PolicyDistance, models.Neutral); got != short {
		t.Error("distance policy must pick the side further past its trigger")
	}
	if got := Best(long, short, PolicyHTFAligned, models.Long); got != long {
		t.Error("htf_aligned policy must prefer the HTF side")
	}
	if got := Best(long, short, PolicyHTFAligned, models.Neutral); got != short {
		t.Error("htf_aligned with neutral bias falls back to distance")
	}

	short.OK = false
	if got := Best(long, short, PolicyDistance, models.Neutral); got != long {
		t.Error("only ok side must be returned")
	}
	long.OK = false
	if got := Best(long, short, PolicyDistance, models.Neutral); got != nil {
		t.Error("no ok side must return nil")
	}
}

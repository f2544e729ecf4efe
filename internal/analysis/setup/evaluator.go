package setup

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/skalibog/moonshot/internal/analysis/indicators"
	"github.com/skalibog/moonshot/internal/config"
	"github.com/skalibog/moonshot/pkg/models"
)

// Коды причин отказа в фиксированном порядке проверки
const (
	ReasonOK    = "ok"
	ReasonBreak = "no_break"
	ReasonVol   = "no_vol"
	ReasonEMA   = "no_ema"
	ReasonRSI   = "no_rsi"
	ReasonBody  = "no_body"
)

// Explanation разбор условий сетапа на конкретной свече
type Explanation struct {
	Side  models.Side
	OK    bool
	Index int

	CondBreak bool
	Level     float64 // сопротивление для LONG, поддержка для SHORT
	Buffer    float64
	Close     float64

	CondVol bool
	Volume  float64
	VolMA   float64
	VolMult float64

	CondEMA bool
	EMAFast float64
	EMASlow float64
	Slope   float64

	CondRSI      bool
	RSI          float64
	RSIThreshold float64

	CondBody  bool
	BodyFrac  float64
	UpperFrac float64
	LowerFrac float64

	ATR         float64
	Entry       float64
	StopLoss    float64
	TakeProfits []float64

	CandleTime time.Time
	ClosedAt   string
}

// Trigger уровень, пробой которого завершает сетап
func (e *Explanation) Trigger() float64 {
	if e.Side == models.Short {
		return e.Level - e.Buffer
	}
	return e.Level + e.Buffer
}

// GapATR расстояние от закрытия до триггера в единицах ATR.
// Положительное значение означает, что триггер еще не пройден.
// При ATR <= 0 расстояние не определено и равно +Inf.
func (e *Explanation) GapATR() float64 {
	if !(e.ATR > 0) {
		return math.Inf(1)
	}
	if e.Side == models.Short {
		return (e.Close - e.Trigger()) / e.ATR
	}
	return (e.Trigger() - e.Close) / e.ATR
}

// Distance насколько закрытие ушло за триггер в сторону сделки, в ATR
func (e *Explanation) Distance() float64 {
	atr := e.ATR
	if !(atr > 0) {
		atr = 1e-12
	}
	if e.Side == models.Short {
		return (e.Trigger() - e.Close) / atr
	}
	return (e.Close - e.Trigger()) / atr
}

// Reason первая невыполненная проверка
func (e *Explanation) Reason() string {
	switch {
	case !e.CondBreak:
		return ReasonBreak
	case !e.CondVol:
		return ReasonVol
	case !e.CondEMA:
		return ReasonEMA
	case !e.CondRSI:
		return ReasonRSI
	case !e.CondBody:
		return ReasonBody
	}
	return ReasonOK
}

// Evaluator оценивает пробойные сетапы
type Evaluator struct {
	config   config.StrategyConfig
	location *time.Location
}

// NewEvaluator создает новый оценщик сетапов
func NewEvaluator(cfg config.StrategyConfig, loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	multiples := append([]float64(nil), cfg.TPMultiples...)
	sort.Float64s(multiples)
	cfg.TPMultiples = multiples

	return &Evaluator{
		config:   cfg,
		location: loc,
	}
}

// Frame серия с рассчитанными индикаторами. Разделяется между LONG/SHORT и индексами бэкскана.
type Frame struct {
	eval    *Evaluator
	series  *models.Series
	emaFast []float64
	emaSlow []float64
	rsi     []float64
	atr     []float64
	volMA   []float64
}

// Prepare рассчитывает индикаторы для серии
func (e *Evaluator) Prepare(series *models.Series) *Frame {
	closes := series.Closes()
	return &Frame{
		eval:    e,
		series:  series,
		emaFast: indicators.EMA(closes, e.config.EMAShort),
		emaSlow: indicators.EMA(closes, e.config.EMALong),
		rsi:     indicators.RSI(closes, e.config.RSILen),
		atr:     indicators.ATR(series.Highs(), series.Lows(), closes, e.config.ATRLen),
		volMA:   indicators.RollingMean(series.Volumes(), e.config.VolMALen),
	}
}

// Evaluate разбирает сетап для стороны side на свече index (отрицательный индекс считается с конца)
func (e *Evaluator) Evaluate(series *models.Series, side models.Side, index int) (Explanation, error) {
	return e.Prepare(series).Explain(side, index)
}

// Explain разбирает сетап на подготовленной серии
func (f *Frame) Explain(side models.Side, index int) (Explanation, error) {
	n := f.series.Len()
	end := index
	if end < 0 {
		end += n
	}
	if end < 0 || end >= n {
		return Explanation{}, fmt.Errorf("индекс %d вне серии из %d свечей", index, n)
	}
	if side != models.Long && side != models.Short {
		return Explanation{}, fmt.Errorf("неизвестное направление %q", side)
	}

	cfg := f.eval.config
	last := f.series.Candles[end]
	start := max(0, end-cfg.BreakoutLookback)
	window := f.series.Candles[start:end]

	o, h, l, c := last.Open, last.High, last.Low, last.Close
	atr := f.atr[end]
	bodyFrac, upperFrac, lowerFrac := bodyWicks(o, h, l, c)

	slope := 0.0
	if end-1 >= 0 {
		slope = f.emaFast[end] - f.emaFast[end-1]
	}

	ex := Explanation{
		Side:      side,
		Index:     index,
		Buffer:    cfg.BreakoutBufferATR * atr,
		Close:     c,
		Volume:    last.Volume,
		VolMA:     f.volMA[end],
		VolMult:   cfg.VolSpikeMinMult,
		EMAFast:   f.emaFast[end],
		EMASlow:   f.emaSlow[end],
		Slope:     slope,
		RSI:       f.rsi[end],
		BodyFrac:  bodyFrac,
		UpperFrac: upperFrac,
		LowerFrac: lowerFrac,
		ATR:       atr,
		Entry:     c,

		CandleTime: last.OpenTime,
		ClosedAt:   last.OpenTime.In(f.eval.location).Format("2006-01-02 15:04 MST"),
	}

	ex.CondVol = ex.Volume >= ex.VolMA*cfg.VolSpikeMinMult
	wicksOk := upperFrac <= cfg.WickMaxFrac && lowerFrac <= cfg.WickMaxFrac
	stopDist := cfg.ATRStopMult * atr

	if side == models.Long {
		ex.Level = windowHigh(window)
		ex.CondBreak = c > ex.Level+ex.Buffer
		ex.CondEMA = ex.EMAFast > ex.EMASlow && slope > 0
		ex.RSIThreshold = cfg.RSIMinLong
		ex.CondRSI = ex.RSI >= cfg.RSIMinLong
		ex.CondBody = c > o && bodyFrac >= cfg.BodyMinFrac && wicksOk
		ex.StopLoss = ex.Entry - stopDist
	} else {
		ex.Level = windowLow(window)
		ex.CondBreak = c < ex.Level-ex.Buffer
		ex.CondEMA = ex.EMAFast < ex.EMASlow && slope < 0
		ex.RSIThreshold = cfg.RSIMaxShort
		ex.CondRSI = ex.RSI <= cfg.RSIMaxShort
		ex.CondBody = c < o && bodyFrac >= cfg.BodyMinFrac && wicksOk
		ex.StopLoss = ex.Entry + stopDist
	}

	risk := math.Abs(ex.Entry - ex.StopLoss)
	ex.TakeProfits = make([]float64, len(cfg.TPMultiples))
	for i, m := range cfg.TPMultiples {
		if side == models.Long {
			ex.TakeProfits[i] = round8(ex.Entry + m*risk)
		} else {
			ex.TakeProfits[i] = round8(ex.Entry - m*risk)
		}
	}

	ex.OK = ex.CondBreak && ex.CondVol && ex.CondEMA && ex.CondRSI && ex.CondBody
	return ex, nil
}

// Candidate выбирает сторону, ближайшую к триггеру (для пре-сигналов и витрины).
// short может быть nil, если шорты отключены. При равенстве выигрывает LONG.
func Candidate(long, short *Explanation) (*Explanation, float64) {
	gapL := long.GapATR()
	if short == nil {
		return long, gapL
	}
	gapS := short.GapATR()
	if math.Abs(gapL) <= math.Abs(gapS) {
		return long, gapL
	}
	return short, gapS
}

// Политики выбора стороны, когда сработали обе
const (
	PolicyDistance   = "distance"
	PolicyHTFAligned = "htf_aligned"
)

// Best выбирает сработавший сетап. Если сработали оба, по умолчанию берется тот,
// чье закрытие дальше ушло за триггер (в ATR); политика htf_aligned сначала
// предпочитает сторону, совпадающую с направлением старшего таймфрейма.
func Best(long, short *Explanation, policy string, bias models.Side) *Explanation {
	longOk := long != nil && long.OK
	shortOk := short != nil && short.OK

	switch {
	case !longOk && !shortOk:
		return nil
	case longOk && !shortOk:
		return long
	case shortOk && !longOk:
		return short
	}

	if policy == PolicyHTFAligned && bias != models.Neutral {
		if bias == models.Long {
			return long
		}
		return short
	}
	if short.Distance() > long.Distance() {
		return short
	}
	return long
}

func bodyWicks(o, h, l, c float64) (body, upper, lower float64) {
	rng := math.Max(h-l, 1e-12)
	body = math.Abs(c-o) / rng
	upper = (h - math.Max(o, c)) / rng
	lower = (math.Min(o, c) - l) / rng
	return
}

func windowHigh(w []models.Candle) float64 {
	if len(w) == 0 {
		return math.NaN()
	}
	hi := w[0].High
	for _, c := range w[1:] {
		hi = math.Max(hi, c.High)
	}
	return hi
}

func windowLow(w []models.Candle) float64 {
	if len(w) == 0 {
		return math.NaN()
	}
	lo := w[0].Low
	for _, c := range w[1:] {
		lo = math.Min(lo, c.Low)
	}
	return lo
}

func round8(x float64) float64 {
	return math.Round(x*1e8) / 1e8
}

// Package scanner цикл сканирования: батчи символов, автобан, фильтр режима,
// оценка сетапов, сигналы и пре-сигналы, сопровождение открытых сделок.
package scanner

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/skalibog/moonshot/internal/analysis/regime"
	"github.com/skalibog/moonshot/internal/analysis/setup"
	"github.com/skalibog/moonshot/internal/blacklist"
	"github.com/skalibog/moonshot/internal/config"
	"github.com/skalibog/moonshot/internal/exchange"
	"github.com/skalibog/moonshot/internal/notify"
	"github.com/skalibog/moonshot/internal/storage"
	"github.com/skalibog/moonshot/internal/trades"
	"github.com/skalibog/moonshot/pkg/logger"
	"github.com/skalibog/moonshot/pkg/models"
	"go.uber.org/zap"
)

// Таймфреймы, по которым работают правила автобана
const (
	autoBanTF15 = "15m"
	autoBanTF1h = "1h"
)

// RegimeBucket ключ счетчиков отказов фильтра режима
const RegimeBucket = "regime"

// Candidate строка витрины: ближайшая к триггеру сторона на последней закрытой свече
type Candidate struct {
	Symbol string
	TF     string
	Side   models.Side
	Gap    float64
	Reason string
	RSI    float64
	EMA    bool
	Vol    bool
	Body   bool
}

// Report итог одного цикла
type Report struct {
	At         time.Time
	Batch      int
	Start      int
	End        int
	Universe   int
	Scanned    int
	Signals    []models.Signal
	PreSignals []models.PreSignal
	Candidates []Candidate
	AutoBans   map[string]string
	Rejections map[string]map[string]int
	Updates    []trades.Event
	OpenTrades int
	Duration   time.Duration
}

func (r *Report) reject(bucket, reason string) {
	if r.Rejections[bucket] == nil {
		r.Rejections[bucket] = make(map[string]int)
	}
	r.Rejections[bucket][reason]++
}

// Observer получает отчет после каждого цикла (дашборд, веб-статус)
type Observer interface {
	OnCycle(r Report)
}

// Deps внешние зависимости сканера
type Deps struct {
	Exchange  exchange.Exchange
	Blacklist *blacklist.Engine
	Trades    *trades.Store
	Cache     *trades.KeyCache
	PreCache  *trades.KeyCache
	Notifier  notify.Notifier
	Journal   storage.Journal
	Now       func() time.Time
}

// Scanner оркестратор цикла сканирования
type Scanner struct {
	cfg       *config.Config
	ex        exchange.Exchange
	bl        *blacklist.Engine
	store     *trades.Store
	cache     *trades.KeyCache
	preCache  *trades.KeyCache
	notifier  notify.Notifier
	journal   storage.Journal
	evaluator *setup.Evaluator
	filter    *regime.Filter
	sizer     Sizer
	now       func() time.Time

	mu        sync.RWMutex
	symbols   []string
	meta      map[string]models.SymbolMeta
	observers []Observer
	last      *Report
	scanIdx   int
	batchNo   int
}

// New создает сканер
func New(cfg *config.Config, deps Deps) *Scanner {
	s := &Scanner{
		cfg:       cfg,
		ex:        deps.Exchange,
		bl:        deps.Blacklist,
		store:     deps.Trades,
		cache:     deps.Cache,
		preCache:  deps.PreCache,
		notifier:  deps.Notifier,
		journal:   deps.Journal,
		evaluator: setup.NewEvaluator(cfg.Strategy, cfg.Location()),
		filter:    regime.NewFilter(cfg.Regime, cfg.Strategy),
		sizer:     NewSizer(cfg.Sizing),
		now:       deps.Now,
		meta:      map[string]models.SymbolMeta{},
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.notifier == nil {
		s.notifier = notify.Console{}
	}
	if s.journal == nil {
		s.journal = storage.NopJournal{}
	}
	return s
}

// AddObserver подписывает наблюдателя на отчеты циклов
func (s *Scanner) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// LastReport отчет последнего завершенного цикла
func (s *Scanner) LastReport() (Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}

// Symbols текущий список символов
func (s *Scanner) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.symbols...)
}

// Init очищает черный список и формирует список символов
func (s *Scanner) Init(ctx context.Context) error {
	if _, err := s.bl.Cleanup(); err != nil {
		logger.Warn("Ошибка очистки черного списка", zap.Error(err))
	}
	return s.loadUniverse(ctx)
}

// Run выполняет циклы с периодом poll_seconds до отмены контекста
func (s *Scanner) Run(ctx context.Context) error {
	if err := s.Init(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Duration(s.cfg.Scanner.PollSeconds) * time.Second)
	defer ticker.Stop()

	for {
		if _, err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Ошибка цикла сканирования", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			logger.Info("Сканер остановлен")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scanner) nextBatch() ([]string, int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.cfg.Scanner.MaxSymbolsPerCycle
	if size <= 0 {
		size = len(s.symbols)
	}
	start := s.scanIdx
	if start >= len(s.symbols) {
		start = 0
	}
	end := start + size
	if end > len(s.symbols) {
		end = len(s.symbols)
	}
	if end >= len(s.symbols) {
		s.scanIdx = 0
	} else {
		s.scanIdx = end
	}
	s.batchNo++
	return append([]string(nil), s.symbols[start:end]...), start, end, s.batchNo
}

// RunCycle один проход: очистка черного списка, батч символов, сопровождение сделок.
// Отмена контекста проверяется между символами.
func (s *Scanner) RunCycle(ctx context.Context) (*Report, error) {
	started := s.now()

	if _, err := s.bl.Cleanup(); err != nil {
		logger.Warn("Ошибка очистки черного списка", zap.Error(err))
	}

	tickers, err := s.ex.Tickers(ctx)
	if err != nil {
		logger.Warn("Не удалось получить тикеры", zap.Error(err))
		tickers = map[string]models.Ticker{}
	}

	batch, start, end, batchNo := s.nextBatch()
	report := &Report{
		At:         started,
		Batch:      batchNo,
		Start:      start,
		End:        end,
		Universe:   len(s.Symbols()),
		AutoBans:   map[string]string{},
		Rejections: map[string]map[string]int{},
	}
	logger.Info("Батч сканирования",
		zap.Int("start", start),
		zap.Int("end", end),
		zap.Int("symbols", len(batch)),
		zap.Strings("timeframes", s.cfg.Scanner.Timeframes))

	candles := exchange.NewCandleCache(s.ex, s.cfg.Exchange.KlineLimit)
	for _, sym := range batch {
		if ctx.Err() != nil {
			break
		}
		s.scanSymbol(ctx, candles, sym, tickers, report)
	}

	s.logCandidates(report)

	if ctx.Err() == nil {
		s.monitorTrades(ctx, tickers, report)
	}

	report.OpenTrades = s.store.OpenCount()
	report.Duration = s.now().Sub(started)

	logger.Info("Цикл завершен",
		zap.Int("batch", report.Batch),
		zap.Int("scanned", report.Scanned),
		zap.Int("signals", len(report.Signals)),
		zap.Int("pre_signals", len(report.PreSignals)),
		zap.Int("auto_bans", len(report.AutoBans)),
		zap.Int("open_trades", report.OpenTrades),
		zap.Any("rejections", report.Rejections),
		zap.Duration("duration", report.Duration))

	if err := s.journal.SaveCycle(ctx, storage.CycleStats{
		At:         report.At,
		Batch:      report.Batch,
		Symbols:    report.Scanned,
		Signals:    len(report.Signals),
		PreSignals: len(report.PreSignals),
		OpenTrades: report.OpenTrades,
		Duration:   report.Duration,
		Rejections: report.Rejections,
	}); err != nil {
		logger.Debug("Цикл не записан в журнал", zap.Error(err))
	}

	s.mu.Lock()
	s.last = report
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()
	for _, o := range observers {
		o.OnCycle(*report)
	}

	return report, ctx.Err()
}

// scanSymbol проверяет один символ по всем таймфреймам
func (s *Scanner) scanSymbol(ctx context.Context, candles *exchange.CandleCache, sym string, tickers map[string]models.Ticker, report *Report) {
	if blocked, why := s.bl.IsBlocked(sym); blocked {
		logger.Debug("Символ в черном списке", zap.String("symbol", sym), zap.String("reason", why))
		return
	}

	var ticker *models.Ticker
	if t, ok := tickers[sym]; ok {
		ticker = &t
	}
	s15 := candles.Series(ctx, sym, autoBanTF15)
	s1h := candles.Series(ctx, sym, autoBanTF1h)
	if code := s.bl.AutoFromCandles(sym, s15, s1h, ticker); code != "" {
		report.AutoBans[sym] = code
		return
	}
	report.Scanned++

	for _, tf := range s.cfg.Scanner.Timeframes {
		if ctx.Err() != nil {
			return
		}
		series := candles.Series(ctx, sym, tf)
		verdict := s.filter.Check(ctx, candles, sym, tf, series)
		if !verdict.Pass {
			report.reject(RegimeBucket, verdict.Reason)
			if s.cfg.Scanner.LogEachEval {
				logger.Debug("Отказ фильтра режима",
					zap.String("symbol", sym),
					zap.String("tf", tf),
					zap.String("reason", verdict.Reason),
					zap.Float64("atr_pct", verdict.ATRPct),
					zap.Float64("adx", verdict.ADX))
			}
			continue
		}

		if s.scanTimeframe(ctx, sym, tf, series, verdict, report) {
			return
		}
	}
}

func (s *Scanner) indices() []int {
	if !s.cfg.Scanner.BackscanEnabled {
		return []int{-2}
	}
	k := s.cfg.Scanner.BackscanK
	if k < 1 {
		k = 1
	}
	out := make([]int, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, -2-i)
	}
	return out
}

// scanTimeframe оценивает последнюю закрытую свечу и свечи бэкскана.
// true означает, что по символу уже есть сигнал и остальные таймфреймы не нужны.
func (s *Scanner) scanTimeframe(ctx context.Context, sym, tf string, series *models.Series, verdict regime.Verdict, report *Report) bool {
	frame := s.evaluator.Prepare(series)

	for _, idx := range s.indices() {
		long, err := frame.Explain(models.Long, idx)
		if err != nil {
			return false
		}
		var short *setup.Explanation
		if s.cfg.Scanner.EnableShorts {
			ex, err := frame.Explain(models.Short, idx)
			if err != nil {
				return false
			}
			short = &ex
		}

		cand, gap := setup.Candidate(&long, short)
		latest := idx == -2
		if latest && s.cfg.Scanner.ShowCandidates && math.Abs(gap) <= s.cfg.Scanner.CandidatesGapMaxATR {
			c := Candidate{
				Symbol: sym, TF: tf, Side: cand.Side, Gap: round3(gap), Reason: cand.Reason(),
				RSI: cand.RSI, EMA: cand.CondEMA, Vol: cand.CondVol, Body: cand.CondBody,
			}
			report.Candidates = append(report.Candidates, c)
			if s.cfg.Scanner.LogEachEval {
				logger.Debug("Оценка",
					zap.String("symbol", sym),
					zap.String("tf", tf),
					zap.String("side", string(c.Side)),
					zap.Float64("gap_atr", c.Gap),
					zap.String("reason", c.Reason))
			}
		}

		best := setup.Best(&long, short, s.cfg.Scanner.SidePolicy, verdict.Bias)
		if best == nil || !verdict.Aligned(best.Side) {
			if latest {
				s.maybePreSignal(ctx, sym, tf, cand, gap, report)
				reason := cand.Reason()
				if best != nil {
					reason = regime.ReasonNoAlign
				}
				report.reject(string(cand.Side), reason)
			}
			continue
		}

		sig := s.buildSignal(sym, tf, best, !latest)
		if s.cache.Has(sig.Key) {
			return true
		}
		s.fire(ctx, sig, latest, report)
		return true
	}
	return false
}

// SignalKey ключ дедупликации: symbol:timeframe:candleOpenMs:side
func SignalKey(symbol, tf string, candle time.Time, side models.Side) string {
	return fmt.Sprintf("%s:%s:%d:%s", symbol, tf, candle.UnixMilli(), side)
}

func (s *Scanner) instrumentMaxLev(sym string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.meta[sym]; ok {
		return m.MaxLeverage
	}
	return s.cfg.Exchange.DefaultMaxLeverage
}

func (s *Scanner) formatter() PriceFormatter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return PriceFormatter{meta: s.meta, defaultDecimals: s.cfg.Sizing.DefaultPriceDecimals}
}

func (s *Scanner) buildSignal(sym, tf string, ex *setup.Explanation, backscan bool) models.Signal {
	zone := s.cfg.Scanner.EntryZoneATR * ex.ATR
	plan := s.sizer.Plan(ex.Entry, ex.StopLoss, s.instrumentMaxLev(sym))
	return models.Signal{
		Key:         SignalKey(sym, tf, ex.CandleTime, ex.Side),
		Symbol:      sym,
		Timeframe:   tf,
		Side:        ex.Side,
		EntryLow:    round8(ex.Entry - zone),
		EntryHigh:   round8(ex.Entry + zone),
		Entry:       ex.Entry,
		StopLoss:    ex.StopLoss,
		TakeProfits: ex.TakeProfits,
		ATR:         round8(ex.ATR),
		Confidence:  100,
		CandleTime:  ex.CandleTime,
		ClosedAt:    ex.ClosedAt,
		Leverage:    plan.Leverage,
		Notional:    plan.Notional,
		Margin:      plan.Margin,
		Backscan:    backscan,
	}
}

// fire рассылает сигнал, заводит сделку (только для последней закрытой свечи) и запоминает ключ
func (s *Scanner) fire(ctx context.Context, sig models.Signal, openTrade bool, report *Report) {
	msg := notify.Message{
		Kind:    notify.KindSignal,
		Key:     sig.Key,
		Symbol:  sig.Symbol,
		Text:    formatSignal(sig, s.formatter()),
		Payload: sig,
		Time:    s.now(),
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		logger.Error("Ошибка отправки сигнала", zap.String("key", sig.Key), zap.Error(err))
	}
	if err := s.journal.SaveSignal(ctx, sig); err != nil {
		logger.Debug("Сигнал не записан в журнал", zap.Error(err))
	}

	if openTrade {
		rec, err := trades.NewRecord(sig)
		if err != nil {
			logger.Error("Не удалось создать сделку", zap.String("key", sig.Key), zap.Error(err))
		} else if _, err := s.store.Add(sig.Key, rec); err != nil {
			logger.Error("Не удалось сохранить сделку", zap.String("key", sig.Key), zap.Error(err))
		}
	}

	if err := s.cache.Add(sig.Key); err != nil {
		logger.Error("Не удалось сохранить кэш сигналов", zap.Error(err))
	}
	report.Signals = append(report.Signals, sig)

	logger.Info("Сигнал",
		zap.String("key", sig.Key),
		zap.String("side", string(sig.Side)),
		zap.Float64("entry", sig.Entry),
		zap.Float64("stop_loss", sig.StopLoss),
		zap.Float64("leverage", sig.Leverage),
		zap.Bool("backscan", sig.Backscan))
}

// maybePreSignal ранний алерт: пробоя еще нет, но остальные условия выполнены и цена близко
func (s *Scanner) maybePreSignal(ctx context.Context, sym, tf string, ex *setup.Explanation, gap float64, report *Report) {
	sc := s.cfg.Scanner
	if !sc.PreSignalEnabled || math.Abs(gap) > sc.PreSignalGapATR || ex.CondBreak {
		return
	}
	if !(ex.CondEMA && ex.CondRSI && ex.CondBody) || (sc.PreSignalRequireVol && !ex.CondVol) {
		return
	}

	key := "PRE:" + SignalKey(sym, tf, ex.CandleTime, ex.Side)
	if s.preCache.Has(key) {
		return
	}

	trigger := ex.Trigger()
	zone := sc.PreSignalZoneATR * ex.ATR
	stopDist := s.cfg.Strategy.ATRStopMult * ex.ATR
	pre := models.PreSignal{
		Key:        key,
		Symbol:     sym,
		Timeframe:  tf,
		Side:       ex.Side,
		Trigger:    trigger,
		GapATR:     gap,
		RSI:        ex.RSI,
		EMAOk:      ex.CondEMA,
		BodyOk:     ex.CondBody,
		ClosedAt:   ex.ClosedAt,
		Confidence: sc.PreSignalConfidence,
	}
	if ex.Side == models.Long {
		pre.ZoneLow, pre.ZoneHigh, pre.StopLoss = trigger, trigger+zone, trigger-stopDist
	} else {
		pre.ZoneLow, pre.ZoneHigh, pre.StopLoss = trigger-zone, trigger, trigger+stopDist
	}
	plan := s.sizer.Plan(trigger, pre.StopLoss, s.instrumentMaxLev(sym))
	pre.Leverage, pre.Notional, pre.Margin = plan.Leverage, plan.Notional, plan.Margin

	msg := notify.Message{
		Kind:    notify.KindPreSignal,
		Key:     key,
		Symbol:  sym,
		Text:    formatPreSignal(pre, s.formatter()),
		Payload: pre,
		Time:    s.now(),
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		logger.Error("Ошибка отправки пре-сигнала", zap.String("key", key), zap.Error(err))
	}
	if err := s.preCache.Add(key); err != nil {
		logger.Error("Не удалось сохранить кэш пре-сигналов", zap.Error(err))
	}
	report.PreSignals = append(report.PreSignals, pre)
}

func (s *Scanner) logCandidates(report *Report) {
	if !s.cfg.Scanner.ShowCandidates {
		return
	}
	sort.SliceStable(report.Candidates, func(i, j int) bool {
		return math.Abs(report.Candidates[i].Gap) < math.Abs(report.Candidates[j].Gap)
	})
	if n := s.cfg.Scanner.CandidatesTopN; n > 0 && len(report.Candidates) > n {
		report.Candidates = report.Candidates[:n]
	}
	if s.cfg.Scanner.LogEachEval {
		return
	}
	if len(report.Candidates) == 0 {
		logger.Info("Нет кандидатов рядом с триггером")
		return
	}
	for _, c := range report.Candidates {
		logger.Info("Кандидат",
			zap.String("symbol", c.Symbol),
			zap.String("tf", c.TF),
			zap.String("side", string(c.Side)),
			zap.Float64("gap_atr", c.Gap),
			zap.String("reason", c.Reason),
			zap.Float64("rsi", round2(c.RSI)),
			zap.Bool("ema", c.EMA),
			zap.Bool("vol", c.Vol),
			zap.Bool("body", c.Body))
	}
}

// monitorTrades продвигает открытые сделки по последним ценам тикеров
func (s *Scanner) monitorTrades(ctx context.Context, tickers map[string]models.Ticker, report *Report) {
	if len(tickers) == 0 {
		return
	}
	prices := make(map[string]float64, len(tickers))
	for sym, t := range tickers {
		if t.LastPrice > 0 {
			prices[sym] = t.LastPrice
		}
	}

	events, err := s.store.Advance(prices, s.now(), s.bl)
	if err != nil {
		logger.Error("Ошибка сопровождения сделок", zap.Error(err))
	}
	report.Updates = events

	f := s.formatter()
	for _, ev := range events {
		msg := notify.Message{
			Kind:    notify.KindTradeUpdate,
			Key:     ev.Key,
			Symbol:  ev.Record.Symbol,
			Text:    formatTradeUpdate(ev, f),
			Payload: ev.Update,
			Time:    s.now(),
		}
		if err := s.notifier.Notify(ctx, msg); err != nil {
			logger.Error("Ошибка отправки обновления сделки", zap.String("key", ev.Key), zap.Error(err))
		}
		if err := s.journal.SaveTradeEvent(ctx, storage.TradeEvent{
			At:     s.now(),
			Key:    ev.Key,
			Symbol: ev.Record.Symbol,
			Side:   ev.Record.Side,
			Event:  ev.Update.Event,
			Price:  ev.Update.Price,
			ROIPct: ev.Update.ROIPct,
		}); err != nil {
			logger.Debug("Событие сделки не записано в журнал", zap.Error(err))
		}
	}
}

func round3(x float64) float64 {
	return math.Round(x*1e3) / 1e3
}

func round8(x float64) float64 {
	return math.Round(x*1e8) / 1e8
}

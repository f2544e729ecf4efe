package models

import (
	"strings"
	"time"
)

// Side направление сделки
type Side string

const (
	Long    Side = "LONG"
	Short   Side = "SHORT"
	Neutral Side = "NEUTRAL"
)

// Opposite возвращает противоположное направление
func (s Side) Opposite() Side {
	switch s {
	case Long:
		return Short
	case Short:
		return Long
	}
	return Neutral
}

// Candle представляет свечу
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Turnover float64
}

// Series упорядоченная по времени серия свечей одного символа и таймфрейма.
// После получения с биржи серия не изменяется.
type Series struct {
	Symbol   string
	Interval string
	Candles  []Candle
}

// Len количество свечей
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Candles)
}

// Closes возвращает цены закрытия
func (s *Series) Closes() []float64 {
	out := make([]float64, s.Len())
	for i, c := range s.Candles {
		out[i] = c.Close
	}
	return out
}

// Highs возвращает максимумы
func (s *Series) Highs() []float64 {
	out := make([]float64, s.Len())
	for i, c := range s.Candles {
		out[i] = c.High
	}
	return out
}

// Lows возвращает минимумы
func (s *Series) Lows() []float64 {
	out := make([]float64, s.Len())
	for i, c := range s.Candles {
		out[i] = c.Low
	}
	return out
}

// Volumes возвращает объемы
func (s *Series) Volumes() []float64 {
	out := make([]float64, s.Len())
	for i, c := range s.Candles {
		out[i] = c.Volume
	}
	return out
}

// Tail возвращает последние n свечей (без копирования)
func (s *Series) Tail(n int) []Candle {
	if n >= s.Len() {
		return s.Candles
	}
	return s.Candles[s.Len()-n:]
}

// Ticker 24-часовая статистика по символу
type Ticker struct {
	Symbol      string
	LastPrice   float64
	Turnover24h float64
}

// Instrument описание контракта
type Instrument struct {
	Symbol       string
	Status       string
	ContractType string
	QuoteAsset   string
	TickSize     string
	MaxLeverage  float64
}

// SymbolMeta параметры форматирования цены и плеча
type SymbolMeta struct {
	Tick        float64
	Decimals    int
	MaxLeverage float64
}

// NormalizeSymbol приводит символ к каноническому виду
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Signal сигнал на вход в сделку
type Signal struct {
	Key         string
	Symbol      string
	Timeframe   string
	Side        Side
	EntryLow    float64
	EntryHigh   float64
	Entry       float64
	StopLoss    float64
	TakeProfits []float64
	ATR         float64
	Confidence  float64
	CandleTime  time.Time
	ClosedAt    string
	Leverage    float64
	Notional    float64
	Margin      float64
	Backscan    bool
}

// PreSignal ранний алерт: все условия кроме пробоя выполнены, цена близко к триггеру
type PreSignal struct {
	Key        string
	Symbol     string
	Timeframe  string
	Side       Side
	Trigger    float64
	ZoneLow    float64
	ZoneHigh   float64
	StopLoss   float64
	GapATR     float64
	RSI        float64
	EMAOk      bool
	BodyOk     bool
	ClosedAt   string
	Confidence float64
	Leverage   float64
	Notional   float64
	Margin     float64
}

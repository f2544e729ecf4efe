// Package trades учет сигналов: кэш ключей дедупликации, журнал сделок
// и продвижение сделок по статусам TP1/TP2/TP3/STOP.
package trades

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/skalibog/moonshot/pkg/models"
)

// Status состояние сделки
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusTP1       Status = "TP1"
	StatusTP2       Status = "TP2"
	StatusClosedTP3 Status = "CLOSED_TP3"
	StatusStop      Status = "STOP"
)

// Terminal завершена ли сделка
func (s Status) Terminal() bool {
	return s == StatusClosedTP3 || s == StatusStop
}

func (s Status) rank() int {
	switch s {
	case StatusTP1:
		return 1
	case StatusTP2:
		return 2
	case StatusClosedTP3:
		return 3
	}
	return 0
}

// TimeLayout формат отметок времени в журнале сделок
const TimeLayout = "2006-01-02 15:04:05 UTC"

// Update событие в истории сделки
type Update struct {
	TS     string   `json:"ts"`
	Event  string   `json:"event"`
	Price  float64  `json:"price"`
	ROIPct *float64 `json:"roi_pct,omitempty"`
}

// Record сделка, открытая по сигналу. Поля, которых структура не знает
// (например, notified от внешних утилит), сохраняются в Extra и пишутся обратно.
type Record struct {
	ID         string      `json:"id,omitempty"`
	Symbol     string      `json:"symbol"`
	TF         string      `json:"tf"`
	Side       models.Side `json:"side"`
	Status     Status      `json:"status"`
	Entry      float64     `json:"entry"`
	SL         float64     `json:"sl"`
	TP1        float64     `json:"tp1"`
	TP2        float64     `json:"tp2"`
	TP3        float64     `json:"tp3"`
	Lev        float64     `json:"lev"`
	Notional   float64     `json:"notional"`
	CreatedAt  string      `json:"created_at"`
	Updates    []Update    `json:"updates"`
	ExitPrice  *float64    `json:"exit_price,omitempty"`
	ExitReason string      `json:"exit_reason,omitempty"`
	ROIPct     *float64    `json:"roi_pct,omitempty"`
	ClosedAt   string      `json:"closed_at,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var knownFields = []string{
	"id", "symbol", "tf", "side", "status", "entry", "sl", "tp1", "tp2", "tp3",
	"lev", "notional", "created_at", "updates", "exit_price", "exit_reason", "roi_pct", "closed_at",
}

type plainRecord Record

// UnmarshalJSON разбирает запись, откладывая незнакомые поля в Extra
func (r *Record) UnmarshalJSON(data []byte) error {
	var p plainRecord
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownFields {
		delete(raw, k)
	}
	if len(raw) > 0 {
		p.Extra = raw
	}
	*r = Record(p)
	if r.Updates == nil {
		r.Updates = []Update{}
	}
	return nil
}

// MarshalJSON пишет известные поля и возвращает на место незнакомые
func (r Record) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(plainRecord(r))
	if err != nil || len(r.Extra) == 0 {
		return data, err
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return json.Marshal(out)
}

// NewRecord создает открытую сделку по сигналу
func NewRecord(sig models.Signal) (*Record, error) {
	if len(sig.TakeProfits) < 3 {
		return nil, fmt.Errorf("сигнал %s: нужно минимум 3 тейк-профита, получено %d", sig.Key, len(sig.TakeProfits))
	}
	return &Record{
		ID:        uuid.New().String(),
		Symbol:    sig.Symbol,
		TF:        sig.Timeframe,
		Side:      sig.Side,
		Status:    StatusOpen,
		Entry:     sig.Entry,
		SL:        sig.StopLoss,
		TP1:       sig.TakeProfits[0],
		TP2:       sig.TakeProfits[1],
		TP3:       sig.TakeProfits[2],
		Lev:       sig.Leverage,
		Notional:  sig.Notional,
		CreatedAt: sig.ClosedAt,
		Updates:   []Update{},
	}, nil
}

// ROI доходность сделки в процентах с учетом плеча
func ROI(side models.Side, entry, exit, lev float64) float64 {
	if entry == 0 {
		return 0
	}
	dir := 1.0
	if side == models.Short {
		dir = -1
	}
	return math.Round(dir*(exit-entry)/entry*lev*100*1e4) / 1e4
}

// Advance продвигает сделку по цене. Возвращает новые события (пусто, если ничего не произошло).
// Стоп проверяется первым и срабатывает из любого незавершенного состояния.
// Иначе фиксируются все пересеченные уровни по порядку; TP1 переносит стоп в безубыток.
func (r *Record) Advance(price float64, now time.Time) []Update {
	var events []Update
	r.advance(price, now, func(u Update) { events = append(events, u) })
	return events
}

// snapshot копия записи с собственной историей обновлений
func (r *Record) snapshot() Record {
	c := *r
	c.Updates = append([]Update(nil), r.Updates...)
	return c
}

// advance вызывает emit сразу после каждого перехода, пока запись в состоянии этого перехода
func (r *Record) advance(price float64, now time.Time, emit func(Update)) {
	if r.Status.Terminal() || price <= 0 || math.IsNaN(price) {
		return
	}

	dir := 1.0
	if r.Side == models.Short {
		dir = -1
	}
	ts := now.UTC().Format(TimeLayout)

	if dir*(price-r.SL) <= 0 {
		reason := "BE"
		if dir*(price-r.Entry) < 0 {
			reason = "STOP"
		}
		emit(r.close(StatusStop, reason, price, ts))
		return
	}

	levels := []struct {
		status Status
		price  float64
	}{
		{StatusTP1, r.TP1},
		{StatusTP2, r.TP2},
		{StatusClosedTP3, r.TP3},
	}
	for _, lvl := range levels {
		if lvl.status.rank() <= r.Status.rank() || dir*(price-lvl.price) < 0 {
			continue
		}
		switch lvl.status {
		case StatusClosedTP3:
			emit(r.close(StatusClosedTP3, "TP3", price, ts))
		default:
			r.Status = lvl.status
			if lvl.status == StatusTP1 {
				r.SL = r.Entry
			}
			u := Update{TS: ts, Event: string(lvl.status), Price: price}
			r.Updates = append(r.Updates, u)
			emit(u)
		}
	}
}

func (r *Record) close(status Status, reason string, price float64, ts string) Update {
	roi := ROI(r.Side, r.Entry, price, r.Lev)
	exit := price
	r.Status = status
	r.ExitPrice = &exit
	r.ExitReason = reason
	r.ROIPct = &roi
	r.ClosedAt = ts

	event := reason
	if status == StatusStop {
		event = "STOP"
	}
	u := Update{TS: ts, Event: event, Price: price, ROIPct: &roi}
	r.Updates = append(r.Updates, u)
	return u
}

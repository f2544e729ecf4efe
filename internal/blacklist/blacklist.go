// Package blacklist динамический черный список символов: временные и постоянные баны,
// страйки по стоп-лоссам и автоматические правила по свечам.
package blacklist

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skalibog/moonshot/internal/config"
	"github.com/skalibog/moonshot/pkg/jsonfile"
	"github.com/skalibog/moonshot/pkg/logger"
	"github.com/skalibog/moonshot/pkg/models"
	"go.uber.org/zap"
)

// Причины, которые выставляет сам движок
const (
	ReasonHardDeny = "hard_denylist"
	ReasonStrike   = "strike"
	ReasonPerm     = "permanent"
)

// Entry запись черного списка. Until == nil означает постоянный бан независимо от страйков.
type Entry struct {
	Symbol      string   `json:"symbol"`
	Reason      string   `json:"reason"`
	Until       *float64 `json:"until"`
	Strikes     int      `json:"strikes"`
	FirstSeen   float64  `json:"first_seen"`
	LastUpdated float64  `json:"last_updated"`
}

// Permanent постоянный ли бан
func (e Entry) Permanent() bool {
	return e.Until == nil
}

// document каноническая форма файла
type document struct {
	Entries map[string]*Entry `json:"entries"`
}

// Option настройка движка
type Option func(*Engine)

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine реестр банов с сохранением в JSON-файл.
// Безопасен для чтения из нескольких горутин (сканер и веб-эндпоинт).
type Engine struct {
	mu      sync.RWMutex
	path    string
	enabled bool
	rules   config.BlacklistRules
	hard    map[string]struct{}
	entries map[string]*Entry
	now     func() time.Time
}

// NewEngine создает движок и загружает состояние из файла.
// Старые форматы приводятся к канонической форме и сразу перезаписываются;
// поврежденный файл откладывается в <path>.corrupted, работа продолжается с пустым списком.
func NewEngine(cfg config.BlacklistConfig, opts ...Option) *Engine {
	e := &Engine{
		path:    cfg.File,
		enabled: cfg.Enabled,
		rules:   cfg.Rules,
		hard:    make(map[string]struct{}, len(cfg.HardDenylist)),
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
	if e.path == "" {
		e.path = "moonshot_blacklist.json"
	}
	for _, s := range cfg.HardDenylist {
		e.hard[models.NormalizeSymbol(s)] = struct{}{}
	}
	for _, opt := range opts {
		opt(e)
	}

	e.load()
	return e
}

func (e *Engine) nowSec() float64 {
	return float64(e.now().UnixNano()) / 1e9
}

func (e *Engine) load() {
	data, err := jsonfile.Read(e.path)
	if err != nil {
		logger.Warn("Не удалось прочитать черный список", zap.String("path", e.path), zap.Error(err))
		return
	}
	if data == nil {
		return
	}

	entries, shape, err := migrate(data, e.nowSec())
	if err != nil {
		dst, qerr := jsonfile.Quarantine(e.path)
		logger.Warn("Черный список поврежден, начинаем с пустого",
			zap.String("path", e.path),
			zap.String("moved_to", dst),
			zap.Error(err),
			zap.NamedError("quarantine_error", qerr))
		return
	}

	e.entries = entries
	if err := e.save(); err != nil {
		logger.Warn("Не удалось перезаписать черный список", zap.String("path", e.path), zap.Error(err))
	}
	logger.Info("Загружен черный список",
		zap.String("path", e.path),
		zap.String("shape", shape),
		zap.Int("entries", len(entries)))
}

// save полная атомарная перезапись документа. Вызывается под блокировкой.
func (e *Engine) save() error {
	return jsonfile.Write(e.path, document{Entries: e.entries})
}

// IsBlocked заблокирован ли символ и по какой причине
func (e *Engine) IsBlocked(symbol string) (bool, string) {
	s := models.NormalizeSymbol(symbol)
	if _, ok := e.hard[s]; ok {
		return true, ReasonHardDeny
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	entry, ok := e.entries[s]
	if !ok {
		return false, ""
	}
	if entry.Permanent() {
		return true, entry.Reason
	}
	if e.nowSec() < *entry.Until {
		return true, entry.Reason
	}
	return false, ""
}

// BanTemp временный бан на hours часов; страйки накапливаются, first_seen сохраняется
func (e *Engine) BanTemp(symbol string, hours float64, reason string, strikeInc int) error {
	if !e.enabled {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.banTempLocked(models.NormalizeSymbol(symbol), hours, reason, strikeInc)
	return e.save()
}

func (e *Engine) banTempLocked(s string, hours float64, reason string, strikeInc int) {
	now := e.nowSec()
	until := now + hours*3600
	entry := &Entry{
		Symbol:      s,
		Reason:      reason,
		Until:       &until,
		Strikes:     strikeInc,
		FirstSeen:   now,
		LastUpdated: now,
	}
	if old, ok := e.entries[s]; ok {
		entry.Strikes += old.Strikes
		if old.FirstSeen > 0 {
			entry.FirstSeen = old.FirstSeen
		}
	}
	e.entries[s] = entry

	logger.Info("Временный бан",
		zap.String("symbol", s),
		zap.String("reason", reason),
		zap.Float64("hours", hours),
		zap.Int("strikes", entry.Strikes))
}

// BanPerm постоянный бан
func (e *Engine) BanPerm(symbol, reason string) error {
	if !e.enabled {
		return nil
	}
	if reason == "" {
		reason = ReasonPerm
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := models.NormalizeSymbol(symbol)
	now := e.nowSec()
	entry := &Entry{
		Symbol:      s,
		Reason:      reason,
		FirstSeen:   now,
		LastUpdated: now,
	}
	if old, ok := e.entries[s]; ok {
		entry.Strikes = old.Strikes
		if old.FirstSeen > 0 {
			entry.FirstSeen = old.FirstSeen
		}
	}
	e.entries[s] = entry

	logger.Info("Постоянный бан", zap.String("symbol", s), zap.String("reason", reason))
	return e.save()
}

// Unban удаляет запись безусловно
func (e *Engine) Unban(symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := models.NormalizeSymbol(symbol)
	if _, ok := e.entries[s]; !ok {
		return nil
	}
	delete(e.entries, s)
	logger.Info("Символ разблокирован", zap.String("symbol", s))
	return e.save()
}

// Cleanup удаляет истекшие записи и возвращает их символы.
// Записи, хранящие только страйки, живут strike_memory_hours с момента последнего стопа.
func (e *Engine) Cleanup() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.nowSec()
	memory := e.rules.StrikeMemoryHours * 3600

	var removed []string
	for s, entry := range e.entries {
		if entry.Permanent() || now < *entry.Until {
			continue
		}
		if entry.Reason == ReasonStrike && now < entry.LastUpdated+memory {
			continue
		}
		delete(e.entries, s)
		removed = append(removed, s)
	}
	if len(removed) == 0 {
		return nil, nil
	}

	sort.Strings(removed)
	logger.Debug("Очистка черного списка", zap.Strings("removed", removed))
	return removed, e.save()
}

// RegisterStop учитывает стоп-лосс по символу. При достижении порога страйков
// символ уходит в кулдаун. Постоянный бан не меняется, растет только счетчик.
func (e *Engine) RegisterStop(symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := models.NormalizeSymbol(symbol)
	now := e.nowSec()

	entry := &Entry{
		Symbol:      s,
		Reason:      ReasonStrike,
		Until:       &now,
		Strikes:     1,
		FirstSeen:   now,
		LastUpdated: now,
	}
	if old, ok := e.entries[s]; ok {
		entry.Strikes = old.Strikes + 1
		entry.Until = old.Until
		if old.FirstSeen > 0 {
			entry.FirstSeen = old.FirstSeen
		}
		if old.Permanent() || now < *old.Until {
			entry.Reason = old.Reason
		}
	}
	e.entries[s] = entry

	logger.Info("Стоп-лосс по символу",
		zap.String("symbol", s),
		zap.Int("strikes", entry.Strikes))

	threshold := e.rules.StopStrikesForCooldown
	if e.enabled && !entry.Permanent() && threshold > 0 && entry.Strikes >= threshold {
		e.banTempLocked(s, e.rules.CooldownHoursOnStrikes, fmt.Sprintf("%d SL strikes (cooldown)", entry.Strikes), 0)
	}
	return e.save()
}

// Entries копия всех записей, отсортированная по символу
func (e *Engine) Entries() []Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Entry, 0, len(e.entries))
	for _, entry := range e.entries {
		out = append(out, entry.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Get запись по символу
func (e *Engine) Get(symbol string) (Entry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entry, ok := e.entries[models.NormalizeSymbol(symbol)]
	if !ok {
		return Entry{}, false
	}
	return entry.clone(), true
}

func (e *Entry) clone() Entry {
	cp := *e
	if e.Until != nil {
		until := *e.Until
		cp.Until = &until
	}
	return cp
}

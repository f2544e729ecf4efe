package trades

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skalibog/moonshot/pkg/jsonfile"
	"github.com/skalibog/moonshot/pkg/logger"
	"github.com/skalibog/moonshot/pkg/models"
	"go.uber.org/zap"
)

// StopRegistrar получает уведомления о стоп-лоссах (черный список)
type StopRegistrar interface {
	RegisterStop(symbol string) error
}

// Event изменение статуса сделки
type Event struct {
	Key    string
	Record Record
	Update Update
}

// Store журнал сделок: JSON-объект, ключ - ключ дедупликации сигнала
type Store struct {
	mu      sync.Mutex
	path    string
	records map[string]*Record
}

// OpenStore загружает журнал. Поврежденный файл откладывается в сторону.
func OpenStore(path string) *Store {
	s := &Store{path: path, records: make(map[string]*Record)}

	data, err := jsonfile.Read(path)
	if err != nil {
		logger.Warn("Не удалось прочитать журнал сделок", zap.String("path", path), zap.Error(err))
		return s
	}
	if data == nil {
		return s
	}

	var records map[string]*Record
	if err := json.Unmarshal(data, &records); err != nil {
		dst, qerr := jsonfile.Quarantine(path)
		logger.Warn("Журнал сделок поврежден, начинаем с пустого",
			zap.String("path", path),
			zap.String("moved_to", dst),
			zap.Error(err),
			zap.NamedError("quarantine_error", qerr))
		return s
	}
	for k, r := range records {
		if r == nil {
			continue
		}
		s.records[k] = r
	}
	logger.Info("Загружен журнал сделок", zap.String("path", path), zap.Int("trades", len(s.records)))
	return s
}

func (s *Store) save() error {
	if err := jsonfile.Write(s.path, s.records); err != nil {
		return fmt.Errorf("ошибка сохранения журнала сделок: %w", err)
	}
	return nil
}

// Add добавляет сделку, если ключ еще не встречался. false означает дубликат.
func (s *Store) Add(key string, r *Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; ok {
		return false, nil
	}
	s.records[key] = r
	return true, s.save()
}

// Get копия сделки по ключу
func (s *Store) Get(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[key]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// OpenCount количество незавершенных сделок
func (s *Store) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.records {
		if !r.Status.Terminal() {
			n++
		}
	}
	return n
}

// OpenSymbols символы незавершенных сделок
func (s *Store) OpenSymbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, r := range s.records {
		sym := models.NormalizeSymbol(r.Symbol)
		if r.Status.Terminal() || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Advance продвигает открытые сделки по последним ценам.
// На каждый переход в STOP вызывается stops.RegisterStop.
func (s *Store) Advance(prices map[string]float64, now time.Time, stops StopRegistrar) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var events []Event
	for _, key := range keys {
		r := s.records[key]
		if r.Status.Terminal() {
			continue
		}
		price, ok := prices[models.NormalizeSymbol(r.Symbol)]
		if !ok {
			continue
		}

		r.advance(price, now, func(u Update) {
			events = append(events, Event{Key: key, Record: r.snapshot(), Update: u})
			logger.Info("Обновление сделки",
				zap.String("key", key),
				zap.String("event", u.Event),
				zap.Float64("price", u.Price))

			if u.Event == string(StatusStop) && stops != nil {
				if err := stops.RegisterStop(r.Symbol); err != nil {
					logger.Error("Не удалось учесть стоп", zap.String("symbol", r.Symbol), zap.Error(err))
				}
			}
		})
	}

	if len(events) == 0 {
		return nil, nil
	}
	return events, s.save()
}

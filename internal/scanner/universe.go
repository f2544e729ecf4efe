package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/skalibog/moonshot/pkg/jsonfile"
	"github.com/skalibog/moonshot/pkg/logger"
	"github.com/skalibog/moonshot/pkg/models"
	"go.uber.org/zap"
)

const maxInstrumentPages = 100

// instruments проходит все страницы списка контрактов до пустого курсора
func (s *Scanner) instruments(ctx context.Context) ([]models.Instrument, error) {
	var out []models.Instrument
	cursor := ""
	for page := 0; page < maxInstrumentPages; page++ {
		items, next, err := s.ex.InstrumentsPage(ctx, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if next == "" || len(items) == 0 {
			return out, nil
		}
		cursor = next
	}
	logger.Warn("Превышено число страниц списка контрактов", zap.Int("pages", maxInstrumentPages))
	return out, nil
}

// eligible может ли символ попасть в сканирование.
// Порядок: статический denylist, динамический черный список, allowlist.
func (s *Scanner) eligible(sym string) (bool, string) {
	if contains(s.cfg.Universe.Denylist, sym) {
		return false, "denylist"
	}
	if blocked, why := s.bl.IsBlocked(sym); blocked {
		return false, why
	}
	return s.allowed(sym)
}

// allowed статические ограничения без черного списка: временные баны
// проверяются в каждом батче, чтобы символ возвращался после очистки
func (s *Scanner) allowed(sym string) (bool, string) {
	u := s.cfg.Universe
	if contains(u.Denylist, sym) {
		return false, "denylist"
	}
	if len(u.Allowlist) > 0 && !contains(u.Allowlist, sym) {
		return false, "allowlist"
	}
	return true, ""
}

// discover отбирает бессрочные контракты нужной котируемой валюты
func (s *Scanner) discover(instruments []models.Instrument) []string {
	u := s.cfg.Universe
	seen := make(map[string]bool)
	var out []string

	for _, it := range instruments {
		sym := models.NormalizeSymbol(it.Symbol)
		if sym == "" || seen[sym] {
			continue
		}
		if !strings.EqualFold(it.Status, "TRADING") || !strings.Contains(strings.ToUpper(it.ContractType), "PERPETUAL") {
			continue
		}
		if u.QuoteAsset != "" && !strings.EqualFold(it.QuoteAsset, u.QuoteAsset) {
			continue
		}
		if hasPrefix(sym, u.ExcludePrefixes) {
			continue
		}
		if ok, why := s.eligible(sym); !ok {
			logger.Debug("Символ пропущен", zap.String("symbol", sym), zap.String("reason", why))
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// loadUniverse формирует список символов и метаданные цен
func (s *Scanner) loadUniverse(ctx context.Context) error {
	instruments, err := s.instruments(ctx)
	if err != nil {
		logger.Warn("Не удалось получить список контрактов", zap.Error(err))
	}

	meta := make(map[string]models.SymbolMeta, len(instruments))
	for _, it := range instruments {
		meta[models.NormalizeSymbol(it.Symbol)] = metaFromInstrument(it, s.cfg.Exchange.DefaultMaxLeverage)
	}

	var symbols []string
	if s.cfg.Universe.SymbolsAuto {
		symbols = s.cachedSymbols()
		if len(symbols) == 0 {
			if err != nil {
				return fmt.Errorf("автоматический подбор символов невозможен: %w", err)
			}
			symbols = s.discover(instruments)
			if path := s.cfg.Universe.SymbolsCacheFile; path != "" {
				if werr := jsonfile.Write(path, symbols); werr != nil {
					logger.Warn("Не удалось сохранить кэш символов", zap.String("path", path), zap.Error(werr))
				}
			}
		}
	} else {
		symbols = append(symbols, s.cfg.Universe.Symbols...)
	}

	for _, sym := range s.cfg.Universe.AlwaysInclude {
		if !contains(symbols, sym) {
			symbols = append(symbols, sym)
		}
	}

	final := make([]string, 0, len(symbols))
	seen := make(map[string]bool)
	for _, sym := range symbols {
		sym = models.NormalizeSymbol(sym)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		if ok, why := s.allowed(sym); !ok {
			logger.Debug("Символ исключен", zap.String("symbol", sym), zap.String("reason", why))
			continue
		}
		final = append(final, sym)
	}

	s.mu.Lock()
	s.symbols = final
	s.meta = meta
	s.mu.Unlock()

	logger.Info("Сформирован список символов",
		zap.Int("total", len(final)),
		zap.Bool("auto", s.cfg.Universe.SymbolsAuto),
		zap.Int("instruments", len(instruments)))
	return nil
}

func (s *Scanner) cachedSymbols() []string {
	path := s.cfg.Universe.SymbolsCacheFile
	if path == "" {
		return nil
	}
	data, err := jsonfile.Read(path)
	if err != nil || data == nil {
		return nil
	}
	var symbols []string
	if err := json.Unmarshal(data, &symbols); err != nil {
		logger.Warn("Кэш символов поврежден", zap.String("path", path), zap.Error(err))
		return nil
	}
	return symbols
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func hasPrefix(sym string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(sym, p) {
			return true
		}
	}
	return false
}

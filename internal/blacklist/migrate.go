package blacklist

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/skalibog/moonshot/pkg/models"
)

// Формы документа на диске
const (
	shapeCanonical = "entries"
	shapeList      = "list"
	shapeSymbols   = "symbols"
	shapeDirect    = "direct"
	shapeFlags     = "flags"
	shapeUnknown   = "unknown"
)

// Причины для записей, восстановленных из старых форматов
const (
	reasonLegacyList = "legacy_list"
	reasonLegacyDict = "legacy_dict"
	reasonLegacyFlag = "legacy_dict_flag"
	reasonUnknown    = "unspecified"
)

// migrate приводит любую поддерживаемую форму документа к каноническому набору записей.
// Поддерживаются:
//
//	["ABCUSDT", ...]
//	{"symbols": ["ABCUSDT", ...]}
//	{"entries": {"ABCUSDT": {...}}}
//	{"ABCUSDT": {...}}            записи напрямую
//	{"ABCUSDT": true, ...}        флаги, в т.ч. вперемешку с записями
//
// Ошибка означает, что документ поврежден.
func migrate(data []byte, now float64) (map[string]*Entry, string, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, "", fmt.Errorf("документ не является JSON: %w", err)
	}

	switch doc := raw.(type) {
	case []interface{}:
		entries, err := fromList(doc, now)
		return entries, shapeList, err

	case map[string]interface{}:
		if v, ok := doc["entries"]; ok {
			m, ok := v.(map[string]interface{})
			if !ok {
				return nil, "", errors.New("поле entries должно быть объектом")
			}
			entries, err := fromRecords(m, now)
			return entries, shapeCanonical, err
		}
		if v, ok := doc["symbols"]; ok {
			if list, ok := v.([]interface{}); ok {
				entries, err := fromList(list, now)
				return entries, shapeSymbols, err
			}
		}
		if len(doc) > 0 && allRecords(doc) {
			entries, err := fromRecords(doc, now)
			return entries, shapeDirect, err
		}
		entries, err := fromFlags(doc, now)
		return entries, shapeFlags, err
	}

	return map[string]*Entry{}, shapeUnknown, nil
}

func fromList(list []interface{}, now float64) (map[string]*Entry, error) {
	entries := make(map[string]*Entry, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			continue
		}
		sym := models.NormalizeSymbol(s)
		if sym == "" {
			continue
		}
		entries[sym] = &Entry{
			Symbol:      sym,
			Reason:      reasonLegacyList,
			Strikes:     0,
			FirstSeen:   now,
			LastUpdated: now,
		}
	}
	return entries, nil
}

func allRecords(doc map[string]interface{}) bool {
	for _, v := range doc {
		m, ok := v.(map[string]interface{})
		if !ok {
			return false
		}
		_, hasSymbol := m["symbol"]
		_, hasUntil := m["until"]
		_, hasReason := m["reason"]
		if !hasSymbol && !hasUntil && !hasReason {
			return false
		}
	}
	return true
}

func fromRecords(doc map[string]interface{}, now float64) (map[string]*Entry, error) {
	entries := make(map[string]*Entry, len(doc))
	for key, v := range doc {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("запись %q должна быть объектом", key)
		}
		e, err := sanitize(key, m, reasonUnknown, now)
		if err != nil {
			return nil, err
		}
		if e.Symbol == "" {
			continue
		}
		entries[e.Symbol] = e
	}
	return entries, nil
}

func fromFlags(doc map[string]interface{}, now float64) (map[string]*Entry, error) {
	entries := make(map[string]*Entry, len(doc))
	for key, v := range doc {
		if m, ok := v.(map[string]interface{}); ok {
			e, err := sanitize(key, m, reasonLegacyDict, now)
			if err != nil {
				return nil, err
			}
			if e.Symbol != "" {
				entries[e.Symbol] = e
			}
			continue
		}
		sym := models.NormalizeSymbol(key)
		if sym == "" {
			continue
		}
		entries[sym] = &Entry{
			Symbol:      sym,
			Reason:      reasonLegacyFlag,
			FirstSeen:   now,
			LastUpdated: now,
		}
	}
	return entries, nil
}

func sanitize(key string, m map[string]interface{}, defaultReason string, now float64) (*Entry, error) {
	e := &Entry{
		Reason:      defaultReason,
		FirstSeen:   now,
		LastUpdated: now,
	}

	e.Symbol = models.NormalizeSymbol(key)
	if s, ok := m["symbol"].(string); ok && models.NormalizeSymbol(s) != "" {
		e.Symbol = models.NormalizeSymbol(s)
	}

	switch r := m["reason"].(type) {
	case nil:
	case string:
		e.Reason = r
	default:
		e.Reason = fmt.Sprint(r)
	}

	switch u := m["until"].(type) {
	case nil:
	case float64:
		until := u
		e.Until = &until
	default:
		return nil, fmt.Errorf("запись %q: некорректное поле until %v", key, u)
	}

	if v, ok := m["strikes"]; ok && v != nil {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("запись %q: некорректное поле strikes %v", key, v)
		}
		e.Strikes = int(f)
	}
	if f, ok := m["first_seen"].(float64); ok {
		e.FirstSeen = f
	}
	if f, ok := m["last_updated"].(float64); ok {
		e.LastUpdated = f
	}
	return e, nil
}

package trades

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/skalibog/moonshot/pkg/jsonfile"
	"github.com/skalibog/moonshot/pkg/logger"
	"go.uber.org/zap"
)

// KeyCache множество ключей отправленных сигналов, хранится как JSON-массив строк
type KeyCache struct {
	mu   sync.Mutex
	path string
	keys map[string]struct{}
}

// LoadKeyCache загружает кэш; отсутствующий или поврежденный файл дает пустой кэш
func LoadKeyCache(path string) *KeyCache {
	c := &KeyCache{path: path, keys: make(map[string]struct{})}

	data, err := jsonfile.Read(path)
	if err != nil || data == nil {
		if err != nil {
			logger.Warn("Не удалось прочитать кэш сигналов", zap.String("path", path), zap.Error(err))
		}
		return c
	}

	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		dst, qerr := jsonfile.Quarantine(path)
		logger.Warn("Кэш сигналов поврежден, начинаем с пустого",
			zap.String("path", path),
			zap.String("moved_to", dst),
			zap.Error(err),
			zap.NamedError("quarantine_error", qerr))
		return c
	}
	for _, k := range keys {
		c.keys[k] = struct{}{}
	}
	return c
}

// Has встречался ли ключ
func (c *KeyCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.keys[key]
	return ok
}

// Add добавляет ключ и сохраняет файл
func (c *KeyCache) Add(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.keys[key]; ok {
		return nil
	}
	c.keys[key] = struct{}{}
	if err := jsonfile.Write(c.path, c.sortedLocked()); err != nil {
		return fmt.Errorf("ошибка сохранения кэша сигналов: %w", err)
	}
	return nil
}

// Len количество ключей
func (c *KeyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

// Keys отсортированные ключи
func (c *KeyCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedLocked()
}

func (c *KeyCache) sortedLocked() []string {
	out := make([]string, 0, len(c.keys))
	for k := range c.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

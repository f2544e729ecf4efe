package exchange

import (
	"context"
	"sync"

	"github.com/skalibog/moonshot/pkg/logger"
	"github.com/skalibog/moonshot/pkg/models"
	"go.uber.org/zap"
)

type cacheKey struct {
	symbol   string
	interval string
}

// CandleCache ленивый кэш серий на время одного батча.
// Неудачная загрузка кэшируется как nil, повторного запроса в пределах батча нет.
// Полученные серии общие для всех потребителей и не должны изменяться.
type CandleCache struct {
	ex    Exchange
	limit int

	mu     sync.Mutex
	series map[cacheKey]*models.Series
}

// NewCandleCache создает пустой кэш
func NewCandleCache(ex Exchange, limit int) *CandleCache {
	if limit <= 0 {
		limit = 200
	}
	return &CandleCache{
		ex:     ex,
		limit:  limit,
		series: make(map[cacheKey]*models.Series),
	}
}

// Series возвращает серию из кэша или загружает ее. nil означает отсутствие данных.
func (c *CandleCache) Series(ctx context.Context, symbol, interval string) *models.Series {
	key := cacheKey{symbol: models.NormalizeSymbol(symbol), interval: interval}

	c.mu.Lock()
	s, ok := c.series[key]
	c.mu.Unlock()
	if ok {
		return s
	}

	s, err := c.ex.Klines(ctx, key.symbol, interval, c.limit)
	if err != nil {
		logger.Warn("Нет свечей",
			zap.String("symbol", key.symbol),
			zap.String("interval", interval),
			zap.Error(err))
		s = nil
	}
	if s.Len() == 0 {
		s = nil
	}

	// отмененный контекст не должен отравлять кэш
	if ctx.Err() != nil {
		return s
	}

	c.mu.Lock()
	c.series[key] = s
	c.mu.Unlock()
	return s
}

// Len количество закэшированных пар (symbol, interval)
func (c *CandleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.series)
}

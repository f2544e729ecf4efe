package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"
	"github.com/skalibog/moonshot/internal/config"
	"github.com/skalibog/moonshot/pkg/logger"
	"github.com/skalibog/moonshot/pkg/models"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Exchange источник рыночных данных для сканера
type Exchange interface {
	Klines(ctx context.Context, symbol, interval string, limit int) (*models.Series, error)
	Tickers(ctx context.Context) (map[string]models.Ticker, error)
	InstrumentsPage(ctx context.Context, cursor string) ([]models.Instrument, string, error)
}

// Коды Binance, при которых запрос имеет смысл повторить
var retryableCodes = map[int64]bool{
	-1003: true, // слишком много запросов
	-1015: true, // слишком много ордеров/запросов
}

// BinanceClient клиент USDT-M фьючерсов Binance с ограничением частоты и повторами
type BinanceClient struct {
	futures     *futures.Client
	limiter     *rate.Limiter
	maxRetries  int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	maxLeverage float64
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.ExchangeConfig) *BinanceClient {
	futures.UseTestnet = cfg.Testnet

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &BinanceClient{
		futures:     futures.NewClient(cfg.APIKey, cfg.APISecret),
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		maxRetries:  cfg.MaxRetries,
		minBackoff:  500 * time.Millisecond,
		maxBackoff:  5 * time.Second,
		maxLeverage: cfg.DefaultMaxLeverage,
	}
}

// do выполняет запрос с ожиданием лимитера и повторами по сетевым ошибкам и rate-limit кодам
func (c *BinanceClient) do(ctx context.Context, op string, call func() error) error {
	b := &backoff.Backoff{Min: c.minBackoff, Max: c.maxBackoff, Factor: 2}

	var err error
	for attempt := 0; ; attempt++ {
		if werr := c.limiter.Wait(ctx); werr != nil {
			return werr
		}

		err = call()
		if err == nil {
			return nil
		}
		if attempt >= c.maxRetries || !retryable(err) {
			break
		}

		wait := b.Duration()
		logger.Warn("Повтор запроса к Binance",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return retryableCodes[apiErr.Code]
	}
	return true
}

// Klines получает свечи по символу, упорядоченные по возрастанию времени
func (c *BinanceClient) Klines(ctx context.Context, symbol, interval string, limit int) (*models.Series, error) {
	var klines []*futures.Kline
	err := c.do(ctx, "klines", func() (err error) {
		klines, err = c.futures.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(limit).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей %s %s: %w", symbol, interval, err)
	}

	series := &models.Series{
		Symbol:   symbol,
		Interval: interval,
		Candles:  make([]models.Candle, 0, len(klines)),
	}
	for _, k := range klines {
		candle, err := parseKline(k)
		if err != nil {
			return nil, fmt.Errorf("некорректная свеча %s %s: %w", symbol, interval, err)
		}
		series.Candles = append(series.Candles, candle)
	}
	sort.SliceStable(series.Candles, func(i, j int) bool {
		return series.Candles[i].OpenTime.Before(series.Candles[j].OpenTime)
	})
	return series, nil
}

func parseKline(k *futures.Kline) (models.Candle, error) {
	var errs error
	num := func(s string) float64 {
		v, err := strconv.ParseFloat(s, 64)
		errs = multierr.Append(errs, err)
		return v
	}

	candle := models.Candle{
		OpenTime: time.UnixMilli(k.OpenTime).UTC(),
		Open:     num(k.Open),
		High:     num(k.High),
		Low:      num(k.Low),
		Close:    num(k.Close),
		Volume:   num(k.Volume),
	}
	if k.QuoteAssetVolume != "" {
		candle.Turnover = num(k.QuoteAssetVolume)
	}
	return candle, errs
}

// Tickers 24-часовая статистика по всем символам; оборот - объем в котируемой валюте
func (c *BinanceClient) Tickers(ctx context.Context) (map[string]models.Ticker, error) {
	var stats []*futures.PriceChangeStats
	err := c.do(ctx, "tickers", func() (err error) {
		stats, err = c.futures.NewListPriceChangeStatsService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения тикеров: %w", err)
	}

	out := make(map[string]models.Ticker, len(stats))
	for _, s := range stats {
		last, _ := strconv.ParseFloat(s.LastPrice, 64)
		turnover, _ := strconv.ParseFloat(s.QuoteVolume, 64)
		sym := models.NormalizeSymbol(s.Symbol)
		out[sym] = models.Ticker{Symbol: sym, LastPrice: last, Turnover24h: turnover}
	}
	return out, nil
}

// InstrumentsPage список контрактов. Binance отдает все контракты одной страницей,
// поэтому курсор продолжения всегда пустой.
func (c *BinanceClient) InstrumentsPage(ctx context.Context, cursor string) ([]models.Instrument, string, error) {
	var info *futures.ExchangeInfo
	err := c.do(ctx, "exchange_info", func() (err error) {
		info, err = c.futures.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, "", fmt.Errorf("ошибка получения списка контрактов: %w", err)
	}

	out := make([]models.Instrument, 0, len(info.Symbols))
	for i := range info.Symbols {
		s := &info.Symbols[i]
		inst := models.Instrument{
			Symbol:       models.NormalizeSymbol(s.Symbol),
			Status:       s.Status,
			ContractType: string(s.ContractType),
			QuoteAsset:   s.QuoteAsset,
			MaxLeverage:  c.maxLeverage,
		}
		if pf := s.PriceFilter(); pf != nil {
			inst.TickSize = pf.TickSize
		}
		out = append(out, inst)
	}
	return out, "", nil
}

package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/skalibog/moonshot/internal/config"
	"github.com/skalibog/moonshot/pkg/logger"
	"github.com/skalibog/moonshot/pkg/models"
	"go.uber.org/zap"
)

// InfluxDBJournal реализует интерфейс Journal с использованием InfluxDB
type InfluxDBJournal struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	org      string
	bucket   string
}

// NewInfluxDBJournal создает журнал InfluxDB
func NewInfluxDBJournal(ctx context.Context, cfg config.StorageConfig) (*InfluxDBJournal, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	return &InfluxDBJournal{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Organization, cfg.Bucket),
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}, nil
}

// Close закрывает соединение с базой данных
func (s *InfluxDBJournal) Close() {
	s.client.Close()
}

// SaveSignal сохраняет сигнал
func (s *InfluxDBJournal) SaveSignal(ctx context.Context, sig models.Signal) error {
	return s.write(ctx, "signal", signalPoint(sig))
}

// SaveCycle сохраняет итог цикла сканирования
func (s *InfluxDBJournal) SaveCycle(ctx context.Context, c CycleStats) error {
	return s.write(ctx, "cycle", cyclePoint(c))
}

// SaveTradeEvent сохраняет событие сделки
func (s *InfluxDBJournal) SaveTradeEvent(ctx context.Context, e TradeEvent) error {
	return s.write(ctx, "trade_event", tradeEventPoint(e))
}

func (s *InfluxDBJournal) write(ctx context.Context, what string, p *write.Point) error {
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		logger.Warn("Ошибка записи в InfluxDB", zap.String("what", what), zap.Error(err))
		return fmt.Errorf("ошибка записи %s: %w", what, err)
	}
	return nil
}

func signalPoint(sig models.Signal) *write.Point {
	fields := map[string]interface{}{
		"entry":      sig.Entry,
		"entry_low":  sig.EntryLow,
		"entry_high": sig.EntryHigh,
		"stop_loss":  sig.StopLoss,
		"atr":        sig.ATR,
		"confidence": sig.Confidence,
		"leverage":   sig.Leverage,
		"notional":   sig.Notional,
		"margin":     sig.Margin,
		"backscan":   sig.Backscan,
		"key":        sig.Key,
	}
	for i, tp := range sig.TakeProfits {
		fields[fmt.Sprintf("tp%d", i+1)] = tp
	}
	return influxdb2.NewPoint(
		"signals",
		map[string]string{
			"symbol":    sig.Symbol,
			"timeframe": sig.Timeframe,
			"side":      string(sig.Side),
		},
		fields,
		sig.CandleTime,
	)
}

func cyclePoint(c CycleStats) *write.Point {
	fields := map[string]interface{}{
		"symbols":     c.Symbols,
		"signals":     c.Signals,
		"pre_signals": c.PreSignals,
		"open_trades": c.OpenTrades,
		"duration_ms": c.Duration.Milliseconds(),
	}
	for side, reasons := range c.Rejections {
		for reason, n := range reasons {
			fields[fmt.Sprintf("rej_%s_%s", side, reason)] = n
		}
	}
	return influxdb2.NewPoint("scan_cycles", map[string]string{"batch": fmt.Sprint(c.Batch)}, fields, c.At)
}

func tradeEventPoint(e TradeEvent) *write.Point {
	fields := map[string]interface{}{
		"price": e.Price,
		"key":   e.Key,
	}
	if e.ROIPct != nil {
		fields["roi_pct"] = *e.ROIPct
	}
	return influxdb2.NewPoint(
		"trade_events",
		map[string]string{
			"symbol": e.Symbol,
			"side":   string(e.Side),
			"event":  e.Event,
		},
		fields,
		e.At,
	)
}

// CycleStats итог одного цикла сканирования
type CycleStats struct {
	At         time.Time
	Batch      int
	Symbols    int
	Signals    int
	PreSignals int
	OpenTrades int
	Duration   time.Duration
	Rejections map[string]map[string]int
}

// TradeEvent событие сделки для журнала
type TradeEvent struct {
	At     time.Time
	Key    string
	Symbol string
	Side   models.Side
	Event  string
	Price  float64
	ROIPct *float64
}

// Journal интерфейс журнала сигналов и циклов
type Journal interface {
	SaveSignal(ctx context.Context, sig models.Signal) error
	SaveCycle(ctx context.Context, c CycleStats) error
	SaveTradeEvent(ctx context.Context, e TradeEvent) error
	Close()
}

// NopJournal журнал, который ничего не пишет
type NopJournal struct{}

func (NopJournal) SaveSignal(context.Context, models.Signal) error   { return nil }
func (NopJournal) SaveCycle(context.Context, CycleStats) error       { return nil }
func (NopJournal) SaveTradeEvent(context.Context, TradeEvent) error { return nil }
func (NopJournal) Close()                                           {}

// New выбирает журнал по конфигурации: influxdb или пустой
func New(ctx context.Context, cfg config.StorageConfig) (Journal, error) {
	switch cfg.Type {
	case "", "none":
		return NopJournal{}, nil
	case "influxdb":
		return NewInfluxDBJournal(ctx, cfg)
	default:
		return nil, fmt.Errorf("неизвестный тип хранилища: %s", cfg.Type)
	}
}

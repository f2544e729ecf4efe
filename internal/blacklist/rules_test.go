package blacklist

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/skalibog/moonshot/pkg/models"
)

type shape func(i int) models.Candle

// healthy плотное тело, небольшие тени, ATR% около 1
func healthy(int) models.Candle {
	return models.Candle{Open: 100, High: 101, Low: 99.9, Close: 100.8, Volume: 1000}
}

// wicky крошечное тело, длинные тени
func wicky(int) models.Candle {
	return models.Candle{Open: 100, High: 101, Low: 99, Close: 100.1, Volume: 1000}
}

// volatile диапазон 10% от цены
func volatile(int) models.Candle {
	return models.Candle{Open: 96, High: 105, Low: 95, Close: 104, Volume: 1000}
}

func series(n int, f shape) *models.Series {
	s := &models.Series{Symbol: "TESTUSDT"}
	t0 := time.Unix(1_700_000_000, 0).UTC()
	for i := 0; i < n; i++ {
		c := f(i)
		c.OpenTime = t0.Add(time.Duration(i) * 15 * time.Minute)
		s.Candles = append(s.Candles, c)
	}
	return s
}

func TestAutoFromCandles_NewListing(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(t, filepath.Join(t.TempDir(), "bl.json"), clk)

	code := e.AutoFromCandles("NEWUSDT", series(50, healthy), series(100, healthy), nil)
	if code != CodeNewListing15m {
		t.Fatalf("expected %s, got %q", CodeNewListing15m, code)
	}
	blocked, reason := e.IsBlocked("NEWUSDT")
	if !blocked || reason != "NEW_LISTING <120x15m" {
		t.Fatalf("expected new-listing ban, got %v %q", blocked, reason)
	}
	entry, _ := e.Get("NEWUSDT")
	if want := float64(clk.t.Unix()) + 24*3600; *entry.Until != want {
		t.Fatalf("until=%v, want %v", *entry.Until, want)
	}
}

func TestAutoFromCandles_Rules(t *testing.T) {
	liquid := &models.Ticker{Symbol: "TESTUSDT", Turnover24h: 5_000_000}
	thin := &models.Ticker{Symbol: "TESTUSDT", Turnover24h: 10_000}

	tests := []struct {
		name   string
		symbol string
		s15    *models.Series
		s1h    *models.Series
		ticker *models.Ticker
		want   string
	}{
		{"healthy", "AUSDT", series(150, healthy), series(100, healthy), liquid, ""},
		{"high volatility 15m", "BUSDT", series(150, volatile), series(100, healthy), liquid, CodeHighVol15m},
		{"wicky 15m", "CUSDT", series(150, wicky), series(100, healthy), liquid, CodeWicky15m},
		{"wicky exempt", "BTCUSDT", series(150, wicky), series(100, healthy), liquid, ""},
		{"illiquid by ticker", "DUSDT", series(150, healthy), series(100, healthy), thin, CodeIlliquid24h},
		{"illiquid exempt", "ETHUSDT", series(150, healthy), series(100, healthy), thin, ""},
		{"liquid by candle fallback", "EUSDT", series(150, healthy), series(100, healthy), nil, ""},
		{"new listing 1h", "FUSDT", series(150, healthy), series(30, healthy), liquid, CodeNewListing1h},
		{"1h volatility under threshold", "GUSDT", series(150, healthy), series(100, volatile), liquid, ""},
		{"no data", "HUSDT", nil, nil, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := &clock{t: time.Unix(1_700_000_000, 0)}
			e := newTestEngine(t, filepath.Join(t.TempDir(), "bl.json"), clk)
			e.rules.ExemptSymbols = []string{"btcusdt"}
			e.rules.ExemptFromIllqSymbols = []string{"ETHUSDT"}

			got := e.AutoFromCandles(tt.symbol, tt.s15, tt.s1h, tt.ticker)
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
			blocked, _ := e.IsBlocked(tt.symbol)
			if blocked != (tt.want != "") {
				t.Fatalf("blocked=%v for code %q", blocked, got)
			}
		})
	}
}

func TestAutoFromCandles_HighVol1h(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(t, filepath.Join(t.TempDir(), "bl.json"), clk)
	e.rules.MaxATRPct1h = 5

	code := e.AutoFromCandles("GUSDT", series(150, healthy), series(100, volatile), &models.Ticker{Turnover24h: 5e6})
	if code != CodeHighVol1h {
		t.Fatalf("expected %s, got %q", CodeHighVol1h, code)
	}
}

func TestAutoFromCandles_RecoversFromPanic(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(t, filepath.Join(t.TempDir(), "bl.json"), clk)

	// отрицательное окно теней приводит к панике при срезе хвоста серии
	broken := &models.Series{Candles: make([]models.Candle, 150)}
	e.rules.WickLookback15 = -1
	if code := e.AutoFromCandles("IUSDT", broken, nil, nil); code != "" {
		t.Fatalf("expected no ban on broken input, got %q", code)
	}
}

func TestQuoteVolumeFallback(t *testing.T) {
	s := series(100, healthy)
	vq, ok := quoteVolume24h(s, nil)
	if !ok || math.Abs(vq-96*1000*100.8) > 1e-3 {
		t.Fatalf("expected volume*close fallback, got %v %v", vq, ok)
	}

	for i := range s.Candles {
		s.Candles[i].Turnover = 10
	}
	vq, _ = quoteVolume24h(s, &models.Ticker{})
	if vq != 960 {
		t.Fatalf("expected turnover sum 960, got %v", vq)
	}

	if _, ok := quoteVolume24h(series(50, healthy), nil); ok {
		t.Fatal("short series without ticker has no 24h volume")
	}
}

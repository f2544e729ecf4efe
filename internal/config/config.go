package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/skalibog/moonshot/pkg/logger"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Exchange        ExchangeConfig  `yaml:"exchange"`
	Strategy        StrategyConfig  `yaml:"strategy"`
	Regime          RegimeConfig    `yaml:"regime"`
	Scanner         ScannerConfig   `yaml:"scanner"`
	Universe        UniverseConfig  `yaml:"universe"`
	Sizing          SizingConfig    `yaml:"sizing"`
	Blacklist       BlacklistConfig `yaml:"blacklist"`
	Files           FilesConfig     `yaml:"files"`
	Telegram        TelegramConfig  `yaml:"telegram"`
	Kafka           KafkaConfig     `yaml:"kafka"`
	Storage         StorageConfig   `yaml:"storage"`
	Web             WebConfig       `yaml:"web"`
	UI              UIConfig        `yaml:"ui"`
	Log             logger.Config   `yaml:"log"`
	DisplayTimezone string          `yaml:"display_timezone"`
}

// ExchangeConfig содержит настройки подключения к Binance
type ExchangeConfig struct {
	APIKey             string  `yaml:"api_key"`
	APISecret          string  `yaml:"api_secret"`
	Testnet            bool    `yaml:"testnet"`
	KlineLimit         int     `yaml:"kline_limit"`
	RequestsPerSecond  float64 `yaml:"requests_per_second"`
	Burst              int     `yaml:"burst"`
	MaxRetries         int     `yaml:"max_retries"`
	DefaultMaxLeverage float64 `yaml:"default_max_leverage"`
}

// StrategyConfig параметры пробойного сетапа
type StrategyConfig struct {
	BreakoutLookback  int       `yaml:"breakout_lookback"`
	ATRLen            int       `yaml:"atr_len"`
	ATRStopMult       float64   `yaml:"atr_stop_mult"`
	BreakoutBufferATR float64   `yaml:"breakout_buffer_atr"`
	VolMALen          int       `yaml:"vol_ma_len"`
	VolSpikeMinMult   float64   `yaml:"vol_spike_min_mult"`
	EMAShort          int       `yaml:"ema_short"`
	EMALong           int       `yaml:"ema_long"`
	RSILen            int       `yaml:"rsi_len"`
	RSIMinLong        float64   `yaml:"rsi_min_long"`
	RSIMaxShort       float64   `yaml:"rsi_max_short"`
	BodyMinFrac       float64   `yaml:"body_min_frac"`
	WickMaxFrac       float64   `yaml:"wick_max_frac"`
	TPMultiples       []float64 `yaml:"tp_multiples"`
}

// requiredStrategyKeys ключи, которые обязаны присутствовать в документе.
// Подстановка нуля вместо, например, atr_stop_mult недопустима.
var requiredStrategyKeys = []string{
	"breakout_lookback", "atr_len", "atr_stop_mult", "breakout_buffer_atr",
	"vol_spike_min_mult", "vol_ma_len", "ema_short", "ema_long", "rsi_len",
	"rsi_min_long", "rsi_max_short", "tp_multiples",
}

// RegimeConfig фильтры режима рынка
type RegimeConfig struct {
	MinATRPct    map[string]float64 `yaml:"min_atr_pct_trade"`
	MinATRPct15m *float64           `yaml:"min_atr_pct_trade_15m"`
	ADX          ADXFilter          `yaml:"adx_filter"`
	HTF          HTFConfirm         `yaml:"htf_confirm"`
}

// ADXFilter настройки фильтра силы тренда
type ADXFilter struct {
	Enabled bool    `yaml:"enabled"`
	Len     int     `yaml:"len"`
	MinADX  float64 `yaml:"min_adx"`
}

// UnmarshalYAML принимает bool или объект
func (a *ADXFilter) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*a = ADXFilter{Len: 14, MinADX: 18}

	var flag bool
	if err := unmarshal(&flag); err == nil {
		a.Enabled = flag
		return nil
	}

	type plain ADXFilter
	p := plain(*a)
	if err := unmarshal(&p); err != nil {
		return fmt.Errorf("adx_filter: ожидается bool или объект: %w", err)
	}
	*a = ADXFilter(p)
	if a.Len <= 0 {
		a.Len = 14
	}
	if a.MinADX == 0 {
		a.MinADX = 18
	}
	return nil
}

// HTFConfirm настройки подтверждения старшим таймфреймом
type HTFConfirm struct {
	Enabled      bool   `yaml:"enabled"`
	TF           string `yaml:"tf"`
	EMAShort     int    `yaml:"ema_short"`
	EMALong      int    `yaml:"ema_long"`
	AllowNeutral bool   `yaml:"allow_neutral"`
}

// UnmarshalYAML принимает bool или объект
func (h *HTFConfirm) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*h = HTFConfirm{TF: "1h", EMAShort: 21, EMALong: 50, AllowNeutral: true}

	var flag bool
	if err := unmarshal(&flag); err == nil {
		h.Enabled = flag
		return nil
	}

	type plain HTFConfirm
	p := plain(*h)
	if err := unmarshal(&p); err != nil {
		return fmt.Errorf("htf_confirm: ожидается bool или объект: %w", err)
	}
	*h = HTFConfirm(p)
	h.TF = NormalizeInterval(h.TF)
	if h.TF == "" {
		h.TF = "1h"
	}
	if h.EMAShort <= 0 {
		h.EMAShort = 21
	}
	if h.EMALong <= 0 {
		h.EMALong = 50
	}
	return nil
}

// MinATRPctFor минимальный ATR% для таймфрейма (0 - фильтр не применяется)
func (r RegimeConfig) MinATRPctFor(tf string) float64 {
	return r.MinATRPct[NormalizeInterval(tf)]
}

// Timeframes список таймфреймов; в YAML допускается строка или список
type Timeframes []string

// UnmarshalYAML принимает скаляр или список
func (t *Timeframes) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var list []string
	if err := unmarshal(&list); err != nil {
		var one string
		if err := unmarshal(&one); err != nil {
			return fmt.Errorf("timeframes: ожидается строка или список: %w", err)
		}
		list = []string{one}
	}

	out := make(Timeframes, 0, len(list))
	seen := make(map[string]bool)
	for _, tf := range list {
		tf = NormalizeInterval(tf)
		if tf == "" || seen[tf] {
			continue
		}
		seen[tf] = true
		out = append(out, tf)
	}
	*t = out
	return nil
}

// NormalizeInterval приводит интервал к виду Binance.
// Числа в минутах ("15", "60") переводятся в "15m", "1h".
func NormalizeInterval(tf string) string {
	tf = strings.TrimSpace(tf)
	switch strings.ToUpper(tf) {
	case "":
		return ""
	case "1", "3", "5", "15", "30":
		return tf + "m"
	case "60":
		return "1h"
	case "120":
		return "2h"
	case "240":
		return "4h"
	case "360":
		return "6h"
	case "720":
		return "12h"
	case "D", "1D":
		return "1d"
	case "W", "1W":
		return "1w"
	}
	return strings.ToLower(tf)
}

// ScannerConfig настройки цикла сканирования
type ScannerConfig struct {
	PollSeconds         int        `yaml:"poll_seconds"`
	MaxSymbolsPerCycle  int        `yaml:"max_symbols_per_cycle"`
	Timeframes          Timeframes `yaml:"timeframes"`
	EnableShorts        bool       `yaml:"enable_shorts"`
	SidePolicy          string     `yaml:"side_policy"`
	EntryZoneATR        float64    `yaml:"entry_zone_atr"`
	BackscanEnabled     bool       `yaml:"backscan_enabled"`
	BackscanK           int        `yaml:"backscan_k"`
	PreSignalEnabled    bool       `yaml:"pre_signal_enabled"`
	PreSignalGapATR     float64    `yaml:"pre_signal_gap_atr"`
	PreSignalRequireVol bool       `yaml:"pre_signal_require_vol"`
	PreSignalZoneATR    float64    `yaml:"pre_signal_zone_atr"`
	PreSignalConfidence float64    `yaml:"pre_signal_confidence"`
	ShowCandidates      bool       `yaml:"log_show_candidates"`
	CandidatesTopN      int        `yaml:"log_candidates_top_n"`
	CandidatesGapMaxATR float64    `yaml:"log_candidates_gap_max_atr"`
	LogEachEval         bool       `yaml:"log_each_eval"`
}

// UniverseConfig формирование списка символов
type UniverseConfig struct {
	SymbolsAuto      bool     `yaml:"symbols_auto"`
	Symbols          []string `yaml:"symbols"`
	SymbolsCacheFile string   `yaml:"symbols_cache_file"`
	QuoteAsset       string   `yaml:"quote_asset"`
	Allowlist        []string `yaml:"allowlist"`
	Denylist         []string `yaml:"denylist"`
	ExcludePrefixes  []string `yaml:"exclude_prefixes"`
	AlwaysInclude    []string `yaml:"always_include"`
}

// SizingConfig расчет плеча и размера позиции
type SizingConfig struct {
	AccountEquityUSDT    float64 `yaml:"account_equity_usdt"`
	RiskPerTrade         float64 `yaml:"risk_per_trade"`
	MarginPerTradePct    float64 `yaml:"margin_per_trade_pct"`
	DefaultLeverage      float64 `yaml:"default_leverage"`
	LevCap               float64 `yaml:"lev_cap"`
	LeverageSafetyMult   float64 `yaml:"leverage_safety_mult"`
	MinNotionalUSDT      float64 `yaml:"min_notional_usdt"`
	MaxNotionalUSDT      float64 `yaml:"max_notional_usdt"`
	DefaultPriceDecimals int     `yaml:"default_price_decimals"`
}

// BlacklistConfig настройки динамического черного списка
type BlacklistConfig struct {
	Enabled      bool           `yaml:"enabled"`
	File         string         `yaml:"file"`
	HardDenylist []string       `yaml:"hard_denylist"`
	Rules        BlacklistRules `yaml:"rules"`
}

// BlacklistRules пороги правил автобана
type BlacklistRules struct {
	MinCandles15m           int      `yaml:"min_candles_15m"`
	MaxATRPct15m            float64  `yaml:"max_atr_pct_15m"`
	WickLookback15          int      `yaml:"wick_lookback_15"`
	MaxWickPctAvg15m        float64  `yaml:"max_wick_pct_avg_15m"`
	MinBodyFrac15m          float64  `yaml:"min_body_frac_15m"`
	MinQuoteVol24h          float64  `yaml:"min_quote_vol_24h"`
	MinCandles1h            int      `yaml:"min_candles_1h"`
	MaxATRPct1h             float64  `yaml:"max_atr_pct_1h"`
	CooldownHoursNewListing float64  `yaml:"cooldown_hours_new_listing"`
	CooldownHoursVolatility float64  `yaml:"cooldown_hours_volatility"`
	CooldownHoursWick       float64  `yaml:"cooldown_hours_wick"`
	CooldownHoursIliquid    float64  `yaml:"cooldown_hours_iliquid"`
	StopStrikesForCooldown  int      `yaml:"stop_strikes_for_cooldown"`
	CooldownHoursOnStrikes  float64  `yaml:"cooldown_hours_on_strikes"`
	StrikeMemoryHours       float64  `yaml:"strike_memory_hours"`
	ExemptSymbols           []string `yaml:"exempt_symbols"`
	ExemptFromIllqSymbols   []string `yaml:"exempt_from_illq_symbols"`
}

// FilesConfig файлы состояния
type FilesConfig struct {
	CacheFile    string `yaml:"cache_file"`
	PreCacheFile string `yaml:"pre_cache_file"`
	TradesFile   string `yaml:"trades_file"`
	LockFile     string `yaml:"lock_file"`
}

// TelegramConfig настройки уведомлений в Telegram
type TelegramConfig struct {
	Enabled        bool   `yaml:"enabled"`
	BotToken       string `yaml:"bot_token"`
	ChatID         string `yaml:"chat_id"`
	APIURL         string `yaml:"api_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// KafkaConfig публикация сигналов в шину
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// StorageConfig настройки хранения данных
type StorageConfig struct {
	Type         string `yaml:"type"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// WebConfig HTTP-эндпоинт состояния
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// UIConfig настройки пользовательского интерфейса
type UIConfig struct {
	Enabled     bool `yaml:"enabled"`
	RefreshRate int  `yaml:"refresh_rate_ms"`
}

// Default конфигурация по умолчанию. Параметры стратегии не заполняются.
func Default() Config {
	return Config{
		Exchange: ExchangeConfig{
			KlineLimit:         200,
			RequestsPerSecond:  10,
			Burst:              20,
			MaxRetries:         2,
			DefaultMaxLeverage: 25,
		},
		Strategy: StrategyConfig{
			BodyMinFrac: 0.6,
			WickMaxFrac: 0.2,
		},
		Regime: RegimeConfig{
			MinATRPct: map[string]float64{},
			ADX:       ADXFilter{Len: 14, MinADX: 18},
			HTF:       HTFConfirm{TF: "1h", EMAShort: 21, EMALong: 50, AllowNeutral: true},
		},
		Scanner: ScannerConfig{
			PollSeconds:         30,
			MaxSymbolsPerCycle:  160,
			Timeframes:          Timeframes{"15m"},
			EnableShorts:        true,
			SidePolicy:          "distance",
			EntryZoneATR:        0.15,
			BackscanEnabled:     true,
			BackscanK:           3,
			PreSignalEnabled:    true,
			PreSignalGapATR:     0.10,
			PreSignalZoneATR:    0.15,
			PreSignalConfidence: 80,
			ShowCandidates:      true,
			CandidatesTopN:      12,
			CandidatesGapMaxATR: 0.5,
		},
		Universe: UniverseConfig{
			SymbolsCacheFile: "moonshot_symbols.json",
			QuoteAsset:       "USDT",
			ExcludePrefixes:  []string{"100000"},
			AlwaysInclude:    []string{"BTCUSDT"},
		},
		Sizing: SizingConfig{
			AccountEquityUSDT:    1000,
			RiskPerTrade:         0.008,
			MarginPerTradePct:    0.02,
			DefaultLeverage:      10,
			LevCap:               25,
			LeverageSafetyMult:   0.85,
			MaxNotionalUSDT:      1e12,
			DefaultPriceDecimals: 6,
		},
		Blacklist: BlacklistConfig{
			Enabled: true,
			File:    "moonshot_blacklist.json",
			Rules:   DefaultRules(),
		},
		Files: FilesConfig{
			CacheFile:    "moonshot_cache.json",
			PreCacheFile: "moonshot_pre_cache.json",
			TradesFile:   "moonshot_trades.json",
			LockFile:     "moonshot.lock",
		},
		Telegram: TelegramConfig{
			APIURL:         "https://api.telegram.org",
			TimeoutSeconds: 10,
		},
		Kafka: KafkaConfig{
			Topic: "moonshot.signals",
		},
		Web: WebConfig{
			Addr: ":8080",
		},
		UI: UIConfig{
			RefreshRate: 1000,
		},
		Log: logger.Config{
			Level: "info",
			Dir:   "logs",
		},
		DisplayTimezone: "America/Sao_Paulo",
	}
}

// DefaultRules пороги автобана по умолчанию
func DefaultRules() BlacklistRules {
	return BlacklistRules{
		MinCandles15m:           120,
		MaxATRPct15m:            6.0,
		WickLookback15:          48,
		MaxWickPctAvg15m:        70.0,
		MinBodyFrac15m:          0.30,
		MinQuoteVol24h:          1_500_000,
		MinCandles1h:            60,
		MaxATRPct1h:             12.0,
		CooldownHoursNewListing: 24,
		CooldownHoursVolatility: 12,
		CooldownHoursWick:       12,
		CooldownHoursIliquid:    24,
		StopStrikesForCooldown:  2,
		CooldownHoursOnStrikes:  6,
		StrikeMemoryHours:       24,
	}
}

// Load загружает конфигурацию из файла. envPath - необязательный dotenv-файл с секретами.
func Load(path, envPath string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации %s: %w", path, err)
	}

	if err := cfg.loadSecrets(envPath); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Debug("Загружена конфигурация", zap.String("path", path), zap.Any("config", cfg.Strategy))
	logger.Info("Загружена конфигурация",
		zap.Strings("timeframes", cfg.Scanner.Timeframes),
		zap.Bool("symbols_auto", cfg.Universe.SymbolsAuto),
		zap.Int("symbols", len(cfg.Universe.Symbols)))
	return cfg, nil
}

// Parse разбирает YAML-документ поверх значений по умолчанию
func Parse(data []byte) (*Config, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if err := checkRequired(raw); err != nil {
		return nil, err
	}
	if foldLegacyRegime(raw) {
		folded, err := yaml.Marshal(raw)
		if err != nil {
			return nil, err
		}
		data = folded
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return &cfg, nil
}

func checkRequired(raw map[string]interface{}) error {
	section, _ := raw["strategy"].(map[interface{}]interface{})
	if section == nil {
		return errors.New("отсутствует секция strategy")
	}

	var errs error
	for _, key := range requiredStrategyKeys {
		if _, ok := section[key]; !ok {
			errs = multierr.Append(errs, fmt.Errorf("отсутствует обязательный параметр strategy.%s", key))
		}
	}
	return errs
}

// Ключи фильтров режима, которые в старых конфигурациях лежат на верхнем уровне
var legacyRegimeKeys = []string{"min_atr_pct_trade", "min_atr_pct_trade_15m", "adx_filter", "htf_confirm"}

// foldLegacyRegime переносит ключи верхнего уровня в секцию regime.
// Значение внутри regime имеет приоритет.
func foldLegacyRegime(raw map[string]interface{}) bool {
	regime, _ := raw["regime"].(map[interface{}]interface{})
	folded := false
	for _, key := range legacyRegimeKeys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if regime == nil {
			regime = make(map[interface{}]interface{})
		}
		if _, exists := regime[key]; exists {
			logger.Warn("Параметр задан и в regime, и на верхнем уровне; используется regime", zap.String("key", key))
		} else {
			regime[key] = v
		}
		delete(raw, key)
		folded = true
	}
	if folded {
		raw["regime"] = regime
	}
	return folded
}

func (c *Config) normalize() {
	if c.Regime.MinATRPct == nil {
		c.Regime.MinATRPct = map[string]float64{}
	}
	normalized := make(map[string]float64, len(c.Regime.MinATRPct))
	for tf, v := range c.Regime.MinATRPct {
		normalized[NormalizeInterval(tf)] = v
	}
	if c.Regime.MinATRPct15m != nil {
		if _, ok := normalized["15m"]; !ok {
			normalized["15m"] = *c.Regime.MinATRPct15m
		}
	}
	c.Regime.MinATRPct = normalized

	sort.Float64s(c.Strategy.TPMultiples)

	c.Universe.QuoteAsset = strings.ToUpper(strings.TrimSpace(c.Universe.QuoteAsset))
	c.Universe.Symbols = upperAll(c.Universe.Symbols)
	c.Universe.Allowlist = upperAll(c.Universe.Allowlist)
	c.Universe.Denylist = upperAll(c.Universe.Denylist)
	c.Universe.AlwaysInclude = upperAll(c.Universe.AlwaysInclude)
	c.Blacklist.HardDenylist = upperAll(c.Blacklist.HardDenylist)
	if len(c.Blacklist.HardDenylist) == 0 {
		c.Blacklist.HardDenylist = c.Universe.Denylist
	}
	c.Blacklist.Rules.ExemptSymbols = upperAll(c.Blacklist.Rules.ExemptSymbols)
	c.Blacklist.Rules.ExemptFromIllqSymbols = upperAll(c.Blacklist.Rules.ExemptFromIllqSymbols)
}

func (c *Config) loadSecrets(envPath string) error {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("ошибка чтения файла окружения %s: %w", envPath, err)
		}
	}

	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	override(&c.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	override(&c.Exchange.APIKey, "BINANCE_API_KEY")
	override(&c.Exchange.APISecret, "BINANCE_API_SECRET")
	override(&c.Storage.Token, "INFLUX_TOKEN")
	return nil
}

// Validate проверяет согласованность параметров
func (c *Config) Validate() error {
	var errs error
	add := func(cond bool, format string, args ...interface{}) {
		if cond {
			errs = multierr.Append(errs, fmt.Errorf(format, args...))
		}
	}

	s := c.Strategy
	add(s.BreakoutLookback <= 0, "breakout_lookback должен быть > 0")
	add(s.ATRLen <= 0, "atr_len должен быть > 0")
	add(s.ATRStopMult <= 0, "atr_stop_mult должен быть > 0")
	add(s.BreakoutBufferATR < 0, "breakout_buffer_atr не может быть отрицательным")
	add(s.VolMALen <= 0, "vol_ma_len должен быть > 0")
	add(s.EMAShort <= 0 || s.EMALong <= 0, "ema_short и ema_long должны быть > 0")
	add(s.RSILen <= 0, "rsi_len должен быть > 0")
	add(len(s.TPMultiples) < 3, "tp_multiples должен содержать минимум 3 значения, получено %d", len(s.TPMultiples))
	for _, m := range s.TPMultiples {
		add(m <= 0, "tp_multiples должны быть положительными: %v", m)
	}

	add(len(c.Scanner.Timeframes) == 0, "не задан ни один таймфрейм")
	add(c.Scanner.MaxSymbolsPerCycle <= 0, "max_symbols_per_cycle должен быть > 0")
	add(c.Scanner.PollSeconds <= 0, "poll_seconds должен быть > 0")
	add(c.Scanner.SidePolicy != "distance" && c.Scanner.SidePolicy != "htf_aligned",
		"side_policy: неизвестная политика %q", c.Scanner.SidePolicy)

	add(c.Sizing.DefaultLeverage < 1, "default_leverage должен быть >= 1")
	add(c.Sizing.RiskPerTrade <= 0, "risk_per_trade должен быть > 0")
	add(c.Blacklist.Rules.StopStrikesForCooldown <= 0, "stop_strikes_for_cooldown должен быть > 0")

	add(c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == ""),
		"telegram включен, но не заданы bot_token/chat_id")
	add(c.Kafka.Enabled && len(c.Kafka.Brokers) == 0, "kafka включена, но не заданы brokers")

	if _, err := time.LoadLocation(c.DisplayTimezone); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("display_timezone %q: %w", c.DisplayTimezone, err))
	}
	return errs
}

// Location часовой пояс для отображения времени свечей
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func upperAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

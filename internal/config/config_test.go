package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const strategyYAML = `
strategy:
  breakout_lookback: 20
  atr_len: 14
  atr_stop_mult: 1.5
  breakout_buffer_atr: 0.1
  vol_ma_len: 20
  vol_spike_min_mult: 1.2
  ema_short: 9
  ema_long: 20
  rsi_len: 14
  rsi_min_long: 55
  rsi_max_short: 45
  tp_multiples: [3, 1, 2]
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(strategyYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}

	if cfg.Strategy.BodyMinFrac != 0.6 || cfg.Strategy.WickMaxFrac != 0.2 {
		t.Errorf("candle shape defaults not applied: %+v", cfg.Strategy)
	}
	if got := cfg.Strategy.TPMultiples; got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("tp_multiples must be sorted ascending, got %v", got)
	}
	if cfg.Regime.ADX.Enabled || cfg.Regime.ADX.Len != 14 || cfg.Regime.ADX.MinADX != 18 {
		t.Errorf("unexpected adx defaults %+v", cfg.Regime.ADX)
	}
	if cfg.Blacklist.Rules.MinCandles15m != 120 || cfg.Blacklist.Rules.StopStrikesForCooldown != 2 {
		t.Errorf("unexpected blacklist defaults %+v", cfg.Blacklist.Rules)
	}
	if cfg.Scanner.Timeframes[0] != "15m" {
		t.Errorf("unexpected default timeframes %v", cfg.Scanner.Timeframes)
	}
}

func TestParse_MissingRequiredKeys(t *testing.T) {
	doc := strings.Replace(strategyYAML, "  atr_stop_mult: 1.5\n", "", 1)
	doc = strings.Replace(doc, "  rsi_len: 14\n", "", 1)

	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("expected error for missing required keys")
	}
	for _, key := range []string{"atr_stop_mult", "rsi_len"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error should mention %s: %v", key, err)
		}
	}

	if _, err := Parse([]byte("scanner:\n  poll_seconds: 5\n")); err == nil {
		t.Fatal("expected error when strategy section is absent")
	}
}

func TestParse_FilterShapes(t *testing.T) {
	doc := strategyYAML + `
regime:
  min_atr_pct_trade_15m: 0.35
  min_atr_pct_trade:
    "60": 0.5
  adx_filter: true
  htf_confirm:
    enabled: true
    tf: "240"
    allow_neutral: false
scanner:
  timeframes: "15"
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cfg.Regime.ADX.Enabled || cfg.Regime.ADX.Len != 14 || cfg.Regime.ADX.MinADX != 18 {
		t.Errorf("bool adx_filter should resolve to defaults, got %+v", cfg.Regime.ADX)
	}
	htf := cfg.Regime.HTF
	if !htf.Enabled || htf.TF != "4h" || htf.EMAShort != 21 || htf.EMALong != 50 || htf.AllowNeutral {
		t.Errorf("unexpected htf_confirm %+v", htf)
	}
	if got := cfg.Regime.MinATRPctFor("15"); got != 0.35 {
		t.Errorf("legacy 15m threshold should fold into map, got %v", got)
	}
	if got := cfg.Regime.MinATRPctFor("1h"); got != 0.5 {
		t.Errorf("expected 1h threshold 0.5, got %v", got)
	}
	if got := cfg.Regime.MinATRPctFor("5m"); got != 0 {
		t.Errorf("unlisted timeframe must have no threshold, got %v", got)
	}
	if len(cfg.Scanner.Timeframes) != 1 || cfg.Scanner.Timeframes[0] != "15m" {
		t.Errorf("scalar timeframes should normalize to [15m], got %v", cfg.Scanner.Timeframes)
	}
}

func TestParse_TopLevelRegimeKeys(t *testing.T) {
	doc := strategyYAML + `
min_atr_pct_trade_15m: 0.4
min_atr_pct_trade:
  "1h": 0.7
adx_filter:
  enabled: true
  min_adx: 22
htf_confirm: true
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Regime.ADX.Enabled || cfg.Regime.ADX.MinADX != 22 {
		t.Errorf("top-level adx_filter ignored: %+v", cfg.Regime.ADX)
	}
	if !cfg.Regime.HTF.Enabled {
		t.Errorf("top-level htf_confirm ignored: %+v", cfg.Regime.HTF)
	}
	if got := cfg.Regime.MinATRPctFor("15m"); got != 0.4 {
		t.Errorf("top-level min_atr_pct_trade_15m ignored, got %v", got)
	}
	if got := cfg.Regime.MinATRPctFor("1h"); got != 0.7 {
		t.Errorf("top-level min_atr_pct_trade ignored, got %v", got)
	}

	// значение в секции regime важнее верхнего уровня
	doc = strategyYAML + `
adx_filter: true
regime:
  adx_filter: false
`
	cfg, err = Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Regime.ADX.Enabled {
		t.Error("regime.adx_filter must take precedence over the top-level key")
	}
}

func TestParse_RejectsAmbiguousFilterShape(t *testing.T) {
	doc := strategyYAML + `
regime:
  adx_filter: [1, 2]
`
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatal("expected error for list-shaped adx_filter")
	}
}

func TestValidate(t *testing.T) {
	doc := strings.Replace(strategyYAML, "tp_multiples: [3, 1, 2]", "tp_multiples: [1, 2]", 1)
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Scanner.SidePolicy = "random"
	cfg.Telegram.Enabled = true

	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"tp_multiples", "side_policy", "telegram"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("validation error should mention %s: %v", want, err)
		}
	}
}

func TestNormalizeInterval(t *testing.T) {
	cases := map[string]string{
		"15":  "15m",
		"60":  "1h",
		"240": "4h",
		"D":   "1d",
		"1H":  "1h",
		"5m":  "5m",
		" ":   "",
	}
	for in, want := range cases {
		if got := NormalizeInterval(in); got != want {
			t.Errorf("NormalizeInterval(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestLoad_SecretsFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "moonshot.yaml")
	envPath := filepath.Join(dir, ".env")

	doc := strategyYAML + `
telegram:
  enabled: true
  bot_token: from-yaml
`
	if err := os.WriteFile(cfgPath, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(envPath, []byte("TELEGRAM_BOT_TOKEN=from-env\nTELEGRAM_CHAT_ID=42\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("TELEGRAM_CHAT_ID", "")
	os.Unsetenv("TELEGRAM_BOT_TOKEN")
	os.Unsetenv("TELEGRAM_CHAT_ID")

	cfg, err := Load(cfgPath, envPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telegram.BotToken != "from-env" || cfg.Telegram.ChatID != "42" {
		t.Errorf("env secrets must override yaml, got %q / %q", cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}

	if _, err := Load(cfgPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing env file must be ignored: %v", err)
	}
}

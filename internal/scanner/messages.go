package scanner

import (
	"fmt"
	"strings"

	"github.com/skalibog/moonshot/internal/trades"
	"github.com/skalibog/moonshot/pkg/models"
)

const (
	prefixSignal   = "🚀 AI SIGNAL IS READY"
	prefixBackscan = "⏪ BACKSCAN - AI SIGNAL"
	prefixPre      = "⏳ PRE-SIGNAL (watchlist)"
)

func sideEmoji(side models.Side) string {
	if side == models.Long {
		return "🟢"
	}
	return "🔴"
}

func formatSignal(sig models.Signal, f PriceFormatter) string {
	prefix := prefixSignal
	if sig.Backscan {
		prefix = prefixBackscan
	}
	note := "Breakout"
	if sig.Side == models.Short {
		note = "Breakdown"
	}

	tps := make([]string, len(sig.TakeProfits))
	for i, tp := range sig.TakeProfits {
		tps[i] = f.Format(sig.Symbol, tp)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", prefix)
	fmt.Fprintf(&b, "📊 Pair: %s\n", sig.Symbol)
	fmt.Fprintf(&b, "🕒 TF: %s | Candle closed: %s\n", sig.Timeframe, sig.ClosedAt)
	fmt.Fprintf(&b, "%s Direction: %s\n", sideEmoji(sig.Side), sig.Side)
	fmt.Fprintf(&b, "🎯 Entry Zone: %s – %s\n", f.Format(sig.Symbol, sig.EntryLow), f.Format(sig.Symbol, sig.EntryHigh))
	fmt.Fprintf(&b, "🛑 Stop Loss: %s\n", f.Format(sig.Symbol, sig.StopLoss))
	fmt.Fprintf(&b, "🥅 Take Profits: %s\n", strings.Join(tps, " | "))
	fmt.Fprintf(&b, "⚙️ Leverage: x%g | Notional: %.2f USDT | Margin: %.2f USDT\n", sig.Leverage, sig.Notional, sig.Margin)
	fmt.Fprintf(&b, "🧠 Confidence: %g%%\n", sig.Confidence)
	fmt.Fprintf(&b, "Notes: %s + vol spike; ATR=%g", note, round8(sig.ATR))
	return b.String()
}

func okNo(v bool) string {
	if v {
		return "OK"
	}
	return "NO"
}

func formatPreSignal(pre models.PreSignal, f PriceFormatter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", prefixPre)
	fmt.Fprintf(&b, "📊 Pair: %s\n", pre.Symbol)
	fmt.Fprintf(&b, "🕒 TF: %s | Last closed: %s\n", pre.Timeframe, pre.ClosedAt)
	fmt.Fprintf(&b, "%s Bias: %s\n", sideEmoji(pre.Side), pre.Side)
	fmt.Fprintf(&b, "📈 Trigger ~ %s (HH/LL ± buffer), gap %.2f ATR\n", f.Format(pre.Symbol, pre.Trigger), pre.GapATR)
	fmt.Fprintf(&b, "🎯 Entry Zone (after trigger): %s – %s\n", f.Format(pre.Symbol, pre.ZoneLow), f.Format(pre.Symbol, pre.ZoneHigh))
	fmt.Fprintf(&b, "🛑 Suggested Stop: %s\n", f.Format(pre.Symbol, pre.StopLoss))
	fmt.Fprintf(&b, "📊 RSI=%.2f  EMA=%s  BODY=%s\n", pre.RSI, okNo(pre.EMAOk), okNo(pre.BodyOk))
	fmt.Fprintf(&b, "🧠 Confidence: %g%%\n", pre.Confidence)
	b.WriteString("Note: no breakout yet, early alert (low ATR gap).")
	return b.String()
}

func formatTradeUpdate(ev trades.Event, f PriceFormatter) string {
	r := ev.Record
	head := fmt.Sprintf("%s | %s %s on %s", ev.Update.Event, r.Symbol, r.Side, r.TF)
	price := f.Format(r.Symbol, ev.Update.Price)

	switch ev.Update.Event {
	case "TP1":
		return fmt.Sprintf("✅ TP1 hit | %s %s on %s\nEntry: %s  •  TP1: %s\n➡️ Stop moved to BE (%s)",
			r.Symbol, r.Side, r.TF, f.Format(r.Symbol, r.Entry), f.Format(r.Symbol, r.TP1), f.Format(r.Symbol, r.SL))
	case "TP2":
		return fmt.Sprintf("✅ TP2 hit | %s %s on %s\nTP2: %s  •  Stop stays at BE (%s)",
			r.Symbol, r.Side, r.TF, f.Format(r.Symbol, r.TP2), f.Format(r.Symbol, r.SL))
	}

	roi := ""
	if ev.Update.ROIPct != nil {
		roi = fmt.Sprintf("\nROI: %+.2f%% (x%g)", *ev.Update.ROIPct, r.Lev)
	}
	switch {
	case ev.Update.Event == "TP3":
		return fmt.Sprintf("🏁 TP3 hit | %s %s on %s\nExit: %s%s", r.Symbol, r.Side, r.TF, price, roi)
	case r.ExitReason == "BE":
		return fmt.Sprintf("⚪ Breakeven stop | %s %s on %s\nExit: %s%s", r.Symbol, r.Side, r.TF, price, roi)
	case ev.Update.Event == "STOP":
		return fmt.Sprintf("❌ Stop loss | %s %s on %s\nExit: %s%s", r.Symbol, r.Side, r.TF, price, roi)
	}
	return head + "\nPrice: " + price
}

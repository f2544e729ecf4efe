package trades

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skalibog/moonshot/pkg/models"
)

var now = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func longRecord() *Record {
	return &Record{
		Symbol: "SOLUSDT", TF: "15m", Side: models.Long, Status: StatusOpen,
		Entry: 100, SL: 95, TP1: 105, TP2: 110, TP3: 120, Lev: 5,
		Updates: []Update{},
	}
}

func shortRecord() *Record {
	return &Record{
		Symbol: "SOLUSDT", TF: "15m", Side: models.Short, Status: StatusOpen,
		Entry: 100, SL: 105, TP1: 95, TP2: 90, TP3: 80, Lev: 5,
		Updates: []Update{},
	}
}

type stops struct{ symbols []string }

func (s *stops) RegisterStop(symbol string) error {
	s.symbols = append(s.symbols, symbol)
	return nil
}

func TestAdvance_LongLifecycle(t *testing.T) {
	r := longRecord()

	if ev := r.Advance(101, now); len(ev) != 0 {
		t.Fatalf("no level crossed, got %v", ev)
	}

	ev := r.Advance(106, now)
	if len(ev) != 1 || ev[0].Event != "TP1" || r.Status != StatusTP1 {
		t.Fatalf("expected TP1, got %v status=%s", ev, r.Status)
	}
	if r.SL != r.Entry {
		t.Fatalf("TP1 must move stop to entry, sl=%v", r.SL)
	}

	ev = r.Advance(111, now)
	if len(ev) != 1 || r.Status != StatusTP2 {
		t.Fatalf("expected TP2, got %v status=%s", ev, r.Status)
	}

	ev = r.Advance(121, now)
	if len(ev) != 1 || r.Status != StatusClosedTP3 || r.ExitReason != "TP3" {
		t.Fatalf("expected CLOSED_TP3, got %v status=%s", ev, r.Status)
	}
	if *r.ROIPct != 105 {
		t.Fatalf("roi=%v, want 105", *r.ROIPct)
	}
	if ev := r.Advance(50, now); ev != nil {
		t.Fatal("terminal trade must not change")
	}
}

func TestAdvance_GapCrossesAllLevels(t *testing.T) {
	r := shortRecord()
	ev := r.Advance(79, now)
	if len(ev) != 3 {
		t.Fatalf("expected TP1, TP2, TP3 events, got %v", ev)
	}
	if ev[0].Event != "TP1" || ev[1].Event != "TP2" || ev[2].Event != "TP3" {
		t.Fatalf("unexpected order %v", ev)
	}
	if r.Status != StatusClosedTP3 || len(r.Updates) != 3 {
		t.Fatalf("status=%s updates=%d", r.Status, len(r.Updates))
	}
}

func TestAdvance_StopAndBreakeven(t *testing.T) {
	r := longRecord()
	ev := r.Advance(94, now)
	if len(ev) != 1 || r.Status != StatusStop || r.ExitReason != "STOP" {
		t.Fatalf("expected STOP, got %v %s %s", ev, r.Status, r.ExitReason)
	}
	if *r.ROIPct >= 0 {
		t.Fatalf("stop roi must be negative, got %v", *r.ROIPct)
	}

	r = shortRecord()
	r.Advance(94, now)
	ev = r.Advance(100, now)
	if len(ev) != 1 || r.Status != StatusStop || r.ExitReason != "BE" {
		t.Fatalf("expected breakeven stop after TP1, got %v %s %s", ev, r.Status, r.ExitReason)
	}

	r = longRecord()
	r.Advance(111, now)
	r.Advance(99, now)
	if r.Status != StatusStop {
		t.Fatalf("stop must fire from TP2 as well, got %s", r.Status)
	}
}

func TestRecord_PreservesUnknownFields(t *testing.T) {
	doc := `{"symbol":"SOLUSDT","tf":"15m","side":"LONG","status":"OPEN","entry":1,"sl":0.9,
		"tp1":1.1,"tp2":1.2,"tp3":1.3,"lev":5,"notional":100,"created_at":"x","updates":[],
		"notified":{"tp1":true}}`

	var r Record
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Extra["notified"]; !ok {
		t.Fatal("unknown field was dropped")
	}

	out, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `"notified":{"tp1":true}`) {
		t.Fatalf("unknown field not written back: %s", out)
	}
}

func TestStore_AddAdvanceReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.json")
	s := OpenStore(path)

	sig := models.Signal{
		Key: "SOLUSDT:15m:1700000000000:LONG", Symbol: "SOLUSDT", Timeframe: "15m", Side: models.Long,
		Entry: 100, StopLoss: 95, TakeProfits: []float64{105, 110, 120}, Leverage: 5, Notional: 250,
	}
	rec, err := NewRecord(sig)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID == "" {
		t.Fatal("record id must be set")
	}
	if added, err := s.Add(sig.Key, rec); !added || err != nil {
		t.Fatalf("add: %v %v", added, err)
	}
	if added, _ := s.Add(sig.Key, rec); added {
		t.Fatal("duplicate key must be rejected")
	}

	st := &stops{}
	events, err := s.Advance(map[string]float64{"SOLUSDT": 90}, now, st)
	if err != nil || len(events) != 1 || events[0].Update.Event != "STOP" {
		t.Fatalf("expected STOP event, got %v %v", events, err)
	}
	if len(st.symbols) != 1 || st.symbols[0] != "SOLUSDT" {
		t.Fatalf("stop not registered: %v", st.symbols)
	}

	reloaded := OpenStore(path)
	got, ok := reloaded.Get(sig.Key)
	if !ok || got.Status != StatusStop || reloaded.OpenCount() != 0 {
		t.Fatalf("reload mismatch: %+v", got)
	}
}

func TestStore_AdvanceEventsCarryTransitionState(t *testing.T) {
	s := OpenStore(filepath.Join(t.TempDir(), "trades.json"))
	if _, err := s.Add("SOLUSDT:15m:1:LONG", longRecord()); err != nil {
		t.Fatal(err)
	}

	events, err := s.Advance(map[string]float64{"SOLUSDT": 121}, now, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected TP1, TP2, TP3 events, got %+v", events)
	}

	want := []struct {
		event   string
		status  Status
		updates int
	}{
		{"TP1", StatusTP1, 1},
		{"TP2", StatusTP2, 2},
		{"TP3", StatusClosedTP3, 3},
	}
	for i, w := range want {
		ev := events[i]
		if ev.Update.Event != w.event || ev.Record.Status != w.status || len(ev.Record.Updates) != w.updates {
			t.Errorf("event %d: got %s status=%s updates=%d, want %s status=%s updates=%d",
				i, ev.Update.Event, ev.Record.Status, len(ev.Record.Updates), w.event, w.status, w.updates)
		}
	}
	if events[0].Record.ExitPrice != nil {
		t.Error("TP1 event must not carry exit price")
	}
	if events[0].Record.SL != 100 {
		t.Errorf("TP1 event must carry breakeven stop, got %g", events[0].Record.SL)
	}
}

func TestStore_CorruptedQuarantined(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := OpenStore(path)
	if s.OpenCount() != 0 {
		t.Fatal("expected empty store")
	}
	if _, err := os.Stat(path + ".corrupted"); err != nil {
		t.Fatalf("corrupted file not moved aside: %v", err)
	}
}

func TestKeyCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	c := LoadKeyCache(path)
	if err := c.Add("B:15m:2:LONG"); err != nil {
		t.Fatal(err)
	}
	if err := c.Add("A:15m:1:SHORT"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "A:15m:1:SHORT" {
		t.Fatalf("expected sorted array, got %v", keys)
	}

	if !LoadKeyCache(path).Has("B:15m:2:LONG") {
		t.Fatal("key lost after reload")
	}
}

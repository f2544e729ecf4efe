package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/skalibog/moonshot/internal/config"
)

func testMessage() Message {
	return Message{
		Kind:   KindSignal,
		Key:    "SOLUSDT:15m:1700000000000:LONG",
		Symbol: "SOLUSDT",
		Text:   "signal",
		Time:   time.Unix(1_700_000_000, 0).UTC(),
	}
}

func TestTelegram_Notify(t *testing.T) {
	var got sendMessageRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram(config.TelegramConfig{APIURL: srv.URL + "/", BotToken: "TOKEN", ChatID: "42"})
	if err := tg.Notify(context.Background(), testMessage()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("unexpected path %q", path)
	}
	if got.ChatID != "42" || got.Text != "signal" {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestTelegram_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	tg := NewTelegram(config.TelegramConfig{APIURL: srv.URL, BotToken: "T", ChatID: "1"})
	if err := tg.Notify(context.Background(), testMessage()); err == nil {
		t.Fatal("expected error on ok=false")
	}
}

func TestTelegram_TransportErrorHidesToken(t *testing.T) {
	const token = "123456:SECRET-TOKEN"
	tg := NewTelegram(config.TelegramConfig{
		APIURL:         "http://127.0.0.1:1",
		BotToken:       token,
		ChatID:         "1",
		TimeoutSeconds: 2,
	})

	err := tg.Notify(context.Background(), testMessage())
	if err == nil {
		t.Fatal("expected transport error")
	}
	if strings.Contains(err.Error(), token) || strings.Contains(err.Error(), "SECRET") {
		t.Fatalf("error exposes bot token: %v", err)
	}
}

func TestTelegram_CanceledContext(t *testing.T) {
	tg := NewTelegram(config.TelegramConfig{APIURL: "http://127.0.0.1:1", BotToken: "T0KEN", ChatID: "1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tg.Notify(ctx, testMessage())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if strings.Contains(err.Error(), "T0KEN") {
		t.Fatalf("error exposes bot token: %v", err)
	}
}

func TestKafka_Notify(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var msg Message
		if err := json.Unmarshal(val, &msg); err != nil {
			return err
		}
		if msg.Kind != KindSignal || msg.Symbol != "SOLUSDT" {
			return errors.New("unexpected payload")
		}
		return nil
	})

	k := NewKafkaWithProducer(producer, "moonshot.signals")
	if err := k.Notify(context.Background(), testMessage()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := k.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestKafka_Failure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	k := NewKafkaWithProducer(producer, "moonshot.signals")
	if err := k.Notify(context.Background(), testMessage()); !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected broker error, got %v", err)
	}
	_ = k.Close()
}

type recorder struct {
	got []Message
	err error
}

func (r *recorder) Notify(_ context.Context, msg Message) error {
	r.got = append(r.got, msg)
	return r.err
}

func (r *recorder) Close() error { return nil }

func TestMulti_FanOut(t *testing.T) {
	failing := &recorder{err: errors.New("down")}
	ok := &recorder{}
	m := Multi{failing, ok, Console{}}

	err := m.Notify(context.Background(), testMessage())
	if err == nil {
		t.Fatal("expected combined error")
	}
	if len(ok.got) != 1 || len(failing.got) != 1 {
		t.Fatal("every notifier must receive the message")
	}
}

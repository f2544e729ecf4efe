// Package notify доставка сигналов и обновлений сделок: Telegram, Kafka, консоль.
package notify

import (
	"context"
	"time"

	"github.com/skalibog/moonshot/pkg/logger"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Kind тип уведомления
type Kind string

const (
	KindSignal      Kind = "signal"
	KindPreSignal   Kind = "pre_signal"
	KindTradeUpdate Kind = "trade_update"
)

// Message уведомление. Text - готовый текст для людей, Payload - структура для машин.
type Message struct {
	Kind    Kind        `json:"kind"`
	Key     string      `json:"key"`
	Symbol  string      `json:"symbol"`
	Text    string      `json:"text"`
	Payload interface{} `json:"payload,omitempty"`
	Time    time.Time   `json:"time"`
}

// Notifier получатель уведомлений
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
	Close() error
}

// Multi рассылает уведомление всем получателям; ошибка одного не мешает остальным
type Multi []Notifier

// Notify отправляет сообщение всем получателям
func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs error
	for _, n := range m {
		errs = multierr.Append(errs, n.Notify(ctx, msg))
	}
	return errs
}

// Close закрывает всех получателей
func (m Multi) Close() error {
	var errs error
	for _, n := range m {
		errs = multierr.Append(errs, n.Close())
	}
	return errs
}

// Console пишет уведомления в лог; используется, когда Telegram выключен
type Console struct{}

// Notify логирует сообщение
func (Console) Notify(_ context.Context, msg Message) error {
	logger.Info("Уведомление",
		zap.String("kind", string(msg.Kind)),
		zap.String("key", msg.Key),
		zap.String("text", msg.Text))
	return nil
}

// Close ничего не делает
func (Console) Close() error { return nil }

package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/skalibog/moonshot/internal/config"
	"github.com/skalibog/moonshot/pkg/logger"
	"go.uber.org/zap"
)

// Kafka публикует уведомления в топик как JSON; ключ сообщения - ключ сигнала
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafka подключается к брокерам
func NewKafka(cfg config.KafkaConfig) (*Kafka, error) {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 3
	sc.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к kafka: %w", err)
	}
	return NewKafkaWithProducer(producer, cfg.Topic), nil
}

// NewKafkaWithProducer использует готовый продюсер
func NewKafkaWithProducer(producer sarama.SyncProducer, topic string) *Kafka {
	return &Kafka{producer: producer, topic: topic}
}

// Notify публикует сообщение
func (k *Kafka) Notify(_ context.Context, msg Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}

	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(msg.Key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(msg.Kind)},
		},
	})
	if err != nil {
		return fmt.Errorf("ошибка публикации в kafka: %w", err)
	}

	logger.Debug("Событие опубликовано",
		zap.String("topic", k.topic),
		zap.String("key", msg.Key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close закрывает продюсер
func (k *Kafka) Close() error {
	return k.producer.Close()
}

// Package messagebus предоставляет адаптеры message bus для движка саг.
package messagebus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/akriventsev/sagaflow/framework/core"
	"github.com/akriventsev/sagaflow/framework/transport"
)

// KafkaConfig конфигурация для Kafka адаптера
type KafkaConfig struct {
	Brokers      []string
	GroupID      string
	BatchSize    int
	BatchTimeout time.Duration
	Compression  string // none, gzip, snappy, lz4, zstd
	// SubjectAliases отображение wildcard паттернов в имена topics;
	// Kafka не поддерживает wildcard подписки в имени topic
	SubjectAliases map[string]string
}

// Validate проверяет корректность конфигурации
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty")
	}
	if c.GroupID == "" {
		return fmt.Errorf("kafka group id cannot be empty")
	}
	return nil
}

// DefaultKafkaConfig возвращает конфигурацию Kafka по умолчанию
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		GroupID:      "sagaflow-group",
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Compression:  "snappy",
		SubjectAliases: map[string]string{
			"saga.*.action_result":       "saga_action_results",
			"saga.*.compensation_result": "saga_compensation_results",
		},
	}
}

// KafkaAdapter реализация MessageBus через Kafka
type KafkaAdapter struct {
	config KafkaConfig
	writer *kafka.Writer

	mu      sync.RWMutex
	running bool
	readers map[string]*readerHandle // topic -> reader
}

// readerHandle читатель одного topic
type readerHandle struct {
	reader *kafka.Reader
	cancel context.CancelFunc
}

// NewKafkaAdapter создает новый Kafka адаптер
func NewKafkaAdapter(config KafkaConfig) (*KafkaAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchSize:    config.BatchSize,
		BatchTimeout: config.BatchTimeout,
		Compression:  compressionCodec(config.Compression),
	}

	return &KafkaAdapter{
		config:  config,
		writer:  writer,
		readers: make(map[string]*readerHandle),
	}, nil
}

// compressionCodec преобразует имя кодека в kafka.Compression
func compressionCodec(name string) kafka.Compression {
	switch name {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0
	}
}

// Start запускает адаптер (реализация core.Lifecycle)
func (k *KafkaAdapter) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.running = true
	return nil
}

// Stop останавливает читателей и закрывает writer (реализация core.Lifecycle)
func (k *KafkaAdapter) Stop(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.running {
		return nil
	}

	for _, h := range k.readers {
		h.cancel()
		_ = h.reader.Close()
	}
	k.readers = make(map[string]*readerHandle)

	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	k.running = false
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (k *KafkaAdapter) IsRunning() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.running
}

// Name возвращает имя компонента (реализация core.Component)
func (k *KafkaAdapter) Name() string {
	return "kafka-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (k *KafkaAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Publish публикует сообщение в topic, соответствующий subject
func (k *KafkaAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	msg := kafka.Message{
		Topic: k.topicName(subject),
		Key:   []byte(subject),
		Value: data,
	}
	for key, value := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	msg.Headers = append(msg.Headers, kafka.Header{Key: "subject", Value: []byte(subject)})

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe подписывается на topic, соответствующий subject
func (k *KafkaAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	topic := k.topicName(subject)

	k.mu.Lock()
	if _, exists := k.readers[topic]; exists {
		k.mu.Unlock()
		return fmt.Errorf("already subscribed to %s", subject)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: k.config.Brokers,
		GroupID: k.config.GroupID,
		Topic:   topic,
	})
	readCtx, cancel := context.WithCancel(context.Background())
	k.readers[topic] = &readerHandle{reader: reader, cancel: cancel}
	k.mu.Unlock()

	go k.readLoop(readCtx, reader, handler)
	return nil
}

// Unsubscribe закрывает читателя topic
func (k *KafkaAdapter) Unsubscribe(subject string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	topic := k.topicName(subject)
	h, exists := k.readers[topic]
	if !exists {
		return fmt.Errorf("not subscribed to %s", subject)
	}
	h.cancel()
	delete(k.readers, topic)
	return h.reader.Close()
}

// readLoop читает сообщения и подтверждает обработанные (at-least-once)
func (k *KafkaAdapter) readLoop(ctx context.Context, reader *kafka.Reader, handler transport.MessageHandler) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			time.Sleep(time.Second)
			continue
		}

		transportMsg := &transport.Message{
			Subject: reader.Config().Topic,
			Data:    msg.Value,
			Headers: make(map[string]string, len(msg.Headers)),
		}
		for _, h := range msg.Headers {
			transportMsg.Headers[h.Key] = string(h.Value)
		}
		if subject, ok := transportMsg.Headers["subject"]; ok {
			transportMsg.Subject = subject
		}

		if err := handler(ctx, transportMsg); err == nil {
			_ = reader.CommitMessages(ctx, msg)
		}
	}
}

// topicName отображает subject в имя topic с учетом aliases и требований
// Kafka к допустимым символам
func (k *KafkaAdapter) topicName(subject string) string {
	if alias, ok := k.config.SubjectAliases[subject]; ok {
		return alias
	}
	for pattern, alias := range k.config.SubjectAliases {
		if matchSubject(subject, pattern) {
			return alias
		}
	}
	sanitized := strings.ReplaceAll(subject, "*", "any")
	return strings.ReplaceAll(sanitized, ".", "_")
}

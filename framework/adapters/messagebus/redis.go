// Package messagebus предоставляет адаптеры message bus для движка саг.
package messagebus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/akriventsev/sagaflow/framework/core"
	"github.com/akriventsev/sagaflow/framework/transport"
)

// RedisConfig конфигурация для Redis адаптера
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	PoolSize      int
	MaxRetries    int
	StreamMaxLen  int64 // максимальная длина stream (0 = без ограничений)
	ConsumerGroup string
	BlockTimeout  time.Duration
	// SubjectAliases отображение wildcard паттернов в имена streams.
	// Redis Streams не поддерживает wildcard подписки, поэтому публикация
	// в subject, совпадающий с паттерном, и подписка на сам паттерн
	// направляются в один общий stream
	SubjectAliases map[string]string
}

// Validate проверяет корректность конфигурации
func (c RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("redis addr cannot be empty")
	}
	if c.ConsumerGroup == "" {
		return fmt.Errorf("redis consumer group cannot be empty")
	}
	return nil
}

// DefaultRedisConfig возвращает конфигурацию Redis по умолчанию.
// Aliases покрывают destinations ответов движка саг
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		DB:            0,
		PoolSize:      10,
		MaxRetries:    3,
		StreamMaxLen:  10000,
		ConsumerGroup: "sagaflow-group",
		BlockTimeout:  5 * time.Second,
		SubjectAliases: map[string]string{
			"saga.*.action_result":       "saga_action_results",
			"saga.*.compensation_result": "saga_compensation_results",
		},
	}
}

// RedisAdapter реализация MessageBus через Redis Streams
type RedisAdapter struct {
	config RedisConfig
	client *redis.Client

	mu        sync.RWMutex
	running   bool
	consumers map[string]context.CancelFunc // stream -> cancel читающей goroutine
}

// NewRedisAdapter создает новый Redis адаптер и проверяет подключение
func NewRedisAdapter(config RedisConfig) (*RedisAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:       config.Addr,
		Password:   config.Password,
		DB:         config.DB,
		PoolSize:   config.PoolSize,
		MaxRetries: config.MaxRetries,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisAdapter{
		config:    config,
		client:    client,
		consumers: make(map[string]context.CancelFunc),
	}, nil
}

// Start запускает адаптер (реализация core.Lifecycle)
func (r *RedisAdapter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = true
	return nil
}

// Stop останавливает читающие goroutines и закрывает клиент
// (реализация core.Lifecycle)
func (r *RedisAdapter) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}

	for _, cancel := range r.consumers {
		cancel()
	}
	r.consumers = make(map[string]context.CancelFunc)

	if r.client != nil {
		_ = r.client.Close()
	}
	r.running = false
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (r *RedisAdapter) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Name возвращает имя компонента (реализация core.Component)
func (r *RedisAdapter) Name() string {
	return "redis-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (r *RedisAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// HealthCheck проверяет подключение к Redis
func (r *RedisAdapter) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return core.Wrap(err, core.ErrNotConnected, "redis ping failed")
	}
	return nil
}

// Publish публикует сообщение в stream (XADD)
func (r *RedisAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	stream := r.streamName(subject)

	values := map[string]interface{}{
		"subject": subject,
		"data":    string(data),
	}
	if len(headers) > 0 {
		headersJSON, err := json.Marshal(headers)
		if err != nil {
			return fmt.Errorf("failed to marshal headers: %w", err)
		}
		values["headers"] = string(headersJSON)
	}

	args := redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if r.config.StreamMaxLen > 0 {
		args.MaxLen = r.config.StreamMaxLen
		args.Approx = true
	}

	if err := r.client.XAdd(ctx, &args).Err(); err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", stream, err)
	}
	return nil
}

// Subscribe подписывается на stream (XREADGROUP)
func (r *RedisAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	stream := r.streamName(subject)

	err := r.client.XGroupCreateMkStream(ctx, stream, r.config.ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
	}

	r.mu.Lock()
	if _, exists := r.consumers[stream]; exists {
		r.mu.Unlock()
		return fmt.Errorf("already subscribed to %s", subject)
	}
	readCtx, cancel := context.WithCancel(context.Background())
	r.consumers[stream] = cancel
	r.mu.Unlock()

	consumerName := fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	go r.readLoop(readCtx, stream, consumerName, handler)
	return nil
}

// Unsubscribe останавливает чтение stream
func (r *RedisAdapter) Unsubscribe(subject string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stream := r.streamName(subject)
	cancel, exists := r.consumers[stream]
	if !exists {
		return fmt.Errorf("not subscribed to %s", subject)
	}
	cancel()
	delete(r.consumers, stream)
	return nil
}

// readLoop читает сообщения из stream и подтверждает обработанные
func (r *RedisAdapter) readLoop(ctx context.Context, stream, consumerName string, handler transport.MessageHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.config.ConsumerGroup,
			Consumer: consumerName,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    r.config.BlockTimeout,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			time.Sleep(time.Second)
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				data, _ := msg.Values["data"].(string)
				subject, _ := msg.Values["subject"].(string)
				if subject == "" {
					subject = stream
				}

				transportMsg := &transport.Message{
					Subject: subject,
					Data:    []byte(data),
					Headers: make(map[string]string),
				}
				if headersStr, ok := msg.Values["headers"].(string); ok {
					_ = json.Unmarshal([]byte(headersStr), &transportMsg.Headers)
				}

				if err := handler(ctx, transportMsg); err == nil {
					_ = r.client.XAck(ctx, s.Stream, r.config.ConsumerGroup, msg.ID).Err()
				}
			}
		}
	}
}

// streamName отображает subject в имя stream с учетом aliases
func (r *RedisAdapter) streamName(subject string) string {
	if alias, ok := r.config.SubjectAliases[subject]; ok {
		return alias
	}
	for pattern, alias := range r.config.SubjectAliases {
		if matchSubject(subject, pattern) {
			return alias
		}
	}
	return "stream:" + subject
}

// Package messagebus предоставляет адаптеры message bus для движка саг.
package messagebus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/akriventsev/sagaflow/framework/core"
	"github.com/akriventsev/sagaflow/framework/transport"
)

// NATSConfig конфигурация для NATS адаптера
type NATSConfig struct {
	URL               string
	MaxReconnects     int
	ReconnectWait     time.Duration
	ConnectionTimeout time.Duration
	DrainTimeout      time.Duration
	Token             string
	Username          string
	Password          string
}

// Validate проверяет корректность конфигурации
func (c NATSConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("NATS URL cannot be empty")
	}
	return nil
}

// DefaultNATSConfig возвращает конфигурацию NATS по умолчанию
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:               nats.DefaultURL,
		MaxReconnects:     10,
		ReconnectWait:     2 * time.Second,
		ConnectionTimeout: 5 * time.Second,
		DrainTimeout:      10 * time.Second,
	}
}

// NATSAdapter реализация MessageBus через NATS. Wildcard подписки
// роутера ответов (saga.*.action_result) поддерживаются брокером нативно
type NATSAdapter struct {
	config NATSConfig
	conn   *nats.Conn

	mu            sync.RWMutex
	subscriptions map[string]*nats.Subscription
	running       bool
}

// NewNATSAdapter создает новый NATS адаптер; подключение устанавливается
// в Start
func NewNATSAdapter(config NATSConfig) (*NATSAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid NATS config: %w", err)
	}
	return &NATSAdapter{
		config:        config,
		subscriptions: make(map[string]*nats.Subscription),
	}, nil
}

// NewNATSAdapterFromConn создает адаптер поверх существующего подключения
func NewNATSAdapterFromConn(conn *nats.Conn) *NATSAdapter {
	return &NATSAdapter{
		config:        DefaultNATSConfig(),
		conn:          conn,
		subscriptions: make(map[string]*nats.Subscription),
		running:       conn != nil && conn.IsConnected(),
	}
}

// Start устанавливает подключение к NATS (реализация core.Lifecycle)
func (n *NATSAdapter) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return nil
	}

	if n.conn == nil {
		opts := []nats.Option{
			nats.MaxReconnects(n.config.MaxReconnects),
			nats.ReconnectWait(n.config.ReconnectWait),
			nats.Timeout(n.config.ConnectionTimeout),
			nats.DrainTimeout(n.config.DrainTimeout),
		}
		if n.config.Token != "" {
			opts = append(opts, nats.Token(n.config.Token))
		}
		if n.config.Username != "" && n.config.Password != "" {
			opts = append(opts, nats.UserInfo(n.config.Username, n.config.Password))
		}

		conn, err := nats.Connect(n.config.URL, opts...)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		n.conn = conn
	}

	n.running = true
	return nil
}

// Stop закрывает подключение через drain (реализация core.Lifecycle)
func (n *NATSAdapter) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return nil
	}

	if n.conn != nil {
		if err := n.conn.Drain(); err != nil {
			n.conn.Close()
		}
	}
	n.subscriptions = make(map[string]*nats.Subscription)
	n.running = false
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (n *NATSAdapter) IsRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.running
}

// Name возвращает имя компонента (реализация core.Component)
func (n *NATSAdapter) Name() string {
	return "nats-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (n *NATSAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// HealthCheck проверяет подключение к NATS
func (n *NATSAdapter) HealthCheck(ctx context.Context) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.conn == nil || !n.conn.IsConnected() {
		return core.NewError(core.ErrNotConnected, "NATS connection is not established")
	}
	return nil
}

// Publish публикует сообщение в subject
func (n *NATSAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	n.mu.RLock()
	conn := n.conn
	n.mu.RUnlock()

	if conn == nil {
		return core.NewError(core.ErrNotConnected, "NATS adapter is not started")
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
	}
	if len(headers) > 0 {
		msg.Header = make(nats.Header, len(headers))
		for k, v := range headers {
			msg.Header.Set(k, v)
		}
	}

	if err := conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe подписывается на subject; wildcard паттерны передаются
// брокеру как есть
func (n *NATSAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		return core.NewError(core.ErrNotConnected, "NATS adapter is not started")
	}
	if _, exists := n.subscriptions[subject]; exists {
		return fmt.Errorf("already subscribed to %s", subject)
	}

	sub, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		headers := make(map[string]string, len(msg.Header))
		for k := range msg.Header {
			headers[k] = msg.Header.Get(k)
		}
		_ = handler(ctx, &transport.Message{
			Subject: msg.Subject,
			Data:    msg.Data,
			Headers: headers,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	n.subscriptions[subject] = sub
	return nil
}

// Unsubscribe отписывается от subject
func (n *NATSAdapter) Unsubscribe(subject string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub, exists := n.subscriptions[subject]
	if !exists {
		return fmt.Errorf("not subscribed to %s", subject)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", subject, err)
	}
	delete(n.subscriptions, subject)
	return nil
}

// Conn возвращает низкоуровневое NATS подключение
func (n *NATSAdapter) Conn() *nats.Conn {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.conn
}

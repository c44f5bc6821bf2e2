// Package saga предоставляет роутер ответов исполнителей.
package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/akriventsev/sagaflow/framework/core"
	"github.com/akriventsev/sagaflow/framework/transport"
)

// ReplyRouter подписывается на wildcard destinations ответов и направляет
// декодированные ответы в движок. Отброшенные по ProtocolError ответы
// подтверждаются как обработанные: повторная доставка того же ответа
// штатная ситуация при at-least-once гарантии.
type ReplyRouter struct {
	engine     *Engine
	bus        transport.MessageBus
	serializer transport.MessageSerializer

	mu      sync.RWMutex
	running bool
}

// NewReplyRouter создает новый роутер ответов
func NewReplyRouter(engine *Engine, bus transport.MessageBus) *ReplyRouter {
	return &ReplyRouter{
		engine:     engine,
		bus:        bus,
		serializer: transport.NewJSONSerializer(),
	}
}

// Name возвращает имя компонента
func (r *ReplyRouter) Name() string {
	return "saga-reply-router"
}

// Type возвращает тип компонента
func (r *ReplyRouter) Type() core.ComponentType {
	return core.ComponentTypeService
}

// Start подписывает роутер на destinations ответов
func (r *ReplyRouter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	if err := r.bus.Subscribe(ctx, ActionResultPattern, r.handleActionReply); err != nil {
		return fmt.Errorf("failed to subscribe to action results: %w", err)
	}
	if err := r.bus.Subscribe(ctx, CompensationResultPattern, r.handleCompensationReply); err != nil {
		_ = r.bus.Unsubscribe(ActionResultPattern)
		return fmt.Errorf("failed to subscribe to compensation results: %w", err)
	}

	r.running = true
	return nil
}

// Stop отписывает роутер от destinations ответов
func (r *ReplyRouter) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}

	if err := r.bus.Unsubscribe(ActionResultPattern); err != nil {
		return fmt.Errorf("failed to unsubscribe from action results: %w", err)
	}
	if err := r.bus.Unsubscribe(CompensationResultPattern); err != nil {
		return fmt.Errorf("failed to unsubscribe from compensation results: %w", err)
	}

	r.running = false
	return nil
}

// IsRunning проверяет, запущен ли роутер
func (r *ReplyRouter) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// handleActionReply декодирует и направляет forward ответ
func (r *ReplyRouter) handleActionReply(ctx context.Context, msg *transport.Message) error {
	var reply ActionReply
	if err := r.serializer.Deserialize(msg.Data, &reply); err != nil {
		return fmt.Errorf("failed to decode action reply from %s: %w", msg.Subject, err)
	}
	return r.route(r.engine.HandleActionReply(ctx, &reply))
}

// handleCompensationReply декодирует и направляет ответ компенсации
func (r *ReplyRouter) handleCompensationReply(ctx context.Context, msg *transport.Message) error {
	var reply CompensationReply
	if err := r.serializer.Deserialize(msg.Data, &reply); err != nil {
		return fmt.Errorf("failed to decode compensation reply from %s: %w", msg.Subject, err)
	}
	return r.route(r.engine.HandleCompensationReply(ctx, &reply))
}

// route подавляет ProtocolError: отброшенный ответ не должен уходить
// в redelivery
func (r *ReplyRouter) route(err error) error {
	var protocolErr *ProtocolError
	if errors.As(err, &protocolErr) {
		return nil
	}
	return err
}

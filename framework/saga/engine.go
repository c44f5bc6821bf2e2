// Package saga предоставляет асинхронный движок оркестрации саг.
package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akriventsev/sagaflow/framework/metrics"
	"github.com/akriventsev/sagaflow/framework/transport"
)

// Фазы обработки ответов
const (
	phaseAction       = "action"
	phaseCompensation = "compensation"
)

// Engine асинхронный движок саг. Управляет экземплярами через реплай-цикл:
// отправляет команды исполнителям по message bus и применяет их ответы к
// персистентной state machine. Каждый переход сначала сохраняется в store
// и только затем порождает side effect (persist-before-dispatch).
type Engine struct {
	registry   *Registry
	store      Store
	publisher  transport.Publisher
	serializer transport.MessageSerializer
	metrics    *metrics.Metrics

	// per-saga критические секции: экземпляры мутируются строго
	// последовательно, разные экземпляры обрабатываются параллельно
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// EngineOption опция конфигурации движка
type EngineOption func(*Engine)

// WithMetrics подключает сборщик метрик
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithSerializer задает сериализатор сообщений
func WithSerializer(s transport.MessageSerializer) EngineOption {
	return func(e *Engine) {
		e.serializer = s
	}
}

// NewEngine создает новый движок саг
func NewEngine(registry *Registry, store Store, publisher transport.Publisher, opts ...EngineOption) *Engine {
	e := &Engine{
		registry:   registry,
		store:      store,
		publisher:  publisher,
		serializer: transport.NewJSONSerializer(),
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// lockFor возвращает мьютекс экземпляра саги
func (e *Engine) lockFor(sagaID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	mu, exists := e.locks[sagaID]
	if !exists {
		mu = &sync.Mutex{}
		e.locks[sagaID] = mu
	}
	return mu
}

// Start запускает новый экземпляр саги: персистит Running с пустым журналом
// и отправляет команду первого шага
func (e *Engine) Start(ctx context.Context, definitionID string, initialPayload map[string]interface{}, correlationID string) (*Instance, error) {
	definition, err := e.registry.Get(definitionID)
	if err != nil {
		return nil, err
	}

	sagaID := uuid.New().String()
	if _, err := e.store.Load(ctx, sagaID); err == nil {
		return nil, &DuplicateSagaError{SagaID: sagaID}
	}

	now := time.Now()
	instance := &Instance{
		ID:                 sagaID,
		DefinitionID:       definitionID,
		ForwardCursor:      0,
		CompensationCursor: NoCompensation,
		Status:             StatusRunning,
		SharedPayload:      initialPayload,
		Attempts:           make([]Attempt, 0, definition.Len()),
		CorrelationID:      correlationID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := e.store.Save(ctx, instance); err != nil {
		return nil, &PersistenceError{Op: "save", SagaID: sagaID, Cause: err}
	}

	if e.metrics != nil {
		e.metrics.RecordSagaStarted(ctx, definitionID)
	}

	if err := e.dispatchAction(ctx, definition, instance); err != nil {
		return nil, err
	}
	return instance.Clone(), nil
}

// HandleActionReply применяет ответ исполнителя на forward действие.
// Ответ, не прошедший acceptance guard, отбрасывается с ProtocolError
// без какой-либо мутации состояния.
func (e *Engine) HandleActionReply(ctx context.Context, reply *ActionReply) error {
	mu := e.lockFor(reply.SagaID)
	mu.Lock()
	defer mu.Unlock()

	instance, definition, err := e.load(ctx, reply.SagaID)
	if err != nil {
		return e.discardIfUnknown(ctx, reply.SagaID, phaseAction, reply.StepIndex, err)
	}

	if guardErr := e.guardActionReply(instance, reply); guardErr != nil {
		if e.metrics != nil {
			e.metrics.RecordDiscarded(ctx, guardErr.Reason)
		}
		return guardErr
	}

	if e.metrics != nil {
		e.metrics.RecordReply(ctx, phaseAction, reply.Success)
	}

	attempt := &instance.Attempts[reply.StepIndex]
	if reply.Success {
		attempt.Status = AttemptCompleted
		attempt.Result = reply.Output
		instance.MergeSharedPayload(reply.UpdatedSharedPayload)
		instance.ForwardCursor++

		if instance.ForwardCursor >= definition.Len() {
			return e.finishSucceeded(ctx, instance)
		}
		return e.dispatchAction(ctx, definition, instance)
	}

	attempt.Status = AttemptFailed
	attempt.Error = reply.Error
	instance.Status = StatusCompensating
	instance.CompensationCursor = instance.ForwardCursor
	if err := e.store.Save(ctx, instance); err != nil {
		return &PersistenceError{Op: "save", SagaID: instance.ID, Cause: err}
	}
	if e.metrics != nil {
		e.metrics.RecordError(ctx, "execution")
	}
	return e.continueCompensation(ctx, definition, instance)
}

// HandleCompensationReply применяет ответ исполнителя на компенсацию
func (e *Engine) HandleCompensationReply(ctx context.Context, reply *CompensationReply) error {
	mu := e.lockFor(reply.SagaID)
	mu.Lock()
	defer mu.Unlock()

	instance, definition, err := e.load(ctx, reply.SagaID)
	if err != nil {
		return e.discardIfUnknown(ctx, reply.SagaID, phaseCompensation, reply.StepIndexToCompensate, err)
	}

	if guardErr := e.guardCompensationReply(instance, reply); guardErr != nil {
		if e.metrics != nil {
			e.metrics.RecordDiscarded(ctx, guardErr.Reason)
		}
		return guardErr
	}

	if e.metrics != nil {
		e.metrics.RecordReply(ctx, phaseCompensation, reply.Success)
	}

	attempt := &instance.Attempts[reply.StepIndexToCompensate]
	if reply.Success {
		attempt.Status = AttemptCompensated
		instance.CompensationCursor--
		return e.continueCompensation(ctx, definition, instance)
	}

	// Незавершенная компенсация ломает гарантию порядка отката: дальше
	// движок не идет, экземпляр требует ручного вмешательства
	attempt.Status = AttemptCompensationFailed
	attempt.Error = reply.Error
	if e.metrics != nil {
		e.metrics.RecordError(ctx, "compensation")
	}
	return e.finishFailed(ctx, instance, StatusFailedCompensation,
		(&CompensationError{SagaID: instance.ID, StepName: attempt.StepName, Reason: reply.Error}).Error())
}

// Resume возобновляет обработку экземпляра после сбоя процесса: перечитывает
// состояние из store и переотправляет незавершенную команду. Персистентный
// payload переиспользуется байт-в-байт, чтобы исполнители при повторной
// доставке видели идентичную команду.
func (e *Engine) Resume(ctx context.Context, sagaID string) error {
	mu := e.lockFor(sagaID)
	mu.Lock()
	defer mu.Unlock()

	instance, definition, err := e.load(ctx, sagaID)
	if err != nil {
		return err
	}
	if instance.Status.IsTerminal() {
		return nil
	}

	switch instance.Status {
	case StatusCreated:
		instance.Status = StatusRunning
		if err := e.store.Save(ctx, instance); err != nil {
			return &PersistenceError{Op: "save", SagaID: sagaID, Cause: err}
		}
		return e.dispatchAction(ctx, definition, instance)

	case StatusRunning:
		if instance.ForwardCursor < len(instance.Attempts) &&
			instance.Attempts[instance.ForwardCursor].Status == AttemptPending {
			attempt := instance.Attempts[instance.ForwardCursor]
			step, err := definition.StepByName(attempt.StepName)
			if err != nil {
				return err
			}
			return e.publishCommand(ctx, instance, step.ActionCommand, &CommandMessage{
				SagaID:           instance.ID,
				StepIndex:        instance.ForwardCursor,
				StepName:         attempt.StepName,
				Payload:          attempt.RequestPayload,
				ReplyDestination: ActionResultSubject(instance.ID),
				CorrelationID:    instance.CorrelationID,
			}, attempt.StepName, phaseAction)
		}
		return e.dispatchAction(ctx, definition, instance)

	case StatusCompensating:
		cursor := instance.CompensationCursor
		if cursor >= 0 && cursor < len(instance.Attempts) &&
			instance.Attempts[cursor].Status == AttemptPendingCompensation {
			attempt := instance.Attempts[cursor]
			step, err := definition.StepByName(attempt.StepName)
			if err != nil {
				return err
			}
			return e.publishCommand(ctx, instance, step.CompensationCommand, &CommandMessage{
				SagaID:           instance.ID,
				StepIndex:        cursor,
				StepName:         attempt.StepName,
				Payload:          attempt.CompensationPayload,
				ReplyDestination: CompensationResultSubject(instance.ID),
				CorrelationID:    instance.CorrelationID,
			}, attempt.StepName, phaseCompensation)
		}
		return e.continueCompensation(ctx, definition, instance)
	}
	return nil
}

// Status возвращает текущее персистентное состояние экземпляра
func (e *Engine) Status(ctx context.Context, sagaID string) (*Instance, error) {
	instance, err := e.store.Load(ctx, sagaID)
	if err != nil {
		var notFound *ErrInstanceNotFound
		if errors.As(err, &notFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "load", SagaID: sagaID, Cause: err}
	}
	return instance, nil
}

// load загружает экземпляр и его определение
func (e *Engine) load(ctx context.Context, sagaID string) (*Instance, *Definition, error) {
	instance, err := e.store.Load(ctx, sagaID)
	if err != nil {
		var notFound *ErrInstanceNotFound
		if errors.As(err, &notFound) {
			return nil, nil, err
		}
		return nil, nil, &PersistenceError{Op: "load", SagaID: sagaID, Cause: err}
	}
	definition, err := e.registry.Get(instance.DefinitionID)
	if err != nil {
		return nil, nil, err
	}
	return instance, definition, nil
}

// discardIfUnknown превращает отсутствие экземпляра в ProtocolError: при
// at-least-once доставке ответ может прийти после удаления саги
func (e *Engine) discardIfUnknown(ctx context.Context, sagaID, phase string, index int, err error) error {
	var notFound *ErrInstanceNotFound
	if errors.As(err, &notFound) {
		if e.metrics != nil {
			e.metrics.RecordDiscarded(ctx, "unknown instance")
		}
		return &ProtocolError{
			SagaID:   sagaID,
			Phase:    phase,
			GotIndex: index,
			Reason:   "instance not found",
		}
	}
	return err
}

// guardActionReply проверяет acceptance guard для forward ответов
func (e *Engine) guardActionReply(instance *Instance, reply *ActionReply) *ProtocolError {
	if instance.Status.IsTerminal() {
		return &ProtocolError{
			SagaID:    instance.ID,
			Phase:     phaseAction,
			GotIndex:  reply.StepIndex,
			WantIndex: instance.ForwardCursor,
			Reason:    "instance is terminal",
		}
	}
	if instance.Status != StatusRunning {
		return &ProtocolError{
			SagaID:    instance.ID,
			Phase:     phaseAction,
			GotIndex:  reply.StepIndex,
			WantIndex: instance.ForwardCursor,
			Reason:    fmt.Sprintf("instance is %s, not running", instance.Status),
		}
	}
	if reply.StepIndex != instance.ForwardCursor || reply.StepIndex >= len(instance.Attempts) ||
		instance.Attempts[reply.StepIndex].Status != AttemptPending {
		return &ProtocolError{
			SagaID:    instance.ID,
			Phase:     phaseAction,
			GotIndex:  reply.StepIndex,
			WantIndex: instance.ForwardCursor,
			Reason:    "step index does not match forward cursor",
		}
	}
	return nil
}

// guardCompensationReply проверяет acceptance guard для ответов компенсаций
func (e *Engine) guardCompensationReply(instance *Instance, reply *CompensationReply) *ProtocolError {
	if instance.Status.IsTerminal() {
		return &ProtocolError{
			SagaID:    instance.ID,
			Phase:     phaseCompensation,
			GotIndex:  reply.StepIndexToCompensate,
			WantIndex: instance.CompensationCursor,
			Reason:    "instance is terminal",
		}
	}
	if instance.Status != StatusCompensating {
		return &ProtocolError{
			SagaID:    instance.ID,
			Phase:     phaseCompensation,
			GotIndex:  reply.StepIndexToCompensate,
			WantIndex: instance.CompensationCursor,
			Reason:    fmt.Sprintf("instance is %s, not compensating", instance.Status),
		}
	}
	if reply.StepIndexToCompensate != instance.CompensationCursor ||
		reply.StepIndexToCompensate < 0 || reply.StepIndexToCompensate >= len(instance.Attempts) ||
		instance.Attempts[reply.StepIndexToCompensate].Status != AttemptPendingCompensation {
		return &ProtocolError{
			SagaID:    instance.ID,
			Phase:     phaseCompensation,
			GotIndex:  reply.StepIndexToCompensate,
			WantIndex: instance.CompensationCursor,
			Reason:    "step index does not match compensation cursor",
		}
	}
	return nil
}

// dispatchAction добавляет Pending запись журнала для шага под forward cursor,
// персистит экземпляр и публикует команду действия
func (e *Engine) dispatchAction(ctx context.Context, definition *Definition, instance *Instance) error {
	step, err := definition.StepAt(instance.ForwardCursor)
	if err != nil {
		return err
	}

	payload := instance.SharedPayload
	if step.BuildActionPayload != nil {
		payload = step.BuildActionPayload(instance.SharedPayload)
	}
	payloadBytes, err := e.serializer.Serialize(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize action payload for step %s: %w", step.Name, err)
	}

	instance.Attempts = append(instance.Attempts, Attempt{
		StepName:       step.Name,
		RequestPayload: payloadBytes,
		Status:         AttemptPending,
	})
	if err := e.store.Save(ctx, instance); err != nil {
		return &PersistenceError{Op: "save", SagaID: instance.ID, Cause: err}
	}

	return e.publishCommand(ctx, instance, step.ActionCommand, &CommandMessage{
		SagaID:           instance.ID,
		StepIndex:        instance.ForwardCursor,
		StepName:         step.Name,
		Payload:          payloadBytes,
		ReplyDestination: ActionResultSubject(instance.ID),
		CorrelationID:    instance.CorrelationID,
	}, step.Name, phaseAction)
}

// continueCompensation сканирует журнал назад от compensation cursor и
// отправляет компенсацию ближайшей подлежащей откату попытки; если таких
// не осталось, переводит экземпляр в терминальный статус
func (e *Engine) continueCompensation(ctx context.Context, definition *Definition, instance *Instance) error {
	next := instance.nextCompensatable(instance.CompensationCursor)
	if next == NoCompensation {
		status := StatusFailedAction
		if instance.HasCompensationFailure() {
			status = StatusFailedCompensation
		}
		return e.finishFailed(ctx, instance, status, e.failureReason(instance))
	}

	attempt := &instance.Attempts[next]
	step, err := definition.StepByName(attempt.StepName)
	if err != nil {
		return err
	}

	payload := map[string]interface{}{
		"action_result":  attempt.Result,
		"shared_payload": instance.SharedPayload,
	}
	if step.BuildCompensationPayload != nil {
		payload = step.BuildCompensationPayload(attempt.Result, instance.SharedPayload)
	}
	payloadBytes, err := e.serializer.Serialize(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize compensation payload for step %s: %w", step.Name, err)
	}

	attempt.Status = AttemptPendingCompensation
	attempt.CompensationPayload = payloadBytes
	instance.CompensationCursor = next
	if err := e.store.Save(ctx, instance); err != nil {
		return &PersistenceError{Op: "save", SagaID: instance.ID, Cause: err}
	}

	return e.publishCommand(ctx, instance, step.CompensationCommand, &CommandMessage{
		SagaID:           instance.ID,
		StepIndex:        next,
		StepName:         step.Name,
		Payload:          payloadBytes,
		ReplyDestination: CompensationResultSubject(instance.ID),
		CorrelationID:    instance.CorrelationID,
	}, step.Name, phaseCompensation)
}

// finishSucceeded переводит экземпляр в Succeeded и публикует событие
// завершения ровно один раз
func (e *Engine) finishSucceeded(ctx context.Context, instance *Instance) error {
	instance.Status = StatusSucceeded
	if err := e.store.Save(ctx, instance); err != nil {
		return &PersistenceError{Op: "save", SagaID: instance.ID, Cause: err}
	}
	if e.metrics != nil {
		e.metrics.RecordSagaFinished(ctx, instance.DefinitionID, string(StatusSucceeded), time.Since(instance.CreatedAt))
	}
	event := &CompletedEvent{
		SagaID:             instance.ID,
		FinalSharedPayload: instance.SharedPayload,
	}
	data, err := e.serializer.Serialize(event)
	if err != nil {
		return fmt.Errorf("failed to serialize completion event: %w", err)
	}
	return e.publisher.Publish(ctx, CompletedEventSubject(instance.ID), data, nil)
}

// finishFailed переводит экземпляр в терминальный failed статус и публикует
// событие неудачи ровно один раз
func (e *Engine) finishFailed(ctx context.Context, instance *Instance, status Status, reason string) error {
	instance.Status = status
	instance.CompensationCursor = NoCompensation
	if err := e.store.Save(ctx, instance); err != nil {
		return &PersistenceError{Op: "save", SagaID: instance.ID, Cause: err}
	}
	if e.metrics != nil {
		e.metrics.RecordSagaFinished(ctx, instance.DefinitionID, string(status), time.Since(instance.CreatedAt))
	}
	event := &FailedEvent{
		SagaID: instance.ID,
		Reason: reason,
	}
	data, err := e.serializer.Serialize(event)
	if err != nil {
		return fmt.Errorf("failed to serialize failure event: %w", err)
	}
	return e.publisher.Publish(ctx, FailedEventSubject(instance.ID), data, nil)
}

// failureReason собирает причину неудачи из журнала попыток
func (e *Engine) failureReason(instance *Instance) string {
	for i := len(instance.Attempts) - 1; i >= 0; i-- {
		a := instance.Attempts[i]
		if a.Status == AttemptFailed || a.Status == AttemptCompensated {
			if a.Error != "" {
				return (&ExecutionError{SagaID: instance.ID, StepName: a.StepName, Reason: a.Error}).Error()
			}
		}
	}
	return "saga rolled back"
}

// publishCommand сериализует и публикует команду, считая метрику
func (e *Engine) publishCommand(ctx context.Context, instance *Instance, destination string, cmd *CommandMessage, stepName, phase string) error {
	data, err := e.serializer.Serialize(cmd)
	if err != nil {
		return fmt.Errorf("failed to serialize command for step %s: %w", stepName, err)
	}
	headers := map[string]string{}
	if instance.CorrelationID != "" {
		headers["correlation_id"] = instance.CorrelationID
	}
	if err := e.publisher.Publish(ctx, destination, data, headers); err != nil {
		return fmt.Errorf("failed to publish command for step %s: %w", stepName, err)
	}
	if e.metrics != nil {
		e.metrics.RecordCommand(ctx, stepName, phase)
	}
	return nil
}

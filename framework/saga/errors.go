// Package saga предоставляет типизированные ошибки движка саг.
package saga

import (
	"fmt"
	"strings"
)

// DefinitionError ошибка конфигурации определения саги:
// дублирующиеся имена шагов или ссылка из журнала на неизвестный шаг
// (несовпадение версий определения и экземпляра)
type DefinitionError struct {
	DefinitionID string
	StepName     string
	Reason       string
}

// Error реализует интерфейс error
func (e *DefinitionError) Error() string {
	if e.StepName != "" {
		return fmt.Sprintf("saga definition %s: step %s: %s", e.DefinitionID, e.StepName, e.Reason)
	}
	return fmt.Sprintf("saga definition %s: %s", e.DefinitionID, e.Reason)
}

// DuplicateSagaError экземпляр с таким ID уже существует в store
type DuplicateSagaError struct {
	SagaID string
}

// Error реализует интерфейс error
func (e *DuplicateSagaError) Error() string {
	return fmt.Sprintf("saga %s already exists", e.SagaID)
}

// ExecutionError forward action сообщил об ошибке; восстанавливается
// компенсационным обходом журнала
type ExecutionError struct {
	SagaID   string
	StepName string
	Reason   string
}

// Error реализует интерфейс error
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("saga %s: step %s failed: %s", e.SagaID, e.StepName, e.Reason)
}

// CompensationError компенсация сообщила об ошибке; терминальна для
// экземпляра и требует ручного вмешательства, автоматически не повторяется
type CompensationError struct {
	SagaID   string
	StepName string
	Reason   string
}

// Error реализует интерфейс error
func (e *CompensationError) Error() string {
	return fmt.Sprintf("saga %s: compensation for step %s failed: %s", e.SagaID, e.StepName, e.Reason)
}

// PersistenceError ошибка ввода-вывода store; обработка текущего ответа
// прерывается без дальнейших мутаций в памяти
type PersistenceError struct {
	Op     string
	SagaID string
	Cause  error
}

// Error реализует интерфейс error
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("saga store %s failed for %s: %v", e.Op, e.SagaID, e.Cause)
}

// Unwrap возвращает причину ошибки
func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// ProtocolError ответ не соответствует текущему курсору или фазе экземпляра;
// отбрасывается без мутации состояния (поддержка at-least-once доставки)
type ProtocolError struct {
	SagaID    string
	Phase     string
	GotIndex  int
	WantIndex int
	Reason    string
}

// Error реализует интерфейс error
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("saga %s: discarded %s reply for index %d (want %d): %s",
		e.SagaID, e.Phase, e.GotIndex, e.WantIndex, e.Reason)
}

// RollbackError агрегированная ошибка inline executor: исходная ошибка
// действия плюс все ошибки компенсаций, собранные при обратном обходе
type RollbackError struct {
	Cause                error
	CompensationFailures []error
}

// Error реализует интерфейс error
func (e *RollbackError) Error() string {
	if len(e.CompensationFailures) == 0 {
		return fmt.Sprintf("saga rolled back: %v", e.Cause)
	}
	parts := make([]string, 0, len(e.CompensationFailures))
	for _, f := range e.CompensationFailures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("saga rolled back: %v; compensation failures: %s",
		e.Cause, strings.Join(parts, "; "))
}

// Unwrap возвращает исходную ошибку действия
func (e *RollbackError) Unwrap() error {
	return e.Cause
}

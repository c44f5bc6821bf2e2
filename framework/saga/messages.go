// Package saga предоставляет wire-формат сообщений движка саг.
package saga

import (
	"encoding/json"
	"fmt"
)

// CommandMessage команда, отправляемая исполнителю шага
type CommandMessage struct {
	SagaID           string          `json:"saga_id"`
	StepIndex        int             `json:"step_index"`
	StepName         string          `json:"step_name"`
	Payload          json.RawMessage `json:"payload"`
	ReplyDestination string          `json:"reply_destination"`
	CorrelationID    string          `json:"correlation_id"`
}

// ActionReply ответ исполнителя на forward действие
type ActionReply struct {
	SagaID               string                 `json:"saga_id"`
	StepIndex            int                    `json:"step_index"`
	Success              bool                   `json:"success"`
	Output               map[string]interface{} `json:"output,omitempty"`
	Error                string                 `json:"error,omitempty"`
	UpdatedSharedPayload map[string]interface{} `json:"updated_shared_payload,omitempty"`
}

// CompensationReply ответ исполнителя на компенсацию
type CompensationReply struct {
	SagaID                string `json:"saga_id"`
	StepIndexToCompensate int    `json:"step_index_to_compensate"`
	Success               bool   `json:"success"`
	Error                 string `json:"error,omitempty"`
}

// CompletedEvent lifecycle событие успешного завершения саги,
// публикуется ровно один раз при терминальном переходе
type CompletedEvent struct {
	SagaID             string                 `json:"saga_id"`
	FinalSharedPayload map[string]interface{} `json:"final_shared_payload"`
}

// FailedEvent lifecycle событие неудачного завершения саги,
// публикуется ровно один раз при терминальном переходе
type FailedEvent struct {
	SagaID string `json:"saga_id"`
	Reason string `json:"reason"`
}

// Соглашение об именах destinations
const (
	actionResultSuffix       = "action_result"
	compensationResultSuffix = "compensation_result"
)

// ActionResultSubject возвращает destination ответов на forward действия
func ActionResultSubject(sagaID string) string {
	return fmt.Sprintf("saga.%s.%s", sagaID, actionResultSuffix)
}

// CompensationResultSubject возвращает destination ответов на компенсации
func CompensationResultSubject(sagaID string) string {
	return fmt.Sprintf("saga.%s.%s", sagaID, compensationResultSuffix)
}

// CompletedEventSubject возвращает destination события завершения
func CompletedEventSubject(sagaID string) string {
	return fmt.Sprintf("saga_events.%s.completed", sagaID)
}

// FailedEventSubject возвращает destination события неудачи
func FailedEventSubject(sagaID string) string {
	return fmt.Sprintf("saga_events.%s.failed", sagaID)
}

// ActionResultPattern wildcard-подписка на все ответы действий (NATS-style)
const ActionResultPattern = "saga.*.action_result"

// CompensationResultPattern wildcard-подписка на все ответы компенсаций
const CompensationResultPattern = "saga.*.compensation_result"

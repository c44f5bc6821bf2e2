// Package saga предоставляет модель экземпляра саги и журнал попыток.
package saga

import (
	"encoding/json"
	"time"
)

// Status статус экземпляра саги
type Status string

const (
	StatusCreated            Status = "created"
	StatusRunning            Status = "running"
	StatusCompensating       Status = "compensating"
	StatusSucceeded          Status = "succeeded"
	StatusFailedAction       Status = "failed_action"
	StatusFailedCompensation Status = "failed_compensation"
)

// IsTerminal проверяет, является ли статус терминальным.
// Терминальные экземпляры никогда не мутируются повторно.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailedAction, StatusFailedCompensation:
		return true
	}
	return false
}

// AttemptStatus статус записи журнала попыток
type AttemptStatus string

const (
	AttemptPending             AttemptStatus = "pending"
	AttemptCompleted           AttemptStatus = "completed"
	AttemptFailed              AttemptStatus = "failed"
	AttemptPendingCompensation AttemptStatus = "pending_compensation"
	AttemptCompensated         AttemptStatus = "compensated"
	AttemptCompensationFailed  AttemptStatus = "compensation_failed"
)

// Attempt запись журнала о выполненной или начатой попытке шага.
// Журнал append-only: записи добавляются в порядке выполнения и никогда
// не удаляются, меняется только их статус.
type Attempt struct {
	StepName            string                 `json:"step_name"`
	RequestPayload      json.RawMessage        `json:"request_payload"`
	CompensationPayload json.RawMessage        `json:"compensation_payload,omitempty"`
	Result              map[string]interface{} `json:"result,omitempty"`
	Error               string                 `json:"error,omitempty"`
	Status              AttemptStatus          `json:"status"`
}

// NoCompensation сигнальное значение compensation cursor: компенсация не идет
const NoCompensation = -1

// Instance экземпляр саги. Store является системой записи: движок не доверяет
// своей in-memory копии между вызовами и всегда перечитывает при resume.
type Instance struct {
	ID                 string                 `json:"id"`
	DefinitionID       string                 `json:"definition_id"`
	ForwardCursor      int                    `json:"forward_cursor"`
	CompensationCursor int                    `json:"compensation_cursor"`
	Status             Status                 `json:"status"`
	SharedPayload      map[string]interface{} `json:"shared_payload"`
	Attempts           []Attempt              `json:"attempts"`
	CorrelationID      string                 `json:"correlation_id"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// MergeSharedPayload вливает обновления успешного действия в shared payload
func (i *Instance) MergeSharedPayload(updates map[string]interface{}) {
	if len(updates) == 0 {
		return
	}
	if i.SharedPayload == nil {
		i.SharedPayload = make(map[string]interface{}, len(updates))
	}
	for k, v := range updates {
		i.SharedPayload[k] = v
	}
}

// LastAttempt возвращает последнюю запись журнала или nil
func (i *Instance) LastAttempt() *Attempt {
	if len(i.Attempts) == 0 {
		return nil
	}
	return &i.Attempts[len(i.Attempts)-1]
}

// HasCompensationFailure проверяет наличие в журнале неудавшейся компенсации
func (i *Instance) HasCompensationFailure() bool {
	for _, a := range i.Attempts {
		if a.Status == AttemptCompensationFailed {
			return true
		}
	}
	return false
}

// nextCompensatable сканирует журнал назад от индекса from в поисках
// ближайшей попытки, требующей отката. Completed и Failed обе подлежат
// компенсации: упавшее действие могло частично примениться.
func (i *Instance) nextCompensatable(from int) int {
	for j := from; j >= 0; j-- {
		if j >= len(i.Attempts) {
			continue
		}
		switch i.Attempts[j].Status {
		case AttemptCompleted, AttemptFailed:
			return j
		}
	}
	return NoCompensation
}

// Clone возвращает глубокую копию экземпляра
func (i *Instance) Clone() *Instance {
	clone := *i
	if i.SharedPayload != nil {
		clone.SharedPayload = make(map[string]interface{}, len(i.SharedPayload))
		for k, v := range i.SharedPayload {
			clone.SharedPayload[k] = v
		}
	}
	if i.Attempts != nil {
		clone.Attempts = make([]Attempt, len(i.Attempts))
		copy(clone.Attempts, i.Attempts)
		for j := range clone.Attempts {
			if i.Attempts[j].Result != nil {
				result := make(map[string]interface{}, len(i.Attempts[j].Result))
				for k, v := range i.Attempts[j].Result {
					result[k] = v
				}
				clone.Attempts[j].Result = result
			}
		}
	}
	return &clone
}

// Package saga предоставляет синхронный inline executor для саг,
// не требующих message bus и персистентности.
package saga

import (
	"context"
	"fmt"
	"time"
)

// ActionFunc forward действие inline шага. Возвращаемые обновления
// вливаются в shared payload
type ActionFunc func(ctx context.Context, shared map[string]interface{}) (map[string]interface{}, error)

// CompensationFunc компенсация inline шага
type CompensationFunc func(ctx context.Context, actionResult, shared map[string]interface{}) error

// RetryPolicy политика повторов forward действий.
// Компенсации никогда не повторяются автоматически.
type RetryPolicy struct {
	// MaxAttempts максимальное число попыток (включая первую)
	MaxAttempts int
	// InitialDelay задержка перед первым повтором
	InitialDelay time.Duration
	// Backoff множитель задержки между повторами
	Backoff float64
}

// NoRetry политика без повторов
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// SimpleRetry политика с фиксированной задержкой между повторами
func SimpleRetry(maxAttempts int, delay time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: delay,
		Backoff:      1.0,
	}
}

// ExponentialBackoff политика с экспоненциальным ростом задержки
func ExponentialBackoff(maxAttempts int, initialDelay time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: initialDelay,
		Backoff:      2.0,
	}
}

// ShouldRetry проверяет, допустим ли еще один повтор после attempt попыток
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// CalculateDelay вычисляет задержку перед повтором с номером attempt
func (p RetryPolicy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 || p.Backoff <= 1.0 {
		return p.InitialDelay
	}
	delay := p.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.Backoff)
	}
	return delay
}

// InlineStep шаг синхронной саги
type InlineStep struct {
	// Name имя шага
	Name string
	// Action forward действие
	Action ActionFunc
	// Compensation откат действия; nil означает явный no-op
	Compensation CompensationFunc
	// Retry политика повторов forward действия
	Retry RetryPolicy
	// Timeout таймаут одной попытки forward действия; ноль - без таймаута
	Timeout time.Duration
}

// inlineResult результат выполненного шага, хранится для компенсации
type inlineResult struct {
	step   InlineStep
	output map[string]interface{}
}

// InlineExecutor синхронный исполнитель саг. Выполняет шаги прямыми
// вызовами функций; при ошибке действия компенсирует все завершенные шаги
// в обратном порядке, не останавливаясь на ошибках компенсаций, и
// возвращает одну агрегированную ошибку.
type InlineExecutor struct {
	steps []InlineStep
}

// NewInlineExecutor создает executor из упорядоченного списка шагов
func NewInlineExecutor(steps ...InlineStep) (*InlineExecutor, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("inline saga must have at least one step")
	}
	seen := make(map[string]bool, len(steps))
	for i, step := range steps {
		if step.Name == "" {
			return nil, fmt.Errorf("inline step %d has no name", i)
		}
		if seen[step.Name] {
			return nil, fmt.Errorf("duplicate inline step name: %s", step.Name)
		}
		if step.Action == nil {
			return nil, fmt.Errorf("inline step %s has no action", step.Name)
		}
		seen[step.Name] = true
	}
	copied := make([]InlineStep, len(steps))
	copy(copied, steps)
	return &InlineExecutor{steps: copied}, nil
}

// Run выполняет сагу от начала до конца. При успехе возвращает итоговый
// shared payload; при ошибке действия возвращает RollbackError с исходной
// причиной и всеми ошибками компенсаций.
func (e *InlineExecutor) Run(ctx context.Context, initialPayload map[string]interface{}) (map[string]interface{}, error) {
	shared := make(map[string]interface{}, len(initialPayload))
	for k, v := range initialPayload {
		shared[k] = v
	}

	completed := make([]inlineResult, 0, len(e.steps))
	for _, step := range e.steps {
		output, err := e.runAction(ctx, step, shared)
		if err != nil {
			cause := fmt.Errorf("step %s failed: %w", step.Name, err)
			return shared, e.rollback(ctx, completed, shared, cause)
		}
		for k, v := range output {
			shared[k] = v
		}
		completed = append(completed, inlineResult{step: step, output: output})
	}
	return shared, nil
}

// runAction выполняет forward действие шага с учетом retry policy и таймаута
func (e *InlineExecutor) runAction(ctx context.Context, step InlineStep, shared map[string]interface{}) (map[string]interface{}, error) {
	policy := step.Retry
	if policy.MaxAttempts <= 0 {
		policy = NoRetry()
	}

	var lastErr error
	for attempt := 1; policy.ShouldRetry(attempt - 1); attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(policy.CalculateDelay(attempt - 1)):
			}
		}

		output, err := e.runAttempt(ctx, step, shared)
		if err == nil {
			return output, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// runAttempt выполняет одну попытку действия под таймаутом шага
func (e *InlineExecutor) runAttempt(ctx context.Context, step InlineStep, shared map[string]interface{}) (map[string]interface{}, error) {
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}
	return step.Action(ctx, shared)
}

// rollback компенсирует завершенные шаги в обратном порядке. Ошибка одной
// компенсации не прерывает откат остальных: все собираются в RollbackError
func (e *InlineExecutor) rollback(ctx context.Context, completed []inlineResult, shared map[string]interface{}, cause error) error {
	var failures []error
	for i := len(completed) - 1; i >= 0; i-- {
		r := completed[i]
		if r.step.Compensation == nil {
			continue
		}
		if err := r.step.Compensation(ctx, r.output, shared); err != nil {
			failures = append(failures, fmt.Errorf("compensation for step %s failed: %w", r.step.Name, err))
		}
	}
	return &RollbackError{
		Cause:                cause,
		CompensationFailures: failures,
	}
}

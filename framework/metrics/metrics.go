// Package metrics предоставляет систему метрик на основе OpenTelemetry.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics сборщик метрик движка саг
type Metrics struct {
	meter          metric.Meter
	sagasTotal     metric.Int64Counter
	commandsTotal  metric.Int64Counter
	repliesTotal   metric.Int64Counter
	discardedTotal metric.Int64Counter
	errorsTotal    metric.Int64Counter
	sagaDuration   metric.Float64Histogram
	activeSagas    metric.Int64UpDownCounter
}

// NewMetrics создает новый сборщик метрик
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("sagaflow")

	sagasTotal, err := meter.Int64Counter(
		"sagas_total",
		metric.WithDescription("Total number of saga instances started"),
	)
	if err != nil {
		return nil, err
	}

	commandsTotal, err := meter.Int64Counter(
		"saga_commands_total",
		metric.WithDescription("Total number of saga commands dispatched"),
	)
	if err != nil {
		return nil, err
	}

	repliesTotal, err := meter.Int64Counter(
		"saga_replies_total",
		metric.WithDescription("Total number of saga replies processed"),
	)
	if err != nil {
		return nil, err
	}

	discardedTotal, err := meter.Int64Counter(
		"saga_replies_discarded_total",
		metric.WithDescription("Total number of stale or duplicate replies discarded"),
	)
	if err != nil {
		return nil, err
	}

	errorsTotal, err := meter.Int64Counter(
		"saga_errors_total",
		metric.WithDescription("Total number of saga errors"),
	)
	if err != nil {
		return nil, err
	}

	sagaDuration, err := meter.Float64Histogram(
		"saga_duration_seconds",
		metric.WithDescription("Saga execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	activeSagas, err := meter.Int64UpDownCounter(
		"active_sagas",
		metric.WithDescription("Number of saga instances currently in a non-terminal status"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		meter:          meter,
		sagasTotal:     sagasTotal,
		commandsTotal:  commandsTotal,
		repliesTotal:   repliesTotal,
		discardedTotal: discardedTotal,
		errorsTotal:    errorsTotal,
		sagaDuration:   sagaDuration,
		activeSagas:    activeSagas,
	}, nil
}

// RecordSagaStarted записывает метрику запуска саги
func (m *Metrics) RecordSagaStarted(ctx context.Context, definitionID string) {
	m.sagasTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("definition", definitionID),
	))
	m.activeSagas.Add(ctx, 1)
}

// RecordSagaFinished записывает метрику завершения саги
func (m *Metrics) RecordSagaFinished(ctx context.Context, definitionID, status string, duration time.Duration) {
	m.sagaDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("definition", definitionID),
		attribute.String("status", status),
	))
	m.activeSagas.Add(ctx, -1)
}

// RecordCommand записывает метрику отправленной команды
func (m *Metrics) RecordCommand(ctx context.Context, stepName, phase string) {
	m.commandsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", stepName),
		attribute.String("phase", phase),
	))
}

// RecordReply записывает метрику обработанного ответа
func (m *Metrics) RecordReply(ctx context.Context, phase string, success bool) {
	m.repliesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.Bool("success", success),
	))
}

// RecordDiscarded записывает метрику отброшенного ответа
func (m *Metrics) RecordDiscarded(ctx context.Context, reason string) {
	m.discardedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordError записывает метрику ошибки
func (m *Metrics) RecordError(ctx context.Context, errType string) {
	m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", errType),
	))
}

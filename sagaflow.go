// Package sagaflow предоставляет движок оркестрации саг: упорядоченные
// шаги с компенсациями, персистентная state machine и реплай-цикл поверх
// message bus.
//
// Основные возможности:
//   - Асинхронный движок: команды исполнителям через message bus,
//     продвижение саги ответами, persist-before-dispatch
//   - Компенсационный обход журнала попыток при ошибке шага
//   - Resume после сбоя процесса с повторной отправкой
//     персистентного payload байт-в-байт
//   - Синхронный inline executor для саг без брокера
//   - Адаптеры транспорта (NATS, Kafka, Redis Streams, in-memory)
//     и хранилищ (PostgreSQL, MongoDB, in-memory)
//   - Метрики на основе OpenTelemetry
//
// Пример использования:
//
//	orchestrator, err := sagaflow.New(store, bus)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := orchestrator.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer orchestrator.Stop(ctx)
package sagaflow

import (
	"context"
	"fmt"

	"github.com/akriventsev/sagaflow/framework/core"
	"github.com/akriventsev/sagaflow/framework/metrics"
	"github.com/akriventsev/sagaflow/framework/saga"
	"github.com/akriventsev/sagaflow/framework/transport"
)

// Version представляет версию движка
const (
	Version = "1.0.0"
	Major   = 1
	Minor   = 0
	Patch   = 0
)

// Metadata содержит метаданные о движке
type Metadata struct {
	Name        string
	Version     string
	Description string
	License     string
}

// GetMetadata возвращает метаданные движка
func GetMetadata() Metadata {
	return Metadata{
		Name:        "SagaFlow",
		Version:     Version,
		Description: "Saga orchestration engine with persistent state machine and message bus reply loop",
		License:     "MIT",
	}
}

// Config конфигурация оркестратора
type Config struct {
	// Sweeper конфигурация фонового resume sweep
	Sweeper saga.SweeperConfig
	// EnableSweeper включает фоновый sweep
	EnableSweeper bool
	// EnableMetrics включает сборщик метрик OpenTelemetry
	EnableMetrics bool
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Sweeper:       saga.DefaultSweeperConfig(),
		EnableSweeper: true,
		EnableMetrics: true,
	}
}

// Orchestrator собирает движок саг, роутер ответов и sweeper в один
// управляемый компонент
type Orchestrator struct {
	registry *saga.Registry
	engine   *saga.Engine
	router   *saga.ReplyRouter
	sweeper  *saga.Sweeper
	bus      transport.MessageBus
	store    saga.Store
	running  bool
}

// New создает оркестратор с конфигурацией по умолчанию
func New(store saga.Store, bus transport.MessageBus) (*Orchestrator, error) {
	return NewWithConfig(store, bus, DefaultConfig())
}

// NewWithConfig создает оркестратор с указанной конфигурацией
func NewWithConfig(store saga.Store, bus transport.MessageBus, config Config) (*Orchestrator, error) {
	registry := saga.NewRegistry()

	var engineOpts []saga.EngineOption
	if config.EnableMetrics {
		m, err := metrics.NewMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
		engineOpts = append(engineOpts, saga.WithMetrics(m))
	}

	engine := saga.NewEngine(registry, store, bus, engineOpts...)
	router := saga.NewReplyRouter(engine, bus)

	orchestrator := &Orchestrator{
		registry: registry,
		engine:   engine,
		router:   router,
		bus:      bus,
		store:    store,
	}

	if config.EnableSweeper {
		sweeper, err := saga.NewSweeper(engine, store, config.Sweeper)
		if err != nil {
			return nil, fmt.Errorf("failed to create sweeper: %w", err)
		}
		orchestrator.sweeper = sweeper
	}
	return orchestrator, nil
}

// Registry возвращает реестр определений для регистрации саг
func (o *Orchestrator) Registry() *saga.Registry {
	return o.registry
}

// Engine возвращает движок саг
func (o *Orchestrator) Engine() *saga.Engine {
	return o.engine
}

// Start запускает транспорт, роутер ответов и sweeper
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.running {
		return nil
	}

	if lifecycle, ok := o.bus.(core.Lifecycle); ok {
		if err := lifecycle.Start(ctx); err != nil {
			return fmt.Errorf("failed to start message bus: %w", err)
		}
	}
	if err := o.router.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reply router: %w", err)
	}
	if o.sweeper != nil {
		if err := o.sweeper.Start(ctx); err != nil {
			return fmt.Errorf("failed to start sweeper: %w", err)
		}
	}

	o.running = true
	return nil
}

// Stop останавливает компоненты в обратном порядке
func (o *Orchestrator) Stop(ctx context.Context) error {
	if !o.running {
		return nil
	}

	if o.sweeper != nil {
		if err := o.sweeper.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop sweeper: %w", err)
		}
	}
	if err := o.router.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop reply router: %w", err)
	}
	if lifecycle, ok := o.bus.(core.Lifecycle); ok {
		if err := lifecycle.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop message bus: %w", err)
		}
	}

	o.running = false
	return nil
}

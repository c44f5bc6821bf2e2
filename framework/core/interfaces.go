// Package core предоставляет базовые интерфейсы и систему ошибок движка.
package core

import "context"

// ComponentType тип компонента движка
type ComponentType string

const (
	// ComponentTypeAdapter адаптер внешней инфраструктуры (broker, store)
	ComponentTypeAdapter ComponentType = "adapter"
	// ComponentTypeService долгоживущий сервис движка (router, sweeper)
	ComponentTypeService ComponentType = "service"
)

// Component базовый интерфейс для всех компонентов движка
type Component interface {
	// Name возвращает имя компонента
	Name() string
	// Type возвращает тип компонента
	Type() ComponentType
}

// Lifecycle интерфейс для управления жизненным циклом компонентов
type Lifecycle interface {
	// Start запускает компонент
	Start(ctx context.Context) error
	// Stop останавливает компонент
	Stop(ctx context.Context) error
	// IsRunning проверяет, запущен ли компонент
	IsRunning() bool
}

// HealthCheckable интерфейс для проверки здоровья компонентов
type HealthCheckable interface {
	// HealthCheck проверяет здоровье компонента
	HealthCheck(ctx context.Context) error
}

// Package saga предоставляет определения саг: упорядоченный каталог шагов
// с командами прямого действия и компенсации.
package saga

import (
	"fmt"
)

// PayloadBuilder строит payload команды действия из shared payload саги
type PayloadBuilder func(shared map[string]interface{}) map[string]interface{}

// CompensationPayloadBuilder строит payload команды компенсации из результата
// действия и shared payload саги
type CompensationPayloadBuilder func(actionResult, shared map[string]interface{}) map[string]interface{}

// Step шаг саги: forward команда и парная ей компенсирующая команда.
// Шаг с durable side effect обязан указать CompensationCommand; явная no-op
// компенсация допустима, отсутствие - нет.
type Step struct {
	// Name уникальное имя шага внутри определения
	Name string
	// ActionCommand destination для forward действия
	ActionCommand string
	// CompensationCommand destination для отката
	CompensationCommand string
	// BuildActionPayload опциональная стратегия построения payload действия;
	// по умолчанию передается весь shared payload
	BuildActionPayload PayloadBuilder
	// BuildCompensationPayload опциональная стратегия построения payload
	// компенсации; по умолчанию передаются результат действия и shared payload
	BuildCompensationPayload CompensationPayloadBuilder
}

// Definition неизменяемый каталог упорядоченных шагов саги
type Definition struct {
	id    string
	steps []Step
	index map[string]int
}

// NewDefinition создает определение саги из упорядоченного списка шагов
func NewDefinition(id string, steps ...Step) (*Definition, error) {
	if id == "" {
		return nil, &DefinitionError{DefinitionID: id, Reason: "definition id cannot be empty"}
	}
	if len(steps) == 0 {
		return nil, &DefinitionError{DefinitionID: id, Reason: "definition must have at least one step"}
	}

	index := make(map[string]int, len(steps))
	for i, step := range steps {
		if step.Name == "" {
			return nil, &DefinitionError{DefinitionID: id, Reason: fmt.Sprintf("step %d has no name", i)}
		}
		if _, exists := index[step.Name]; exists {
			return nil, &DefinitionError{DefinitionID: id, StepName: step.Name, Reason: "duplicate step name"}
		}
		index[step.Name] = i
	}

	copied := make([]Step, len(steps))
	copy(copied, steps)

	return &Definition{
		id:    id,
		steps: copied,
		index: index,
	}, nil
}

// ID возвращает идентификатор определения
func (d *Definition) ID() string {
	return d.id
}

// Len возвращает количество шагов
func (d *Definition) Len() int {
	return len(d.steps)
}

// StepAt возвращает шаг по индексу
func (d *Definition) StepAt(i int) (Step, error) {
	if i < 0 || i >= len(d.steps) {
		return Step{}, &DefinitionError{
			DefinitionID: d.id,
			Reason:       fmt.Sprintf("step index %d out of range [0, %d)", i, len(d.steps)),
		}
	}
	return d.steps[i], nil
}

// StepByName возвращает шаг по имени; используется при восстановлении
// компенсаций из журнала, где персистится только имя шага
func (d *Definition) StepByName(name string) (Step, error) {
	i, exists := d.index[name]
	if !exists {
		return Step{}, &DefinitionError{
			DefinitionID: d.id,
			StepName:     name,
			Reason:       "logged attempt references unknown step",
		}
	}
	return d.steps[i], nil
}

// Steps возвращает копию списка шагов
func (d *Definition) Steps() []Step {
	result := make([]Step, len(d.steps))
	copy(result, d.steps)
	return result
}

// Registry реестр определений саг
type Registry struct {
	definitions map[string]*Definition
}

// NewRegistry создает новый реестр определений
func NewRegistry() *Registry {
	return &Registry{
		definitions: make(map[string]*Definition),
	}
}

// Register регистрирует определение саги
func (r *Registry) Register(definition *Definition) error {
	if r.definitions == nil {
		r.definitions = make(map[string]*Definition)
	}
	if _, exists := r.definitions[definition.ID()]; exists {
		return &DefinitionError{DefinitionID: definition.ID(), Reason: "definition already registered"}
	}
	r.definitions[definition.ID()] = definition
	return nil
}

// Get получает определение по идентификатору
func (r *Registry) Get(id string) (*Definition, error) {
	definition, exists := r.definitions[id]
	if !exists {
		return nil, &DefinitionError{DefinitionID: id, Reason: "definition not registered"}
	}
	return definition, nil
}

// List возвращает идентификаторы всех зарегистрированных определений
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.definitions))
	for id := range r.definitions {
		ids = append(ids, id)
	}
	return ids
}

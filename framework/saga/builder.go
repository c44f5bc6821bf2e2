// Package saga предоставляет fluent builder определений саг.
package saga

// DefinitionBuilder fluent builder определения саги
type DefinitionBuilder struct {
	id    string
	steps []Step
}

// NewDefinitionBuilder создает builder определения с указанным идентификатором
func NewDefinitionBuilder(id string) *DefinitionBuilder {
	return &DefinitionBuilder{id: id}
}

// Step начинает описание очередного шага
func (b *DefinitionBuilder) Step(name string) *StepBuilder {
	return &StepBuilder{
		parent: b,
		step:   Step{Name: name},
	}
}

// Build собирает и валидирует определение
func (b *DefinitionBuilder) Build() (*Definition, error) {
	return NewDefinition(b.id, b.steps...)
}

// StepBuilder fluent builder шага определения
type StepBuilder struct {
	parent *DefinitionBuilder
	step   Step
}

// WithAction задает destination forward действия
func (sb *StepBuilder) WithAction(command string) *StepBuilder {
	sb.step.ActionCommand = command
	return sb
}

// WithCompensation задает destination компенсации
func (sb *StepBuilder) WithCompensation(command string) *StepBuilder {
	sb.step.CompensationCommand = command
	return sb
}

// WithActionPayload задает стратегию построения payload действия
func (sb *StepBuilder) WithActionPayload(builder PayloadBuilder) *StepBuilder {
	sb.step.BuildActionPayload = builder
	return sb
}

// WithCompensationPayload задает стратегию построения payload компенсации
func (sb *StepBuilder) WithCompensationPayload(builder CompensationPayloadBuilder) *StepBuilder {
	sb.step.BuildCompensationPayload = builder
	return sb
}

// Done завершает описание шага и возвращает builder определения
func (sb *StepBuilder) Done() *DefinitionBuilder {
	sb.parent.steps = append(sb.parent.steps, sb.step)
	return sb.parent
}

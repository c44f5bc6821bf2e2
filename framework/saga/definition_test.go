package saga

import (
	"errors"
	"testing"
)

func TestNewDefinitionValidation(t *testing.T) {
	step := Step{Name: "a", ActionCommand: "do.a", CompensationCommand: "undo.a"}

	if _, err := NewDefinition("", step); err == nil {
		t.Error("expected error for empty definition id")
	}
	if _, err := NewDefinition("d"); err == nil {
		t.Error("expected error for definition without steps")
	}
	if _, err := NewDefinition("d", step, step); err == nil {
		t.Error("expected error for duplicate step names")
	}

	var defErr *DefinitionError
	_, err := NewDefinition("d", step, step)
	if !errors.As(err, &defErr) {
		t.Fatalf("expected DefinitionError, got %T", err)
	}
	if defErr.StepName != "a" {
		t.Errorf("error must name the duplicated step, got %q", defErr.StepName)
	}
}

func TestStepLookup(t *testing.T) {
	definition, err := NewDefinition("d",
		Step{Name: "first", ActionCommand: "do.first"},
		Step{Name: "second", ActionCommand: "do.second"},
	)
	if err != nil {
		t.Fatalf("NewDefinition failed: %v", err)
	}

	if definition.Len() != 2 {
		t.Errorf("expected 2 steps, got %d", definition.Len())
	}

	step, err := definition.StepAt(1)
	if err != nil {
		t.Fatalf("StepAt failed: %v", err)
	}
	if step.Name != "second" {
		t.Errorf("expected step second, got %s", step.Name)
	}

	if _, err := definition.StepAt(2); err == nil {
		t.Error("expected error for out-of-range index")
	}

	step, err = definition.StepByName("first")
	if err != nil {
		t.Fatalf("StepByName failed: %v", err)
	}
	if step.ActionCommand != "do.first" {
		t.Errorf("unexpected action command: %s", step.ActionCommand)
	}

	// имя из журнала, отсутствующее в определении - рассинхронизация версий
	var defErr *DefinitionError
	_, err = definition.StepByName("ghost")
	if !errors.As(err, &defErr) {
		t.Fatalf("expected DefinitionError for unknown step, got %T", err)
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	definition, err := NewDefinition("order", Step{Name: "a", ActionCommand: "do.a"})
	if err != nil {
		t.Fatalf("NewDefinition failed: %v", err)
	}

	if err := registry.Register(definition); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := registry.Register(definition); err == nil {
		t.Error("expected error for duplicate registration")
	}

	got, err := registry.Get("order")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID() != "order" {
		t.Errorf("unexpected definition id: %s", got.ID())
	}
	if _, err := registry.Get("missing"); err == nil {
		t.Error("expected error for unregistered definition")
	}
}

func TestDefinitionBuilder(t *testing.T) {
	definition, err := NewDefinitionBuilder("order").
		Step("charge").
		WithAction("payments.charge").
		WithCompensation("payments.refund").
		WithActionPayload(func(shared map[string]interface{}) map[string]interface{} {
			return map[string]interface{}{"amount": shared["amount"]}
		}).
		Done().
		Step("reserve").
		WithAction("inventory.reserve").
		WithCompensation("inventory.release").
		Done().
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if definition.Len() != 2 {
		t.Fatalf("expected 2 steps, got %d", definition.Len())
	}
	step, err := definition.StepAt(0)
	if err != nil {
		t.Fatalf("StepAt failed: %v", err)
	}
	if step.ActionCommand != "payments.charge" || step.CompensationCommand != "payments.refund" {
		t.Errorf("unexpected step commands: %+v", step)
	}
	if step.BuildActionPayload == nil {
		t.Error("payload builder was not carried over")
	}
}

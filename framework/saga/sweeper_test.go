package saga

import (
	"context"
	"testing"
	"time"
)

func TestSweeperConfigValidation(t *testing.T) {
	if err := DefaultSweeperConfig().Validate(); err != nil {
		t.Errorf("default config must be valid: %v", err)
	}
	if err := (SweeperConfig{Interval: 0, MinAge: time.Minute}).Validate(); err == nil {
		t.Error("expected error for zero interval")
	}
	if err := (SweeperConfig{Interval: time.Second, MinAge: 0}).Validate(); err == nil {
		t.Error("expected error for zero min age")
	}
}

func TestSweepResumesStalledSagas(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(orderDefinition(t)); err != nil {
		t.Fatalf("failed to register definition: %v", err)
	}
	store := NewInMemoryStore()
	bus := newRecordingBus()
	engine := NewEngine(registry, store, bus)
	ctx := context.Background()

	instance, err := engine.Start(ctx, "order", map[string]interface{}{"order_id": "123"}, "")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// свежий движок и шина после "рестарта"
	restartedBus := newRecordingBus()
	restarted := NewEngine(registry, store, restartedBus)
	valid, err := NewSweeper(restarted, store, SweeperConfig{
		Interval: time.Hour,
		MinAge:   time.Nanosecond,
	})
	if err != nil {
		t.Fatalf("NewSweeper failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := valid.Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	subject, cmd := restartedBus.lastCommand(t)
	if subject != "payments.charge" {
		t.Fatalf("expected re-dispatch to payments.charge, got %s", subject)
	}
	if cmd.SagaID != instance.ID || cmd.StepIndex != 0 {
		t.Errorf("unexpected re-dispatched command: %+v", cmd)
	}
}

func TestSweeperLifecycle(t *testing.T) {
	registry := NewRegistry()
	store := NewInMemoryStore()
	engine := NewEngine(registry, store, newRecordingBus())

	sweeper, err := NewSweeper(engine, store, DefaultSweeperConfig())
	if err != nil {
		t.Fatalf("NewSweeper failed: %v", err)
	}

	ctx := context.Background()
	if sweeper.IsRunning() {
		t.Error("sweeper must not be running before Start")
	}
	if err := sweeper.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !sweeper.IsRunning() {
		t.Error("sweeper must be running after Start")
	}
	if err := sweeper.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if sweeper.IsRunning() {
		t.Error("sweeper must not be running after Stop")
	}
}

package saga

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/akriventsev/sagaflow/framework/transport"
)

func TestReplyRouterLifecycle(t *testing.T) {
	engine, _, bus := newTestEngine(t)
	router := NewReplyRouter(engine, bus)
	ctx := context.Background()

	if router.IsRunning() {
		t.Error("router must not be running before Start")
	}
	if err := router.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !router.IsRunning() {
		t.Error("router must be running after Start")
	}
	if _, ok := bus.handlers[ActionResultPattern]; !ok {
		t.Error("router must subscribe to action result pattern")
	}
	if _, ok := bus.handlers[CompensationResultPattern]; !ok {
		t.Error("router must subscribe to compensation result pattern")
	}

	if err := router.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if router.IsRunning() {
		t.Error("router must not be running after Stop")
	}
	if len(bus.handlers) != 0 {
		t.Error("router must unsubscribe on Stop")
	}
}

func TestReplyRouterRoutesActionReply(t *testing.T) {
	engine, store, bus := newTestEngine(t)
	router := NewReplyRouter(engine, bus)
	ctx := context.Background()

	if err := router.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	instance, err := engine.Start(ctx, "order", map[string]interface{}{"order_id": "123"}, "")
	if err != nil {
		t.Fatalf("engine Start failed: %v", err)
	}

	reply := &ActionReply{
		SagaID:               instance.ID,
		StepIndex:            0,
		Success:              true,
		UpdatedSharedPayload: map[string]interface{}{"payment_id": "pay-1"},
	}
	data, err := json.Marshal(reply)
	if err != nil {
		t.Fatalf("failed to marshal reply: %v", err)
	}

	handler := bus.handlers[ActionResultPattern]
	if err := handler(ctx, &transport.Message{
		Subject: ActionResultSubject(instance.ID),
		Data:    data,
	}); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	persisted, err := store.Load(ctx, instance.ID)
	if err != nil {
		t.Fatalf("failed to load instance: %v", err)
	}
	if persisted.ForwardCursor != 1 {
		t.Errorf("expected forward cursor 1, got %d", persisted.ForwardCursor)
	}
	if persisted.SharedPayload["payment_id"] != "pay-1" {
		t.Error("shared payload update was not applied")
	}
}

func TestReplyRouterSwallowsStaleReplies(t *testing.T) {
	engine, _, bus := newTestEngine(t)
	router := NewReplyRouter(engine, bus)
	ctx := context.Background()

	if err := router.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	instance, err := engine.Start(ctx, "order", nil, "")
	if err != nil {
		t.Fatalf("engine Start failed: %v", err)
	}

	stale := &ActionReply{SagaID: instance.ID, StepIndex: 2, Success: true}
	data, err := json.Marshal(stale)
	if err != nil {
		t.Fatalf("failed to marshal reply: %v", err)
	}

	// отброшенный ответ не должен возвращаться как ошибка обработки,
	// иначе шина начнет его redelivery
	handler := bus.handlers[ActionResultPattern]
	if err := handler(ctx, &transport.Message{
		Subject: ActionResultSubject(instance.ID),
		Data:    data,
	}); err != nil {
		t.Errorf("stale reply must be swallowed, got: %v", err)
	}
}

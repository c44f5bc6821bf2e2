package saga

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryStoreSaveLoad(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	instance := &Instance{
		ID:                 "s-1",
		DefinitionID:       "order",
		Status:             StatusRunning,
		CompensationCursor: NoCompensation,
		SharedPayload:      map[string]interface{}{"order_id": "123"},
		CreatedAt:          time.Now(),
	}
	if err := store.Save(ctx, instance); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(ctx, "s-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.DefinitionID != "order" || loaded.Status != StatusRunning {
		t.Errorf("unexpected loaded instance: %+v", loaded)
	}

	// store возвращает копию: мутация загруженного не видна в store
	loaded.SharedPayload["order_id"] = "tampered"
	again, err := store.Load(ctx, "s-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if again.SharedPayload["order_id"] != "123" {
		t.Error("Load must return an independent copy")
	}
}

func TestInMemoryStoreLoadMissing(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.Load(context.Background(), "missing")
	var notFound *ErrInstanceNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %T: %v", err, err)
	}
	if notFound.SagaID != "missing" {
		t.Errorf("error must carry the saga id, got %q", notFound.SagaID)
	}
}

func TestInMemoryStoreDeleteIdempotent(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	instance := &Instance{ID: "s-1", Status: StatusSucceeded}
	if err := store.Save(ctx, instance); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(ctx, "s-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "s-1"); err != nil {
		t.Fatalf("repeated Delete must be a no-op, got: %v", err)
	}
	if _, err := store.Load(ctx, "s-1"); err == nil {
		t.Error("expected not-found after Delete")
	}
}

func TestInMemoryStoreListUnfinished(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	stale := &Instance{ID: "stale", Status: StatusRunning}
	terminal := &Instance{ID: "done", Status: StatusSucceeded}
	if err := store.Save(ctx, stale); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, terminal); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// порог в прошлом: оба экземпляра старше него
	ids, err := store.ListUnfinished(ctx, -time.Second)
	if err != nil {
		t.Fatalf("ListUnfinished failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "stale" {
		t.Errorf("expected only the stale running saga, got %v", ids)
	}

	// большой порог: ничего не считается зависшим
	ids, err = store.ListUnfinished(ctx, time.Hour)
	if err != nil {
		t.Fatalf("ListUnfinished failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no stale sagas, got %v", ids)
	}
}

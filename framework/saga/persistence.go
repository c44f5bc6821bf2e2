// Package saga предоставляет контракт persistence для состояния саг.
package saga

import (
	"context"
	"sync"
	"time"
)

// Store интерфейс для сохранения состояния экземпляров саг.
// Save является атомарной перезаписью (last-write-wins) и обязан громко
// падать при ошибке ввода-вывода; движок не считает переход примененным,
// пока Save не вернул успех.
type Store interface {
	// Save сохраняет экземпляр саги
	Save(ctx context.Context, instance *Instance) error
	// Load загружает экземпляр по ID; отсутствие - типизированная ошибка
	Load(ctx context.Context, sagaID string) (*Instance, error)
	// Delete удаляет экземпляр; идемпотентна (no-op если отсутствует)
	Delete(ctx context.Context, sagaID string) error
	// ListUnfinished возвращает ID нетерминальных экземпляров, не
	// обновлявшихся дольше olderThan; используется resume sweep
	ListUnfinished(ctx context.Context, olderThan time.Duration) ([]string, error)
}

// ErrInstanceNotFound типизированная ошибка отсутствия экземпляра
type ErrInstanceNotFound struct {
	SagaID string
}

// Error реализует интерфейс error
func (e *ErrInstanceNotFound) Error() string {
	return "saga " + e.SagaID + " not found"
}

// InMemoryStore реализация Store в памяти для тестирования
type InMemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*Instance
}

// NewInMemoryStore создает новый in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		instances: make(map[string]*Instance),
	}
}

// Save сохраняет экземпляр саги
func (s *InMemoryStore) Save(ctx context.Context, instance *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := instance.Clone()
	copied.UpdatedAt = time.Now()
	s.instances[instance.ID] = copied
	return nil
}

// Load загружает экземпляр по ID
func (s *InMemoryStore) Load(ctx context.Context, sagaID string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	instance, exists := s.instances[sagaID]
	if !exists {
		return nil, &ErrInstanceNotFound{SagaID: sagaID}
	}
	return instance.Clone(), nil
}

// Delete удаляет экземпляр
func (s *InMemoryStore) Delete(ctx context.Context, sagaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, sagaID)
	return nil
}

// ListUnfinished возвращает ID нетерминальных экземпляров старше olderThan
func (s *InMemoryStore) ListUnfinished(ctx context.Context, olderThan time.Duration) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.Now().Add(-olderThan)
	var ids []string
	for id, instance := range s.instances {
		if !instance.Status.IsTerminal() && instance.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

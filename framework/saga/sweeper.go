// Package saga предоставляет фоновый resume sweep зависших экземпляров.
package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/akriventsev/sagaflow/framework/core"
)

// SweeperConfig конфигурация фонового sweep
type SweeperConfig struct {
	// Interval период между проходами
	Interval time.Duration
	// MinAge минимальный возраст последнего обновления экземпляра;
	// более свежие экземпляры считаются активными и не трогаются
	MinAge time.Duration
}

// DefaultSweeperConfig возвращает конфигурацию по умолчанию
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval: 30 * time.Second,
		MinAge:   2 * time.Minute,
	}
}

// Validate проверяет конфигурацию
func (c SweeperConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("sweeper interval must be positive")
	}
	if c.MinAge <= 0 {
		return fmt.Errorf("sweeper min age must be positive")
	}
	return nil
}

// Sweeper периодически находит нетерминальные экземпляры, не обновлявшиеся
// дольше порога, и вызывает для них Resume. Закрывает окно между сбоем
// процесса и потерянной in-flight командой.
type Sweeper struct {
	engine *Engine
	store  Store
	config SweeperConfig

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSweeper создает новый sweeper
func NewSweeper(engine *Engine, store Store, config SweeperConfig) (*Sweeper, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Sweeper{
		engine: engine,
		store:  store,
		config: config,
	}, nil
}

// Name возвращает имя компонента
func (s *Sweeper) Name() string {
	return "saga-sweeper"
}

// Type возвращает тип компонента
func (s *Sweeper) Type() core.ComponentType {
	return core.ComponentTypeService
}

// Start запускает фоновый цикл sweep
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(loopCtx)
	return nil
}

// Stop останавливает цикл sweep и дожидается его завершения
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	done := s.done
	s.running = false
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning проверяет, запущен ли sweeper
func (s *Sweeper) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// loop основной цикл sweep
func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Sweep(ctx)
		}
	}
}

// Sweep выполняет один проход: Resume для каждого зависшего экземпляра.
// Ошибка одного экземпляра не прерывает проход по остальным.
func (s *Sweeper) Sweep(ctx context.Context) error {
	ids, err := s.store.ListUnfinished(ctx, s.config.MinAge)
	if err != nil {
		return fmt.Errorf("failed to list unfinished sagas: %w", err)
	}

	var lastErr error
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.engine.Resume(ctx, id); err != nil {
			lastErr = fmt.Errorf("failed to resume saga %s: %w", id, err)
		}
	}
	return lastErr
}

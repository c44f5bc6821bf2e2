// Package store предоставляет персистентные реализации saga.Store.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akriventsev/sagaflow/framework/core"
	"github.com/akriventsev/sagaflow/framework/saga"
)

// PostgresConfig конфигурация PostgreSQL store
type PostgresConfig struct {
	DSN       string
	TableName string
}

// Validate проверяет корректность конфигурации
func (c PostgresConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("postgres DSN cannot be empty")
	}
	return nil
}

// DefaultPostgresConfig возвращает конфигурацию по умолчанию
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		TableName: "saga_instances",
	}
}

// PostgresStore реализация saga.Store через PostgreSQL. Экземпляр хранится
// целиком как JSONB: payload записей журнала обязан пережить round-trip
// байт-в-байт ради точного re-dispatch при resume. Статус и updated_at
// дублируются колонками для выборки зависших экземпляров
type PostgresStore struct {
	pool   *pgxpool.Pool
	config PostgresConfig
}

// NewPostgresStore создает PostgreSQL store
func NewPostgresStore(ctx context.Context, config PostgresConfig) (*PostgresStore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}
	if config.TableName == "" {
		config.TableName = "saga_instances"
	}

	pool, err := pgxpool.New(ctx, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	return &PostgresStore{
		pool:   pool,
		config: config,
	}, nil
}

// Name возвращает имя компонента (реализация core.Component)
func (s *PostgresStore) Name() string {
	return "postgres-store"
}

// Type возвращает тип компонента (реализация core.Component)
func (s *PostgresStore) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// HealthCheck проверяет подключение к базе
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return core.Wrap(err, core.ErrNotConnected, "postgres ping failed")
	}
	return nil
}

// EnsureSchema создает таблицу экземпляров, если она отсутствует
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id            TEXT PRIMARY KEY,
			definition_id TEXT NOT NULL,
			status        TEXT NOT NULL,
			instance      JSONB NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		)`, s.config.TableName)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.config.TableName, err)
	}

	index := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_status_updated_idx
		ON %s (status, updated_at)`, s.config.TableName, s.config.TableName)
	if _, err := s.pool.Exec(ctx, index); err != nil {
		return fmt.Errorf("failed to create index on %s: %w", s.config.TableName, err)
	}
	return nil
}

// Save сохраняет экземпляр (атомарная перезапись через upsert)
func (s *PostgresStore) Save(ctx context.Context, instance *saga.Instance) error {
	copied := instance.Clone()
	copied.UpdatedAt = time.Now()

	data, err := json.Marshal(copied)
	if err != nil {
		return fmt.Errorf("failed to marshal instance %s: %w", instance.ID, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, definition_id, status, instance, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			instance = EXCLUDED.instance,
			updated_at = EXCLUDED.updated_at`, s.config.TableName)
	if _, err := s.pool.Exec(ctx, query,
		copied.ID, copied.DefinitionID, string(copied.Status), data, copied.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save instance %s: %w", instance.ID, err)
	}
	return nil
}

// Load загружает экземпляр по ID
func (s *PostgresStore) Load(ctx context.Context, sagaID string) (*saga.Instance, error) {
	query := fmt.Sprintf(`SELECT instance FROM %s WHERE id = $1`, s.config.TableName)

	var data []byte
	err := s.pool.QueryRow(ctx, query, sagaID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &saga.ErrInstanceNotFound{SagaID: sagaID}
		}
		return nil, fmt.Errorf("failed to load instance %s: %w", sagaID, err)
	}

	var instance saga.Instance
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance %s: %w", sagaID, err)
	}
	return &instance, nil
}

// Delete удаляет экземпляр; отсутствие строки не является ошибкой
func (s *PostgresStore) Delete(ctx context.Context, sagaID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.config.TableName)
	if _, err := s.pool.Exec(ctx, query, sagaID); err != nil {
		return fmt.Errorf("failed to delete instance %s: %w", sagaID, err)
	}
	return nil
}

// ListUnfinished возвращает ID нетерминальных экземпляров старше olderThan
func (s *PostgresStore) ListUnfinished(ctx context.Context, olderThan time.Duration) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT id FROM %s
		WHERE status NOT IN ($1, $2, $3) AND updated_at < $4`, s.config.TableName)

	rows, err := s.pool.Query(ctx, query,
		string(saga.StatusSucceeded),
		string(saga.StatusFailedAction),
		string(saga.StatusFailedCompensation),
		time.Now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished instances: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan instance id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close закрывает пул подключений
func (s *PostgresStore) Close() {
	s.pool.Close()
}

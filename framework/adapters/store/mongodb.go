// Package store предоставляет персистентные реализации saga.Store.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/akriventsev/sagaflow/framework/core"
	"github.com/akriventsev/sagaflow/framework/saga"
)

// MongoConfig конфигурация MongoDB store
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// Validate проверяет корректность конфигурации
func (c MongoConfig) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("mongo URI cannot be empty")
	}
	if c.Database == "" {
		return fmt.Errorf("mongo database cannot be empty")
	}
	return nil
}

// DefaultMongoConfig возвращает конфигурацию по умолчанию
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		Database:   "sagaflow",
		Collection: "saga_instances",
	}
}

// sagaDocument документ коллекции. Экземпляр хранится сериализованным
// JSON-строкой: payload журнала должен пережить round-trip байт-в-байт,
// BSON-преобразование map этого не гарантирует
type sagaDocument struct {
	ID        string    `bson:"_id"`
	Status    string    `bson:"status"`
	UpdatedAt time.Time `bson:"updated_at"`
	Instance  string    `bson:"instance"`
}

// MongoStore реализация saga.Store через MongoDB
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	config     MongoConfig
}

// NewMongoStore создает MongoDB store
func NewMongoStore(ctx context.Context, config MongoConfig) (*MongoStore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mongo config: %w", err)
	}
	if config.Collection == "" {
		config.Collection = "saga_instances"
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(config.Database).Collection(config.Collection),
		config:     config,
	}, nil
}

// Name возвращает имя компонента (реализация core.Component)
func (s *MongoStore) Name() string {
	return "mongo-store"
}

// Type возвращает тип компонента (реализация core.Component)
func (s *MongoStore) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// HealthCheck проверяет подключение к MongoDB
func (s *MongoStore) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return core.Wrap(err, core.ErrNotConnected, "mongo ping failed")
	}
	return nil
}

// EnsureIndexes создает индекс для выборки зависших экземпляров
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// Save сохраняет экземпляр (атомарная перезапись через replace upsert)
func (s *MongoStore) Save(ctx context.Context, instance *saga.Instance) error {
	copied := instance.Clone()
	copied.UpdatedAt = time.Now()

	data, err := json.Marshal(copied)
	if err != nil {
		return fmt.Errorf("failed to marshal instance %s: %w", instance.ID, err)
	}

	doc := sagaDocument{
		ID:        copied.ID,
		Status:    string(copied.Status),
		UpdatedAt: copied.UpdatedAt,
		Instance:  string(data),
	}
	_, err = s.collection.ReplaceOne(ctx,
		bson.M{"_id": copied.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save instance %s: %w", instance.ID, err)
	}
	return nil
}

// Load загружает экземпляр по ID
func (s *MongoStore) Load(ctx context.Context, sagaID string) (*saga.Instance, error) {
	var doc sagaDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": sagaID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &saga.ErrInstanceNotFound{SagaID: sagaID}
		}
		return nil, fmt.Errorf("failed to load instance %s: %w", sagaID, err)
	}

	var instance saga.Instance
	if err := json.Unmarshal([]byte(doc.Instance), &instance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance %s: %w", sagaID, err)
	}
	return &instance, nil
}

// Delete удаляет экземпляр; отсутствие документа не является ошибкой
func (s *MongoStore) Delete(ctx context.Context, sagaID string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": sagaID}); err != nil {
		return fmt.Errorf("failed to delete instance %s: %w", sagaID, err)
	}
	return nil
}

// ListUnfinished возвращает ID нетерминальных экземпляров старше olderThan
func (s *MongoStore) ListUnfinished(ctx context.Context, olderThan time.Duration) ([]string, error) {
	filter := bson.M{
		"status": bson.M{"$nin": []string{
			string(saga.StatusSucceeded),
			string(saga.StatusFailedAction),
			string(saga.StatusFailedCompensation),
		}},
		"updated_at": bson.M{"$lt": time.Now().Add(-olderThan)},
	}

	cursor, err := s.collection.Find(ctx, filter,
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished instances: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode instance id: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	return ids, cursor.Err()
}

// Close закрывает подключение
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

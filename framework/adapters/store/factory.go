// Package store предоставляет персистентные реализации saga.Store.
package store

import (
	"context"
	"fmt"

	"github.com/akriventsev/sagaflow/framework/saga"
)

// Create создает saga.Store указанного типа
func Create(ctx context.Context, storeType string, config interface{}) (saga.Store, error) {
	switch storeType {
	case "inmemory":
		return saga.NewInMemoryStore(), nil
	case "postgres":
		cfg, ok := config.(PostgresConfig)
		if !ok {
			if dsn, ok := config.(string); ok {
				c := DefaultPostgresConfig()
				c.DSN = dsn
				return NewPostgresStore(ctx, c)
			}
			return nil, fmt.Errorf("invalid postgres config type: %T", config)
		}
		return NewPostgresStore(ctx, cfg)
	case "mongodb":
		cfg, ok := config.(MongoConfig)
		if !ok {
			return nil, fmt.Errorf("invalid mongo config type: %T", config)
		}
		return NewMongoStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown store type: %s", storeType)
	}
}

package database

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"rolectl/internal/config"
	"rolectl/internal/settings"
)

// NewDatabaseFromConfig creates a Database implementation based on the database config type.
// SQL databases are migrated to the latest schema before they are returned.
func NewDatabaseFromConfig(ctx context.Context, cfg config.DatabaseConfig, scopeID string) (settings.Database, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return openMigrated(NewSQLiteDatabase(filepath.Join(cfg.DataDir, scopeID+".db"), nil, nil))
	case "memory":
		return openMigrated(NewSQLiteDatabase(":memory:", nil, nil))
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres_dsn required for postgres database")
		}
		return openMigrated(NewPostgresDatabase(cfg.PostgresDSN, nil, nil))
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis_addr required for redis database")
		}
		db, err := NewRedisDatabase(ctx, &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, nil, nil)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

func openMigrated(db *SQLDatabase, err error) (settings.Database, error) {
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return db, nil
}

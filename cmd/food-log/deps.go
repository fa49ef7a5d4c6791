// cmd/food-log/deps.go
package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"mcp-food-log/internal/blob"
	"mcp-food-log/internal/config"
	"mcp-food-log/internal/jobs"
	"mcp-food-log/internal/storage"
)

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := storage.Open(storage.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
		Debug:  cfg.Database.Debug,
	})
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(db); err != nil {
		_ = storage.Close(db)
		return nil, err
	}
	return db, nil
}

// openJobStore returns the status store and a func releasing it.
func openJobStore(cfg *config.Config, logger *zap.Logger) (jobs.Store, func(), error) {
	if !cfg.Redis.Enabled {
		logger.Info("using in-memory analysis status store")
		return jobs.NewMemoryStore(), func() {}, nil
	}
	store, err := jobs.NewRedisStore(jobs.Config{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using redis analysis status store", zap.String("addr", cfg.Redis.Addr))
	return store, func() { _ = store.Close() }, nil
}

func openBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.Media.Backend {
	case config.MediaS3:
		return blob.NewS3Store(ctx, blob.S3Config{
			Bucket:     cfg.Media.Bucket,
			Region:     cfg.Media.Region,
			Prefix:     cfg.Media.Prefix,
			Endpoint:   cfg.Media.Endpoint,
			PresignTTL: cfg.Media.PresignTTL,
		})
	case config.MediaMemory:
		return blob.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown media backend %q", cfg.Media.Backend)
	}
}

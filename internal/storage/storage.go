package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/annel0/blastguard/internal/config"
	"github.com/annel0/blastguard/internal/durability"
	"github.com/annel0/blastguard/internal/logging"
)

var (
	// ErrCorruptSnapshot снимок не удалось прочитать; он удалён и будет создан заново.
	ErrCorruptSnapshot = errors.New("storage: corrupt snapshot")
	// ErrUnknownBackend в конфигурации указан неизвестный тип хранилища.
	ErrUnknownBackend = errors.New("storage: unknown backend")
	// ErrNotReady хранилище уже закрыто.
	ErrNotReady = errors.New("storage: not ready")
)

// Backends поддерживаемые типы хранилищ
var Backends = []string{"memory", "badger", "file", "redis", "sqlite", "mysql", "mongo"}

// Open открывает хранилище снимков по storage.backend.
func Open(ctx context.Context, cfg config.StorageConfig) (durability.SnapshotStore, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	logger := logging.GetStorageLogger()

	var (
		store durability.SnapshotStore
		err   error
	)
	switch backend {
	case "memory":
		store = NewMemoryStore()
	case "", "badger":
		backend = "badger"
		store, err = NewBadgerStore(filepath.Join(cfg.Path, "durability"))
	case "file":
		store = NewFileStore(filepath.Join(cfg.Path, "durability.dat"))
	case "redis":
		store, err = NewRedisStore(ctx, &RedisConfig{Addr: cfg.RedisAddr})
	case "sqlite":
		store, err = NewSQLiteStore(ctx, filepath.Join(cfg.Path, "durability.db"))
	case "mysql":
		store, err = NewMySQLStore(ctx, cfg.DSN)
	case "mongo":
		store, err = NewMongoStore(ctx, MongoConfig{URI: cfg.MongoURI, Database: cfg.MongoDatabase})
	default:
		return nil, fmt.Errorf("%w: %q (доступны: %s)", ErrUnknownBackend, cfg.Backend, strings.Join(Backends, ", "))
	}
	if err != nil {
		return nil, fmt.Errorf("открытие хранилища %s: %w", backend, err)
	}

	logger.Info("Хранилище снимков прочности: %s", backend)
	return store, nil
}

func copySnapshot(data map[durability.BlockKey]int) map[durability.BlockKey]int {
	out := make(map[durability.BlockKey]int, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/annel0/blastguard/internal/config"
	"github.com/annel0/blastguard/internal/durability"
	"github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() map[durability.BlockKey]int {
	return map[durability.BlockKey]int{
		durability.Encode("world", 10, 64, -3):        2,
		durability.Encode("world", -100000, 0, 99999): 1,
		durability.Encode("world_nether", 0, 120, 0):  14,
	}
}

// exerciseStore общий сценарий для всех реализаций SnapshotStore
func exerciseStore(t *testing.T, store durability.SnapshotStore) {
	t.Helper()
	ctx := context.Background()

	empty, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	want := sampleSnapshot()
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Повторное сохранение заменяет снимок, а не дополняет
	smaller := map[durability.BlockKey]int{durability.Encode("world", 1, 2, 3): 5}
	require.NoError(t, store.Save(ctx, smaller))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, smaller, got)

	require.NoError(t, store.Save(ctx, nil))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	exerciseStore(t, store)
	assert.Equal(t, 3, store.Saves())

	// Снимок копируется при сохранении
	data := sampleSnapshot()
	require.NoError(t, store.Save(context.Background(), data))
	data[durability.Encode("world", 0, 0, 0)] = 1
	got, _ := store.Load(context.Background())
	assert.Len(t, got, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, store.Close())
	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestBadgerStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBadgerStore(dir)
	require.NoError(t, err)
	exerciseStore(t, store)
	require.NoError(t, store.Save(context.Background(), sampleSnapshot()))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "повторное закрытие безопасно")

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)

	// Данные переживают переоткрытие
	reopened, err := NewBadgerStore(dir)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), got)
}

func TestBadgerStoreSkipsBadEntries(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	good := durability.Encode("world", 1, 1, 1)
	require.NoError(t, store.Save(context.Background(), map[durability.BlockKey]int{good: 2}))

	err = store.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(badgerKeyPrefix+"short"), []byte{2}); err != nil {
			return err
		}
		return txn.Set(badgerKey(durability.Encode("world", 2, 2, 2)), []byte{0xff})
	})
	require.NoError(t, err)

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[durability.BlockKey]int{good: 2}, got)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "durability.dat")
	store := NewFileStore(path)
	exerciseStore(t, store)

	require.NoError(t, store.Save(context.Background(), sampleSnapshot()))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, errors.Is(err, os.ErrNotExist), "временный файл не остаётся")

	got, err := NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), got)
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "durability.dat")
	require.NoError(t, os.WriteFile(path, []byte("definitely not zstd"), 0o644))

	store := NewFileStore(path)
	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)

	// Файл пересоздан и читается как пустой снимок
	got, err = store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = store.read()
	assert.NoError(t, err)
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("диск отвалился") }

func TestEncodeSnapshotWriteError(t *testing.T) {
	assert.Error(t, encodeSnapshot(brokenWriter{}, sampleSnapshot()))

	path := filepath.Join(t.TempDir(), "durability.dat")
	require.NoError(t, writeSnapshotFile(path, sampleSnapshot()))
	got, err := NewFileStore(path).read()
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), got)
}

func TestFileStoreMissing(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "none.dat"))
	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "durability.db"))
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, "sqlite", store.Dialect())
	exerciseStore(t, store)
}

func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("BLASTGUARD_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("BLASTGUARD_TEST_MYSQL_DSN не задан")
	}
	store, err := NewMySQLStore(context.Background(), dsn)
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("BLASTGUARD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BLASTGUARD_TEST_REDIS_ADDR не задан")
	}
	store, err := NewRedisStore(context.Background(), &RedisConfig{Addr: addr, Key: "blastguard:test:durability"})
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("BLASTGUARD_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("BLASTGUARD_TEST_MONGO_URI не задан")
	}
	store, err := NewMongoStore(context.Background(), MongoConfig{URI: uri, Database: "blastguard_test"})
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, backend := range []string{"memory", "badger", "file", "sqlite", " SQLite "} {
		store, err := Open(ctx, config.StorageConfig{Backend: backend, Path: dir})
		require.NoError(t, err, backend)
		require.NoError(t, store.Save(ctx, sampleSnapshot()), backend)
		require.NoError(t, store.Close(), backend)
	}

	_, err := Open(ctx, config.StorageConfig{Backend: "floppy"})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestEngineRoundTrip(t *testing.T) {
	cfg := durability.DefaultConfig()
	cfg.Durability = true

	store := NewFileStore(filepath.Join(t.TempDir(), "durability.dat"))
	require.NoError(t, store.Save(context.Background(), sampleSnapshot()))

	engine := durability.New(cfg)
	defer engine.Close()
	require.NoError(t, engine.LoadSnapshot(context.Background(), store))
	assert.Equal(t, 2, engine.Damage("world", 10, 64, -3))
	assert.Equal(t, 14, engine.Damage("world_nether", 0, 120, 0))
}

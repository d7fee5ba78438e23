package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/annel0/blastguard/internal/durability"
	"github.com/annel0/blastguard/internal/logging"
	"github.com/dgraph-io/badger/v3"
)

const badgerKeyPrefix = "dura:"

// BadgerStore хранит урон блоков в BadgerDB: ключ dura:<20 байт ключа блока>,
// значение - урон в varint.
type BadgerStore struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
	logger  *logging.Logger
}

// NewBadgerStore открывает (или создаёт) базу в dbPath
func NewBadgerStore(dbPath string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerStore{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
		logger:  logging.GetStorageLogger(),
	}, nil
}

func badgerKey(k durability.BlockKey) []byte {
	return append([]byte(badgerKeyPrefix), k.Bytes()...)
}

// Load читает все записи. Записи, которые не удалось разобрать, пропускаются и логируются.
func (bs *BadgerStore) Load(ctx context.Context) (map[durability.BlockKey]int, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return nil, ErrNotReady
	}

	out := make(map[durability.BlockKey]int)
	skipped := 0
	err := bs.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key, err := durability.KeyFromBytes(item.Key()[len(prefix):])
			if err != nil {
				skipped++
				continue
			}
			err = item.Value(func(val []byte) error {
				damage, n := binary.Varint(val)
				if n <= 0 || damage <= 0 {
					skipped++
					return nil
				}
				out[key] = int(damage)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	if skipped > 0 {
		bs.logger.Warn("BadgerDB: пропущено повреждённых записей урона: %d", skipped)
	}
	return out, nil
}

// Save заменяет все записи одной пачкой
func (bs *BadgerStore) Save(ctx context.Context, data map[durability.BlockKey]int) error {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	if !bs.isReady {
		return ErrNotReady
	}
	if err := bs.db.DropPrefix([]byte(badgerKeyPrefix)); err != nil {
		return fmt.Errorf("ошибка очистки BadgerDB: %w", err)
	}

	wb := bs.db.NewWriteBatch()
	defer wb.Cancel()

	buf := make([]byte, binary.MaxVarintLen64)
	for k, damage := range data {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := binary.PutVarint(buf, int64(damage))
		val := append([]byte(nil), buf[:n]...)
		if err := wb.Set(badgerKey(k), val); err != nil {
			return fmt.Errorf("ошибка записи в BadgerDB: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// Close закрывает хранилище данных
func (bs *BadgerStore) Close() error {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	if !bs.isReady {
		return nil
	}

	bs.isReady = false
	return bs.db.Close()
}

package storage

import (
	"context"
	"sync"

	"github.com/annel0/blastguard/internal/durability"
)

// MemoryStore хранит снимок в памяти процесса.
// Используется для тестов и окружений без постоянного хранилища.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[durability.BlockKey]int
	saves  int
	closed bool
}

// NewMemoryStore создает пустое хранилище в памяти
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[durability.BlockKey]int)}
}

// Load возвращает копию последнего сохранённого снимка
func (m *MemoryStore) Load(ctx context.Context) (map[durability.BlockKey]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrNotReady
	}
	return copySnapshot(m.data), nil
}

// Save заменяет снимок целиком
func (m *MemoryStore) Save(ctx context.Context, data map[durability.BlockKey]int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrNotReady
	}
	m.data = copySnapshot(data)
	m.saves++
	return nil
}

// Saves возвращает число сохранений
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

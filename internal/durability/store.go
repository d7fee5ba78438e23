package durability

import (
	"sync"
	"sync/atomic"
)

const storeShards = 32

// Record накопленный урон блока.
// Epoch меняется при каждом попадании и позволяет таймеру сброса понять,
// что после его постановки было новое попадание.
type Record struct {
	Damage int
	Epoch  uint64
}

// Store хранит урон блоков. Все методы безопасны для конкурентного вызова.
type Store struct {
	shards [storeShards]storeShard
	epoch  atomic.Uint64
}

type storeShard struct {
	mu      sync.RWMutex
	records map[BlockKey]Record
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].records = make(map[BlockKey]Record)
	}
	return s
}

func (s *Store) shard(key BlockKey) *storeShard {
	return &s.shards[key.hash()%storeShards]
}

// Damage возвращает накопленный урон, 0 если записи нет.
func (s *Store) Damage(key BlockKey) int {
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.records[key].Damage
}

// Get возвращает запись блока.
func (s *Store) Get(key BlockKey) (Record, bool) {
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	rec, ok := sh.records[key]
	return rec, ok
}

// RecordHit атомарно увеличивает урон (или создаёт запись с 1) и возвращает новое значение.
func (s *Store) RecordHit(key BlockKey) int {
	rec, _ := s.Hit(key, 0)
	return rec.Damage
}

// Hit атомарно засчитывает попадание. Если threshold > 0 и урон достиг порога,
// запись удаляется и destroyed = true; это видит ровно один вызывающий.
func (s *Store) Hit(key BlockKey, threshold int) (rec Record, destroyed bool) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec = sh.records[key]
	rec.Damage++
	rec.Epoch = s.epoch.Add(1)

	if threshold > 0 && rec.Damage >= threshold {
		delete(sh.records, key)
		return rec, true
	}
	sh.records[key] = rec
	return rec, false
}

// Reset удаляет запись. Идемпотентно; возвращает true, если запись была.
func (s *Store) Reset(key BlockKey) bool {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	_, ok := sh.records[key]
	delete(sh.records, key)
	return ok
}

// ResetIfEpoch удаляет запись, только если с момента epoch попаданий не было.
func (s *Store) ResetIfEpoch(key BlockKey, epoch uint64) bool {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[key]
	if !ok || rec.Epoch != epoch {
		return false
	}
	delete(sh.records, key)
	return true
}

// Len возвращает число отслеживаемых блоков.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.records)
		sh.mu.RUnlock()
	}
	return n
}

// Snapshot возвращает копию всех записей ключ -> урон.
func (s *Store) Snapshot() map[BlockKey]int {
	out := make(map[BlockKey]int)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, rec := range sh.records {
			out[k] = rec.Damage
		}
		sh.mu.RUnlock()
	}
	return out
}

// Restore полностью заменяет содержимое. Записи с уроном <= 0 пропускаются,
// их число возвращается.
func (s *Store) Restore(data map[BlockKey]int) (skipped int) {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		sh.records = make(map[BlockKey]Record)
		sh.mu.Unlock()
	}

	for k, damage := range data {
		if damage <= 0 {
			skipped++
			continue
		}
		sh := s.shard(k)
		sh.mu.Lock()
		sh.records[k] = Record{Damage: damage, Epoch: s.epoch.Add(1)}
		sh.mu.Unlock()
	}
	return skipped
}

// records возвращает копию записей вместе с эпохами.
func (s *Store) records() map[BlockKey]Record {
	out := make(map[BlockKey]Record)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, rec := range sh.records {
			out[k] = rec
		}
		sh.mu.RUnlock()
	}
	return out
}

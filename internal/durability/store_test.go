package durability

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSequentialHits(t *testing.T) {
	s := NewStore()
	key := Encode("world", 0, 10, 0)
	const threshold = 4

	for n := 1; n < threshold; n++ {
		rec, destroyed := s.Hit(key, threshold)
		assert.False(t, destroyed, "блок не должен разрушаться до порога (удар %d)", n)
		assert.Equal(t, n, rec.Damage)
		assert.Equal(t, n, s.Damage(key))
	}

	rec, destroyed := s.Hit(key, threshold)
	assert.True(t, destroyed, "блок разрушается ровно на пороге")
	assert.Equal(t, threshold, rec.Damage)
	assert.Equal(t, 0, s.Damage(key), "запись удаляется после разрушения")
	assert.Equal(t, 0, s.Len())
}

func TestStoreRecordHitWithoutThreshold(t *testing.T) {
	s := NewStore()
	key := Encode("world", 1, 1, 1)

	assert.Equal(t, 1, s.RecordHit(key))
	assert.Equal(t, 2, s.RecordHit(key))
	assert.Equal(t, 2, s.Damage(key))
}

func TestStoreConcurrentHits(t *testing.T) {
	const hitters = 64

	for round := 0; round < 20; round++ {
		s := NewStore()
		key := Encode("world", round, 5, -round)

		var wg sync.WaitGroup
		start := make(chan struct{})
		destroyed := 0
		var mu sync.Mutex
		for i := 0; i < hitters; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if _, d := s.Hit(key, hitters+1); d {
					mu.Lock()
					destroyed++
					mu.Unlock()
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, hitters, s.Damage(key), "потеряны попадания в раунде %d", round)
		require.Zero(t, destroyed)
	}
}

func TestStoreDestroyedExactlyOnce(t *testing.T) {
	s := NewStore()
	key := Encode("world", 7, 7, 7)
	const threshold = 10

	var wg sync.WaitGroup
	var mu sync.Mutex
	destroyed := 0
	for i := 0; i < threshold; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, d := s.Hit(key, threshold); d {
				mu.Lock()
				destroyed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, destroyed)
	assert.Equal(t, 0, s.Damage(key))
}

func TestStoreResetIsIdempotent(t *testing.T) {
	s := NewStore()
	key := Encode("world", 3, 3, 3)

	assert.False(t, s.Reset(key), "сброс отсутствующего ключа ничего не делает")
	s.RecordHit(key)
	assert.True(t, s.Reset(key))
	assert.False(t, s.Reset(key))
	assert.Equal(t, 0, s.Damage(key))
}

func TestStoreResetIfEpoch(t *testing.T) {
	s := NewStore()
	key := Encode("world", 0, 0, 0)

	first, _ := s.Hit(key, 0)
	second, _ := s.Hit(key, 0)

	assert.False(t, s.ResetIfEpoch(key, first.Epoch), "устаревшая эпоха не сбрасывает урон")
	assert.Equal(t, 2, s.Damage(key))
	assert.True(t, s.ResetIfEpoch(key, second.Epoch))
	assert.Equal(t, 0, s.Damage(key))
}

func TestStoreSnapshotRestore(t *testing.T) {
	s := NewStore()
	a := Encode("world", 1, 2, 3)
	b := Encode("nether", -1, 2, -3)
	s.RecordHit(a)
	s.RecordHit(a)
	s.RecordHit(b)

	snap := s.Snapshot()
	assert.Equal(t, map[BlockKey]int{a: 2, b: 1}, snap)

	other := NewStore()
	other.RecordHit(Encode("old", 0, 0, 0))
	skipped := other.Restore(map[BlockKey]int{a: 2, b: 1, Encode("bad", 0, 0, 0): 0})

	assert.Equal(t, 1, skipped)
	assert.Equal(t, snap, other.Snapshot(), "Restore заменяет содержимое целиком")
}

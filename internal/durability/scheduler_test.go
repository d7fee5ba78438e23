package durability

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerFires(t *testing.T) {
	s := NewScheduler()
	defer s.Close()

	var fired atomic.Int32
	require.True(t, s.Arm(Encode("w", 0, 0, 0), 20*time.Millisecond, func() { fired.Add(1) }))
	assert.Equal(t, 1, s.Len())

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Len())
}

func TestSchedulerRearmReplaces(t *testing.T) {
	s := NewScheduler()
	defer s.Close()

	key := Encode("w", 1, 1, 1)
	var first, second atomic.Int32
	s.Arm(key, 30*time.Millisecond, func() { first.Add(1) })
	s.Arm(key, 60*time.Millisecond, func() { second.Add(1) })
	assert.Equal(t, 1, s.Len(), "на ключ не больше одного таймера")

	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, first.Load(), "заменённый таймер не срабатывает")
}

func TestSchedulerOrdersByDeadline(t *testing.T) {
	s := NewScheduler()
	defer s.Close()

	order := make(chan int, 3)
	s.Arm(Encode("w", 3, 0, 0), 60*time.Millisecond, func() { order <- 3 })
	s.Arm(Encode("w", 1, 0, 0), 10*time.Millisecond, func() { order <- 1 })
	s.Arm(Encode("w", 2, 0, 0), 35*time.Millisecond, func() { order <- 2 })

	for want := 1; want <= 3; want++ {
		select {
		case got := <-order:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("таймер %d не сработал", want)
		}
	}
}

func TestSchedulerCancel(t *testing.T) {
	s := NewScheduler()
	defer s.Close()

	key := Encode("w", 2, 2, 2)
	assert.False(t, s.Cancel(key), "отмена без таймера не ошибка")

	var fired atomic.Int32
	s.Arm(key, 20*time.Millisecond, func() { fired.Add(1) })
	_, pending := s.Pending(key)
	assert.True(t, pending)

	assert.True(t, s.Cancel(key))
	assert.False(t, s.Cancel(key))

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestSchedulerCancelAll(t *testing.T) {
	s := NewScheduler()
	defer s.Close()

	var fired atomic.Int32
	for i := 0; i < 10; i++ {
		s.Arm(Encode("w", i, 0, 0), 20*time.Millisecond, func() { fired.Add(1) })
	}
	assert.Equal(t, 10, s.CancelAll())
	assert.Equal(t, 0, s.Len())

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestSchedulerAdmission(t *testing.T) {
	var admit atomic.Bool
	var skips atomic.Int32
	s := NewScheduler(
		WithAdmission(admit.Load),
		WithSkipHook(func() { skips.Add(1) }),
	)
	defer s.Close()

	key := Encode("w", 5, 5, 5)
	admit.Store(true)
	require.True(t, s.Arm(key, time.Hour, func() {}))

	admit.Store(false)
	assert.False(t, s.Arm(key, time.Hour, func() {}))
	assert.False(t, s.Arm(Encode("w", 6, 6, 6), time.Hour, func() {}))
	assert.True(t, s.LowResource())
	assert.Equal(t, uint64(2), s.Skipped())
	assert.Equal(t, int32(2), skips.Load())
	_, pending := s.Pending(key)
	assert.False(t, pending, "при отказе старый таймер ключа снимается")

	admit.Store(true)
	assert.True(t, s.Arm(key, time.Hour, func() {}))
	assert.False(t, s.LowResource())
}

func TestSchedulerRecoversFromPanic(t *testing.T) {
	s := NewScheduler()
	defer s.Close()

	var fired atomic.Int32
	s.Arm(Encode("w", 0, 0, 1), 5*time.Millisecond, func() { panic("boom") })
	s.Arm(Encode("w", 0, 0, 2), 25*time.Millisecond, func() { fired.Add(1) })

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSchedulerClosed(t *testing.T) {
	s := NewScheduler()
	s.Close()
	s.Close()

	assert.False(t, s.Arm(Encode("w", 0, 0, 0), time.Millisecond, func() {}))
}

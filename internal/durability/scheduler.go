package durability

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/blastguard/internal/logging"
)

// AdmissionFunc решает, можно ли сейчас ставить новый таймер (например, хватает ли памяти).
type AdmissionFunc func() bool

type timerEntry struct {
	key      BlockKey
	deadline time.Time
	fn       func()
	index    int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }

func (h *timerHeap) Push(x interface{}) {
	item := x.(*timerEntry)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Scheduler держит не более одного отложенного колбэка на ключ.
// Все таймеры обслуживает одна горутина с min-heap по дедлайнам.
type Scheduler struct {
	mu    sync.Mutex
	queue timerHeap
	byKey map[BlockKey]*timerEntry

	admit       AdmissionFunc
	lowResource bool
	skipped     atomic.Uint64
	onSkip      func()
	logger      *logging.Logger

	wake   chan struct{}
	quit   chan struct{}
	done   chan struct{}
	closed bool
}

// SchedulerOption настраивает Scheduler.
type SchedulerOption func(*Scheduler)

// WithAdmission задаёт проверку ресурсов перед постановкой таймера.
func WithAdmission(fn AdmissionFunc) SchedulerOption {
	return func(s *Scheduler) { s.admit = fn }
}

// WithSkipHook вызывается при каждом пропуске постановки таймера.
func WithSkipHook(fn func()) SchedulerOption {
	return func(s *Scheduler) { s.onSkip = fn }
}

// WithSchedulerLogger задаёт логгер планировщика.
func WithSchedulerLogger(l *logging.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler создаёт планировщик и запускает его горутину.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		byKey:  make(map[BlockKey]*timerEntry),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.loop()
	return s
}

// Arm ставит fn на выполнение через delay. Существующий таймер ключа отменяется.
// Возвращает false, если проверка ресурсов не пропустила таймер или планировщик закрыт.
func (s *Scheduler) Arm(key BlockKey, delay time.Duration, fn func()) bool {
	admitted := true
	if s.admit != nil {
		admitted = s.admit()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.removeLocked(key)

	if !admitted {
		entering := !s.lowResource
		s.lowResource = true
		pending := len(s.byKey)
		s.mu.Unlock()

		s.skipped.Add(1)
		if s.onSkip != nil {
			s.onSkip()
		}
		if entering {
			s.logger.Warn("Мало свободных ресурсов: новые таймеры сброса не ставятся (активных таймеров: %d)", pending)
		}
		return false
	}

	leaving := s.lowResource
	s.lowResource = false

	entry := &timerEntry{key: key, deadline: time.Now().Add(delay), fn: fn}
	heap.Push(&s.queue, entry)
	s.byKey[key] = entry
	first := s.queue[0] == entry
	s.mu.Unlock()

	if leaving {
		s.logger.Info("Ресурсы восстановлены, таймеры сброса снова ставятся")
	}
	if first {
		s.signal()
	}
	return true
}

// Cancel отменяет таймер ключа. Идемпотентно.
func (s *Scheduler) Cancel(key BlockKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(key)
}

// CancelAll отменяет все таймеры и возвращает их число.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.byKey)
	s.queue = nil
	s.byKey = make(map[BlockKey]*timerEntry)
	return n
}

// Pending возвращает дедлайн таймера ключа.
func (s *Scheduler) Pending(key BlockKey) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byKey[key]
	if !ok {
		return time.Time{}, false
	}
	return entry.deadline, true
}

// Len возвращает число активных таймеров.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

// Skipped возвращает число пропущенных постановок таймеров.
func (s *Scheduler) Skipped() uint64 {
	return s.skipped.Load()
}

// LowResource сообщает, находится ли планировщик в режиме нехватки ресурсов.
func (s *Scheduler) LowResource() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lowResource
}

// Close отменяет все таймеры и останавливает горутину.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.byKey = make(map[BlockKey]*timerEntry)
	s.mu.Unlock()

	close(s.quit)
	<-s.done
}

func (s *Scheduler) removeLocked(key BlockKey) bool {
	entry, ok := s.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&s.queue, entry.index)
	delete(s.byKey, key)
	return true
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer close(s.done)

	for {
		s.mu.Lock()
		now := time.Now()
		var due []*timerEntry
		for len(s.queue) > 0 && !s.queue[0].deadline.After(now) {
			entry := heap.Pop(&s.queue).(*timerEntry)
			delete(s.byKey, entry.key)
			due = append(due, entry)
		}
		wait := time.Duration(-1)
		if len(s.queue) > 0 {
			wait = s.queue[0].deadline.Sub(now)
		}
		s.mu.Unlock()

		if len(due) > 0 {
			for _, entry := range due {
				s.run(entry)
			}
			continue
		}

		var timerC <-chan time.Time
		var timer *time.Timer
		if wait >= 0 {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-timerC:
		case <-s.wake:
		case <-s.quit:
			if timer != nil {
				timer.Stop()
			}
			return
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (s *Scheduler) run(entry *timerEntry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Паника в колбэке таймера %s: %v", entry.key, r)
		}
	}()
	entry.fn()
}

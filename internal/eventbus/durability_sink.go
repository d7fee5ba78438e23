package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/blastguard/internal/durability"
	"github.com/annel0/blastguard/internal/logging"
	"github.com/google/uuid"
)

// PayloadVersion версия JSON-схемы durability.Event в Envelope.Payload
const PayloadVersion = 1

const defaultSinkBuffer = 1024

// DurabilitySink публикует события движка прочности в шину.
// Emit не блокирует: события складываются в буфер и отправляются
// отдельной горутиной; при переполнении буфера событие отбрасывается.
type DurabilitySink struct {
	bus     EventBus
	source  string
	queue   chan durability.Event
	dropped atomic.Uint64
	logger  *logging.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDurabilitySink запускает горутину публикации. source попадает в Envelope.Source.
func NewDurabilitySink(bus EventBus, source string, buffer int) *DurabilitySink {
	if buffer <= 0 {
		buffer = defaultSinkBuffer
	}
	s := &DurabilitySink{
		bus:    bus,
		source: source,
		queue:  make(chan durability.Event, buffer),
		logger: logging.GetComponentLogger("eventbus"),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Emit реализует durability.EventSink.
func (s *DurabilitySink) Emit(ev durability.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Dropped число событий, не попавших в буфер
func (s *DurabilitySink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close отправляет оставшиеся события и останавливает горутину.
func (s *DurabilitySink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
}

func (s *DurabilitySink) run() {
	defer close(s.done)
	for ev := range s.queue {
		env, err := s.envelope(ev)
		if err != nil {
			s.logger.Error("Не удалось сериализовать событие %s: %v", ev.Type, err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.bus.Publish(ctx, env); err != nil {
			s.logger.Warn("Публикация %s %s: %v", ev.Type, ev.Pos, err)
		}
		cancel()
	}
}

func (s *DurabilitySink) envelope(ev durability.Event) (*Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: ts.UTC(),
		Source:    s.source,
		EventType: string(ev.Type),
		Version:   PayloadVersion,
		Priority:  priorityOf(ev.Type),
		Payload:   payload,
		Metadata: map[string]string{
			"world":    ev.World,
			"pos":      ev.Pos.String(),
			"material": ev.Material.String(),
		},
	}, nil
}

// Разрушение блока важнее промежуточного урона и не должно теряться при backpressure.
func priorityOf(t durability.EventType) int {
	switch t {
	case durability.EventDestroyed:
		return 7
	case durability.EventReset:
		return 4
	default:
		return 3
	}
}

// DecodeEvent разбирает полезную нагрузку Envelope обратно в durability.Event.
func DecodeEvent(env *Envelope) (durability.Event, error) {
	var ev durability.Event
	err := json.Unmarshal(env.Payload, &ev)
	return ev, err
}

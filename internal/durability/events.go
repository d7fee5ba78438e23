package durability

import (
	"time"

	"github.com/annel0/blastguard/internal/vec"
	"github.com/annel0/blastguard/internal/world/block"
)

// EventType тип события прочности.
type EventType string

const (
	EventDamaged   EventType = "BlockDamaged"
	EventDestroyed EventType = "BlockDestroyed"
	EventReset     EventType = "DamageReset"
)

// Event изменение состояния блока. Для блоков, восстановленных из снимка,
// World может быть пустым, пока мир не встретится во взрыве.
type Event struct {
	Type      EventType      `json:"type"`
	Key       BlockKey       `json:"key"`
	World     string         `json:"world,omitempty"`
	Pos       vec.Vec3       `json:"pos"`
	Material  block.Material `json:"material,omitempty"`
	Damage    int            `json:"damage,omitempty"`
	Threshold int            `json:"threshold,omitempty"`
	Dropped   bool           `json:"dropped,omitempty"`
	Time      time.Time      `json:"time"`
}

// EventSink получатель событий. Emit не должен блокироваться.
type EventSink interface {
	Emit(ev Event)
}

// EventSinkFunc адаптер функции к EventSink.
type EventSinkFunc func(ev Event)

func (f EventSinkFunc) Emit(ev Event) { f(ev) }

func (e *Engine) emit(ev Event) {
	if e.sink == nil {
		return
	}
	ev.Time = time.Now()
	e.sink.Emit(ev)
}

package durability

import (
	"fmt"

	"github.com/annel0/blastguard/internal/vec"
	"github.com/annel0/blastguard/internal/world/block"
)

// ActionKind вид изменения мира.
type ActionKind int

const (
	ActionClearBlock ActionKind = iota
	ActionDropItem
	ActionCancelExplosion
	ActionCreateExplosion
)

var actionNames = [...]string{"clear_block", "drop_item", "cancel_explosion", "create_explosion"}

func (k ActionKind) String() string {
	if int(k) >= 0 && int(k) < len(actionNames) {
		return actionNames[k]
	}
	return fmt.Sprintf("action(%d)", int(k))
}

func (k ActionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ActionKind) UnmarshalText(text []byte) error {
	for i, name := range actionNames {
		if name == string(text) {
			*k = ActionKind(i)
			return nil
		}
	}
	return fmt.Errorf("неизвестное действие %q", text)
}

// Action изменение мира, которое должен выполнить хост.
type Action struct {
	Kind    ActionKind    `json:"kind"`
	World   string        `json:"world,omitempty"`
	Pos     vec.Vec3      `json:"pos"`
	Item    block.State   `json:"item"`
	At      vec.Vec3Float `json:"at"`
	Power   float64       `json:"power,omitempty"`
	EventID string        `json:"event_id,omitempty"`
}

// Result итог обработки взрыва.
type Result string

const (
	ResultIgnored   Result = "ignored"   // не прошёл глобальные проверки
	ResultProtected Result = "protected" // защита жидкостью или пушечный механизм
	ResultAborted   Result = "aborted"   // интеграция запретила весь взрыв
	ResultLiquid    Result = "liquid"    // взрыв в жидкости пересоздан
	ResultResolved  Result = "resolved"
)

// BlockResult состояние блока после попадания.
type BlockResult struct {
	Pos       vec.Vec3       `json:"pos"`
	Material  block.Material `json:"material"`
	Damage    int            `json:"damage"`
	Threshold int            `json:"threshold"`
	Destroyed bool           `json:"destroyed"`
	Dropped   bool           `json:"dropped,omitempty"`
}

// Outcome результат Resolve. Счётчики нужны для диагностики, Actions хост
// применяет сам, блоки из Owned он исключает из стандартного разрушения.
type Outcome struct {
	EventID     string        `json:"event_id,omitempty"`
	Result      Result        `json:"result"`
	Reason      string        `json:"reason,omitempty"`
	Candidates  int           `json:"candidates"`
	Destroyed   int           `json:"destroyed"`
	Damaged     int           `json:"damaged"`
	Skipped     int           `json:"skipped"`
	Denied      int           `json:"denied"`
	CancelEvent bool          `json:"cancel_event,omitempty"`
	Owned       []vec.Vec3    `json:"owned,omitempty"`
	Blocks      []BlockResult `json:"blocks,omitempty"`
	Actions     []Action      `json:"actions,omitempty"`
}

// Apply выполняет действия через Mutator хоста.
func (o *Outcome) Apply(m Mutator) {
	for _, a := range o.Actions {
		switch a.Kind {
		case ActionClearBlock:
			m.ClearBlock(Location{World: a.World, Pos: a.Pos})
		case ActionDropItem:
			m.DropItem(Location{World: a.World, Pos: a.Pos}, a.Item)
		case ActionCancelExplosion:
			m.CancelExplosion(a.EventID)
		case ActionCreateExplosion:
			m.CreateExplosion(a.World, a.At, a.Power)
		}
	}
}

// shouldDrop решает, выпадает ли предмет: sample из [0, 1), шанс ограничивается [0, 1].
func shouldDrop(chance, sample float64) bool {
	return sample < ClampChance(chance)
}

// destroy добавляет действия разрушения блока: предмет (по шансу) и очистку.
func (e *Engine) destroy(loc Location, state block.State, rule MaterialRule, out *Outcome) bool {
	dropped := shouldDrop(e.cfg.DropChanceFor(rule), e.rand.Float64())
	if dropped {
		out.Actions = append(out.Actions, Action{
			Kind:  ActionDropItem,
			World: loc.World,
			Pos:   loc.Pos,
			Item:  state,
		})
		e.stats.drops.Add(1)
		if e.metrics != nil {
			e.metrics.Drops.Inc()
		}
	}
	out.Actions = append(out.Actions, Action{
		Kind:  ActionClearBlock,
		World: loc.World,
		Pos:   loc.Pos,
	})
	out.Destroyed++
	e.stats.destroyed.Add(1)
	if e.metrics != nil {
		e.metrics.Destroyed.WithLabelValues(state.Material.String()).Inc()
	}
	return dropped
}

// applyHit переход состояния блока: Untracked -> Damaged(n) -> Destroyed.
func (e *Engine) applyHit(loc Location, state block.State, rule MaterialRule, out *Outcome) {
	key := loc.Key()
	e.rememberWorld(loc.World)
	e.stats.hits.Add(1)
	if e.metrics != nil {
		e.metrics.Hits.Inc()
	}

	res := BlockResult{Pos: loc.Pos, Material: state.Material, Threshold: rule.Threshold}

	if !e.cfg.Durability || rule.Threshold <= 1 {
		mu := e.lockFor(key)
		mu.Lock()
		e.store.Reset(key)
		e.sched.Cancel(key)
		mu.Unlock()

		res.Destroyed = true
		res.Dropped = e.destroy(loc, state, rule, out)
		out.Blocks = append(out.Blocks, res)
		e.emit(Event{Type: EventDestroyed, Key: key, World: loc.World, Pos: loc.Pos, Material: state.Material, Threshold: rule.Threshold, Dropped: res.Dropped})
		return
	}

	mu := e.lockFor(key)
	mu.Lock()
	rec, destroyed := e.store.Hit(key, rule.Threshold)
	if destroyed {
		e.sched.Cancel(key)
	} else if e.cfg.ResetEnabled {
		e.armReset(key, loc, state.Material, rec.Epoch)
	}
	mu.Unlock()

	res.Damage = rec.Damage
	if destroyed {
		res.Destroyed = true
		res.Dropped = e.destroy(loc, state, rule, out)
		e.emit(Event{Type: EventDestroyed, Key: key, World: loc.World, Pos: loc.Pos, Material: state.Material, Damage: rec.Damage, Threshold: rule.Threshold, Dropped: res.Dropped})
	} else {
		out.Damaged++
		e.emit(Event{Type: EventDamaged, Key: key, World: loc.World, Pos: loc.Pos, Material: state.Material, Damage: rec.Damage, Threshold: rule.Threshold})
	}
	out.Blocks = append(out.Blocks, res)
}

// armReset ставит таймер сброса. Вызывается под блокировкой ключа.
func (e *Engine) armReset(key BlockKey, loc Location, material block.Material, epoch uint64) {
	e.sched.Arm(key, e.cfg.ResetDelay, func() {
		e.expire(key, loc, material, epoch)
	})
}

// expire колбэк таймера: сбрасывает урон, если после постановки не было попаданий.
func (e *Engine) expire(key BlockKey, loc Location, material block.Material, epoch uint64) {
	mu := e.lockFor(key)
	mu.Lock()
	reset := e.store.ResetIfEpoch(key, epoch)
	mu.Unlock()

	if !reset {
		return
	}
	if loc.World == "" {
		loc.World = e.worldName(key.World)
	}
	e.stats.resets.Add(1)
	if e.metrics != nil {
		e.metrics.Resets.Inc()
	}
	e.emit(Event{Type: EventReset, Key: key, World: loc.World, Pos: loc.Pos, Material: material})
}

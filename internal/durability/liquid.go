package durability

import (
	"context"

	"github.com/annel0/blastguard/internal/vec"
)

const (
	liquidRadius = 1
	liquidPower  = 3.0
)

// LiquidHandler обрабатывает взрыв в жидкости до основного разбора.
// Возвращает true, если взрыв полностью обработан и разбор надо остановить.
type LiquidHandler interface {
	Handle(ctx context.Context, w World, ev ExplosionEvent, out *Outcome) bool
}

// liquidExplosions убирает жидкость вокруг центра, отменяет исходный взрыв
// и просит хост создать новый на том же месте.
type liquidExplosions struct {
	engine *Engine
	radius int
	power  float64
}

func (l *liquidExplosions) Handle(ctx context.Context, w World, ev ExplosionEvent, out *Outcome) bool {
	e := l.engine
	if e.cfg.Radius <= 0 || ev.Cancelled {
		return false
	}

	origin := Location{World: ev.World, Pos: ev.Origin.Block()}
	if e.cfg.ProtectCannons && isCannonMechanism(w, origin) {
		return false
	}

	var cleared []Action
	for x := -l.radius; x <= l.radius; x++ {
		for y := -l.radius; y <= l.radius; y++ {
			for z := -l.radius; z <= l.radius; z++ {
				loc := Location{World: ev.World, Pos: origin.Pos.Add(vec.Vec3{X: x, Y: y, Z: z})}
				if v, _ := e.caps.check(ctx, loc); v != verdictAllow {
					return false
				}
				if w.BlockAt(loc).Material.IsLiquid() {
					cleared = append(cleared, Action{Kind: ActionClearBlock, World: ev.World, Pos: loc.Pos})
				}
			}
		}
	}
	if len(cleared) == 0 {
		return false
	}

	out.Actions = append(out.Actions, cleared...)
	out.Actions = append(out.Actions,
		Action{Kind: ActionCancelExplosion, World: ev.World, EventID: ev.ID},
		Action{Kind: ActionClearBlock, World: ev.World, Pos: origin.Pos},
		Action{Kind: ActionCreateExplosion, World: ev.World, At: ev.Origin, Power: l.power},
	)
	out.CancelEvent = true
	out.Result = ResultLiquid
	out.Reason = "взрыв в жидкости пересоздан"
	e.logger.Debug("Взрыв %s в жидкости: очищено блоков %d", ev.ID, len(cleared))
	return true
}

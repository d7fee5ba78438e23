package durability

import (
	"context"

	"github.com/annel0/blastguard/internal/vec"
	"github.com/annel0/blastguard/internal/world/block"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	cannonScanRadius    = 2
	cannonRedstoneLimit = 6
)

// SphereOffsets перебирает куб [-r, r]^3 и оставляет смещения с расстоянием <= r.
func SphereOffsets(radius int) []vec.Vec3 {
	if radius < 0 {
		return nil
	}
	r2 := radius * radius
	out := make([]vec.Vec3, 0, (2*radius+1)*(2*radius+1)*(2*radius+1))
	for x := -radius; x <= radius; x++ {
		for y := -radius; y <= radius; y++ {
			for z := -radius; z <= radius; z++ {
				off := vec.Vec3{X: x, Y: y, Z: z}
				if off.LengthSquared() <= r2 {
					out = append(out, off)
				}
			}
		}
	}
	return out
}

type candidate struct {
	loc   Location
	state block.State
	rule  MaterialRule
}

// Resolve обрабатывает взрыв в мире, заданном через WithWorld.
func (e *Engine) Resolve(ctx context.Context, ev ExplosionEvent) Outcome {
	return e.ResolveIn(ctx, e.world, ev)
}

// ResolveIn обрабатывает взрыв в переданном мире. Состояние мира не меняется:
// изменения возвращаются в Outcome.Actions.
func (e *Engine) ResolveIn(ctx context.Context, w World, ev ExplosionEvent) Outcome {
	ctx, span := e.tracer.Start(ctx, "durability.Resolve", trace.WithAttributes(
		attribute.String("world", ev.World),
		attribute.String("entity", ev.Entity.String()),
	))
	defer span.End()

	out := e.resolve(ctx, w, ev)

	e.stats.explosions.Add(1)
	if out.Result == ResultResolved {
		e.stats.resolved.Add(1)
	}
	if e.metrics != nil {
		e.metrics.Explosions.WithLabelValues(string(out.Result)).Inc()
	}
	span.SetAttributes(
		attribute.String("result", string(out.Result)),
		attribute.Int("candidates", out.Candidates),
		attribute.Int("destroyed", out.Destroyed),
		attribute.Int("damaged", out.Damaged),
	)
	return out
}

func (e *Engine) resolve(ctx context.Context, w World, ev ExplosionEvent) Outcome {
	out := Outcome{EventID: ev.ID, Result: ResultIgnored}

	if e.closed.Load() {
		out.Reason = ErrEngineClosed.Error()
		return out
	}
	if w == nil {
		out.Reason = "мир не задан"
		e.logger.Warn("Взрыв %s в мире %s пропущен: мир не задан", ev.ID, ev.World)
		return out
	}
	e.started.Store(true)

	if ev.Cancelled && e.cfg.HonorCancelled {
		out.Reason = "событие отменено"
		return out
	}
	if e.cfg.WorldDisabled(ev.World) {
		out.Reason = "мир отключён"
		return out
	}
	if e.cfg.Radius < 0 {
		out.Reason = "отрицательный радиус"
		e.logger.Warn("Взрыв %s пропущен: радиус %d меньше нуля", ev.ID, e.cfg.Radius)
		return out
	}
	if !e.cfg.EnabledFor.Allows(ev.Entity) {
		out.Reason = "сущность не включена: " + ev.Entity.String()
		return out
	}

	if e.cfg.ExplodeInLiquids && e.liquid != nil {
		if e.liquid.Handle(ctx, w, ev, &out) {
			return out
		}
	}

	origin := Location{World: ev.World, Pos: ev.Origin.Block()}
	if e.cfg.WaterProtection && w.BlockAt(origin).Material.IsLiquid() {
		out.Result = ResultProtected
		out.Reason = "взрыв в жидкости"
		return out
	}
	if e.cfg.ProtectCannons && isCannonMechanism(w, origin) {
		out.Result = ResultProtected
		out.Reason = "пушечный механизм"
		return out
	}

	positions := e.candidates(ev)
	out.Candidates = len(positions)

	// Сначала проверяем все блоки: отмена взрыва не должна оставлять частично засчитанный урон.
	planned := make([]candidate, 0, len(positions))
	for _, pos := range positions {
		loc := Location{World: ev.World, Pos: pos}

		v, deniedBy := e.caps.check(ctx, loc)
		switch v {
		case verdictAbort:
			out.Result = ResultAborted
			out.Reason = "запрещено интеграцией " + deniedBy
			out.Denied++
			out.Blocks = nil
			e.logger.Debug("Взрыв %s в %s отменён интеграцией %s (%s)", ev.ID, ev.World, deniedBy, pos)
			return out
		case verdictSkip:
			out.Denied++
			continue
		}

		state := w.BlockAt(loc)
		rule, ok := e.cfg.Rule(state.Material)
		if !ok {
			out.Skipped++
			continue
		}
		planned = append(planned, candidate{loc: loc, state: state, rule: rule})
	}

	for _, c := range planned {
		out.Owned = append(out.Owned, c.loc.Pos)
		e.applyHit(c.loc, c.state, c.rule, &out)
	}

	out.Result = ResultResolved
	return out
}

// candidates для снарядов пушек берёт список блоков хоста (без повторов), иначе сферу вокруг центра.
func (e *Engine) candidates(ev ExplosionEvent) []vec.Vec3 {
	if ev.Entity == EntityCannon && len(ev.Affected) > 0 {
		seen := make(map[vec.Vec3]struct{}, len(ev.Affected))
		out := make([]vec.Vec3, 0, len(ev.Affected))
		for _, pos := range ev.Affected {
			if _, dup := seen[pos]; dup {
				continue
			}
			seen[pos] = struct{}{}
			out = append(out, pos)
		}
		return out
	}
	out := make([]vec.Vec3, 0, len(e.sphere))
	for _, off := range e.sphere {
		out = append(out, ev.Origin.Add(off).Block())
	}
	return out
}

// isCannonMechanism считает блоки редстоуна в кубе вокруг центра.
func isCannonMechanism(w World, origin Location) bool {
	count := 0
	for x := -cannonScanRadius; x <= cannonScanRadius; x++ {
		for y := -cannonScanRadius; y <= cannonScanRadius; y++ {
			for z := -cannonScanRadius; z <= cannonScanRadius; z++ {
				loc := Location{World: origin.World, Pos: origin.Pos.Add(vec.Vec3{X: x, Y: y, Z: z})}
				if w.BlockAt(loc).Material.IsRedstone() {
					count++
					if count >= cannonRedstoneLimit {
						return true
					}
				}
			}
		}
	}
	return false
}

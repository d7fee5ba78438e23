package world

import (
	"context"
	"testing"

	"github.com/annel0/blastguard/internal/durability"
	"github.com/annel0/blastguard/internal/vec"
	"github.com/annel0/blastguard/internal/world/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewSetAndClear(t *testing.T) {
	v := NewView()
	v.SetBlock("world", 1, 2, 3, block.Obsidian)
	v.SetBlock("world", -17, 0, 40, block.Anvil)

	loc := durability.Location{World: "world", Pos: vec.Vec3{X: 1, Y: 2, Z: 3}}
	assert.Equal(t, block.Obsidian, v.BlockAt(loc).Material)
	assert.Equal(t, block.Air, v.BlockAt(durability.Location{World: "other", Pos: loc.Pos}).Material)
	assert.Equal(t, 2, v.Len("world"))

	v.ClearBlock(loc)
	assert.Equal(t, block.Air, v.BlockAt(loc).Material)
	assert.Equal(t, 1, v.Len("world"))
	assert.Len(t, v.Blocks("world"), 1)
}

func TestViewLoad(t *testing.T) {
	v := NewView()
	v.Load("nether", []PlacedBlock{
		{Pos: vec.Vec3{X: 0, Y: 10, Z: 0}, State: block.State{Material: block.EnderChest, Data: 3}},
		{Pos: vec.Vec3{X: 16, Y: 10, Z: 0}, State: block.State{Material: block.Lava}},
	})

	got := v.BlockAt(durability.Location{World: "nether", Pos: vec.Vec3{X: 0, Y: 10, Z: 0}})
	assert.Equal(t, block.State{Material: block.EnderChest, Data: 3}, got)
	assert.Equal(t, 2, v.Len("nether"))
}

func TestViewAppliesOutcome(t *testing.T) {
	v := NewView()
	v.SetBlock("world", 0, 0, 0, block.EnderChest)

	cfg := durability.DefaultConfig()
	cfg.Radius = 1
	cfg.Materials[block.EnderChest] = durability.MaterialRule{Participates: true, Threshold: 1, DropChance: durability.Chance(1)}
	e := durability.New(cfg, durability.WithWorld(v))
	defer e.Close()

	out := e.Resolve(context.Background(), durability.ExplosionEvent{
		World:  "world",
		Origin: vec.Vec3Float{X: 0.5, Y: 0.5, Z: 0.5},
		Entity: durability.EntityTNT,
	})
	require.Equal(t, durability.ResultResolved, out.Result)
	out.Apply(v)

	assert.Equal(t, 0, v.Len("world"))
	drops := v.Drops()
	require.Len(t, drops, 1)
	assert.Equal(t, block.EnderChest, drops[0].Item.Material)
}

func TestViewRecordsLiquidExplosion(t *testing.T) {
	v := NewView()
	v.SetBlock("world", 0, 0, 0, block.StationaryWater)

	cfg := durability.DefaultConfig()
	cfg.ExplodeInLiquids = true
	e := durability.New(cfg, durability.WithWorld(v))
	defer e.Close()

	out := e.Resolve(context.Background(), durability.ExplosionEvent{
		ID:     "tnt-7",
		World:  "world",
		Origin: vec.Vec3Float{X: 0.5, Y: 0.5, Z: 0.5},
		Entity: durability.EntityTNT,
	})
	out.Apply(v)

	assert.Equal(t, []string{"tnt-7"}, v.Cancelled())
	require.Len(t, v.Explosions(), 1)
	assert.Equal(t, 3.0, v.Explosions()[0].Power)
	assert.Equal(t, 0, v.Len("world"))
}

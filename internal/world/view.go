package world

import (
	"sync"

	"github.com/annel0/blastguard/internal/durability"
	"github.com/annel0/blastguard/internal/vec"
	"github.com/annel0/blastguard/internal/world/block"
)

// ChunkSize размер колонки чанка по X и Z
const ChunkSize = 16

// PlacedBlock блок в конкретной позиции мира
type PlacedBlock struct {
	Pos   vec.Vec3    `json:"pos"`
	State block.State `json:"state"`
}

// Drop выпавший предмет
type Drop struct {
	World string      `json:"world"`
	Pos   vec.Vec3    `json:"pos"`
	Item  block.State `json:"item"`
}

// CreatedExplosion взрыв, который движок попросил создать
type CreatedExplosion struct {
	World string        `json:"world"`
	At    vec.Vec3Float `json:"at"`
	Power float64       `json:"power"`
}

type chunkCoord struct {
	X, Z int
}

// column хранит непустые блоки одной колонки чанка
type column struct {
	blocks map[vec.Vec3]block.State
}

// View потокобезопасное представление мира в памяти.
// Реализует durability.World и durability.Mutator.
type View struct {
	mu     sync.RWMutex
	worlds map[string]map[chunkCoord]*column

	drops      []Drop
	cancelled  []string
	explosions []CreatedExplosion
}

var (
	_ durability.World   = (*View)(nil)
	_ durability.Mutator = (*View)(nil)
)

// NewView создаёт пустой мир
func NewView() *View {
	return &View{worlds: make(map[string]map[chunkCoord]*column)}
}

func coordOf(pos vec.Vec3) chunkCoord {
	x, z := pos.ChunkColumn()
	return chunkCoord{X: x, Z: z}
}

// Set ставит блок. Воздух удаляет блок из хранилища.
func (v *View) Set(world string, pos vec.Vec3, state block.State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.setLocked(world, pos, state)
}

// SetBlock ставит блок материала m без дополнительных данных
func (v *View) SetBlock(world string, x, y, z int, m block.Material) {
	v.Set(world, vec.Vec3{X: x, Y: y, Z: z}, block.State{Material: m})
}

// Load заполняет мир списком блоков
func (v *View) Load(world string, blocks []PlacedBlock) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, b := range blocks {
		v.setLocked(world, b.Pos, b.State)
	}
}

func (v *View) setLocked(world string, pos vec.Vec3, state block.State) {
	chunks, ok := v.worlds[world]
	if !ok {
		chunks = make(map[chunkCoord]*column)
		v.worlds[world] = chunks
	}
	cc := coordOf(pos)
	col, ok := chunks[cc]
	if !ok {
		col = &column{blocks: make(map[vec.Vec3]block.State)}
		chunks[cc] = col
	}

	if state.Material == block.Air {
		delete(col.blocks, pos)
		if len(col.blocks) == 0 {
			delete(chunks, cc)
		}
		return
	}
	col.blocks[pos] = state
}

// BlockAt возвращает блок; отсутствующий блок считается воздухом
func (v *View) BlockAt(loc durability.Location) block.State {
	v.mu.RLock()
	defer v.mu.RUnlock()

	col, ok := v.worlds[loc.World][coordOf(loc.Pos)]
	if !ok {
		return block.State{}
	}
	return col.blocks[loc.Pos]
}

// Blocks возвращает все непустые блоки мира
func (v *View) Blocks(world string) []PlacedBlock {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var out []PlacedBlock
	for _, col := range v.worlds[world] {
		for pos, state := range col.blocks {
			out = append(out, PlacedBlock{Pos: pos, State: state})
		}
	}
	return out
}

// Len возвращает число непустых блоков мира
func (v *View) Len(world string) int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	n := 0
	for _, col := range v.worlds[world] {
		n += len(col.blocks)
	}
	return n
}

// ClearBlock заменяет блок воздухом
func (v *View) ClearBlock(loc durability.Location) {
	v.Set(loc.World, loc.Pos, block.State{})
}

// DropItem запоминает выпавший предмет
func (v *View) DropItem(loc durability.Location, item block.State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.drops = append(v.drops, Drop{World: loc.World, Pos: loc.Pos, Item: item})
}

// CancelExplosion запоминает отменённый взрыв
func (v *View) CancelExplosion(eventID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelled = append(v.cancelled, eventID)
}

// CreateExplosion запоминает взрыв, который нужно создать
func (v *View) CreateExplosion(world string, at vec.Vec3Float, power float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.explosions = append(v.explosions, CreatedExplosion{World: world, At: at, Power: power})
}

// Drops возвращает копию выпавших предметов
func (v *View) Drops() []Drop {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]Drop(nil), v.drops...)
}

// Cancelled возвращает ID отменённых взрывов
func (v *View) Cancelled() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]string(nil), v.cancelled...)
}

// Explosions возвращает созданные взрывы
func (v *View) Explosions() []CreatedExplosion {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]CreatedExplosion(nil), v.explosions...)
}

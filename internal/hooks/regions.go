package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/blastguard/internal/durability"
	"github.com/annel0/blastguard/internal/vec"
)

// Region кубоид в мире с флагом взрывов
type Region struct {
	Name       string   `yaml:"name" json:"name"`
	World      string   `yaml:"world" json:"world"`
	Min        vec.Vec3 `yaml:"min" json:"min"`
	Max        vec.Vec3 `yaml:"max" json:"max"`
	Explosions bool     `yaml:"explosions" json:"explosions"`
	Priority   int      `yaml:"priority" json:"priority"`
}

// Contains проверяет, входит ли позиция в регион (границы включительно)
func (r Region) Contains(pos vec.Vec3) bool {
	return pos.X >= r.Min.X && pos.X <= r.Max.X &&
		pos.Y >= r.Min.Y && pos.Y <= r.Max.Y &&
		pos.Z >= r.Min.Z && pos.Z <= r.Max.Z
}

func (r Region) normalized() Region {
	if r.Min.X > r.Max.X {
		r.Min.X, r.Max.X = r.Max.X, r.Min.X
	}
	if r.Min.Y > r.Max.Y {
		r.Min.Y, r.Max.Y = r.Max.Y, r.Min.Y
	}
	if r.Min.Z > r.Max.Z {
		r.Min.Z, r.Max.Z = r.Max.Z, r.Min.Z
	}
	return r
}

// gridKey ключ ячейки сетки регионов (колонка чанка)
type gridKey struct {
	world string
	x, z  int
}

// MaxIndexedColumns предел колонок чанков, которые регион занимает в сетке.
// Более крупные регионы (вплоть до всего мира) проверяются перебором по границам.
const MaxIndexedColumns = 4096

// Regions защита регионами. Небольшие регионы индексируются по колонкам чанков,
// поэтому проверка блока смотрит только регионы его чанка и список крупных.
type Regions struct {
	mu      sync.RWMutex
	regions map[string]Region // имя -> регион
	grid    map[gridKey][]string
	large   map[string]struct{}
}

// NewRegions создаёт защиту с начальным набором регионов
func NewRegions(regions ...Region) (*Regions, error) {
	r := &Regions{
		regions: make(map[string]Region),
		grid:    make(map[gridKey][]string),
		large:   make(map[string]struct{}),
	}
	for _, region := range regions {
		if err := r.Add(region); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add добавляет или заменяет регион
func (r *Regions) Add(region Region) error {
	if region.Name == "" {
		return fmt.Errorf("регион без имени в мире %q", region.World)
	}
	region = region.normalized()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.regions[region.Name]; exists {
		r.removeLocked(region.Name)
	}
	r.regions[region.Name] = region
	if !indexable(region) {
		r.large[region.Name] = struct{}{}
		return nil
	}
	r.eachCell(region, func(k gridKey) {
		r.grid[k] = append(r.grid[k], region.Name)
	})
	return nil
}

// Remove удаляет регион по имени
func (r *Regions) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(name)
}

func (r *Regions) removeLocked(name string) bool {
	region, ok := r.regions[name]
	if !ok {
		return false
	}
	delete(r.regions, name)
	if _, ok := r.large[name]; ok {
		delete(r.large, name)
		return true
	}
	r.eachCell(region, func(k gridKey) {
		names := r.grid[k]
		for i, n := range names {
			if n == name {
				names = append(names[:i], names[i+1:]...)
				break
			}
		}
		if len(names) == 0 {
			delete(r.grid, k)
		} else {
			r.grid[k] = names
		}
	})
	return true
}

func indexable(region Region) bool {
	minX, minZ := region.Min.ChunkColumn()
	maxX, maxZ := region.Max.ChunkColumn()
	columns := (int64(maxX) - int64(minX) + 1) * (int64(maxZ) - int64(minZ) + 1)
	return columns <= MaxIndexedColumns
}

func (r *Regions) eachCell(region Region, fn func(gridKey)) {
	minX, minZ := region.Min.ChunkColumn()
	maxX, maxZ := region.Max.ChunkColumn()
	for x := minX; x <= maxX; x++ {
		for z := minZ; z <= maxZ; z++ {
			fn(gridKey{world: region.World, x: x, z: z})
		}
	}
}

// At возвращает регионы, содержащие позицию, по убыванию приоритета
func (r *Regions) At(world string, pos vec.Vec3) []Region {
	x, z := pos.ChunkColumn()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Region
	for _, name := range r.grid[gridKey{world: world, x: x, z: z}] {
		if region := r.regions[name]; region.Contains(pos) {
			out = append(out, region)
		}
	}
	for name := range r.large {
		if region := r.regions[name]; region.World == world && region.Contains(pos) {
			out = append(out, region)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Len возвращает число регионов
func (r *Regions) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.regions)
}

// IsDestructionAllowed решает по регионам с наибольшим приоритетом:
// если хотя бы один из них запрещает взрывы, разрушение запрещено.
func (r *Regions) IsDestructionAllowed(_ context.Context, loc durability.Location) (bool, error) {
	regions := r.At(loc.World, loc.Pos)
	if len(regions) == 0 {
		return true, nil
	}
	top := regions[0].Priority
	for _, region := range regions {
		if region.Priority != top {
			break
		}
		if !region.Explosions {
			return false, nil
		}
	}
	return true, nil
}

// Capability оборачивает регионы в интеграцию движка
func (r *Regions) Capability(policy durability.DenyPolicy) durability.Capability {
	return durability.Capability{Name: "regions", Provider: r, OnDeny: policy}
}

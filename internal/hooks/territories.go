package hooks

import (
	"context"
	"strings"
	"sync"

	"github.com/annel0/blastguard/internal/durability"
)

// Системные владельцы территорий никогда не считаются офлайн
const (
	OwnerWilderness = "wilderness"
	OwnerSafeZone   = "safezone"
	OwnerWarZone    = "warzone"
)

// Claim занятая колонка чанка
type Claim struct {
	World      string `yaml:"world" json:"world"`
	ChunkX     int    `yaml:"chunk_x" json:"chunk_x"`
	ChunkZ     int    `yaml:"chunk_z" json:"chunk_z"`
	Owner      string `yaml:"owner" json:"owner"`
	Explosions bool   `yaml:"explosions" json:"explosions"`
	WarZone    bool   `yaml:"war_zone" json:"war_zone"`
}

type claimKey struct {
	world string
	x, z  int
}

// TerritoryOptions настройки проверки территорий
type TerritoryOptions struct {
	// OfflineProtection запрещает взрывы на территориях, чей владелец офлайн
	OfflineProtection bool `yaml:"offline_protection"`
	// ExplosionsInWarZone разрешает взрывы в зонах войны
	ExplosionsInWarZone bool `yaml:"explosions_in_war_zone"`
}

// Territories защита территориями фракций/городов
type Territories struct {
	opts TerritoryOptions

	mu     sync.RWMutex
	claims map[claimKey]Claim
	online map[string]bool
}

// NewTerritories создаёт защиту территорий
func NewTerritories(opts TerritoryOptions, claims ...Claim) *Territories {
	t := &Territories{
		opts:   opts,
		claims: make(map[claimKey]Claim),
		online: make(map[string]bool),
	}
	for _, c := range claims {
		t.Claim(c)
	}
	return t
}

// Claim занимает колонку чанка
func (t *Territories) Claim(c Claim) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.claims[claimKey{world: c.World, x: c.ChunkX, z: c.ChunkZ}] = c
}

// Unclaim освобождает колонку чанка
func (t *Territories) Unclaim(world string, chunkX, chunkZ int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := claimKey{world: world, x: chunkX, z: chunkZ}
	_, ok := t.claims[key]
	delete(t.claims, key)
	return ok
}

// SetOnline отмечает владельца в сети или офлайн
func (t *Territories) SetOnline(owner string, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	owner = normalizeOwner(owner)
	if online {
		t.online[owner] = true
	} else {
		delete(t.online, owner)
	}
}

// At возвращает территорию в позиции
func (t *Territories) At(loc durability.Location) (Claim, bool) {
	x, z := loc.Pos.ChunkColumn()

	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.claims[claimKey{world: loc.World, x: x, z: z}]
	return c, ok
}

// IsOffline проверяет, офлайн ли владелец территории в позиции
func (t *Territories) IsOffline(loc durability.Location) bool {
	c, ok := t.At(loc)
	if !ok || isSystemOwner(c.Owner) {
		return false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.online[normalizeOwner(c.Owner)]
}

func (t *Territories) IsDestructionAllowed(_ context.Context, loc durability.Location) (bool, error) {
	c, ok := t.At(loc)
	if !ok {
		return true, nil
	}
	if c.WarZone {
		return t.opts.ExplosionsInWarZone, nil
	}
	if !c.Explosions {
		return false, nil
	}
	if t.opts.OfflineProtection && t.IsOffline(loc) {
		return false, nil
	}
	return true, nil
}

// Capability оборачивает территории в интеграцию движка
func (t *Territories) Capability(policy durability.DenyPolicy) durability.Capability {
	return durability.Capability{Name: "territories", Provider: t, OnDeny: policy}
}

func normalizeOwner(owner string) string {
	return strings.ToLower(strings.TrimSpace(owner))
}

func isSystemOwner(owner string) bool {
	switch normalizeOwner(owner) {
	case OwnerWilderness, OwnerSafeZone, OwnerWarZone:
		return true
	}
	return false
}

package durability

import (
	"fmt"
	"strings"
	"time"

	"github.com/annel0/blastguard/internal/world/block"
)

// EntityKind тип сущности, вызвавшей взрыв.
type EntityKind int

const (
	EntityUnknown EntityKind = iota
	EntityTNT
	EntityCannon // снаряд пушки (снежок)
	EntityCreeper
	EntityFireball
	EntityGhast
	EntityWither
	EntityWitherSkull
)

var entityNames = map[EntityKind]string{
	EntityUnknown:     "unknown",
	EntityTNT:         "tnt",
	EntityCannon:      "cannon",
	EntityCreeper:     "creeper",
	EntityFireball:    "fireball",
	EntityGhast:       "ghast",
	EntityWither:      "wither",
	EntityWitherSkull: "wither_skull",
}

// Синонимы, которые присылают хост-серверы.
var entityAliases = map[string]EntityKind{
	"crafttntprimed":   EntityTNT,
	"primed_tnt":       EntityTNT,
	"tntprimed":        EntityTNT,
	"craftsnowball":    EntityCannon,
	"snowball":         EntityCannon,
	"craftcreeper":     EntityCreeper,
	"craftfireball":    EntityFireball,
	"largefireball":    EntityFireball,
	"craftghast":       EntityGhast,
	"craftwither":      EntityWither,
	"craftwitherskull": EntityWitherSkull,
}

func (k EntityKind) String() string {
	if name, ok := entityNames[k]; ok {
		return name
	}
	return fmt.Sprintf("entity(%d)", int(k))
}

// ParseEntityKind разбирает имя сущности; неизвестные имена дают EntityUnknown.
func ParseEntityKind(s string) EntityKind {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range entityNames {
		if name == s {
			return k
		}
	}
	if k, ok := entityAliases[s]; ok {
		return k
	}
	return EntityUnknown
}

func (k EntityKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EntityKind) UnmarshalText(text []byte) error {
	*k = ParseEntityKind(string(text))
	return nil
}

// EnabledFor включает обработку взрывов по типам сущностей.
type EnabledFor struct {
	TNT      bool
	Cannons  bool
	Creepers bool
	Ghasts   bool
	Withers  bool
}

// Allows проверяет, обрабатываются ли взрывы этой сущности.
func (e EnabledFor) Allows(kind EntityKind) bool {
	switch kind {
	case EntityTNT:
		return e.TNT
	case EntityCannon:
		return e.Cannons
	case EntityCreeper:
		return e.Creepers
	case EntityFireball, EntityGhast:
		return e.Ghasts
	case EntityWither, EntityWitherSkull:
		return e.Withers
	}
	return false
}

// MaterialRule правило прочности для материала.
// DropChance == nil означает глобальный Config.ChanceToDrop.
type MaterialRule struct {
	Participates bool
	Threshold    int
	DropChance   *float64
}

// Chance возвращает указатель на шанс выпадения для MaterialRule.DropChance.
func Chance(p float64) *float64 {
	return &p
}

// Config неизменяемый снимок настроек движка.
type Config struct {
	Radius          int
	HonorCancelled  bool
	DisabledWorlds  map[string]struct{}
	EnabledFor      EnabledFor
	Durability      bool
	ResetEnabled    bool
	ResetDelay      time.Duration
	Materials       map[block.Material]MaterialRule
	ChanceToDrop    float64
	WaterProtection bool

	ExplodeInLiquids bool
	ProtectCannons   bool

	LowMemorySafety bool
	MinFreeMemoryMB int
}

// DefaultConfig значения по умолчанию (совпадают с config.yml плагина).
func DefaultConfig() Config {
	return Config{
		Radius:          3,
		HonorCancelled:  true,
		DisabledWorlds:  map[string]struct{}{},
		EnabledFor:      EnabledFor{TNT: true},
		ResetEnabled:    true,
		ResetDelay:      10 * time.Minute,
		ChanceToDrop:    0.7,
		WaterProtection: true,
		MinFreeMemoryMB: 80,
		Materials: map[block.Material]MaterialRule{
			block.Obsidian:         {Participates: true, Threshold: 1},
			block.EnchantmentTable: {Participates: true, Threshold: 1},
			block.EnderChest:       {Participates: true, Threshold: 1},
			block.Anvil:            {Participates: true, Threshold: 1},
			block.Bedrock:          {Participates: false, Threshold: 1},
		},
	}
}

// clone делает глубокую копию, чтобы изменения вызывающего не влияли на движок.
func (c Config) clone() Config {
	out := c
	out.DisabledWorlds = make(map[string]struct{}, len(c.DisabledWorlds))
	for w := range c.DisabledWorlds {
		out.DisabledWorlds[w] = struct{}{}
	}
	out.Materials = make(map[block.Material]MaterialRule, len(c.Materials))
	for m, r := range c.Materials {
		if r.DropChance != nil {
			r.DropChance = Chance(*r.DropChance)
		}
		out.Materials[m] = r
	}
	return out
}

// Rule возвращает правило материала; ok = false, если материал не участвует.
func (c Config) Rule(m block.Material) (MaterialRule, bool) {
	rule, ok := c.Materials[m]
	if !ok || !rule.Participates {
		return MaterialRule{}, false
	}
	return rule, true
}

// DropChanceFor возвращает итоговый шанс выпадения для правила, ограниченный [0, 1].
func (c Config) DropChanceFor(rule MaterialRule) float64 {
	if rule.DropChance != nil {
		return ClampChance(*rule.DropChance)
	}
	return ClampChance(c.ChanceToDrop)
}

// WorldDisabled проверяет, отключена ли обработка в мире.
func (c Config) WorldDisabled(world string) bool {
	_, ok := c.DisabledWorlds[world]
	return ok
}

// ClampChance ограничивает шанс выпадения отрезком [0, 1].
func ClampChance(chance float64) float64 {
	if chance > 1 {
		return 1
	}
	if chance < 0 || chance != chance {
		return 0
	}
	return chance
}

package block

import (
	"fmt"
	"strconv"
	"strings"
)

// Material представляет тип блока. Значения совпадают с классическими
// числовыми ID блоков, которые использует хост-сервер.
type Material uint16

// Константы материалов
const (
	Air              Material = 0
	Stone            Material = 1
	Bedrock          Material = 7
	Water            Material = 8
	StationaryWater  Material = 9
	Lava             Material = 10
	StationaryLava   Material = 11
	TNT              Material = 46
	Obsidian         Material = 49
	RedstoneWire     Material = 55
	DiodeOff         Material = 93
	DiodeOn          Material = 94
	EnchantmentTable Material = 116
	EnderChest       Material = 130
	Anvil            Material = 145
)

var names = map[Material]string{
	Air:              "AIR",
	Stone:            "STONE",
	Bedrock:          "BEDROCK",
	Water:            "WATER",
	StationaryWater:  "STATIONARY_WATER",
	Lava:             "LAVA",
	StationaryLava:   "STATIONARY_LAVA",
	TNT:              "TNT",
	Obsidian:         "OBSIDIAN",
	RedstoneWire:     "REDSTONE_WIRE",
	DiodeOff:         "DIODE_BLOCK_OFF",
	DiodeOn:          "DIODE_BLOCK_ON",
	EnchantmentTable: "ENCHANTMENT_TABLE",
	EnderChest:       "ENDER_CHEST",
	Anvil:            "ANVIL",
}

var byName = func() map[string]Material {
	m := make(map[string]Material, len(names))
	for id, name := range names {
		m[name] = id
	}
	return m
}()

// Register добавляет имя материала в регистр (для материалов хоста, не известных заранее).
// Вызывать только при инициализации.
func Register(id Material, name string) {
	name = strings.ToUpper(name)
	names[id] = name
	byName[name] = id
}

// String возвращает имя материала или числовой ID для незарегистрированных
func (m Material) String() string {
	if name, ok := names[m]; ok {
		return name
	}
	return strconv.Itoa(int(m))
}

// Parse разбирает имя материала (без учёта регистра) или числовой ID
func Parse(s string) (Material, error) {
	s = strings.TrimSpace(s)
	if m, ok := byName[strings.ToUpper(s)]; ok {
		return m, nil
	}
	id, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return Air, fmt.Errorf("неизвестный материал %q", s)
	}
	return Material(id), nil
}

// IsLiquid проверяет, является ли материал жидкостью
func (m Material) IsLiquid() bool {
	switch m {
	case Water, StationaryWater, Lava, StationaryLava:
		return true
	}
	return false
}

// IsRedstone проверяет, относится ли материал к редстоун-механизмам
func (m Material) IsRedstone() bool {
	switch m {
	case RedstoneWire, DiodeOff, DiodeOn:
		return true
	}
	return false
}

// MarshalText сериализует материал по имени
func (m Material) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText разбирает материал по имени или ID
func (m *Material) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// State описывает блок в мире: материал и под-тип (data value)
type State struct {
	Material Material `json:"material"`
	Data     uint8    `json:"data,omitempty"`
}

package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/annel0/blastguard/internal/durability"
	"github.com/annel0/blastguard/internal/hooks"
	"github.com/annel0/blastguard/internal/logging"
	"github.com/annel0/blastguard/internal/world/block"
	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервиса.
type Config struct {
	Radius                int              `yaml:"radius"`
	IgnoreCancelledEvents bool             `yaml:"ignore_cancelled_events"`
	FluidsProtect         bool             `yaml:"fluids_protect"`
	ExplodeInLiquids      bool             `yaml:"explode_in_liquids"`
	ProtectTNTCannons     bool             `yaml:"protect_tnt_cannons"`
	DisabledWorlds        []string         `yaml:"disabled_worlds"`
	Worlds                []string         `yaml:"worlds"`
	EnabledFor            EnabledForConfig `yaml:"enabled_for"`
	Durability            DurabilityConfig `yaml:"durability"`
	Blocks                BlocksConfig     `yaml:"blocks"`
	LowMemorySafety       LowMemoryConfig  `yaml:"low_memory_safety"`
	Hooks                 HooksConfig      `yaml:"hooks"`
	Storage               StorageConfig    `yaml:"storage"`
	EventBus              EventBusConfig   `yaml:"eventbus"`
	Transport             TransportConfig  `yaml:"transport"`
	Server                ServerConfig     `yaml:"server"`
	Telemetry             TelemetryConfig  `yaml:"telemetry"`
	Webhooks              []WebhookConfig  `yaml:"webhooks"`
	Logging               LoggingConfig    `yaml:"logging"`
}

type EnabledForConfig struct {
	TNT      bool `yaml:"tnt"`
	Cannons  bool `yaml:"cannons"`
	Creepers bool `yaml:"creepers"`
	Ghasts   bool `yaml:"ghasts"`
	Withers  bool `yaml:"withers"`
}

// MaterialConfig настройки прочности одного материала.
// DropChance == nil означает глобальный blocks.chance_to_drop.
type MaterialConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Threshold  int      `yaml:"threshold"`
	DropChance *float64 `yaml:"drop_chance,omitempty"`
}

type DurabilityConfig struct {
	Enabled          bool           `yaml:"enabled"`
	ResetEnabled     bool           `yaml:"reset_enabled"`
	ResetAfterMs     int64          `yaml:"reset_after_ms"`
	Obsidian         MaterialConfig `yaml:"obsidian"`
	EnchantmentTable MaterialConfig `yaml:"enchantment_table"`
	EnderChest       MaterialConfig `yaml:"ender_chest"`
	Anvil            MaterialConfig `yaml:"anvil"`
	Bedrock          MaterialConfig `yaml:"bedrock"`
}

type BlocksConfig struct {
	ChanceToDrop float64 `yaml:"chance_to_drop"`
}

type LowMemoryConfig struct {
	Enabled   bool `yaml:"enabled"`
	MinFreeMB int  `yaml:"min_free_mb"`
}

type RegionsHookConfig struct {
	Enabled bool           `yaml:"enabled"`
	OnDeny  string         `yaml:"on_deny"`
	Regions []hooks.Region `yaml:"regions"`
}

type TerritoriesHookConfig struct {
	Enabled                bool          `yaml:"enabled"`
	OnDeny                 string        `yaml:"on_deny"`
	hooks.TerritoryOptions `yaml:",inline"`
	Claims                 []hooks.Claim `yaml:"claims"`
}

type HooksConfig struct {
	Regions     RegionsHookConfig     `yaml:"regions"`
	Territories TerritoriesHookConfig `yaml:"territories"`
}

type StorageConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	DSN           string `yaml:"dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
	AutosaveSec   int    `yaml:"autosave_sec"` // 0 - только при остановке
}

type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type TransportConfig struct {
	NATSURL   string `yaml:"nats_url"`
	Subject   string `yaml:"subject"`
	Queue     string `yaml:"queue"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type ServerConfig struct {
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
}

// LoggingConfig консольные уровни логгеров компонентов:
// durability, storage, server, transport, eventbus.
type LoggingConfig struct {
	Levels map[string]string `yaml:"levels"`
}

// WebhookConfig исходящий webhook для событий прочности.
// Events - типы событий (BlockDestroyed, ...) или "*".
type WebhookConfig struct {
	Name       string   `yaml:"name" json:"name"`
	URL        string   `yaml:"url" json:"url"`
	Secret     string   `yaml:"secret" json:"secret,omitempty"`
	Events     []string `yaml:"events" json:"events"`
	TimeoutSec int      `yaml:"timeout_sec" json:"timeout_sec"`
	RetryCount int      `yaml:"retry_count" json:"retry_count"`
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "BLASTGUARD_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "BLASTGUARD_METRICS_PORT", 2112)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}
	return defaultPort
}

// Timeout возвращает таймаут запроса транспорта
func (t TransportConfig) Timeout() time.Duration {
	if t.TimeoutMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(t.TimeoutMs) * time.Millisecond
}

// Default значения по умолчанию (совпадают с config.yml плагина)
func Default() *Config {
	return &Config{
		Radius:        3,
		FluidsProtect: true,
		Worlds:        []string{"world", "world_nether", "world_the_end"},
		EnabledFor:    EnabledForConfig{TNT: true},
		Durability: DurabilityConfig{
			ResetEnabled:     true,
			ResetAfterMs:     600000,
			Obsidian:         MaterialConfig{Enabled: true, Threshold: 1},
			EnchantmentTable: MaterialConfig{Enabled: true, Threshold: 1},
			EnderChest:       MaterialConfig{Enabled: true, Threshold: 1},
			Anvil:            MaterialConfig{Enabled: true, Threshold: 1},
			Bedrock:          MaterialConfig{Enabled: false, Threshold: 1},
		},
		Blocks:          BlocksConfig{ChanceToDrop: 0.7},
		LowMemorySafety: LowMemoryConfig{MinFreeMB: 80},
		Hooks: HooksConfig{
			Regions:     RegionsHookConfig{OnDeny: "skip"},
			Territories: TerritoriesHookConfig{OnDeny: "abort"},
		},
		Storage:   StorageConfig{Backend: "badger", Path: "data", MongoDatabase: "blastguard", AutosaveSec: 300},
		EventBus:  EventBusConfig{Stream: "BLASTGUARD", Retention: 24},
		Transport: TransportConfig{Subject: "blastguard.explode", Queue: "blastguard"},
		Telemetry: TelemetryConfig{ServiceName: "blastguard"},
	}
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать из ENV BLASTGUARD_CONFIG, иначе возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("BLASTGUARD_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) materials() map[block.Material]MaterialConfig {
	return map[block.Material]MaterialConfig{
		block.Obsidian:         c.Durability.Obsidian,
		block.EnchantmentTable: c.Durability.EnchantmentTable,
		block.EnderChest:       c.Durability.EnderChest,
		block.Anvil:            c.Durability.Anvil,
		block.Bedrock:          c.Durability.Bedrock,
	}
}

// Validate возвращает предупреждения о некорректных значениях.
// Некорректная конфигурация не мешает запуску.
func (c *Config) Validate() []string {
	var warnings []string
	if c.Radius < 0 {
		warnings = append(warnings, fmt.Sprintf("radius = %d меньше нуля: взрывы не обрабатываются", c.Radius))
	}
	if c.Blocks.ChanceToDrop < 0 || c.Blocks.ChanceToDrop > 1 {
		warnings = append(warnings, fmt.Sprintf("blocks.chance_to_drop = %v вне [0, 1], будет ограничен", c.Blocks.ChanceToDrop))
	}
	if c.Durability.Enabled && c.Durability.ResetEnabled && c.Durability.ResetAfterMs <= 0 {
		warnings = append(warnings, fmt.Sprintf("durability.reset_after_ms = %d: урон будет сбрасываться сразу", c.Durability.ResetAfterMs))
	}
	for m, mc := range c.materials() {
		if mc.Enabled && mc.Threshold < 1 {
			warnings = append(warnings, fmt.Sprintf("durability.%s.threshold = %d меньше 1: блок разрушается с первого попадания", m, mc.Threshold))
		}
		if mc.DropChance != nil && (*mc.DropChance < 0 || *mc.DropChance > 1) {
			warnings = append(warnings, fmt.Sprintf("durability.%s.drop_chance = %v вне [0, 1]", m, *mc.DropChance))
		}
	}
	if c.LowMemorySafety.Enabled && c.LowMemorySafety.MinFreeMB <= 0 {
		warnings = append(warnings, "low_memory_safety.min_free_mb должен быть больше нуля")
	}
	if _, err := durability.ParseDenyPolicy(c.Hooks.Regions.OnDeny, durability.DenySkipBlock); err != nil {
		warnings = append(warnings, "hooks.regions: "+err.Error())
	}
	if _, err := durability.ParseDenyPolicy(c.Hooks.Territories.OnDeny, durability.DenyAbortExplosion); err != nil {
		warnings = append(warnings, "hooks.territories: "+err.Error())
	}
	components := make([]string, 0, len(c.Logging.Levels))
	for component := range c.Logging.Levels {
		components = append(components, component)
	}
	sort.Strings(components)
	for _, component := range components {
		if _, err := logging.ParseLevel(c.Logging.Levels[component]); err != nil {
			warnings = append(warnings, fmt.Sprintf("logging.levels.%s: %v", component, err))
		}
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			warnings = append(warnings, fmt.Sprintf("webhooks[%d] (%s): url не задан, webhook пропускается", i, wh.Name))
		}
	}
	return warnings
}

// Engine собирает неизменяемый снимок настроек движка.
func (c *Config) Engine() durability.Config {
	cfg := durability.Config{
		Radius:         c.Radius,
		HonorCancelled: !c.IgnoreCancelledEvents,
		DisabledWorlds: make(map[string]struct{}, len(c.DisabledWorlds)),
		EnabledFor: durability.EnabledFor{
			TNT:      c.EnabledFor.TNT,
			Cannons:  c.EnabledFor.Cannons,
			Creepers: c.EnabledFor.Creepers,
			Ghasts:   c.EnabledFor.Ghasts,
			Withers:  c.EnabledFor.Withers,
		},
		Durability:       c.Durability.Enabled,
		ResetEnabled:     c.Durability.ResetEnabled,
		ResetDelay:       time.Duration(c.Durability.ResetAfterMs) * time.Millisecond,
		Materials:        make(map[block.Material]durability.MaterialRule),
		ChanceToDrop:     durability.ClampChance(c.Blocks.ChanceToDrop),
		WaterProtection:  c.FluidsProtect,
		ExplodeInLiquids: c.ExplodeInLiquids,
		ProtectCannons:   c.ProtectTNTCannons,
		LowMemorySafety:  c.LowMemorySafety.Enabled,
		MinFreeMemoryMB:  c.LowMemorySafety.MinFreeMB,
	}
	for _, w := range c.DisabledWorlds {
		cfg.DisabledWorlds[w] = struct{}{}
	}
	for m, mc := range c.materials() {
		rule := durability.MaterialRule{
			Participates: mc.Enabled,
			Threshold:    mc.Threshold,
		}
		if mc.DropChance != nil {
			rule.DropChance = durability.Chance(durability.ClampChance(*mc.DropChance))
		}
		cfg.Materials[m] = rule
	}
	return cfg
}

// KnownWorlds имена миров из конфигурации: worlds, disabled_worlds, регионы и клеймы.
// Движок по ним восстанавливает имя мира для записей из снимка.
func (c *Config) KnownWorlds() []string {
	seen := make(map[string]struct{})
	add := func(name string) {
		if name != "" {
			seen[name] = struct{}{}
		}
	}
	for _, w := range c.Worlds {
		add(w)
	}
	for _, w := range c.DisabledWorlds {
		add(w)
	}
	for _, r := range c.Hooks.Regions.Regions {
		add(r.World)
	}
	for _, cl := range c.Hooks.Territories.Claims {
		add(cl.World)
	}

	out := make([]string, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Hooks собранные интеграции защиты
type Hooks struct {
	Regions      *hooks.Regions
	Territories  *hooks.Territories
	Capabilities []durability.Capability
}

// BuildHooks создаёт включённые интеграции. Ошибочная политика заменяется значением по умолчанию.
func (c *Config) BuildHooks() (*Hooks, error) {
	h := &Hooks{}

	if c.Hooks.Regions.Enabled {
		regions, err := hooks.NewRegions(c.Hooks.Regions.Regions...)
		if err != nil {
			return nil, fmt.Errorf("hooks.regions: %w", err)
		}
		policy, _ := durability.ParseDenyPolicy(c.Hooks.Regions.OnDeny, durability.DenySkipBlock)
		h.Regions = regions
		h.Capabilities = append(h.Capabilities, regions.Capability(policy))
	}

	if c.Hooks.Territories.Enabled {
		terr := hooks.NewTerritories(c.Hooks.Territories.TerritoryOptions, c.Hooks.Territories.Claims...)
		policy, _ := durability.ParseDenyPolicy(c.Hooks.Territories.OnDeny, durability.DenyAbortExplosion)
		h.Territories = terr
		h.Capabilities = append(h.Capabilities, terr.Capability(policy))
	}
	return h, nil
}

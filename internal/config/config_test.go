package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/annel0/blastguard/internal/durability"
	"github.com/annel0/blastguard/internal/world/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
radius: 4
ignore_cancelled_events: true
explode_in_liquids: true
disabled_worlds: [creative]
enabled_for:
  tnt: true
  creepers: true
durability:
  enabled: true
  reset_after_ms: 1500
  obsidian:
    enabled: true
    threshold: 5
    drop_chance: 0.25
  bedrock:
    enabled: true
    threshold: 20
blocks:
  chance_to_drop: 1.5
hooks:
  regions:
    enabled: true
    regions:
      - name: spawn
        world: world
        min: {x: -10, y: 0, z: -10}
        max: {x: 10, y: 255, z: 10}
  territories:
    enabled: true
    on_deny: skip
    offline_protection: true
    claims:
      - {world: world, chunk_x: 3, chunk_z: 3, owner: Rebels, explosions: true}
storage:
  backend: sqlite
  path: /tmp/blastguard
server:
  rest_port: 9000
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BLASTGUARD_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Empty(t, cfg.Validate())

	eng := cfg.Engine()
	assert.Equal(t, 3, eng.Radius)
	assert.True(t, eng.HonorCancelled)
	assert.False(t, eng.Durability)
	assert.Equal(t, 10*time.Minute, eng.ResetDelay)
	assert.True(t, eng.WaterProtection)
	_, ok := eng.Rule(block.Bedrock)
	assert.False(t, ok)
	rule, ok := eng.Rule(block.Anvil)
	require.True(t, ok)
	assert.Nil(t, rule.DropChance)
	assert.Equal(t, 0.7, eng.DropChanceFor(rule))
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Radius)
	assert.True(t, cfg.FluidsProtect, "незаданные ключи берутся из значений по умолчанию")
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 9000, cfg.Server.GetRESTPort())
	assert.True(t, cfg.Hooks.Territories.OfflineProtection)

	eng := cfg.Engine()
	assert.False(t, eng.HonorCancelled)
	assert.True(t, eng.WorldDisabled("creative"))
	assert.True(t, eng.EnabledFor.Creepers)
	assert.False(t, eng.EnabledFor.Withers)
	assert.Equal(t, 1500*time.Millisecond, eng.ResetDelay)
	assert.Equal(t, 1.0, eng.ChanceToDrop, "глобальный шанс ограничивается")

	obsidian, ok := eng.Rule(block.Obsidian)
	require.True(t, ok)
	assert.Equal(t, durability.MaterialRule{Participates: true, Threshold: 5, DropChance: durability.Chance(0.25)}, obsidian)

	bedrock, ok := eng.Rule(block.Bedrock)
	require.True(t, ok, "бедрок включён явно")
	assert.Equal(t, 20, bedrock.Threshold)
	assert.Equal(t, 1.0, eng.DropChanceFor(bedrock), "без drop_chance берётся глобальный шанс")

	assert.Contains(t, cfg.Validate(), "blocks.chance_to_drop = 1.5 вне [0, 1], будет ограничен")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "radius: [1, 2"))
	assert.Error(t, err)
}

func TestValidateWarnings(t *testing.T) {
	cfg := Default()
	cfg.Radius = -1
	cfg.Durability.Enabled = true
	cfg.Durability.ResetAfterMs = 0
	cfg.Durability.Anvil.Threshold = 0
	cfg.Hooks.Regions.OnDeny = "explode"

	warnings := cfg.Validate()
	assert.Len(t, warnings, 4)
}

func TestBuildHooks(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	h, err := cfg.BuildHooks()
	require.NoError(t, err)
	require.Len(t, h.Capabilities, 2)
	assert.Equal(t, durability.DenySkipBlock, h.Capabilities[0].OnDeny)
	assert.Equal(t, durability.DenySkipBlock, h.Capabilities[1].OnDeny, "политика из on_deny")
	assert.Equal(t, 1, h.Regions.Len())
	assert.Equal(t, []string{"creative", "world", "world_nether", "world_the_end"}, cfg.KnownWorlds())

	none, err := Default().BuildHooks()
	require.NoError(t, err)
	assert.Empty(t, none.Capabilities)
}

func TestPortEnvFallback(t *testing.T) {
	t.Setenv("BLASTGUARD_METRICS_PORT", "9999")
	s := ServerConfig{}
	assert.Equal(t, 9999, s.GetMetricsPort())
	assert.Equal(t, 8088, s.GetRESTPort())

	t.Setenv("BLASTGUARD_METRICS_PORT", "oops")
	assert.Equal(t, 2112, s.GetMetricsPort())
}

func TestWebhooksConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
webhooks:
  - name: discord
    url: http://hooks.local/blast
    secret: s3cr3t
    events: [BlockDestroyed]
  - name: broken
`))
	require.NoError(t, err)
	require.Len(t, cfg.Webhooks, 2)
	assert.Equal(t, []string{"BlockDestroyed"}, cfg.Webhooks[0].Events)
	assert.Equal(t, []string{"webhooks[1] (broken): url не задан, webhook пропускается"}, cfg.Validate())
}

func TestLoggingLevels(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
logging:
  levels:
    durability: debug
    storage: shout
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Levels["durability"])

	warnings := cfg.Validate()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "logging.levels.storage")
}

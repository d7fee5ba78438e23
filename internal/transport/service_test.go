package transport

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/annel0/blastguard/internal/config"
	"github.com/annel0/blastguard/internal/durability"
	"github.com/annel0/blastguard/internal/vec"
	"github.com/annel0/blastguard/internal/world"
	"github.com/annel0/blastguard/internal/world/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *durability.Engine {
	t.Helper()
	cfg := durability.DefaultConfig()
	cfg.Radius = 0
	cfg.Durability = true
	cfg.ResetDelay = time.Hour
	cfg.Materials[block.Obsidian] = durability.MaterialRule{Participates: true, Threshold: 2, DropChance: durability.Chance(0)}
	e := durability.New(cfg)
	t.Cleanup(e.Close)
	return e
}

func obsidianRequest() ExplodeRequest {
	return ExplodeRequest{
		Event: durability.ExplosionEvent{
			ID:     "ev-1",
			World:  "world",
			Origin: vec.Vec3Float{X: 5.5, Y: 64.5, Z: 5.5},
			Entity: durability.EntityTNT,
		},
		Blocks: []world.PlacedBlock{
			{Pos: vec.Vec3{X: 5, Y: 64, Z: 5}, State: block.State{Material: block.Obsidian}},
		},
	}
}

func decode(t *testing.T, data []byte) ExplodeResponse {
	t.Helper()
	var resp ExplodeResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

func TestHandlerResolves(t *testing.T) {
	engine := newEngine(t)
	h := NewHandler(engine, time.Second, "node-a")

	body, err := json.Marshal(obsidianRequest())
	require.NoError(t, err)

	first := decode(t, h.Handle(context.Background(), body))
	require.Empty(t, first.Error)
	require.NotNil(t, first.Outcome)
	assert.Equal(t, "node-a", first.Node)
	assert.Equal(t, durability.ResultResolved, first.Outcome.Result)
	assert.Equal(t, 1, first.Outcome.Damaged)
	assert.Equal(t, 1, engine.Damage("world", 5, 64, 5))

	// Урон накапливается между запросами: второй взрыв разрушает блок
	second := decode(t, h.Handle(context.Background(), body))
	require.NotNil(t, second.Outcome)
	assert.Equal(t, 1, second.Outcome.Destroyed)
	assert.Zero(t, engine.Damage("world", 5, 64, 5))

	assert.Equal(t, int64(2), h.requests)
	assert.Zero(t, h.failures)
}

func TestHandlerBadRequests(t *testing.T) {
	h := NewHandler(newEngine(t), 0, "node-a")

	cases := map[string][]byte{
		"not json":    []byte("{"),
		"empty world": []byte(`{"event":{"entity":"tnt"}}`),
		"far origin":  []byte(`{"event":{"world":"world","entity":"tnt","origin":{"x":1e12,"y":0,"z":0}}}`),
		"far block":   []byte(`{"event":{"world":"world","entity":"tnt"},"blocks":[{"pos":{"x":0,"y":0,"z":4294967297},"state":{}}]}`),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := decode(t, h.Handle(context.Background(), body))
			assert.Nil(t, resp.Outcome)
			assert.Contains(t, resp.Error, "bad request")
		})
	}
	assert.Equal(t, int64(4), h.failures)
}

func TestHandlerEntityAlias(t *testing.T) {
	engine := newEngine(t)
	h := NewHandler(engine, time.Second, "")

	body := []byte(`{
		"event": {"id": "x", "world": "world", "origin": {"x": 5.5, "y": 64.5, "z": 5.5}, "entity": "CraftTNTPrimed"},
		"blocks": [{"pos": {"x": 5, "y": 64, "z": 5}, "state": {"material": "OBSIDIAN"}}]
	}`)
	resp := decode(t, h.Handle(context.Background(), body))
	require.NotNil(t, resp.Outcome, resp.Error)
	assert.Equal(t, durability.ResultResolved, resp.Outcome.Result)
	assert.Equal(t, 1, engine.Damage("world", 5, 64, 5))
}

type slowResolver struct{}

func (slowResolver) ResolveIn(ctx context.Context, w durability.World, ev durability.ExplosionEvent) durability.Outcome {
	<-ctx.Done()
	return durability.Outcome{Result: durability.ResultIgnored, Reason: ctx.Err().Error()}
}

func TestHandlerTimeout(t *testing.T) {
	h := NewHandler(slowResolver{}, 10*time.Millisecond, "")
	body, _ := json.Marshal(obsidianRequest())

	resp := decode(t, h.Handle(context.Background(), body))
	require.NotNil(t, resp.Outcome)
	assert.Equal(t, context.DeadlineExceeded.Error(), resp.Outcome.Reason)
}

// TestServiceRoundTrip требует запущенный NATS (BLASTGUARD_TEST_NATS_URL).
func TestServiceRoundTrip(t *testing.T) {
	url := os.Getenv("BLASTGUARD_TEST_NATS_URL")
	if url == "" {
		t.Skip("BLASTGUARD_TEST_NATS_URL не задан")
	}

	cfg := config.Default().Transport
	cfg.NATSURL = url
	cfg.Subject = "blastguard.test.explode"

	svc, err := NewService(cfg, newEngine(t), "node-test")
	require.NoError(t, err)
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, svc.Start(ctx))
	assert.Error(t, svc.Start(ctx), "повторный старт запрещён")

	client, err := Dial(url, cfg.Subject, 2*time.Second)
	require.NoError(t, err)
	defer client.Close()

	outcome, node, err := client.Explode(context.Background(), obsidianRequest())
	require.NoError(t, err)
	assert.Equal(t, "node-test", node)
	assert.Equal(t, 1, outcome.Damaged)
	assert.Equal(t, int64(1), svc.Metrics()["requests"])
}

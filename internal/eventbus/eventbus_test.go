package eventbus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/annel0/blastguard/internal/durability"
	"github.com/annel0/blastguard/internal/vec"
	"github.com/annel0/blastguard/internal/world/block"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu  sync.Mutex
	evs []*Envelope
}

func (c *collector) handle(_ context.Context, ev *Envelope) {
	c.mu.Lock()
	c.evs = append(c.evs, ev)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.evs)
}

func (c *collector) all() []*Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Envelope(nil), c.evs...)
}

func TestMemoryBusFilter(t *testing.T) {
	bus := NewMemoryBus(16)
	ctx := context.Background()

	var destroyed, all collector
	_, err := bus.Subscribe(ctx, Filter{Types: []string{"BlockDestroyed"}}, destroyed.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, Filter{}, all.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, &Envelope{ID: "1", EventType: "BlockDamaged"}))
	require.NoError(t, bus.Publish(ctx, &Envelope{ID: "2", EventType: "BlockDestroyed"}))
	require.NoError(t, bus.Close())

	assert.Equal(t, 1, destroyed.len())
	assert.Equal(t, 2, all.len())

	stats := bus.Metrics()
	assert.Equal(t, uint64(2), stats.Published)
	assert.Equal(t, uint64(3), stats.Consumed)

	assert.ErrorIs(t, bus.Publish(ctx, &Envelope{}), ErrBusClosed)
	assert.NoError(t, bus.Close(), "повторное закрытие безопасно")
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(4)
	var c collector
	sub, err := bus.Subscribe(context.Background(), Filter{}, c.handle)
	require.NoError(t, err)
	sub.Unsubscribe()

	require.NoError(t, bus.Publish(context.Background(), &Envelope{EventType: "BlockDamaged"}))
	require.NoError(t, bus.Close())
	assert.Zero(t, c.len())
}

func TestMemoryBusOrderAndWorlds(t *testing.T) {
	bus := NewMemoryBus(128)
	ctx := context.Background()

	var nether, all collector
	_, err := bus.Subscribe(ctx, Filter{Worlds: []string{"world_nether"}}, nether.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, Filter{}, all.handle)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		world := "world"
		if i%10 == 0 {
			world = "world_nether"
		}
		env := &Envelope{ID: fmt.Sprint(i), EventType: "BlockDamaged", Metadata: map[string]string{"world": world}}
		require.NoError(t, bus.Publish(ctx, env))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, 10, nether.len())
	evs := all.all()
	require.Len(t, evs, 100)
	for i, env := range evs {
		assert.Equal(t, fmt.Sprint(i), env.ID, "порядок доставки сохраняется")
	}
}

func TestMemoryBusSlowSubscriber(t *testing.T) {
	bus := NewMemoryBus(2)
	ctx := context.Background()

	release := make(chan struct{})
	_, err := bus.Subscribe(ctx, Filter{}, func(context.Context, *Envelope) { <-release })
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, bus.Publish(ctx, &Envelope{Priority: 9}))
	}
	assert.Eventually(t, func() bool { return bus.Metrics().Dropped > 0 }, time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, bus.Close())

	stats := bus.Metrics()
	assert.Equal(t, uint64(20), stats.Published)
	assert.Equal(t, stats.Published, stats.Consumed+stats.Dropped, "медленный подписчик теряет события, а не блокирует шину")
	assert.Zero(t, stats.InFlight)
}

func TestMemoryBusBackpressure(t *testing.T) {
	mb := &memoryBus{
		subscribers: make(map[int]*subscriber),
		queueSize:   1,
		buffer:      make(chan *Envelope, 1),
		done:        make(chan struct{}),
	}
	// Диспетчер не запущен: буфер заполняется первым событием
	ctx := context.Background()
	require.NoError(t, mb.Publish(ctx, &Envelope{Priority: 1}))
	require.NoError(t, mb.Publish(ctx, &Envelope{Priority: 1}))
	assert.Equal(t, uint64(1), mb.Metrics().Dropped)
	assert.Equal(t, 1, mb.Metrics().InFlight)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := mb.Publish(short, &Envelope{Priority: 9})
	assert.ErrorIs(t, err, context.DeadlineExceeded, "высокий приоритет ждёт места, а не отбрасывается")
}

func TestDurabilitySink(t *testing.T) {
	bus := NewMemoryBus(64)
	var c collector
	_, err := bus.Subscribe(context.Background(), Filter{}, c.handle)
	require.NoError(t, err)

	sink := NewDurabilitySink(bus, "node-1", 8)
	var _ durability.EventSink = sink

	sink.Emit(durability.Event{
		Type:     durability.EventDestroyed,
		Key:      durability.Encode("world", 1, 2, 3),
		World:    "world",
		Pos:      vec.Vec3{X: 1, Y: 2, Z: 3},
		Material: block.Obsidian,
		Dropped:  true,
	})
	sink.Emit(durability.Event{Type: durability.EventDamaged, World: "world", Damage: 1, Threshold: 3})
	sink.Close()
	sink.Close()
	require.NoError(t, bus.Close())

	evs := c.all()
	require.Len(t, evs, 2)
	byType := map[string]*Envelope{}
	for _, env := range evs {
		byType[env.EventType] = env
	}

	env := byType["BlockDestroyed"]
	require.NotNil(t, env)
	assert.Equal(t, "node-1", env.Source)
	assert.Equal(t, 7, env.Priority)
	assert.Equal(t, PayloadVersion, env.Version)
	assert.Len(t, env.ID, 36)
	assert.Equal(t, "OBSIDIAN", env.Metadata["material"])
	assert.Equal(t, "1,2,3", env.Metadata["pos"])

	decoded, err := DecodeEvent(env)
	require.NoError(t, err)
	assert.Equal(t, durability.Encode("world", 1, 2, 3), decoded.Key)
	assert.Equal(t, block.Obsidian, decoded.Material)
	assert.True(t, decoded.Dropped)

	assert.NotEqual(t, byType["BlockDamaged"].ID, env.ID)

	sink.Emit(durability.Event{Type: durability.EventDamaged})
	assert.Equal(t, uint64(1), sink.Dropped(), "после закрытия события отбрасываются")
}

func TestDurabilitySinkNonBlocking(t *testing.T) {
	blocked := make(chan struct{})
	bus := &stubBus{publish: func() { <-blocked }}
	sink := NewDurabilitySink(bus, "node", 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			sink.Emit(durability.Event{Type: durability.EventDamaged})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit заблокировался")
	}
	assert.NotZero(t, sink.Dropped())
	close(blocked)
	sink.Close()
}

func TestMetricsExporter(t *testing.T) {
	bus := &stubBus{stats: Stats{Published: 5, Consumed: 4, Dropped: 1, InFlight: 2}}
	reg := prometheus.NewRegistry()
	me := NewMetricsExporter(bus, reg)

	me.Stop() // без Start не блокируется

	prev := me.collect(Stats{})
	assert.Equal(t, 5.0, testutil.ToFloat64(me.published))
	assert.Equal(t, 1.0, testutil.ToFloat64(me.dropped))
	assert.Equal(t, 2.0, testutil.ToFloat64(me.inflight))

	bus.stats.Published = 7
	me.collect(prev)
	assert.Equal(t, 7.0, testutil.ToFloat64(me.published))
}

type stubBus struct {
	publish func()
	stats   Stats
}

func (s *stubBus) Publish(ctx context.Context, ev *Envelope) error {
	if s.publish != nil {
		s.publish()
	}
	return nil
}

func (s *stubBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	return nil, nil
}

func (s *stubBus) Metrics() Stats { return s.stats }
func (s *stubBus) Close() error   { return nil }

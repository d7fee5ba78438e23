package durability

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/blastguard/internal/logging"
	"github.com/annel0/blastguard/internal/vec"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const keyLockStripes = 64

var (
	// ErrEngineClosed движок уже остановлен.
	ErrEngineClosed = errors.New("durability: engine closed")
	// ErrAlreadyStarted снимок можно восстановить только до первого взрыва.
	ErrAlreadyStarted = errors.New("durability: restore after events were processed")
)

// Rand источник случайных чисел для шанса выпадения.
type Rand interface {
	Float64() float64
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

type engineStats struct {
	explosions atomic.Uint64
	resolved   atomic.Uint64
	hits       atomic.Uint64
	destroyed  atomic.Uint64
	drops      atomic.Uint64
	resets     atomic.Uint64
}

// Stats агрегированная статистика движка.
type Stats struct {
	Explosions  uint64 `json:"explosions"`
	Resolved    uint64 `json:"resolved"`
	Hits        uint64 `json:"hits"`
	Destroyed   uint64 `json:"destroyed"`
	Drops       uint64 `json:"drops"`
	Resets      uint64 `json:"resets"`
	Tracked     int    `json:"tracked"`
	Timers      int    `json:"timers"`
	ArmsSkipped uint64 `json:"arms_skipped"`
	LowResource bool   `json:"low_resource"`
}

// Engine движок прочности: хранилище урона, таймеры сброса и разбор взрывов.
// Хранилище и таймеры принадлежат только движку.
type Engine struct {
	cfg     Config
	sphere  []vec.Vec3
	world   World
	store   *Store
	sched   *Scheduler
	caps    *capabilitySet
	liquid  LiquidHandler
	sink    EventSink
	rand    Rand
	metrics *Metrics
	logger  *logging.Logger
	tracer  trace.Tracer

	locks  [keyLockStripes]sync.Mutex
	worlds sync.Map // WorldID -> имя мира

	started atomic.Bool
	closed  atomic.Bool
	stats   engineStats
}

// Option настраивает Engine.
type Option func(*engineOptions)

type engineOptions struct {
	world     World
	caps      []Capability
	sink      EventSink
	rand      Rand
	registry  prometheus.Registerer
	logger    *logging.Logger
	admission AdmissionFunc
	liquid    LiquidHandler
	noLiquid  bool
	worlds    []string
}

// WithWorld задаёт мир для Resolve.
func WithWorld(w World) Option { return func(o *engineOptions) { o.world = w } }

// WithCapabilities добавляет интеграции защиты территорий.
func WithCapabilities(caps ...Capability) Option {
	return func(o *engineOptions) { o.caps = append(o.caps, caps...) }
}

// WithEventSink задаёт получателя событий.
func WithEventSink(s EventSink) Option { return func(o *engineOptions) { o.sink = s } }

// WithRand задаёт источник случайности.
func WithRand(r Rand) Option { return func(o *engineOptions) { o.rand = r } }

// WithMetrics регистрирует метрики движка в реестре Prometheus.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *engineOptions) { o.registry = reg }
}

// WithLogger задаёт логгер движка.
func WithLogger(l *logging.Logger) Option { return func(o *engineOptions) { o.logger = l } }

// WithWorlds регистрирует имена миров заранее: ключ блока хранит только хеш имени,
// и восстановленные из снимка записи получают имя мира отсюда.
func WithWorlds(names ...string) Option {
	return func(o *engineOptions) { o.worlds = append(o.worlds, names...) }
}

// WithTimerAdmission заменяет проверку ресурсов перед постановкой таймеров.
func WithTimerAdmission(fn AdmissionFunc) Option {
	return func(o *engineOptions) { o.admission = fn }
}

// WithLiquidHandler заменяет обработчик взрывов в жидкости; nil отключает его.
func WithLiquidHandler(h LiquidHandler) Option {
	return func(o *engineOptions) {
		o.liquid = h
		o.noLiquid = h == nil
	}
}

// New создаёт движок. Конфигурация копируется и дальше не меняется.
func New(cfg Config, opts ...Option) *Engine {
	o := engineOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Default()
	}
	if o.rand == nil {
		o.rand = &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
	}

	cfg = cfg.clone()
	if cfg.Radius < 0 {
		o.logger.Warn("Радиус взрыва меньше нуля: %d, взрывы обрабатываться не будут", cfg.Radius)
	}

	e := &Engine{
		cfg:    cfg,
		sphere: SphereOffsets(cfg.Radius),
		world:  o.world,
		store:  NewStore(),
		sink:   o.sink,
		rand:   o.rand,
		logger: o.logger,
		tracer: otel.Tracer("github.com/annel0/blastguard/internal/durability"),
	}
	e.caps = newCapabilitySet(o.caps, o.logger)
	e.RegisterWorlds(o.worlds...)

	if o.registry != nil {
		e.metrics = NewMetrics(o.registry, e)
	}

	schedOpts := []SchedulerOption{WithSchedulerLogger(o.logger)}
	admission := o.admission
	if admission == nil && cfg.LowMemorySafety {
		admission = NewMemoryGuard(cfg.MinFreeMemoryMB).Admit
	}
	if admission != nil {
		schedOpts = append(schedOpts, WithAdmission(admission))
	}
	if e.metrics != nil {
		schedOpts = append(schedOpts, WithSkipHook(e.metrics.ArmsSkipped.Inc))
	}
	e.sched = NewScheduler(schedOpts...)

	switch {
	case o.liquid != nil:
		e.liquid = o.liquid
	case !o.noLiquid:
		e.liquid = &liquidExplosions{engine: e, radius: liquidRadius, power: liquidPower}
	}
	return e
}

// Config возвращает копию конфигурации движка.
func (e *Engine) Config() Config {
	return e.cfg.clone()
}

// Damage возвращает текущий урон блока.
func (e *Engine) Damage(world string, x, y, z int) int {
	return e.store.Damage(Encode(world, x, y, z))
}

// ResetBlock вручную сбрасывает урон блока и отменяет его таймер.
func (e *Engine) ResetBlock(world string, x, y, z int) bool {
	key := Encode(world, x, y, z)
	mu := e.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	e.sched.Cancel(key)
	return e.store.Reset(key)
}

// ResetDeadline возвращает момент сброса урона блока, если таймер стоит.
func (e *Engine) ResetDeadline(world string, x, y, z int) (time.Time, bool) {
	return e.sched.Pending(Encode(world, x, y, z))
}

// Snapshot возвращает копию карты урона для сохранения.
func (e *Engine) Snapshot() map[BlockKey]int {
	return e.store.Snapshot()
}

// Restore заменяет карту урона целиком и заново ставит таймеры сброса.
// Допустим только до обработки первого взрыва.
func (e *Engine) Restore(data map[BlockKey]int) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if e.started.Load() {
		return ErrAlreadyStarted
	}

	e.sched.CancelAll()
	if skipped := e.store.Restore(data); skipped > 0 {
		e.logger.Warn("Пропущено %d записей урона с некорректным значением", skipped)
	}

	records := e.store.records()
	unnamed := 0
	for key := range records {
		if e.worldName(key.World) == "" {
			unnamed++
		}
	}
	if unnamed > 0 {
		e.logger.Warn("Записей урона в незарегистрированных мирах: %d (имя мира появится после первого взрыва в нём)", unnamed)
	}

	if e.cfg.Durability && e.cfg.ResetEnabled {
		for key, rec := range records {
			loc := Location{World: e.worldName(key.World), Pos: key.Pos()}
			mu := e.lockFor(key)
			mu.Lock()
			e.armReset(key, loc, 0, rec.Epoch)
			mu.Unlock()
		}
	}
	e.logger.Info("Восстановлено записей урона: %d", e.store.Len())
	return nil
}

// Stats возвращает статистику движка.
func (e *Engine) Stats() Stats {
	return Stats{
		Explosions:  e.stats.explosions.Load(),
		Resolved:    e.stats.resolved.Load(),
		Hits:        e.stats.hits.Load(),
		Destroyed:   e.stats.destroyed.Load(),
		Drops:       e.stats.drops.Load(),
		Resets:      e.stats.resets.Load(),
		Tracked:     e.store.Len(),
		Timers:      e.sched.Len(),
		ArmsSkipped: e.sched.Skipped(),
		LowResource: e.sched.LowResource(),
	}
}

// Close отменяет все таймеры. После Close взрывы игнорируются.
func (e *Engine) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	n := e.sched.Len()
	e.sched.Close()
	e.logger.Info("Движок прочности остановлен, отменено таймеров: %d", n)
}

func (e *Engine) lockFor(key BlockKey) *sync.Mutex {
	return &e.locks[key.hash()%keyLockStripes]
}

// RegisterWorlds запоминает имена миров для событий восстановленных записей.
func (e *Engine) RegisterWorlds(names ...string) {
	for _, name := range names {
		if name != "" {
			e.rememberWorld(name)
		}
	}
}

func (e *Engine) rememberWorld(name string) {
	e.worlds.LoadOrStore(WorldIDOf(name), name)
}

func (e *Engine) worldName(id WorldID) string {
	if name, ok := e.worlds.Load(id); ok {
		return name.(string)
	}
	return ""
}

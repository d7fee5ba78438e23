package durability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics Prometheus-метрики движка прочности.
type Metrics struct {
	Explosions  *prometheus.CounterVec
	Hits        prometheus.Counter
	Destroyed   *prometheus.CounterVec
	Drops       prometheus.Counter
	Resets      prometheus.Counter
	ArmsSkipped prometheus.Counter
}

// NewMetrics создаёт метрики и регистрирует их в reg вместе с gauge по состоянию движка.
func NewMetrics(reg prometheus.Registerer, e *Engine) *Metrics {
	m := &Metrics{
		Explosions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blastguard",
			Name:      "explosions_total",
			Help:      "Обработанные взрывы по результату.",
		}, []string{"result"}),
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blastguard",
			Name:      "hits_total",
			Help:      "Попадания по защищённым блокам.",
		}),
		Destroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blastguard",
			Name:      "blocks_destroyed_total",
			Help:      "Разрушенные защищённые блоки по материалу.",
		}, []string{"material"}),
		Drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blastguard",
			Name:      "items_dropped_total",
			Help:      "Выпавшие предметы разрушенных блоков.",
		}),
		Resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blastguard",
			Name:      "resets_total",
			Help:      "Сбросы урона по таймеру.",
		}),
		ArmsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blastguard",
			Name:      "timer_arms_skipped_total",
			Help:      "Таймеры сброса, не поставленные из-за нехватки памяти.",
		}),
	}

	timers := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "blastguard",
		Name:      "timers_active",
		Help:      "Активные таймеры сброса урона.",
	}, func() float64 { return float64(e.sched.Len()) })
	tracked := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "blastguard",
		Name:      "tracked_blocks",
		Help:      "Блоки с накопленным уроном.",
	}, func() float64 { return float64(e.store.Len()) })

	reg.MustRegister(m.Explosions, m.Hits, m.Destroyed, m.Drops, m.Resets, m.ArmsSkipped, timers, tracked)
	return m
}

package durability

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

// MemoryGuard пропускает постановку таймеров, только пока свободной памяти
// не меньше заданного порога. Результат проверки кешируется на interval.
type MemoryGuard struct {
	minFreeMB uint64
	interval  time.Duration
	readFree  func() (uint64, error)

	mu        sync.Mutex
	lastCheck time.Time
	lastOK    bool
	lastFree  uint64
}

// NewMemoryGuard создаёт проверку по доступной памяти системы (gopsutil).
func NewMemoryGuard(minFreeMB int) *MemoryGuard {
	if minFreeMB < 0 {
		minFreeMB = 0
	}
	return &MemoryGuard{
		minFreeMB: uint64(minFreeMB),
		interval:  time.Second,
		readFree:  availableMemory,
	}
}

func availableMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// Admit реализует AdmissionFunc. Ошибка получения статистики не блокирует таймеры.
func (g *MemoryGuard) Admit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.lastCheck.IsZero() && time.Since(g.lastCheck) < g.interval {
		return g.lastOK
	}

	g.lastCheck = time.Now()
	free, err := g.readFree()
	if err != nil {
		g.lastOK = true
		return true
	}
	g.lastFree = free / 1024 / 1024
	g.lastOK = g.lastFree >= g.minFreeMB
	return g.lastOK
}

// FreeMB возвращает последнее измеренное значение свободной памяти в мегабайтах.
func (g *MemoryGuard) FreeMB() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastFree
}

package durability

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/annel0/blastguard/internal/logging"
)

// CapabilityProvider внешняя проверка: разрешено ли разрушение в точке
// (территории, регионы, военные зоны).
type CapabilityProvider interface {
	IsDestructionAllowed(ctx context.Context, loc Location) (bool, error)
}

// ProviderFunc адаптер функции к CapabilityProvider.
type ProviderFunc func(ctx context.Context, loc Location) (bool, error)

func (f ProviderFunc) IsDestructionAllowed(ctx context.Context, loc Location) (bool, error) {
	return f(ctx, loc)
}

// AllowAll провайдер по умолчанию: всегда разрешает.
var AllowAll CapabilityProvider = ProviderFunc(func(context.Context, Location) (bool, error) {
	return true, nil
})

// DenyPolicy что делать при запрете от интеграции.
type DenyPolicy int

const (
	// DenySkipBlock пропускает только этот блок.
	DenySkipBlock DenyPolicy = iota
	// DenyAbortExplosion отменяет обработку всего взрыва.
	DenyAbortExplosion
)

func (p DenyPolicy) String() string {
	if p == DenyAbortExplosion {
		return "abort"
	}
	return "skip"
}

// ParseDenyPolicy разбирает "skip" / "abort"; пустая строка даёт def.
func ParseDenyPolicy(s string, def DenyPolicy) (DenyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "skip", "skip_block":
		return DenySkipBlock, nil
	case "abort", "abort_explosion":
		return DenyAbortExplosion, nil
	}
	return def, fmt.Errorf("неизвестная политика запрета %q", s)
}

// Capability интеграция с собственной политикой запрета.
type Capability struct {
	Name     string
	Provider CapabilityProvider
	OnDeny   DenyPolicy
}

type verdict int

const (
	verdictAllow verdict = iota
	verdictSkip
	verdictAbort
)

// capabilitySet опрашивает интеграции по порядку. Ошибка интеграции
// трактуется как разрешение и логируется один раз на серию сбоев.
type capabilitySet struct {
	caps   []Capability
	logger *logging.Logger

	mu      sync.Mutex
	failing map[string]bool
}

func newCapabilitySet(caps []Capability, logger *logging.Logger) *capabilitySet {
	return &capabilitySet{
		caps:    caps,
		logger:  logger,
		failing: make(map[string]bool),
	}
}

func (cs *capabilitySet) check(ctx context.Context, loc Location) (verdict, string) {
	result := verdictAllow
	deniedBy := ""
	for _, c := range cs.caps {
		allowed, err := cs.query(ctx, c, loc)
		if err != nil {
			cs.markFailure(c.Name, err)
			continue
		}
		cs.markSuccess(c.Name)
		if allowed {
			continue
		}
		if c.OnDeny == DenyAbortExplosion {
			return verdictAbort, c.Name
		}
		if result == verdictAllow {
			result, deniedBy = verdictSkip, c.Name
		}
	}
	return result, deniedBy
}

func (cs *capabilitySet) query(ctx context.Context, c Capability, loc Location) (allowed bool, err error) {
	if c.Provider == nil {
		return true, nil
	}
	defer func() {
		if r := recover(); r != nil {
			allowed, err = true, fmt.Errorf("паника в интеграции: %v", r)
		}
	}()
	return c.Provider.IsDestructionAllowed(ctx, loc)
}

func (cs *capabilitySet) markFailure(name string, err error) {
	cs.mu.Lock()
	first := !cs.failing[name]
	cs.failing[name] = true
	cs.mu.Unlock()

	if first {
		cs.logger.Warn("Интеграция %s недоступна, разрушение разрешено по умолчанию: %v", name, err)
	}
}

func (cs *capabilitySet) markSuccess(name string) {
	cs.mu.Lock()
	recovered := cs.failing[name]
	delete(cs.failing, name)
	cs.mu.Unlock()

	if recovered {
		cs.logger.Info("Интеграция %s снова отвечает", name)
	}
}

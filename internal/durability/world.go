package durability

import (
	"github.com/annel0/blastguard/internal/vec"
	"github.com/annel0/blastguard/internal/world/block"
)

// Location позиция блока в конкретном мире.
type Location struct {
	World string   `json:"world"`
	Pos   vec.Vec3 `json:"pos"`
}

// Key возвращает ключ блока.
func (l Location) Key() BlockKey {
	return KeyOf(l.World, l.Pos)
}

// World чтение состояния мира хоста.
type World interface {
	BlockAt(loc Location) block.State
}

// Mutator изменения мира, которые движок поручает хосту.
type Mutator interface {
	ClearBlock(loc Location)
	DropItem(loc Location, item block.State)
	CancelExplosion(eventID string)
	CreateExplosion(world string, at vec.Vec3Float, power float64)
}

// ExplosionEvent взрыв, пришедший от хоста.
type ExplosionEvent struct {
	ID        string        `json:"id,omitempty"`
	World     string        `json:"world"`
	Origin    vec.Vec3Float `json:"origin"`
	Entity    EntityKind    `json:"entity"`
	Cancelled bool          `json:"cancelled,omitempty"`
	// Affected список блоков, который хост уже посчитал для взрыва.
	// Для снарядов пушек используется вместо сферы.
	Affected []vec.Vec3 `json:"affected,omitempty"`
}

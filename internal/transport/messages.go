package transport

import (
	"github.com/annel0/blastguard/internal/durability"
	"github.com/annel0/blastguard/internal/world"
)

// ExplodeRequest взрыв вместе с окрестностью, которую хост прислал для проверки.
// Блоки, не попавшие в Blocks, считаются воздухом.
type ExplodeRequest struct {
	Event  durability.ExplosionEvent `json:"event"`
	Blocks []world.PlacedBlock       `json:"blocks"`
}

// ExplodeResponse ответ узла. При ошибке Outcome пуст.
type ExplodeResponse struct {
	Outcome *durability.Outcome `json:"outcome,omitempty"`
	Error   string              `json:"error,omitempty"`
	Node    string              `json:"node,omitempty"`
}

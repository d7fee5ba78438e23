package durability

import (
	"context"
	"fmt"
)

// SnapshotStore хранилище снимков карты урона. Формат выбирает реализация,
// но снимок обязан восстанавливаться без потерь.
type SnapshotStore interface {
	Load(ctx context.Context) (map[BlockKey]int, error)
	Save(ctx context.Context, data map[BlockKey]int) error
	Close() error
}

// LoadSnapshot загружает снимок в движок. Ошибка чтения не мешает запуску:
// она логируется, и движок стартует с пустой картой.
func (e *Engine) LoadSnapshot(ctx context.Context, s SnapshotStore) error {
	data, err := s.Load(ctx)
	if err != nil {
		e.logger.Error("Не удалось загрузить снимок прочности, старт с пустой картой: %v", err)
		data = nil
	}
	if err := e.Restore(data); err != nil {
		return fmt.Errorf("восстановление снимка: %w", err)
	}
	return nil
}

// SaveSnapshot сохраняет текущую карту урона.
func (e *Engine) SaveSnapshot(ctx context.Context, s SnapshotStore) error {
	data := e.Snapshot()
	if err := s.Save(ctx, data); err != nil {
		return fmt.Errorf("сохранение снимка (%d записей): %w", len(data), err)
	}
	e.logger.Info("Снимок прочности сохранён: %d записей", len(data))
	return nil
}

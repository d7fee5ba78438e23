package durability

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/annel0/blastguard/internal/vec"
	"github.com/cespare/xxhash/v2"
)

// WorldID стабильный идентификатор мира (xxhash64 от имени мира).
type WorldID uint64

// WorldIDOf возвращает идентификатор мира по его имени.
func WorldIDOf(name string) WorldID {
	return WorldID(xxhash.Sum64String(name))
}

// KeySize размер бинарного представления BlockKey.
const KeySize = 20

// BlockKey идентифицирует блок: мир + целочисленные координаты.
// Структура сравнима, поэтому используется как ключ map напрямую.
// Координаты хранятся в int32, что покрывает диапазон [-2^27, 2^27) с запасом.
type BlockKey struct {
	World WorldID
	X     int32
	Y     int32
	Z     int32
}

// MaxCoord граница поддерживаемых координат: [-MaxCoord, MaxCoord).
const MaxCoord = 1 << 27

// InRange сообщает, помещаются ли координаты блока в поддерживаемый диапазон.
func InRange(x, y, z int) bool {
	return inRange(x) && inRange(y) && inRange(z)
}

func inRange(c int) bool { return c >= -MaxCoord && c < MaxCoord }

// PointInRange то же для точки. NaN вне диапазона.
func PointInRange(p vec.Vec3Float) bool {
	for _, c := range [...]float64{p.X, p.Y, p.Z} {
		if !(c >= -MaxCoord && c < MaxCoord) {
			return false
		}
	}
	return true
}

// Encode строит ключ блока. Чистая функция, ошибок не бывает.
// Координаты вне InRange усекаются до int32, проверка на стороне входа.
func Encode(world string, x, y, z int) BlockKey {
	return BlockKey{
		World: WorldIDOf(world),
		X:     int32(x),
		Y:     int32(y),
		Z:     int32(z),
	}
}

// KeyOf строит ключ по имени мира и позиции блока.
func KeyOf(world string, pos vec.Vec3) BlockKey {
	return Encode(world, pos.X, pos.Y, pos.Z)
}

// Pos возвращает позицию блока.
func (k BlockKey) Pos() vec.Vec3 {
	return vec.Vec3{X: int(k.X), Y: int(k.Y), Z: int(k.Z)}
}

// Bytes возвращает 20-байтовое big-endian представление: world(8) x(4) y(4) z(4).
func (k BlockKey) Bytes() []byte {
	buf := make([]byte, KeySize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(k.World))
	binary.BigEndian.PutUint32(buf[8:12], uint32(k.X))
	binary.BigEndian.PutUint32(buf[12:16], uint32(k.Y))
	binary.BigEndian.PutUint32(buf[16:20], uint32(k.Z))
	return buf
}

// KeyFromBytes разбирает бинарное представление ключа.
func KeyFromBytes(b []byte) (BlockKey, error) {
	if len(b) != KeySize {
		return BlockKey{}, fmt.Errorf("некорректная длина ключа: %d, ожидалось %d", len(b), KeySize)
	}
	return BlockKey{
		World: WorldID(binary.BigEndian.Uint64(b[0:8])),
		X:     int32(binary.BigEndian.Uint32(b[8:12])),
		Y:     int32(binary.BigEndian.Uint32(b[12:16])),
		Z:     int32(binary.BigEndian.Uint32(b[16:20])),
	}, nil
}

// String возвращает hex-представление ключа.
func (k BlockKey) String() string {
	return hex.EncodeToString(k.Bytes())
}

// ParseKey разбирает hex-представление ключа.
func ParseKey(s string) (BlockKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return BlockKey{}, fmt.Errorf("некорректный ключ %q: %w", s, err)
	}
	return KeyFromBytes(b)
}

// MarshalText позволяет использовать BlockKey как ключ JSON-объекта.
func (k BlockKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText разбирает hex-представление.
func (k *BlockKey) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// hash используется для выбора шарда и полосы блокировок.
func (k BlockKey) hash() uint64 {
	h := uint64(k.World)
	h ^= uint64(uint32(k.X)) * 0x9E3779B97F4A7C15
	h ^= uint64(uint32(k.Y)) * 0xC2B2AE3D27D4EB4F
	h ^= uint64(uint32(k.Z)) * 0x165667B19E3779F9
	return h ^ (h >> 29)
}

package durability

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/annel0/blastguard/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeIsDeterministic(t *testing.T) {
	a := Encode("world", 10, 64, -3)
	b := Encode("world", 10, 64, -3)
	assert.Equal(t, a, b)
	assert.Equal(t, a, KeyOf("world", vec.Vec3{X: 10, Y: 64, Z: -3}))

	assert.NotEqual(t, a, Encode("world_nether", 10, 64, -3), "разные миры дают разные ключи")
	assert.NotEqual(t, a, Encode("world", 10, 65, -3))
}

func TestEncodeBounds(t *testing.T) {
	const limit = 1 << 27
	coords := []int{-limit, -1, 0, 1, limit - 1}

	seen := make(map[BlockKey]vec.Vec3)
	for _, x := range coords {
		for _, y := range coords {
			for _, z := range coords {
				k := Encode("w", x, y, z)
				pos := vec.Vec3{X: x, Y: y, Z: z}
				prev, dup := seen[k]
				require.False(t, dup, "коллизия %s и %s", prev, pos)
				seen[k] = pos
				assert.Equal(t, pos, k.Pos())
			}
		}
	}
}

func TestCoordinateRange(t *testing.T) {
	assert.True(t, InRange(-MaxCoord, 0, MaxCoord-1))
	assert.False(t, InRange(MaxCoord, 0, 0))
	assert.False(t, InRange(0, -MaxCoord-1, 0))
	assert.False(t, InRange(0, 0, 3_000_000_000))

	assert.True(t, PointInRange(vec.Vec3Float{X: -MaxCoord, Y: 64.5, Z: MaxCoord - 0.5}))
	assert.False(t, PointInRange(vec.Vec3Float{X: MaxCoord}))
	assert.False(t, PointInRange(vec.Vec3Float{Y: math.NaN()}))
	assert.False(t, PointInRange(vec.Vec3Float{Z: math.Inf(-1)}))
}

func TestKeyBytesRoundTrip(t *testing.T) {
	k := Encode("world", -134217728, 255, 134217727)

	b := k.Bytes()
	require.Len(t, b, KeySize)

	back, err := KeyFromBytes(b)
	require.NoError(t, err)
	assert.Equal(t, k, back)

	parsed, err := ParseKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)

	_, err = KeyFromBytes(b[:5])
	assert.Error(t, err)
	_, err = ParseKey("zz")
	assert.Error(t, err)
}

func TestKeyAsJSONMapKey(t *testing.T) {
	data := map[BlockKey]int{
		Encode("a", 1, 2, 3): 2,
		Encode("b", -1, 0, 9): 1,
	}
	raw, err := json.Marshal(data)
	require.NoError(t, err)

	var back map[BlockKey]int
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, data, back)
}

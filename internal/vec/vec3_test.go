package vec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlockFloorsNegative(t *testing.T) {
	assert.Equal(t, Vec3{X: -1, Y: 64, Z: 0}, Vec3Float{X: -0.5, Y: 64.9, Z: 0.1}.Block())
	assert.Equal(t, Vec3{X: 3, Y: 0, Z: -3}, Vec3Float{X: 1.5, Z: -2.5}.Add(Vec3{X: 2, Y: 0, Z: -1}).Block())
}

func TestVec3Helpers(t *testing.T) {
	v := Vec3{X: -17, Y: 5, Z: 33}
	assert.Equal(t, 17*17+25+33*33, v.LengthSquared())
	assert.Equal(t, Vec3{X: -16, Y: 5, Z: 34}, v.Add(Vec3{X: 1, Z: 1}))
	assert.Equal(t, "-17,5,33", v.String())

	cx, cz := v.ChunkColumn()
	assert.Equal(t, -2, cx)
	assert.Equal(t, 2, cz)
}

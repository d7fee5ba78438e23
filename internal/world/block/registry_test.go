package block

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMaterial(t *testing.T) {
	m, err := Parse("obsidian")
	require.NoError(t, err)
	assert.Equal(t, Obsidian, m)

	m, err = Parse("130")
	require.NoError(t, err)
	assert.Equal(t, EnderChest, m)

	_, err = Parse("not-a-block")
	assert.Error(t, err)
}

func TestMaterialPredicates(t *testing.T) {
	assert.True(t, Water.IsLiquid())
	assert.True(t, StationaryLava.IsLiquid())
	assert.False(t, Obsidian.IsLiquid())

	assert.True(t, RedstoneWire.IsRedstone())
	assert.True(t, DiodeOn.IsRedstone())
	assert.False(t, Anvil.IsRedstone())
}

func TestStateJSON(t *testing.T) {
	data, err := json.Marshal(State{Material: Anvil, Data: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"material":"ANVIL","data":2}`, string(data))

	var st State
	require.NoError(t, json.Unmarshal([]byte(`{"material":"ender_chest"}`), &st))
	assert.Equal(t, EnderChest, st.Material)

	assert.Equal(t, "999", Material(999).String())
}

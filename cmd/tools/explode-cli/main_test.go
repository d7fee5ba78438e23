package main

import (
	"testing"

	"github.com/annel0/blastguard/internal/vec"
	"github.com/annel0/blastguard/internal/world/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBlock(t *testing.T) {
	pb, err := parseBlock("obsidian@1, -2,3")
	require.NoError(t, err)
	assert.Equal(t, vec.Vec3{X: 1, Y: -2, Z: 3}, pb.Pos)
	assert.Equal(t, block.Obsidian, pb.State.Material)

	for _, bad := range []string{"OBSIDIAN", "OBSIDIAN@1,2", "NOPE@1,2,3", "ANVIL@a,b,c"} {
		_, err := parseBlock(bad)
		assert.Error(t, err, bad)
	}
}

func TestBlockListFlag(t *testing.T) {
	var bl blockList
	require.NoError(t, bl.Set("ANVIL@0,0,0"))
	require.NoError(t, bl.Set("49@1,1,1"))
	assert.Len(t, bl, 2)
	assert.Equal(t, "ANVIL@0,0,0 OBSIDIAN@1,1,1", bl.String())
}

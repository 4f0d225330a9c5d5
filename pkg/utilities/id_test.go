package utilities

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDGeneratorUnique(t *testing.T) {
	g := NewIDGenerator(3)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := g.NewID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestIDGeneratorFallsBackToKSUID(t *testing.T) {
	// snowflake nodes are limited to 10 bits
	g := NewIDGenerator(5000)
	id := g.NewID()
	require.Len(t, id, 27)
}

func TestNodeFromEnv(t *testing.T) {
	t.Setenv("SNOWFLAKE_NODE", "")
	require.Equal(t, int64(1), NodeFromEnv())
	t.Setenv("SNOWFLAKE_NODE", "7")
	require.Equal(t, int64(7), NodeFromEnv())
	t.Setenv("SNOWFLAKE_NODE", "x")
	require.Equal(t, int64(1), NodeFromEnv())
}

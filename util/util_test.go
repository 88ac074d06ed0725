package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGCDAndLCM(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(6, GCD(12, 18))
	assert.Equal(6, GCD(-12, 18))
	assert.Equal(0, GCD(0, 0))
	assert.Equal(int64(36), LCM(int64(12), int64(18)))
	assert.Equal(0, LCM(0, 5))
	assert.Equal(3, LCM(1, 3))
}

func TestMinMaxAbs(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(2, Min(2, 9))
	assert.Equal(9, Max(2, 9))
	assert.Equal(4, Abs(-4))
	assert.Equal(uint64(6), Sum([]int{1, 2, 3}))
}

func TestGetKeysSorted(t *testing.T) {
	keys := GetKeysSorted(map[string]int{"b": 1, "a": 2, "c": 3})
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestGatherScorePaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.abc", "a.xml", "notes.txt", "sub/c.musicxml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	paths, err := GatherScorePaths(dir, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.xml"),
		filepath.Join(dir, "b.abc"),
		filepath.Join(dir, "sub", "c.musicxml"),
	}, paths)

	limited, err := GatherScorePaths(dir, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

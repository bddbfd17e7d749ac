package procscan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeFinder(procs map[int32]string, err error) *Finder {
	return &Finder{list: func() (map[int32]string, error) { return procs, err }}
}

func TestFindByName(t *testing.T) {
	f := fakeFinder(map[int32]string{
		30: "binaryninja",
		10: "BinaryNinja.exe",
		20: "binaryninja-dev",
		40: "bash",
	}, nil)

	pids, err := f.FindByName("binaryninja")
	require.NoError(t, err)
	assert.Equal(t, []int32{10, 30}, pids)

	pids, err = f.FindByName("binaryninja.exe")
	require.NoError(t, err)
	assert.Equal(t, []int32{10, 30}, pids)

	pids, err = f.FindByName("ghidra")
	require.NoError(t, err)
	assert.Empty(t, pids)

	pids, err = f.FindByName("")
	require.NoError(t, err)
	assert.Nil(t, pids)
}

func TestFindByNameListError(t *testing.T) {
	f := fakeFinder(nil, errors.New("boom"))
	_, err := f.FindByName("binaryninja")
	assert.Error(t, err)
}

func TestFindByNameFindsSelf(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	name := filepath.Base(exe)
	if len(name) > 15 {
		t.Skip("process name truncated by the kernel")
	}

	pids, err := New().FindByName(name)
	require.NoError(t, err)
	assert.Contains(t, pids, int32(os.Getpid()))
}

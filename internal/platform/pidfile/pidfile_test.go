package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "events.pid")

	f, err := Write(path)
	require.NoError(t, err)
	assert.Equal(t, path, f.Path())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	require.NoError(t, f.Remove())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Removing twice is fine.
	require.NoError(t, f.Remove())
}

func TestEmptyPathDisables(t *testing.T) {
	f, err := Write("")
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.Empty(t, f.Path())
	assert.NoError(t, f.Remove())
}

package attachment

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpoolStaysInMemoryUnderLimit(t *testing.T) {
	t.Parallel()

	sp := newSpool(t.TempDir(), 16)
	defer sp.Close()

	_, err := io.Copy(sp, strings.NewReader("small"))
	require.NoError(t, err)
	assert.False(t, sp.Spilled())
	assert.Equal(t, int64(5), sp.Len())

	r, err := sp.Reader()
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "small", string(data))
}

func TestSpoolSpillsAndCleansUp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sp := newSpool(dir, 8)

	payload := strings.Repeat("x", 100)
	_, err := io.Copy(sp, strings.NewReader(payload))
	require.NoError(t, err)
	assert.True(t, sp.Spilled())

	for range 2 {
		r, err := sp.Reader()
		require.NoError(t, err)
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, payload, string(data))
	}

	sp.Close()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSpoolResetDiscardsAttempt(t *testing.T) {
	t.Parallel()

	sp := newSpool(t.TempDir(), 4)
	defer sp.Close()

	_, err := io.Copy(sp, strings.NewReader("partial attempt"))
	require.NoError(t, err)
	sp.Reset()
	assert.False(t, sp.Spilled())
	_, err = io.Copy(sp, strings.NewReader("ok"))
	require.NoError(t, err)

	r, err := sp.Reader()
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
}

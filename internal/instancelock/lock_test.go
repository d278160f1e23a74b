package instancelock

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireSucceedsWhenNoLockFileExists(t *testing.T) {
	dir := t.TempDir()
	l, err := New("trader", dir, nil)
	require.NoError(t, err)

	ok, err := l.Acquire(false)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := os.ReadFile(filepath.Join(dir, "trader.pid"))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestAcquireRemovesStaleLockFromDeadPID(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trader.pid"), []byte("999999999"), 0o644))

	l, err := New("trader", dir, nil)
	require.NoError(t, err)
	ok, err := l.Acquire(false)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquireRefusesWhenExistingProcessIsLive(t *testing.T) {
	dir := t.TempDir()
	// Our own PID is definitely alive; this simulates a live holder.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trader.pid"), []byte(strconv.Itoa(os.Getpid())), 0o644))

	l, err := New("trader", dir, nil)
	require.NoError(t, err)
	ok, err := l.Acquire(false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAcquireRemovesInvalidLockFileContent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trader.pid"), []byte("not-a-pid"), 0o644))

	l, err := New("trader", dir, nil)
	require.NoError(t, err)
	ok, err := l.Acquire(false)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseRemovesLockFile(t *testing.T) {
	dir := t.TempDir()
	l, err := New("trader", dir, nil)
	require.NoError(t, err)
	ok, err := l.Acquire(false)
	require.NoError(t, err)
	require.True(t, ok)

	l.Release()
	_, err = os.Stat(filepath.Join(dir, "trader.pid"))
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireIsIdempotentForSameInstance(t *testing.T) {
	dir := t.TempDir()
	l, err := New("trader", dir, nil)
	require.NoError(t, err)
	ok1, err := l.Acquire(false)
	require.NoError(t, err)
	ok2, err := l.Acquire(false)
	require.NoError(t, err)
	assert.True(t, ok1)
	assert.True(t, ok2)
}

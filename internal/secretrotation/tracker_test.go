package secretrotation

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secret_rotation.json")
	tr, err := New(path, nil)
	require.NoError(t, err)
	return tr
}

func TestNewInitializesFreshMetadataAsNotDue(t *testing.T) {
	tr := newTestTracker(t)
	status := tr.Status()
	assert.False(t, status.RotationDue)
	assert.False(t, status.RotationWarning)
	assert.InDelta(t, 0, status.DaysSinceRotate, 0.01)
}

func TestRecordRotationResetsClock(t *testing.T) {
	tr := newTestTracker(t)
	md := tr.load()
	md.LastRotationUTC = time.Now().UTC().AddDate(0, 0, -100)
	require.NoError(t, tr.save(md))

	status := tr.Status()
	assert.True(t, status.RotationDue)

	require.NoError(t, tr.RecordRotation("rotated for test"))
	status = tr.Status()
	assert.False(t, status.RotationDue)
}

func TestStatusWarnsWithinWindowOfDeadline(t *testing.T) {
	tr := newTestTracker(t)
	md := tr.load()
	md.LastRotationUTC = time.Now().UTC().AddDate(0, 0, -(PolicyDays - 1))
	require.NoError(t, tr.save(md))

	status := tr.Status()
	assert.False(t, status.RotationDue)
	assert.True(t, status.RotationWarning)
}

func TestHistoryReturnsNewestFirstAndRespectsLimit(t *testing.T) {
	tr := newTestTracker(t)
	require.NoError(t, tr.RecordRotation("first"))
	require.NoError(t, tr.RecordRotation("second"))
	require.NoError(t, tr.RecordRotation("third"))

	history := tr.History(2)
	require.Len(t, history, 2)
	assert.Equal(t, "third", history[0].Reason)
	assert.Equal(t, "second", history[1].Reason)
}

func TestLoadCorruptFileTreatsAsOverdue(t *testing.T) {
	tr := newTestTracker(t)
	require.NoError(t, os.WriteFile(tr.path, []byte("{not json"), 0o644))

	status := tr.Status()
	assert.True(t, status.RotationDue)
}

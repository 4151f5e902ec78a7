package lockfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ochairo/macrelease/internal/domain/entities"
)

func TestLockerExcludesSameVersion(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks")
	first := NewLocker(dir)
	second := NewLocker(dir)

	unlock, err := first.Acquire("1.4.0")
	require.NoError(t, err)

	_, err = second.Acquire("1.4.0")
	var concurrent *entities.ConcurrentReleaseError
	require.ErrorAs(t, err, &concurrent)
	assert.Equal(t, "1.4.0", concurrent.Version)
	assert.Equal(t, filepath.Join(dir, "1.4.0.lock"), concurrent.LockPath)
	assert.Equal(t, entities.StageLock, concurrent.Stage())

	otherUnlock, err := second.Acquire("1.5.0")
	require.NoError(t, err, "different versions do not contend")
	require.NoError(t, otherUnlock())

	require.NoError(t, unlock())
	again, err := second.Acquire("1.4.0")
	require.NoError(t, err)
	require.NoError(t, again())
}

func TestLockerPathIsSanitized(t *testing.T) {
	l := NewLocker("/state/locks")
	assert.Equal(t, filepath.Join("/state/locks", "__etc_passwd.lock"), l.Path("../etc/passwd"))
}

package lockfile

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/domain"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), zerolog.New(os.Stderr).Level(zerolog.Disabled))
}

func TestWithLock_RunsAndReleases(t *testing.T) {
	m := testManager(t)

	ran := false
	err := m.WithLock("rebalance", time.Second, func() error {
		ran = true
		info, err := m.CheckLock("rebalance")
		require.NoError(t, err)
		require.NotNil(t, info)
		assert.Equal(t, os.Getpid(), info.PID)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	// Lock is gone after the callback returns.
	info, err := m.CheckLock("rebalance")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestWithLock_PropagatesCallbackError(t *testing.T) {
	m := testManager(t)

	wantErr := errors.New("boom")
	err := m.WithLock("db_backup", time.Second, func() error { return wantErr })
	assert.ErrorIs(t, err, wantErr)

	// Released even on failure.
	info, err := m.CheckLock("db_backup")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestWithLock_TimesOutOnHeldLock(t *testing.T) {
	m := testManager(t)

	// A lock held by this live process within staleAge is never reclaimed.
	require.NoError(t, m.acquire("score_refresh", time.Second))
	defer m.release("score_refresh")

	err := m.WithLock("score_refresh", 300*time.Millisecond, func() error {
		t.Fatal("callback must not run while the lock is held")
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrLockTimeout)
}

func TestWithLock_ReclaimsDeadOwnerLock(t *testing.T) {
	m := testManager(t)

	// Fabricate a lock owned by a PID that cannot be alive.
	info := LockInfo{PID: 1 << 30, Timestamp: time.Now(), Name: "cleanup_caches"}
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(m.dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(m.dir, "cleanup_caches.lock"), data, 0644))

	ran := false
	err = m.WithLock("cleanup_caches", 2*time.Second, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestCheckLock_MissingIsNil(t *testing.T) {
	m := testManager(t)
	info, err := m.CheckLock("never_acquired")
	require.NoError(t, err)
	assert.Nil(t, info)
}

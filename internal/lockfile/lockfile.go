// Package lockfile provides file-backed named advisory locks. Locks are
// cooperative process artifacts: a lock file whose owner is no longer alive
// means "recently released" and is reclaimed on the next acquisition attempt.
package lockfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

const pollInterval = 100 * time.Millisecond

// staleAge is the age past which a lock held by a live process is still
// considered abandoned (hung owner).
const staleAge = 2 * time.Hour

// LockInfo is the owner record written into the lock file.
type LockInfo struct {
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
	Name      string    `json:"name"`
}

// Manager acquires named locks under a single locks directory.
type Manager struct {
	dir string
	log zerolog.Logger
}

// NewManager creates a lock manager rooted at dir (created on demand).
func NewManager(dir string, log zerolog.Logger) *Manager {
	return &Manager{
		dir: dir,
		log: log.With().Str("service", "lockfile").Logger(),
	}
}

func (m *Manager) lockPath(name string) string {
	return filepath.Join(m.dir, name+".lock")
}

// WithLock acquires the named lock, runs fn, and releases the lock.
// Acquisition polls every 100 ms up to timeout; on expiry it returns
// domain.ErrLockTimeout. Release failures are logged, never propagated.
func (m *Manager) WithLock(name string, timeout time.Duration, fn func() error) error {
	if err := m.acquire(name, timeout); err != nil {
		return err
	}
	defer m.release(name)
	return fn()
}

func (m *Manager) acquire(name string, timeout time.Duration) error {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		ok, err := m.tryAcquire(name)
		if err != nil {
			return err
		}
		if ok {
			m.log.Debug().Str("lock", name).Msg("Lock acquired")
			return nil
		}

		m.cleanupStale(name)

		if time.Now().After(deadline) {
			return fmt.Errorf("lock %q: %w", name, domain.ErrLockTimeout)
		}
		time.Sleep(pollInterval)
	}
}

// tryAcquire creates the lock file exclusively and writes the owner record.
func (m *Manager) tryAcquire(name string) (bool, error) {
	f, err := os.OpenFile(m.lockPath(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	info := LockInfo{PID: os.Getpid(), Timestamp: time.Now(), Name: name}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return false, fmt.Errorf("failed to marshal lock info: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return false, fmt.Errorf("failed to write lock info: %w", err)
	}
	return true, nil
}

func (m *Manager) release(name string) {
	if err := os.Remove(m.lockPath(name)); err != nil && !os.IsNotExist(err) {
		m.log.Error().Str("lock", name).Err(err).Msg("Failed to release lock")
		return
	}
	m.log.Debug().Str("lock", name).Msg("Lock released")
}

// CheckLock reads the current owner record, if any.
func (m *Manager) CheckLock(name string) (*LockInfo, error) {
	data, err := os.ReadFile(m.lockPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read lock file: %w", err)
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	return &info, nil
}

// cleanupStale removes the lock file when its owner is dead or the lock
// has outlived staleAge.
func (m *Manager) cleanupStale(name string) {
	info, err := m.CheckLock(name)
	if err != nil || info == nil {
		return
	}

	if isProcessAlive(info.PID) && time.Since(info.Timestamp) < staleAge {
		return
	}

	m.log.Warn().
		Str("lock", name).
		Int("pid", info.PID).
		Str("age", time.Since(info.Timestamp).String()).
		Msg("Removing stale lock")
	if err := os.Remove(m.lockPath(name)); err != nil && !os.IsNotExist(err) {
		m.log.Error().Str("lock", name).Err(err).Msg("Failed to remove stale lock")
	}
}

// isProcessAlive checks liveness with signal 0.
func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

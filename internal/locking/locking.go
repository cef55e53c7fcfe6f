package locking

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Manager coordinates named locks backed by files in a single directory.
// Locks prevent overlapping runs of the same job; because they live on disk
// they survive crashes, and ClearStuckLocks sweeps up leftovers.
type Manager struct {
	dir string
	log zerolog.Logger
	mu  sync.Mutex
}

// NewManager creates a lock manager rooted at dir
func NewManager(dir string, log zerolog.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &Manager{
		dir: dir,
		log: log.With().Str("service", "locking").Logger(),
	}, nil
}

// Acquire takes the named lock, failing immediately if it is already held
func (m *Manager) Acquire(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.OpenFile(m.path(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("lock %s already held", name)
		}
		return fmt.Errorf("failed to create lock %s: %w", name, err)
	}
	fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	f.Close()

	return nil
}

// Release drops the named lock. Releasing an unheld lock is a no-op.
func (m *Manager) Release(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.path(name)); err != nil && !os.IsNotExist(err) {
		m.log.Warn().Err(err).Str("lock", name).Msg("Failed to release lock")
	}
}

// Lock is a held lock handle returned by AcquireLock
type Lock struct {
	name    string
	manager *Manager
}

// Release drops the lock
func (l *Lock) Release() {
	l.manager.Release(l.name)
}

// AcquireLock waits up to timeout for the named lock, polling until it
// becomes free.
func (m *Manager) AcquireLock(name string, timeout time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := m.Acquire(name); err == nil {
			return &Lock{name: name, manager: m}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for lock %s after %s", name, timeout)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// ClearStuckLocks removes lock files older than maxAge and returns the names
// of the locks it cleared.
func (m *Manager) ClearStuckLocks(maxAge time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read lock directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	var cleared []string

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".lock")
		if err := os.Remove(filepath.Join(m.dir, entry.Name())); err != nil {
			m.log.Warn().Err(err).Str("lock", name).Msg("Failed to clear stuck lock")
			continue
		}

		m.log.Warn().Str("lock", name).Dur("max_age", maxAge).Msg("Cleared stuck lock")
		cleared = append(cleared, name)
	}

	return cleared, nil
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.dir, name+".lock")
}

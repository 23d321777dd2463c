// Package lock keeps unattended runs of the same operation from overlapping.
//
// A lock is a marker file named after the operation whose content is its
// creation time. A marker older than the TTL is considered abandoned and is
// reclaimed. A process that dies before Release leaves its marker behind
// until the TTL expires.
package lock

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/artpar/releaser/internal/core/domain"
)

// Default TTLs of the operations that may run unattended.
const (
	DefaultDeployTTL   = 4 * time.Hour
	DefaultBackupTTL   = 7 * 24 * time.Hour
	DefaultSanitizeTTL = 15 * 24 * time.Hour
)

// TTL returns how long a lock of operation is honored. deployMinutes
// overrides the deploy TTL when positive. ok is false for operations that
// cannot run unattended.
func TTL(operation string, deployMinutes int) (ttl time.Duration, ok bool) {
	switch operation {
	case "deploy":
		if deployMinutes > 0 {
			return time.Duration(deployMinutes) * time.Minute, true
		}
		return DefaultDeployTTL, true
	case "backup":
		return DefaultBackupTTL, true
	case "sanitize":
		return DefaultSanitizeTTL, true
	}
	return 0, false
}

// Lock is a held marker.
type Lock struct {
	Operation string
	Path      string
	CreatedAt time.Time
}

// Manager creates and removes markers in one directory.
type Manager struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger used to report reclaimed markers.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager keeping markers in dir.
func NewManager(dir string, opts ...Option) *Manager {
	m := &Manager{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "lock")
	return m
}

// TryAcquire takes the lock of operation. It fails with domain.ErrLockHeld
// while a marker younger than ttl exists.
func (m *Manager) TryAcquire(operation string, ttl time.Duration) (*Lock, error) {
	if operation == "" || strings.ContainsAny(operation, `/\`) {
		return nil, domain.ConfigError("TryAcquire", fmt.Sprintf("invalid operation name %q", operation), nil)
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	path := filepath.Join(m.dir, operation)
	now := m.now()

	if err := m.reclaim(path, operation, now, ttl); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil, held(operation, "another run acquired it first")
	}
	if err != nil {
		return nil, fmt.Errorf("create lock marker: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(now.Format(time.RFC3339Nano)); err != nil {
		return nil, fmt.Errorf("write lock marker: %w", err)
	}

	m.logger.Debug("lock acquired", "operation", operation, "ttl", ttl)
	return &Lock{Operation: operation, Path: path, CreatedAt: now}, nil
}

// reclaim removes an expired or unreadable marker and fails when a live one
// is present.
func (m *Manager) reclaim(path, operation string, now time.Time, ttl time.Duration) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lock marker: %w", err)
	}

	created, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	switch {
	case err != nil:
		m.logger.Warn("Reclaiming unreadable lock marker", "operation", operation, "content", strings.TrimSpace(string(data)))
	case now.Sub(created) < ttl:
		return held(operation, fmt.Sprintf("held since %s", created.Format(time.RFC3339)))
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale lock marker: %w", err)
	}
	return nil
}

// Release removes the marker of l. Releasing nil is a no-op.
func (m *Manager) Release(l *Lock) error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock %s: %w", l.Operation, err)
	}
	m.logger.Debug("lock released", "operation", l.Operation)
	return nil
}

func held(operation, detail string) error {
	return domain.NewError("TryAcquire", domain.ErrLockHeld,
		fmt.Sprintf("an unattended %s is already running (%s)", operation, detail), nil)
}

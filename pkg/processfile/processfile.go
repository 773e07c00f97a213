package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fleet-tools/botfleet/pkg/errors"
	"github.com/fleet-tools/botfleet/pkg/logging"
)

// DefaultDirectory returns the pid-file directory used when none is
// configured.
func DefaultDirectory() string {
	return filepath.Join(os.TempDir(), "botfleet")
}

// Manager writes and reads per-slot PID files. The supervisor records every
// spawned worker here so that a separate CLI invocation can report
// running/stopped status truthfully.
type Manager struct {
	dir    string
	logger logging.Logger
}

func NewManager(dir string, logger logging.Logger) *Manager {
	if dir == "" {
		dir = DefaultDirectory()
	}
	return &Manager{
		dir:    dir,
		logger: logger,
	}
}

// PIDFilePath returns the pid-file path for a slot.
func (m *Manager) PIDFilePath(slot int) string {
	return filepath.Join(m.dir, fmt.Sprintf("bot-%d.pid", slot))
}

// Write records the PID for a slot, creating the directory if needed.
func (m *Manager) Write(slot int, pid int) error {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return errors.NewIOError("failed to create pid-file directory", err).WithContext("dir", m.dir)
	}

	path := m.PIDFilePath(slot)
	content := fmt.Sprintf("%d\n", pid)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return errors.NewIOError("failed to write pid file", err).
			WithContext("pid_file", path).
			WithContext("pid", pid)
	}

	m.logger.Debugf("PID file written, slot: %d, pid: %d, path: %s", slot, pid, path)
	return nil
}

// Read returns the recorded PID for a slot. A missing file yields a
// not-found error, which callers treat as "not running".
func (m *Manager) Read(slot int) (int, error) {
	path := m.PIDFilePath(slot)

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewNotFoundError("pid file not found", err).WithContext("pid_file", path)
		}
		return 0, errors.NewIOError("failed to read pid file", err).WithContext("pid_file", path)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil {
		return 0, errors.NewValidationError("pid file content is not a number", err).WithContext("pid_file", path)
	}
	if pid <= 0 {
		return 0, errors.NewValidationError("pid file holds an invalid PID", nil).
			WithContext("pid_file", path).
			WithContext("pid", pid)
	}

	return pid, nil
}

// Remove deletes a slot's pid file only while it still records the given
// PID. A file already overwritten by a replacement worker is left alone,
// so a late reaper cannot erase the replacement's record. Removing an
// absent file is not an error.
func (m *Manager) Remove(slot int, pid int) error {
	path := m.PIDFilePath(slot)

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewIOError("failed to read pid file before removal", err).WithContext("pid_file", path)
	}

	current, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err == nil && current != pid {
		m.logger.Debugf("PID file holds a newer PID, leaving it, slot: %d, pid: %d, current: %d", slot, pid, current)
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove pid file", err).WithContext("pid_file", path)
	}
	return nil
}

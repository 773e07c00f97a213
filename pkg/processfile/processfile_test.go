package processfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleet-tools/botfleet/pkg/errors"
)

// PIDFileMockLogger is a simple mock implementation of Logger for testing
type PIDFileMockLogger struct{}

func (m *PIDFileMockLogger) Debugf(format string, args ...interface{}) {}
func (m *PIDFileMockLogger) Infof(format string, args ...interface{})  {}
func (m *PIDFileMockLogger) Warnf(format string, args ...interface{})  {}
func (m *PIDFileMockLogger) Errorf(format string, args ...interface{}) {}

func TestNewManager_EmptyDirUsesDefault(t *testing.T) {
	manager := NewManager("", &PIDFileMockLogger{})

	assert.Equal(t, DefaultDirectory(), manager.dir)
}

func TestPIDFilePath(t *testing.T) {
	dir := t.TempDir()
	manager := NewManager(dir, &PIDFileMockLogger{})

	path := manager.PIDFilePath(3)

	assert.Equal(t, filepath.Join(dir, "bot-3.pid"), path)
}

func TestWriteAndRead(t *testing.T) {
	manager := NewManager(t.TempDir(), &PIDFileMockLogger{})

	require.NoError(t, manager.Write(0, 12345))

	content, err := os.ReadFile(manager.PIDFilePath(0))
	require.NoError(t, err)
	assert.Equal(t, "12345\n", string(content))

	pid, err := manager.Read(0)
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)
}

func TestWrite_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "pids")
	manager := NewManager(dir, &PIDFileMockLogger{})

	require.NoError(t, manager.Write(0, 42))

	assert.DirExists(t, dir)
	assert.FileExists(t, manager.PIDFilePath(0))
}

func TestRead_Missing(t *testing.T) {
	manager := NewManager(t.TempDir(), &PIDFileMockLogger{})

	_, err := manager.Read(0)

	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestRead_InvalidContent(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"not_a_number", "not-a-pid\n"},
		{"zero", "0\n"},
		{"negative", "-5\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			manager := NewManager(dir, &PIDFileMockLogger{})
			require.NoError(t, os.WriteFile(manager.PIDFilePath(0), []byte(tc.content), 0644))

			_, err := manager.Read(0)

			require.Error(t, err)
			assert.True(t, errors.IsValidationError(err))
		})
	}
}

func TestRemove(t *testing.T) {
	manager := NewManager(t.TempDir(), &PIDFileMockLogger{})
	require.NoError(t, manager.Write(0, 12345))

	require.NoError(t, manager.Remove(0, 12345))
	assert.NoFileExists(t, manager.PIDFilePath(0))

	// Removing an absent file is not an error.
	assert.NoError(t, manager.Remove(0, 12345))
}

func TestRemove_StalePIDLeavesReplacementFile(t *testing.T) {
	manager := NewManager(t.TempDir(), &PIDFileMockLogger{})

	// A replacement worker overwrote the slot's pid file; the removal on
	// behalf of the old worker must leave it in place.
	require.NoError(t, manager.Write(0, 100))
	require.NoError(t, manager.Write(0, 200))

	require.NoError(t, manager.Remove(0, 100))

	assert.FileExists(t, manager.PIDFilePath(0))
	pid, err := manager.Read(0)
	require.NoError(t, err)
	assert.Equal(t, 200, pid)

	require.NoError(t, manager.Remove(0, 200))
	assert.NoFileExists(t, manager.PIDFilePath(0))
}

func TestRemove_UnparsableFileIsRemoved(t *testing.T) {
	manager := NewManager(t.TempDir(), &PIDFileMockLogger{})
	require.NoError(t, manager.Write(0, 100))
	require.NoError(t, os.WriteFile(manager.PIDFilePath(0), []byte("garbage\n"), 0644))

	require.NoError(t, manager.Remove(0, 100))

	assert.NoFileExists(t, manager.PIDFilePath(0))
}

func TestMultipleSlots(t *testing.T) {
	manager := NewManager(t.TempDir(), &PIDFileMockLogger{})

	require.NoError(t, manager.Write(0, 100))
	require.NoError(t, manager.Write(1, 200))

	pid0, err := manager.Read(0)
	require.NoError(t, err)
	pid1, err := manager.Read(1)
	require.NoError(t, err)

	assert.Equal(t, 100, pid0)
	assert.Equal(t, 200, pid1)
}

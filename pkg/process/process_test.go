package process

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleet-tools/botfleet/pkg/errors"
)

// ProcessMockLogger is a simple mock implementation of Logger for testing
type ProcessMockLogger struct{}

func (m *ProcessMockLogger) Debugf(format string, args ...interface{}) {}
func (m *ProcessMockLogger) Infof(format string, args ...interface{})  {}
func (m *ProcessMockLogger) Warnf(format string, args ...interface{})  {}
func (m *ProcessMockLogger) Errorf(format string, args ...interface{}) {}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tests use shell scripts as workers")
	}

	path := filepath.Join(t.TempDir(), "worker.sh")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func spawnScript(t *testing.T, body string) *Ref {
	t.Helper()
	ref, err := Spawn(context.Background(), SpawnOptions{
		ExecutablePath: writeScript(t, body),
		Slot:           0,
	}, &ProcessMockLogger{})
	require.NoError(t, err)
	return ref
}

func TestSpawn_Validation(t *testing.T) {
	logger := &ProcessMockLogger{}

	_, err := Spawn(nil, SpawnOptions{ExecutablePath: "worker"}, logger) //nolint:staticcheck
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))

	_, err = Spawn(context.Background(), SpawnOptions{}, logger)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))

	_, err = Spawn(context.Background(), SpawnOptions{ExecutablePath: "worker", Slot: -1}, logger)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestSpawn_MissingExecutable(t *testing.T) {
	_, err := Spawn(context.Background(), SpawnOptions{
		ExecutablePath: filepath.Join(t.TempDir(), "does-not-exist"),
		Slot:           0,
	}, &ProcessMockLogger{})

	require.Error(t, err)
	assert.True(t, errors.IsSpawnError(err))
}

func TestSpawn_PassesSlotAsArgument(t *testing.T) {
	path := writeScript(t, `echo "slot=$1"`)

	ref, err := Spawn(context.Background(), SpawnOptions{
		ExecutablePath: path,
		Slot:           7,
	}, &ProcessMockLogger{})
	require.NoError(t, err)

	outcome, err := ref.Wait(5 * time.Second)
	require.NoError(t, err)
	assert.True(t, outcome.Clean())
	assert.Contains(t, outcome.Output, "slot=7")
}

func TestRef_CleanExit(t *testing.T) {
	ref := spawnScript(t, "exit 0")

	outcome, err := ref.Wait(5 * time.Second)

	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Code)
	assert.True(t, outcome.Clean())
	assert.False(t, ref.IsAlive())
}

func TestRef_FailedExitCapturesOutput(t *testing.T) {
	ref := spawnScript(t, "echo boom >&2; exit 3")

	outcome, err := ref.Wait(5 * time.Second)

	require.NoError(t, err)
	assert.Equal(t, 3, outcome.Code)
	assert.False(t, outcome.Clean())
	assert.Contains(t, outcome.Output, "boom")
}

func TestRef_WaitTimeoutKeepsProcessRunning(t *testing.T) {
	ref := spawnScript(t, "sleep 30")

	_, err := ref.Wait(50 * time.Millisecond)

	require.Error(t, err)
	assert.True(t, errors.IsTimeoutError(err))
	assert.True(t, ref.IsAlive())

	require.NoError(t, ref.Kill())
	_, err = ref.Wait(5 * time.Second)
	assert.NoError(t, err)
}

func TestRef_Terminate(t *testing.T) {
	ref := spawnScript(t, "sleep 30")

	assert.True(t, ref.IsAlive())
	require.NoError(t, ref.Terminate())

	_, err := ref.Wait(5 * time.Second)
	require.NoError(t, err)
	assert.False(t, ref.IsAlive())
}

func TestIsPIDRunning(t *testing.T) {
	ref := spawnScript(t, "sleep 30")
	pid := ref.PID()

	assert.True(t, IsPIDRunning(pid))

	require.NoError(t, ref.Kill())
	_, err := ref.Wait(5 * time.Second)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return !IsPIDRunning(pid)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestLockedBuffer_Limit(t *testing.T) {
	buf := newLockedBuffer(8)

	n, err := buf.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "01234567", buf.String())

	// Full buffer keeps accepting writes without growing.
	n, err = buf.Write([]byte("more"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "01234567", buf.String())
}

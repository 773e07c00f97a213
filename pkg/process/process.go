package process

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/fleet-tools/botfleet/pkg/errors"
	"github.com/fleet-tools/botfleet/pkg/logging"
)

// SpawnOptions describes how to launch one worker process. The slot index
// is the worker's only addressable parameter: the process re-reads its own
// record from the backing store by that index.
type SpawnOptions struct {
	ExecutablePath   string
	Slot             int
	Environment      []string
	WorkingDirectory string
}

// ExitOutcome is the result of waiting for a process to exit.
type ExitOutcome struct {
	Code   int
	Output string
}

// Clean reports whether the process exited with the canonical clean code.
func (o ExitOutcome) Clean() bool {
	return o.Code == 0
}

// Ref is a handle to a spawned worker process. Output capture and exit
// bookkeeping are internal; callers interact through liveness checks,
// signals, and Wait.
type Ref struct {
	cmd    *exec.Cmd
	output *lockedBuffer

	exited  chan struct{}
	outcome ExitOutcome
}

// Spawn launches a worker process for a slot, capturing combined
// stdout/stderr, and begins collecting its exit status in the background.
func Spawn(ctx context.Context, options SpawnOptions, logger logging.Logger) (*Ref, error) {
	if ctx == nil {
		return nil, errors.NewValidationError("context cannot be nil", nil)
	}
	if options.ExecutablePath == "" {
		return nil, errors.NewValidationError("executable path cannot be empty", nil)
	}
	if options.Slot < 0 {
		return nil, errors.NewValidationError("slot cannot be negative", nil).WithContext("slot", options.Slot)
	}

	cmd := exec.Command(options.ExecutablePath, strconv.Itoa(options.Slot))
	cmd.Dir = options.WorkingDirectory
	if len(options.Environment) > 0 {
		cmd.Env = options.Environment
	}

	output := newLockedBuffer(maxCapturedOutput)
	cmd.Stdout = output
	cmd.Stderr = output

	// Platform-specific setup: process group on Unix, console flags on Windows.
	setupProcessAttributes(cmd)

	logger.Debugf("Spawning worker process, slot: %d, executable: %s", options.Slot, options.ExecutablePath)

	if err := cmd.Start(); err != nil {
		return nil, errors.NewSpawnError("failed to start worker process", err).
			WithContext("slot", options.Slot).
			WithContext("executable_path", options.ExecutablePath)
	}

	logger.Infof("Worker process spawned, slot: %d, pid: %d", options.Slot, cmd.Process.Pid)

	ref := &Ref{
		cmd:    cmd,
		output: output,
		exited: make(chan struct{}),
	}

	go ref.collect()

	return ref, nil
}

// maxCapturedOutput bounds the retained stdout/stderr per worker so a
// chatty process cannot grow supervisor memory without limit.
const maxCapturedOutput = 64 * 1024

func (r *Ref) collect() {
	err := r.cmd.Wait()

	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			// Wait itself failed; report as a generic non-clean exit.
			code = -1
		}
	}

	r.outcome = ExitOutcome{
		Code:   code,
		Output: r.output.String(),
	}
	close(r.exited)
}

// PID returns the OS process ID.
func (r *Ref) PID() int {
	return r.cmd.Process.Pid
}

// IsAlive is a non-blocking liveness check.
func (r *Ref) IsAlive() bool {
	select {
	case <-r.exited:
		return false
	default:
		return true
	}
}

// Terminate requests graceful shutdown. It does not block; callers follow
// up with Wait and escalate to Kill on timeout.
func (r *Ref) Terminate() error {
	if err := sendTerminationSignal(r.cmd.Process.Pid); err != nil {
		return errors.NewProcessError("failed to send termination signal", err).WithContext("pid", r.cmd.Process.Pid)
	}
	return nil
}

// Kill forces immediate termination.
func (r *Ref) Kill() error {
	if err := r.cmd.Process.Kill(); err != nil {
		return errors.NewProcessError("failed to kill process", err).WithContext("pid", r.cmd.Process.Pid)
	}
	return nil
}

// Wait blocks until the process exits or the timeout elapses. A timeout of
// zero or less waits indefinitely. On timeout it returns a timeout error
// and the process keeps running.
func (r *Ref) Wait(timeout time.Duration) (ExitOutcome, error) {
	if timeout <= 0 {
		<-r.exited
		return r.outcome, nil
	}

	select {
	case <-r.exited:
		return r.outcome, nil
	case <-time.After(timeout):
		return ExitOutcome{}, errors.NewTimeoutError("process did not exit within timeout", nil).
			WithContext("pid", r.cmd.Process.Pid).
			WithContext("timeout", timeout.String())
	}
}

// lockedBuffer is a size-bounded buffer safe for the concurrent writes the
// process pipes perform.
type lockedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func newLockedBuffer(limit int) *lockedBuffer {
	return &lockedBuffer{limit: limit}
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

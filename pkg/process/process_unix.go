//go:build !windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// setupProcessAttributes puts the worker in its own process group so a
// termination signal to -pid reaches the whole process tree.
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// sendTerminationSignal sends SIGTERM to the worker's process group.
func sendTerminationSignal(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// IsPIDRunning reports whether a process with the given PID exists. On
// Unix, FindProcess always succeeds, so liveness is probed with signal 0.
func IsPIDRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errno, ok := err.(syscall.Errno); ok && errno == syscall.EPERM {
		return true
	}
	return false
}

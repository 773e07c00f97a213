//go:build windows

package process

import (
	"fmt"
	"os/exec"
	"syscall"
)

// setupProcessAttributes isolates the worker in its own process group so
// console Ctrl+Break events can target it without hitting the supervisor.
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// sendTerminationSignal delivers a Ctrl+Break event to the worker's
// process group, the closest Windows equivalent of SIGTERM.
func sendTerminationSignal(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}

	dll, err := syscall.LoadDLL("kernel32.dll")
	if err != nil {
		return fmt.Errorf("failed to load kernel32.dll: %v", err)
	}
	defer dll.Release()

	proc, err := dll.FindProc("GenerateConsoleCtrlEvent")
	if err != nil {
		return err
	}

	result, _, callErr := proc.Call(syscall.CTRL_BREAK_EVENT, uintptr(pid))
	if result == 0 {
		return callErr
	}
	return nil
}

// IsPIDRunning reports whether a process with the given PID exists.
func IsPIDRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	const processQueryLimitedInformation = 0x1000

	handle, err := syscall.OpenProcess(processQueryLimitedInformation, false, uint32(pid))
	if err != nil {
		return false
	}
	defer syscall.CloseHandle(handle)

	var exitCode uint32
	if err := syscall.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}

	const stillActive = 259
	return exitCode == stillActive
}

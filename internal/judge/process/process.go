// Package process starts child processes in their own process group so a
// deadline or shutdown can kill the child together with everything it forked.
package process

import (
	"errors"
	"os"
	"os/exec"
	"time"
)

// waitDelay bounds how long Wait keeps reading pipes after the child exits or
// is killed.
const waitDelay = 2 * time.Second

// Configure prepares cmd so that canceling the context passed to
// exec.CommandContext kills the whole process group.
func Configure(cmd *exec.Cmd) {
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return killGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = waitDelay
}

// KillGroup kills every process left in the group led by pid. A group that is
// already empty is not an error.
func KillGroup(pid int) error {
	return killGroup(pid)
}

// ExitCode extracts the exit status. It returns -1 when the process did not
// exit normally or never started.
func ExitCode(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

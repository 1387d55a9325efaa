// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/loom-build/loom/lib/clock"
)

// StepRunner executes one shell command and reports its exit code.
// The error return is reserved for failures to run at all (missing
// shell, cancellation before exit); a command that runs and exits
// non-zero returns (code, nil).
type StepRunner interface {
	Run(ctx context.Context, command string, env map[string]string, output io.Writer) (int, error)
}

// ShellRunner runs commands via sh -c.
//
// The shell is resolved via PATH, not hardcoded to /bin/sh, so
// constrained environments that provide sh elsewhere still work.
//
// Every command runs in its own process group. Without Setpgid only
// the shell would receive cancellation signals, and children would
// survive holding the output descriptors open. On cancellation the
// group gets SIGTERM, then SIGKILL once the grace period elapses; a
// zero grace period kills immediately.
type ShellRunner struct {
	gracePeriod time.Duration
	clk         clock.Clock
}

// NewShellRunner returns a runner with the given SIGTERM grace
// period. A nil clk uses the real clock.
func NewShellRunner(gracePeriod time.Duration, clk clock.Clock) *ShellRunner {
	if clk == nil {
		clk = clock.Real()
	}
	return &ShellRunner{gracePeriod: gracePeriod, clk: clk}
}

func (r *ShellRunner) Run(ctx context.Context, command string, env map[string]string, output io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdout = output
	cmd.Stderr = output

	// Negative PID = the whole process group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if r.gracePeriod > 0 {
		cmd.Cancel = func() error {
			processGroupID := -cmd.Process.Pid
			if err := syscall.Kill(processGroupID, syscall.SIGTERM); err != nil {
				// SIGTERM failed (group already gone), escalate.
				return syscall.Kill(processGroupID, syscall.SIGKILL)
			}
			go func() {
				r.clk.Sleep(r.gracePeriod)
				// ESRCH from an exited group is harmless.
				_ = syscall.Kill(processGroupID, syscall.SIGKILL)
			}()
			return nil
		}
	} else {
		cmd.Cancel = func() error {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
	}

	if len(env) > 0 {
		cmd.Env = os.Environ()
		for name, value := range env {
			cmd.Env = append(cmd.Env, name+"="+value)
		}
	}

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		return exitError.ExitCode(), nil
	}

	// Non-exit errors: cancellation, missing shell, wiring failures.
	return -1, err
}

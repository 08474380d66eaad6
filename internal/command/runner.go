// Package command implements the Command Runner (§4.2): a thin wrapper
// that spawns privileged host binaries with a timeout and captures
// stdout/stderr/exit code, used by collectors, task workers and the
// orchestrator. No caller may build argv through shell interpolation.
package command

import (
	"bytes"
	"context"
	"os/exec"
	"syscall"
	"time"

	srvErrors "github.com/Makr91/zoneweaver-api/pkg/errors"
)

// killGracePeriod is how long a timed-out child has to exit after SIGTERM
// before it is killed.
const killGracePeriod = 5 * time.Second

// Result is the outcome of one Run call.
type Result struct {
	OK       bool
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Options configures one Run invocation.
type Options struct {
	Timeout time.Duration
	Env     []string // appended on top of the parent's environment
}

// Runner spawns argv[0] with argv[1:] as arguments. It never invokes a
// shell, so no argument is subject to shell interpolation.
type Runner struct{}

func New() *Runner {
	return &Runner{}
}

// Run executes argv with opts.Timeout. On timeout it sends SIGTERM, waits
// a short grace period, then reports TimedOut=true. The child inherits
// the caller's process environment with opts.Env appended as overrides.
func (r *Runner) Run(ctx context.Context, argv []string, opts Options) (Result, error) {
	if len(argv) == 0 {
		return Result{}, srvErrors.NewValidationError("argv", "must not be empty")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = killGracePeriod
	if len(opts.Env) > 0 {
		cmd.Env = append(cmd.Environ(), opts.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.OK = false
		return res, srvErrors.NewCommandTimeoutError(argv)
	}

	if err == nil {
		res.OK = true
		res.ExitCode = 0
		return res, nil
	}

	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		res.ExitCode = exitErr.ExitCode()
		res.OK = false
		return res, nil
	}

	return res, err
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	*target = ee
	return true
}

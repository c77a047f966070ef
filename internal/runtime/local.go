package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"gtsvmkit/pkg/runtime"
)

const waitDelay = 2 * time.Second

// LocalRuntime runs solver binaries as child processes of this one.
type LocalRuntime struct{}

func NewLocalRuntime() *LocalRuntime {
	return &LocalRuntime{}
}

func (l *LocalRuntime) Name() string {
	return "local"
}

// Run starts the command, waits for it and captures both output streams.
// Cancelling ctx kills the process.
func (l *LocalRuntime) Run(ctx context.Context, opts runtime.RunOptions) (*runtime.Result, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(ctx, opts.Command[0], opts.Command[1:]...)
	cmd.Dir = opts.WorkingDirectory
	// Stop waiting on output pipes held open by grandchildren after a kill.
	cmd.WaitDelay = waitDelay
	if len(opts.EnvVars) > 0 {
		cmd.Env = os.Environ()
		for key, value := range opts.EnvVars {
			cmd.Env = append(cmd.Env, key+"="+value)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("Running command", "runtime", l.Name(), "command", opts.Command)

	start := time.Now()
	err := cmd.Run()
	result := &runtime.Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to run %s: %w", opts.Command[0], err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s interrupted: %w", opts.Command[0], ctxErr)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	return result, nil
}

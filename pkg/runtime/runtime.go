// Package runtime defines how solver binaries are executed.
package runtime

import (
	"context"
	"time"
)

// RunOptions defines the parameters for running one solver command.
type RunOptions struct {
	// Command is the program followed by its arguments.
	Command []string
	// Mounts lists host directories the command reads or writes. Container
	// runtimes bind them at the same path; the local runtime ignores them.
	Mounts           []string
	EnvVars          map[string]string
	WorkingDirectory string
}

// Result is the outcome of a command that was started.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runtime runs a command to completion. It returns an error only when the
// command could not be run; a non-zero exit status is reported in Result.
type Runtime interface {
	Name() string
	Run(ctx context.Context, opts RunOptions) (*Result, error)
}

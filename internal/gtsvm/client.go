// Package gtsvm drives the gtsvm command line programs.
package gtsvm

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gtsvmkit/pkg/runtime"
	"gtsvmkit/pkg/solver"
)

const (
	// DefaultBinDir is where the toolchain is looked up when nothing is
	// configured, relative to the working directory.
	DefaultBinDir = "../bin/"

	programPrefix = "gtsvm_"
)

// CommandClient implements solver.Client by running one gtsvm program per
// stage on a runtime.
type CommandClient struct {
	runtime      runtime.Runtime
	binDir       string
	stageTimeout time.Duration
}

// Option configures a CommandClient.
type Option func(*CommandClient)

// WithStageTimeout bounds every stage. Zero means no limit.
func WithStageTimeout(d time.Duration) Option {
	return func(c *CommandClient) {
		c.stageTimeout = d
	}
}

// NewCommandClient creates a client for the programs in binDir. A relative
// binDir is resolved against the working directory so the programs keep the
// same path inside a container. An empty binDir resolves them through PATH.
func NewCommandClient(rt runtime.Runtime, binDir string, opts ...Option) *CommandClient {
	if binDir != "" {
		if abs, err := filepath.Abs(binDir); err == nil {
			binDir = abs
		}
	}
	c := &CommandClient{
		runtime: rt,
		binDir:  binDir,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ solver.Client = (*CommandClient)(nil)

// Program returns the path of the program for a stage.
func (c *CommandClient) Program(stage string) string {
	if c.binDir == "" {
		return programPrefix + stage
	}
	return filepath.Join(c.binDir, programPrefix+stage)
}

func (c *CommandClient) Initialize(ctx context.Context, p solver.InitializeParams) (*solver.Result, error) {
	args := []string{"-f", p.DatasetFile, "-o", p.ModelFile}
	args = append(args, kernelArgs(p.KernelParams)...)
	if p.Multiclass {
		args = append(args, "-m", "1")
	}
	return c.run(ctx, solver.StageInitialize, args, p.DatasetFile, p.ModelFile)
}

func (c *CommandClient) Optimize(ctx context.Context, p solver.OptimizeParams) (*solver.Result, error) {
	args := []string{
		"-i", p.InputModel,
		"-o", p.OutputModel,
		"-e", formatFloat(p.Epsilon),
		"-n", strconv.Itoa(p.Iterations),
	}
	args = append(args, clusterArgs(p.SmallClusters, p.ActiveClusters)...)
	return c.run(ctx, solver.StageOptimize, args, p.InputModel, p.OutputModel)
}

func (c *CommandClient) Shrink(ctx context.Context, p solver.ShrinkParams) (*solver.Result, error) {
	args := []string{"-i", p.InputModel, "-o", p.OutputModel}
	return c.run(ctx, solver.StageShrink, args, p.InputModel, p.OutputModel)
}

func (c *CommandClient) Classify(ctx context.Context, p solver.ClassifyParams) (*solver.Result, error) {
	args := []string{"-f", p.DatasetFile, "-i", p.ModelFile, "-o", p.OutputFile}
	args = append(args, clusterArgs(p.SmallClusters, p.ActiveClusters)...)
	return c.run(ctx, solver.StageClassify, args, p.DatasetFile, p.ModelFile, p.OutputFile)
}

func (c *CommandClient) Restart(ctx context.Context, p solver.RestartParams) (*solver.Result, error) {
	args := []string{"-i", p.InputModel, "-o", p.OutputModel}
	args = append(args, kernelArgs(p.KernelParams)...)
	return c.run(ctx, solver.StageRestart, args, p.InputModel, p.OutputModel)
}

func (c *CommandClient) Recalculate(ctx context.Context, p solver.RecalculateParams) (*solver.Result, error) {
	args := []string{"-i", p.InputModel, "-o", p.OutputModel}
	args = append(args, clusterArgs(p.SmallClusters, p.ActiveClusters)...)
	return c.run(ctx, solver.StageRecalculate, args, p.InputModel, p.OutputModel)
}

// run executes one stage. files are the paths the stage touches; their
// directories are exposed to container runtimes.
func (c *CommandClient) run(ctx context.Context, stage string, args []string, files ...string) (*solver.Result, error) {
	if c.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.stageTimeout)
		defer cancel()
	}

	program := c.Program(stage)
	command := append([]string{program}, args...)

	slog.Info("Running solver stage", "stage", stage, "runtime", c.runtime.Name(), "command", strings.Join(command, " "))

	out, err := c.runtime.Run(ctx, runtime.RunOptions{
		Command: command,
		Mounts:  c.mounts(files),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", program, err)
	}

	for _, line := range strings.Split(strings.TrimSpace(out.Stdout), "\n") {
		if line != "" {
			slog.Debug("Solver output", "stage", stage, "line", line)
		}
	}

	result := &solver.Result{
		Stage:    stage,
		Args:     args,
		ExitCode: out.ExitCode,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		Duration: out.Duration,
	}

	slog.Info("Solver stage finished", "stage", stage, "exitCode", result.ExitCode,
		"stderrBytes", len(result.Stderr), "duration", result.Duration)
	return result, nil
}

// mounts lists the absolute directories of files and the bin directory,
// without duplicates.
func (c *CommandClient) mounts(files []string) []string {
	seen := make(map[string]bool)
	var dirs []string
	add := func(dir string) {
		abs, err := filepath.Abs(dir)
		if err != nil || seen[abs] {
			return
		}
		seen[abs] = true
		dirs = append(dirs, abs)
	}

	if c.binDir != "" {
		add(c.binDir)
	}
	for _, f := range files {
		if f != "" {
			add(filepath.Dir(f))
		}
	}
	return dirs
}

func kernelArgs(k solver.KernelParams) []string {
	kernel := k.Kernel
	if kernel == "" {
		kernel = solver.KernelGaussian
	}
	args := []string{
		"-k", kernel,
		"-C", formatFloat(k.Regularizer),
		"-1", formatFloat(k.Parameter1),
	}
	if k.HasParam2 {
		args = append(args, "-2", formatFloat(k.Parameter2))
	}
	if k.HasParam3 {
		args = append(args, "-3", formatFloat(k.Parameter3))
	}
	if k.Biased {
		args = append(args, "-b", "1")
	}
	return args
}

// clusterArgs passes the clustering options only when they differ from the
// toolchain defaults.
func clusterArgs(small bool, active int) []string {
	var args []string
	if small {
		args = append(args, "-s", "1")
	}
	if active > 0 {
		args = append(args, "-a", strconv.Itoa(active))
	}
	return args
}

// formatFloat drops the '+' from exponents, which the option parser rejects.
func formatFloat(v float64) string {
	return strings.Replace(strconv.FormatFloat(v, 'g', -1, 64), "e+", "e", 1)
}

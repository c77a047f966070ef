// Package solver describes the external GPU SVM toolchain as a typed client.
//
// Each stage of the toolchain is a separate program that reads and writes
// files. A Client runs one stage per call and reports how the process ended;
// deciding whether that counts as success is left to the caller.
package solver

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Stage names, matching the program suffixes of the toolchain.
const (
	StageInitialize  = "initialize"
	StageOptimize    = "optimize"
	StageShrink      = "shrink"
	StageClassify    = "classify"
	StageRestart     = "restart"
	StageRecalculate = "recalculate"
)

// Kernel names accepted by the toolchain.
const (
	KernelGaussian   = "gaussian"
	KernelPolynomial = "polynomial"
	KernelSigmoid    = "sigmoid"
)

// KernelParams selects the kernel and its coefficients. Only the gaussian
// kernel is driven by the classifier; it uses Parameter1 as gamma in
// exp(-gamma * ||x - y||^2).
type KernelParams struct {
	Kernel      string
	Parameter1  float64
	Parameter2  float64
	Parameter3  float64
	HasParam2   bool
	HasParam3   bool
	Regularizer float64
	Biased      bool
}

// InitializeParams builds a zero classifier model from a dataset file.
type InitializeParams struct {
	DatasetFile string
	ModelFile   string
	Multiclass  bool
	KernelParams
}

// OptimizeParams trains the model in place.
type OptimizeParams struct {
	InputModel     string
	OutputModel    string
	Epsilon        float64
	Iterations     int
	SmallClusters  bool
	ActiveClusters int
}

// ShrinkParams drops vectors with a zero dual variable from the model.
type ShrinkParams struct {
	InputModel  string
	OutputModel string
}

// ClassifyParams applies a model to a dataset file and writes one row of
// scores per sample.
type ClassifyParams struct {
	DatasetFile    string
	ModelFile      string
	OutputFile     string
	SmallClusters  bool
	ActiveClusters int
}

// RestartParams resets a model to the zero classifier with new parameters.
type RestartParams struct {
	InputModel  string
	OutputModel string
	KernelParams
}

// RecalculateParams recomputes the running sums kept in a model.
type RecalculateParams struct {
	InputModel     string
	OutputModel    string
	SmallClusters  bool
	ActiveClusters int
}

// Result describes a finished stage process.
type Result struct {
	Stage    string
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Succeeded reports a zero exit status.
func (r *Result) Succeeded() bool {
	return r != nil && r.ExitCode == 0
}

// HasDiagnostics reports whether anything was written to stderr.
func (r *Result) HasDiagnostics() bool {
	return r != nil && len(r.Stderr) > 0
}

// Diagnostics returns the first non-empty stderr line, for messages.
func (r *Result) Diagnostics() string {
	if r == nil {
		return ""
	}
	for _, line := range strings.Split(r.Stderr, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func (r *Result) String() string {
	return fmt.Sprintf("%s exited with status %d", r.Stage, r.ExitCode)
}

// Client runs the toolchain stages. The returned error is non-nil only when
// the stage could not be run at all (missing binary, runtime failure,
// cancelled context).
type Client interface {
	Initialize(ctx context.Context, p InitializeParams) (*Result, error)
	Optimize(ctx context.Context, p OptimizeParams) (*Result, error)
	Shrink(ctx context.Context, p ShrinkParams) (*Result, error)
	Classify(ctx context.Context, p ClassifyParams) (*Result, error)
	Restart(ctx context.Context, p RestartParams) (*Result, error)
	Recalculate(ctx context.Context, p RecalculateParams) (*Result, error)
}

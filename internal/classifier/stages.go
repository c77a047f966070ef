package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gterrors "gtsvmkit/internal/errors"
	"gtsvmkit/pkg/solver"
)

// Stage is one step of a training run.
type Stage interface {
	Name() string
	Execute(ctx context.Context, r *trainingRun) error
}

// trainingRun is the state shared by the stages of one Fit or Refit.
type trainingRun struct {
	client    solver.Client
	runID     string
	dataset   string
	model     string
	params    Params
	mode      Mode
	failed    bool
	diagnosis string
}

// halt marks the run as failed; the remaining stages are skipped.
func (r *trainingRun) halt(diagnosis string) {
	r.failed = true
	r.diagnosis = diagnosis
}

// buildStages returns the stage list for a run. A restart replaces
// initialization and reuses the existing model file.
func buildStages(restart bool, recalculate bool) []Stage {
	var stages []Stage
	if restart {
		stages = append(stages, &restartStage{})
	} else {
		stages = append(stages, &initializeStage{})
	}
	stages = append(stages, &optimizeStage{})
	if recalculate {
		stages = append(stages, &recalculateStage{})
	}
	return append(stages, &shrinkStage{})
}

func runStages(ctx context.Context, stages []Stage, r *trainingRun) error {
	for _, stage := range stages {
		if r.failed {
			slog.Info("Skipping stage after failed run", "stage", stage.Name(), "runId", r.runID)
			continue
		}
		slog.Info("Starting stage", "stage", stage.Name(), "runId", r.runID)
		if err := stage.Execute(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

type initializeStage struct{}

func (s *initializeStage) Name() string { return solver.StageInitialize }

func (s *initializeStage) Execute(ctx context.Context, r *trainingRun) error {
	result, err := r.client.Initialize(ctx, solver.InitializeParams{
		DatasetFile:  r.dataset,
		ModelFile:    r.model,
		Multiclass:   r.mode == ModeMulticlass,
		KernelParams: r.params.kernel(),
	})
	return checkResult(s.Name(), result, err)
}

type restartStage struct{}

func (s *restartStage) Name() string { return solver.StageRestart }

func (s *restartStage) Execute(ctx context.Context, r *trainingRun) error {
	result, err := r.client.Restart(ctx, solver.RestartParams{
		InputModel:   r.model,
		OutputModel:  r.model,
		KernelParams: r.params.kernel(),
	})
	return checkResult(s.Name(), result, err)
}

// optimizeStage never fails the call on tool diagnostics; it decides the
// outcome according to the failure policy instead.
type optimizeStage struct{}

func (s *optimizeStage) Name() string { return solver.StageOptimize }

func (s *optimizeStage) Execute(ctx context.Context, r *trainingRun) error {
	result, err := r.client.Optimize(ctx, solver.OptimizeParams{
		InputModel:     r.model,
		OutputModel:    r.model,
		Epsilon:        r.params.Tolerance,
		Iterations:     r.params.MaxIterations,
		SmallClusters:  r.params.SmallClusters,
		ActiveClusters: r.params.ActiveClusters,
	})
	if err != nil {
		return checkResult(s.Name(), nil, err)
	}

	switch r.params.policy() {
	case PolicyExitCode:
		if !result.Succeeded() {
			slog.Warn("Optimization failed", "runId", r.runID, "exitCode", result.ExitCode, "stderr", result.Diagnostics())
			r.halt(result.String())
			return nil
		}
		if result.HasDiagnostics() {
			slog.Warn("Optimizer reported diagnostics", "runId", r.runID, "stderr", result.Diagnostics())
		}
	default:
		if result.HasDiagnostics() {
			slog.Warn("Optimization failed", "runId", r.runID, "stderr", result.Diagnostics())
			r.halt(result.Diagnostics())
		}
	}
	return nil
}

type recalculateStage struct{}

func (s *recalculateStage) Name() string { return solver.StageRecalculate }

func (s *recalculateStage) Execute(ctx context.Context, r *trainingRun) error {
	result, err := r.client.Recalculate(ctx, solver.RecalculateParams{
		InputModel:     r.model,
		OutputModel:    r.model,
		SmallClusters:  r.params.SmallClusters,
		ActiveClusters: r.params.ActiveClusters,
	})
	return checkResult(s.Name(), result, err)
}

type shrinkStage struct{}

func (s *shrinkStage) Name() string { return solver.StageShrink }

func (s *shrinkStage) Execute(ctx context.Context, r *trainingRun) error {
	result, err := r.client.Shrink(ctx, solver.ShrinkParams{
		InputModel:  r.model,
		OutputModel: r.model,
	})
	return checkResult(s.Name(), result, err)
}

// checkResult turns a stage that could not run, or exited non-zero, into a
// typed error.
func checkResult(stage string, result *solver.Result, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return gterrors.NewStageError(
				fmt.Sprintf("Running the %s stage", stage),
				"the stage was cancelled or timed out",
				"Raise solver.stage_timeout or retry the run",
				err,
			)
		}
		return gterrors.NewUnavailableError(
			fmt.Sprintf("Running the %s stage", stage),
			"the gtsvm_"+stage+" program could not be started",
			"Check solver.bin_dir and that the toolchain is built for this machine",
			err,
		)
	}
	if !result.Succeeded() {
		cause := result.String()
		if d := result.Diagnostics(); d != "" {
			cause = fmt.Sprintf("%s: %s", cause, d)
		}
		return gterrors.NewStageError(
			fmt.Sprintf("Running the %s stage", stage),
			cause,
			"Inspect the program output above; the model or dataset file may be invalid",
			errors.New(cause),
		)
	}
	return nil
}

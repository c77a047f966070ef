// Package classifier exposes the gtsvm toolchain as a fit/predict estimator.
//
// Data goes to the toolchain through files in a private workspace: Fit writes
// the training set and runs initialize, optimize and shrink; Predict writes
// the test set, runs classify and decodes the prediction file.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"gonum.org/v1/gonum/mat"

	gterrors "gtsvmkit/internal/errors"
	"gtsvmkit/internal/svmlight"
	"gtsvmkit/internal/workspace"
	"gtsvmkit/pkg/solver"
)

// placeholderLabel is written on every test row; classify ignores it.
const placeholderLabel = 1

// Classifier is a single-model adapter. It is not safe for concurrent use.
type Classifier struct {
	client  solver.Client
	ws      *workspace.Workspace
	params  Params
	labels  LabelSet
	mode    Mode
	outcome Outcome
}

// New creates a classifier that exchanges files through ws and runs stages
// through client.
func New(client solver.Client, ws *workspace.Workspace, params Params) (*Classifier, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &Classifier{
		client: client,
		ws:     ws,
		params: params,
	}, nil
}

// Load creates a classifier around an existing model file. The mode is
// taken from the prediction output on first use.
func Load(client solver.Client, ws *workspace.Workspace, params Params, modelPath string) (*Classifier, error) {
	c, err := New(client, ws, params)
	if err != nil {
		return nil, err
	}
	if err := ws.ImportModel(modelPath); err != nil {
		return nil, gterrors.NewFileSystemError(
			"Loading model",
			fmt.Sprintf("could not read %s", modelPath),
			"Check that the model file exists and is readable",
			err,
		)
	}
	c.outcome = OutcomeTrained
	return c, nil
}

func (c *Classifier) Outcome() Outcome                { return c.outcome }
func (c *Classifier) Mode() Mode                      { return c.mode }
func (c *Classifier) Labels() LabelSet                { return c.labels }
func (c *Classifier) Params() Params                  { return c.params }
func (c *Classifier) Workspace() *workspace.Workspace { return c.ws }

// Fit trains a model on x and y. Tool diagnostics from optimize do not
// produce an error; they mark the outcome failed, which Predict then
// reports with the sentinel label.
func (c *Classifier) Fit(ctx context.Context, x mat.Matrix, y []int) error {
	rows, _ := x.Dims()
	if rows != len(y) {
		return gterrors.NewDatasetError(
			"Preparing training data",
			fmt.Sprintf("%d samples but %d labels", rows, len(y)),
			"Pass one label per sample",
			fmt.Errorf("label count %d does not match row count %d", len(y), rows),
		)
	}

	c.labels = NewLabelSet(y)
	c.mode = c.labels.Mode()
	c.outcome = OutcomeFailed

	slog.Info("Fitting classifier", "runId", c.ws.RunID, "samples", rows, "classes", len(c.labels), "mode", c.mode.String())

	if err := writeDataset(c.ws.TrainFile, x, y); err != nil {
		return err
	}

	r := c.newRun()
	if err := runStages(ctx, buildStages(false, c.params.Recalculate), r); err != nil {
		return err
	}
	c.finish(r)
	return nil
}

// Refit retrains the existing model with new parameters, starting from the
// zero classifier without rewriting the training file.
func (c *Classifier) Refit(ctx context.Context, params Params) error {
	if c.outcome == OutcomeUntrained || c.mode == ModeUnknown {
		return notFitted("Refitting classifier")
	}
	if err := params.validate(); err != nil {
		return err
	}
	c.params = params
	c.outcome = OutcomeFailed

	slog.Info("Refitting classifier", "runId", c.ws.RunID, "c", params.C, "gamma", params.Gamma)

	r := c.newRun()
	if err := runStages(ctx, buildStages(true, c.params.Recalculate), r); err != nil {
		return err
	}
	c.finish(r)
	return nil
}

// Retrain is Refit with only C and gamma changed. Grid search uses it to
// move a fitted fold to the next cell.
func (c *Classifier) Retrain(ctx context.Context, cost, gamma float64) error {
	params := c.params
	params.C = cost
	params.Gamma = gamma
	return c.Refit(ctx, params)
}

func (c *Classifier) newRun() *trainingRun {
	return &trainingRun{
		client:  c.client,
		runID:   c.ws.RunID,
		dataset: c.ws.TrainFile,
		model:   c.ws.ModelFile,
		params:  c.params,
		mode:    c.mode,
	}
}

func (c *Classifier) finish(r *trainingRun) {
	if r.failed {
		c.outcome = OutcomeFailed
		slog.Info("Training failed", "runId", c.ws.RunID, "reason", r.diagnosis)
		return
	}
	c.outcome = OutcomeTrained
	slog.Info("Training finished", "runId", c.ws.RunID)
}

// Predict returns one label per row of x. If the last training run failed,
// every row gets Labels().Sentinel() and the prediction file is not read.
func (c *Classifier) Predict(ctx context.Context, x mat.Matrix) ([]int, error) {
	if c.outcome == OutcomeUntrained {
		return nil, notFitted("Predicting")
	}

	rows, _ := x.Dims()
	placeholders := make([]int, rows)
	for i := range placeholders {
		placeholders[i] = placeholderLabel
	}
	if err := writeDataset(c.ws.TestFile, x, placeholders); err != nil {
		return nil, err
	}

	result, err := c.client.Classify(ctx, solver.ClassifyParams{
		DatasetFile:    c.ws.TestFile,
		ModelFile:      c.ws.ModelFile,
		OutputFile:     c.ws.PredictFile,
		SmallClusters:  c.params.SmallClusters,
		ActiveClusters: c.params.ActiveClusters,
	})

	if c.outcome == OutcomeFailed {
		sentinel := c.labels.Sentinel()
		slog.Info("Returning sentinel labels for failed training", "runId", c.ws.RunID, "label", sentinel, "samples", rows)
		labels := make([]int, rows)
		for i := range labels {
			labels[i] = sentinel
		}
		return labels, nil
	}

	if err := checkResult(solver.StageClassify, result, err); err != nil {
		return nil, err
	}
	return c.readPredictions(rows)
}

func (c *Classifier) readPredictions(rows int) ([]int, error) {
	mode := c.mode
	if mode == ModeUnknown {
		f, err := os.Open(c.ws.PredictFile)
		if err != nil {
			return nil, malformed(err)
		}
		multiclass, err := svmlight.DetectMode(f)
		f.Close()
		if err != nil {
			return nil, malformed(err)
		}
		mode = ModeBinary
		if multiclass {
			mode = ModeMulticlass
		}
	}

	labels, err := svmlight.ReadLabels(c.ws.PredictFile, mode == ModeMulticlass)
	if err != nil {
		return nil, malformed(err)
	}
	if len(labels) != rows {
		return nil, malformed(fmt.Errorf("prediction file has %d rows for %d samples", len(labels), rows))
	}
	return labels, nil
}

// ExportModel copies the trained model file to dst.
func (c *Classifier) ExportModel(dst string) error {
	if c.outcome != OutcomeTrained {
		return notFitted("Exporting model")
	}
	if err := c.ws.ExportModel(dst); err != nil {
		return gterrors.NewFileSystemError(
			"Exporting model",
			fmt.Sprintf("could not write %s", dst),
			"Check that the destination directory exists and is writable",
			err,
		)
	}
	return nil
}

// Close removes the workspace files. It always returns nil.
func (c *Classifier) Close() error {
	return c.ws.Close()
}

func writeDataset(path string, x mat.Matrix, y []int) error {
	err := svmlight.EncodeFile(path, x, y)
	if err == nil {
		return nil
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return gterrors.NewFileSystemError(
			"Writing dataset file",
			err.Error(),
			"Check that workspace.dir exists and is writable",
			err,
		)
	}
	return gterrors.NewDatasetError(
		"Writing dataset file",
		err.Error(),
		"Make sure every feature value is finite and every sample has a label",
		err,
	)
}

func notFitted(action string) error {
	return gterrors.NewSolverError(gterrors.ErrNotFitted, action, "no model has been trained", "Call Fit first", nil)
}

func malformed(err error) error {
	return gterrors.NewOutputError(
		"Reading predictions",
		err.Error(),
		"The classify stage may have been interrupted; rerun the prediction",
		err,
	)
}

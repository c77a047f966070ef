package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"gtsvmkit/internal/classifier"
	gterrors "gtsvmkit/internal/errors"
	"gtsvmkit/internal/svmlight"
	"gtsvmkit/internal/validation"
)

func newTrainCmd(app *cli) *cobra.Command {
	var folds int
	var seed int64

	cmd := &cobra.Command{
		Use:   "train <train-file> [model-file]",
		Short: "Train a model or estimate its accuracy by cross-validation",
		Long: `Train fits a gaussian-kernel SVM on a sparse-vector data file.

With -v N the data is split into N folds and the cross-validation accuracy is
printed instead. Otherwise the trained model is copied to model-file when one
is given.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, y, err := readDataset(args[0])
			if err != nil {
				return err
			}
			client, err := app.newClient()
			if err != nil {
				return err
			}
			params := app.params()
			ctx := cmd.Context()

			if folds > 0 {
				factory := func() (validation.Estimator, error) {
					c, err := app.newClassifier(client, params)
					if err != nil {
						return nil, err
					}
					return c, nil
				}
				report, err := validation.CrossValidate(ctx, factory, x, y, folds, newRand(seed))
				if err != nil {
					return wrapValidation(err)
				}
				app.console.Println(validation.FormatAccuracy(report.Mean))
				return nil
			}

			c, err := app.newClassifier(client, params)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Fit(ctx, x, y); err != nil {
				return err
			}
			if c.Outcome() == classifier.OutcomeFailed {
				return gterrors.NewStageError(
					"Training the model",
					"the optimizer reported errors",
					"Check the optimizer output logged above, then C, gamma and the tolerance",
					nil,
				)
			}

			if len(args) == 2 {
				if err := c.ExportModel(args[1]); err != nil {
					return err
				}
				app.console.PrintSuccess(fmt.Sprintf("Model written to %s", args[1]))
			} else {
				app.console.PrintWarning("No model file given, the trained model was discarded")
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&folds, "folds", "v", 0, "Number of cross-validation folds")
	cmd.Flags().Float64P("c", "c", 1, "Regularization parameter C")
	cmd.Flags().Float64P("g", "g", 1, "Gaussian kernel width gamma")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Seed for the fold shuffle (default: time based)")
	return cmd
}

func newPredictCmd(app *cli) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "predict <test-file> <model-file>",
		Short: "Classify a data file with a trained model",
		Long: `Predict applies a model written by 'gtsvm train' to a sparse-vector data
file and prints one label per sample. Labels in the data file are ignored.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, _, err := readDataset(args[0])
			if err != nil {
				return err
			}
			client, err := app.newClient()
			if err != nil {
				return err
			}
			ws, err := app.newWorkspace()
			if err != nil {
				return err
			}

			c, err := classifier.Load(client, ws, app.params(), args[1])
			if err != nil {
				ws.Close()
				return err
			}
			defer c.Close()

			labels, err := c.Predict(cmd.Context(), x)
			if err != nil {
				return err
			}
			return writeLabels(app, output, labels)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write labels to this file instead of stdout")
	return cmd
}

func newGridCmd(app *cli) *cobra.Command {
	var folds int
	var seed int64
	var log2c, log2g string

	cmd := &cobra.Command{
		Use:   "grid <train-file>",
		Short: "Search C and gamma by cross-validation",
		Long: `Grid cross-validates every (C, gamma) pair on a base-2 grid and prints the
accuracy of each pair followed by the best one.

Ranges are given as begin,end,step exponents, e.g. --log2c -5,15,2.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cGrid, err := parseGrid(log2c)
			if err != nil {
				return err
			}
			gammaGrid, err := parseGrid(log2g)
			if err != nil {
				return err
			}
			x, y, err := readDataset(args[0])
			if err != nil {
				return err
			}
			client, err := app.newClient()
			if err != nil {
				return err
			}
			base := app.params()

			factory := func(c, gamma float64) (validation.Estimator, error) {
				params := base
				params.C = c
				params.Gamma = gamma
				est, err := app.newClassifier(client, params)
				if err != nil {
					return nil, err
				}
				return est, nil
			}
			onCell := func(cell validation.Cell) {
				app.console.PrintInfo(fmt.Sprintf("c=%g gamma=%g accuracy=%d%%", cell.C, cell.Gamma, int(cell.Accuracy*100)))
			}

			result, err := validation.GridSearch(cmd.Context(), factory, x, y, folds, cGrid, gammaGrid, newRand(seed), onCell)
			if err != nil {
				return wrapValidation(err)
			}
			app.console.PrintSuccess(fmt.Sprintf("Best: c=%g gamma=%g %s",
				result.Best.C, result.Best.Gamma, validation.FormatAccuracy(result.Best.Accuracy)))
			return nil
		},
	}

	cmd.Flags().IntVarP(&folds, "folds", "v", 5, "Number of cross-validation folds")
	cmd.Flags().StringVar(&log2c, "log2c", formatGrid(validation.DefaultCGrid), "C exponent range begin,end,step")
	cmd.Flags().StringVar(&log2g, "log2g", formatGrid(validation.DefaultGammaGrid), "Gamma exponent range begin,end,step")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Seed for the fold shuffle (default: time based)")
	return cmd
}

func newConfigCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(app.cfg)
			if err != nil {
				return fmt.Errorf("failed to render configuration: %w", err)
			}
			_, err = app.out.Write(data)
			return err
		},
	}
}

func readDataset(path string) (*svmlight.Sparse, []int, error) {
	x, y, err := svmlight.DecodeFile(path)
	if err != nil {
		return nil, nil, gterrors.NewDatasetError(
			"Reading data file",
			err.Error(),
			"Use the sparse-vector format: '<label> <index>:<value> ...' with 1-based increasing indices",
			err,
		)
	}
	return x, y, nil
}

func writeLabels(app *cli, path string, labels []int) (err error) {
	out := app.out
	if path != "" {
		f, createErr := os.Create(path)
		if createErr != nil {
			return gterrors.NewFileSystemError(
				"Writing predictions",
				fmt.Sprintf("could not create %s", path),
				"Check that the destination directory exists and is writable",
				createErr,
			)
		}
		defer func() {
			if cerr := f.Close(); err == nil && cerr != nil {
				err = gterrors.NewFileSystemError(
					"Writing predictions",
					fmt.Sprintf("could not close %s", path),
					"Check the free space on the destination device",
					cerr,
				)
			}
		}()
		out = f
	}

	w := bufio.NewWriter(out)
	for _, label := range labels {
		w.WriteString(strconv.Itoa(label))
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return gterrors.NewFileSystemError(
			"Writing predictions",
			err.Error(),
			"Check the free space on the destination device",
			err,
		)
	}
	return nil
}

// wrapValidation keeps typed errors from the classifier and marks the rest,
// which come from fold setup, as dataset problems.
func wrapValidation(err error) error {
	var solverErr *gterrors.SolverError
	if errors.As(err, &solverErr) || errors.Is(err, context.Canceled) {
		return err
	}
	return gterrors.NewDatasetError(
		"Cross-validating",
		err.Error(),
		"Use fewer folds than samples, and at least 2",
		err,
	)
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

func parseGrid(s string) (validation.Grid, error) {
	var g validation.Grid
	if _, err := fmt.Sscanf(s, "%g,%g,%g", &g.Begin, &g.End, &g.Step); err != nil {
		return g, gterrors.NewConfigError(
			"Parsing grid range",
			fmt.Sprintf("%q is not begin,end,step", s),
			"Pass three numbers, e.g. -5,15,2",
			err,
		)
	}
	return g, nil
}

func formatGrid(g validation.Grid) string {
	return fmt.Sprintf("%g,%g,%g", g.Begin, g.End, g.Step)
}

var _ validation.Retrainer = (*classifier.Classifier)(nil)

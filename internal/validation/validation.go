// Package validation scores classifiers by k-fold cross-validation and
// searches the (C, gamma) plane for the best pair.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"gtsvmkit/internal/svmlight"
)

// Estimator is the part of a classifier cross-validation needs.
type Estimator interface {
	Fit(ctx context.Context, x mat.Matrix, y []int) error
	Predict(ctx context.Context, x mat.Matrix) ([]int, error)
	Close() error
}

// EstimatorFactory returns a fresh, untrained estimator.
type EstimatorFactory func() (Estimator, error)

// Retrainer is an Estimator that can train again on the data of its last
// Fit with a new (C, gamma) pair.
type Retrainer interface {
	Estimator
	Retrain(ctx context.Context, c, gamma float64) error
}

// Report holds per-fold accuracies and their mean.
type Report struct {
	Folds []float64
	Mean  float64
}

// KFold splits the indices of y into k stratified folds. The indices of each
// label are shuffled with rng and dealt round-robin across the folds, the
// dealing continuing from one label to the next, so every fold gets a share
// of every label and fold sizes differ by at most one.
func KFold(y []int, k int, rng *rand.Rand) ([][]int, error) {
	n := len(y)
	if k < 2 {
		return nil, fmt.Errorf("need at least 2 folds, got %d", k)
	}
	if k > n {
		return nil, fmt.Errorf("cannot split %d samples into %d folds", n, k)
	}

	byLabel := make(map[int][]int)
	for i, label := range y {
		byLabel[label] = append(byLabel[label], i)
	}
	labels := make([]int, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	folds := make([][]int, k)
	next := 0
	for _, label := range labels {
		group := byLabel[label]
		rng.Shuffle(len(group), func(i, j int) { group[i], group[j] = group[j], group[i] })
		for _, idx := range group {
			folds[next%k] = append(folds[next%k], idx)
			next++
		}
	}
	return folds, nil
}

// Accuracy is the fraction of positions where the labels agree.
func Accuracy(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	c := 0
	for i := range yTrue {
		if i < len(yPred) && yTrue[i] == yPred[i] {
			c++
		}
	}
	return float64(c) / float64(len(yTrue))
}

// FormatAccuracy renders a mean accuracy as a whole percentage, truncated.
func FormatAccuracy(mean float64) string {
	return fmt.Sprintf("Cross Validation Accuracy = %d%%", int(mean*100))
}

// CrossValidate trains and scores one fresh estimator per fold.
func CrossValidate(ctx context.Context, newEstimator EstimatorFactory, x mat.Matrix, y []int, k int, rng *rand.Rand) (*Report, error) {
	rows, _ := x.Dims()
	if rows != len(y) {
		return nil, fmt.Errorf("label count %d does not match row count %d", len(y), rows)
	}
	folds, err := KFold(y, k, rng)
	if err != nil {
		return nil, err
	}
	return crossValidate(ctx, newEstimator, x, y, folds)
}

func crossValidate(ctx context.Context, newEstimator EstimatorFactory, x mat.Matrix, y []int, folds [][]int) (*Report, error) {
	report := &Report{Folds: make([]float64, len(folds))}
	for i := range folds {
		trainIdx, testIdx := split(folds, i)

		acc, err := scoreFold(ctx, newEstimator, x, y, trainIdx, testIdx)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", i+1, err)
		}
		slog.Debug("Fold scored", "fold", i+1, "accuracy", acc)
		report.Folds[i] = acc
	}
	report.Mean = stat.Mean(report.Folds, nil)
	return report, nil
}

func scoreFold(ctx context.Context, newEstimator EstimatorFactory, x mat.Matrix, y []int, trainIdx, testIdx []int) (float64, error) {
	est, err := newEstimator()
	if err != nil {
		return 0, err
	}
	defer est.Close()

	if err := est.Fit(ctx, svmlight.SubsetRows(x, trainIdx), pick(y, trainIdx)); err != nil {
		return 0, err
	}
	pred, err := est.Predict(ctx, svmlight.SubsetRows(x, testIdx))
	if err != nil {
		return 0, err
	}
	return Accuracy(pick(y, testIdx), pred), nil
}

// split returns the indices outside fold i and the indices of fold i.
func split(folds [][]int, i int) (train, test []int) {
	for j, fold := range folds {
		if j == i {
			test = fold
			continue
		}
		train = append(train, fold...)
	}
	return train, test
}

func pick(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for k, i := range idx {
		out[k] = y[i]
	}
	return out
}

// Grid is a range of base-2 exponents, Begin to End inclusive.
type Grid struct {
	Begin float64
	End   float64
	Step  float64
}

// DefaultCGrid and DefaultGammaGrid follow the usual libsvm search ranges.
var (
	DefaultCGrid     = Grid{Begin: -5, End: 15, Step: 2}
	DefaultGammaGrid = Grid{Begin: 3, End: -15, Step: -2}
)

// Values returns 2^e for each exponent of the grid.
func (g Grid) Values() ([]float64, error) {
	if g.Step == 0 || (g.End-g.Begin)*g.Step < 0 {
		return nil, fmt.Errorf("grid %v..%v step %v does not terminate", g.Begin, g.End, g.Step)
	}
	var values []float64
	n := int(math.Floor((g.End-g.Begin)/g.Step + 1e-9))
	for i := 0; i <= n; i++ {
		values = append(values, math.Exp2(g.Begin+float64(i)*g.Step))
	}
	return values, nil
}

// Cell is one scored point of a grid search.
type Cell struct {
	C        float64
	Gamma    float64
	Accuracy float64
}

// SearchResult lists every cell in search order and the best one. Ties keep
// the earliest cell.
type SearchResult struct {
	Cells []Cell
	Best  Cell
}

// ParamEstimatorFactory returns a fresh estimator for a (C, gamma) pair.
type ParamEstimatorFactory func(c, gamma float64) (Estimator, error)

// GridSearch cross-validates every (C, gamma) pair on the same folds. Each
// fold is fitted once; estimators that implement Retrainer are retrained in
// place for the following cells, others are replaced by a fresh estimator.
// onCell, if set, is called after each cell is scored.
func GridSearch(ctx context.Context, newEstimator ParamEstimatorFactory, x mat.Matrix, y []int, k int, cGrid, gammaGrid Grid, rng *rand.Rand, onCell func(Cell)) (*SearchResult, error) {
	cs, err := cGrid.Values()
	if err != nil {
		return nil, fmt.Errorf("invalid C grid: %w", err)
	}
	gammas, err := gammaGrid.Values()
	if err != nil {
		return nil, fmt.Errorf("invalid gamma grid: %w", err)
	}

	rows, _ := x.Dims()
	if rows != len(y) {
		return nil, fmt.Errorf("label count %d does not match row count %d", len(y), rows)
	}
	folds, err := KFold(y, k, rng)
	if err != nil {
		return nil, err
	}

	fitted := make([]Estimator, len(folds))
	defer func() {
		for _, est := range fitted {
			if est != nil {
				est.Close()
			}
		}
	}()

	result := &SearchResult{Best: Cell{Accuracy: -1}}
	for _, c := range cs {
		for _, gamma := range gammas {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			scores := make([]float64, len(folds))
			for i := range folds {
				trainIdx, testIdx := split(folds, i)
				acc, err := scoreCell(ctx, newEstimator, &fitted[i], c, gamma, x, y, trainIdx, testIdx)
				if err != nil {
					return nil, fmt.Errorf("c=%g gamma=%g: fold %d: %w", c, gamma, i+1, err)
				}
				scores[i] = acc
			}

			cell := Cell{C: c, Gamma: gamma, Accuracy: stat.Mean(scores, nil)}
			result.Cells = append(result.Cells, cell)
			if cell.Accuracy > result.Best.Accuracy {
				result.Best = cell
			}
			if onCell != nil {
				onCell(cell)
			}
		}
	}
	return result, nil
}

// scoreCell scores one fold of one grid cell. slot holds the fold's
// estimator between cells.
func scoreCell(ctx context.Context, newEstimator ParamEstimatorFactory, slot *Estimator, c, gamma float64, x mat.Matrix, y []int, trainIdx, testIdx []int) (float64, error) {
	if r, ok := (*slot).(Retrainer); ok {
		if err := r.Retrain(ctx, c, gamma); err != nil {
			return 0, err
		}
	} else {
		if *slot != nil {
			(*slot).Close()
			*slot = nil
		}
		est, err := newEstimator(c, gamma)
		if err != nil {
			return 0, err
		}
		*slot = est
		if err := est.Fit(ctx, svmlight.SubsetRows(x, trainIdx), pick(y, trainIdx)); err != nil {
			return 0, err
		}
	}

	pred, err := (*slot).Predict(ctx, svmlight.SubsetRows(x, testIdx))
	if err != nil {
		return 0, err
	}
	return Accuracy(pick(y, testIdx), pred), nil
}

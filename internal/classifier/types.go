package classifier

import (
	"fmt"
	"sort"

	gterrors "gtsvmkit/internal/errors"
	"gtsvmkit/pkg/solver"
)

// Mode selects how the toolchain is trained and how its output is read.
type Mode int

const (
	// ModeUnknown is the mode of a model that was loaded rather than fitted.
	ModeUnknown Mode = iota
	ModeBinary
	ModeMulticlass
)

func (m Mode) String() string {
	switch m {
	case ModeBinary:
		return "binary"
	case ModeMulticlass:
		return "multiclass"
	default:
		return "unknown"
	}
}

// Outcome records how the last training run ended.
type Outcome int

const (
	OutcomeUntrained Outcome = iota
	OutcomeTrained
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTrained:
		return "trained"
	case OutcomeFailed:
		return "failed"
	default:
		return "untrained"
	}
}

// FailurePolicy decides when the optimize stage counts as failed.
type FailurePolicy string

const (
	// PolicyStderr fails the run on any stderr output and ignores the exit
	// status, which is how the toolchain has always been driven.
	PolicyStderr FailurePolicy = "stderr"
	// PolicyExitCode fails the run on a non-zero exit status and only logs
	// stderr output.
	PolicyExitCode FailurePolicy = "exit-code"
)

// Params configures training. Numeric ranges are checked by the config
// layer; Params are passed to the toolchain as given.
type Params struct {
	C              float64
	Kernel         string
	Gamma          float64
	Tolerance      float64
	MaxIterations  int
	Biased         bool
	SmallClusters  bool
	ActiveClusters int
	Recalculate    bool
	FailurePolicy  FailurePolicy
}

// DefaultParams returns the toolchain defaults with C = 1 and gamma = 1.
func DefaultParams() Params {
	return Params{
		C:             1,
		Kernel:        solver.KernelGaussian,
		Gamma:         1,
		Tolerance:     0.001,
		MaxIterations: 1000000,
		FailurePolicy: PolicyStderr,
	}
}

func (p Params) validate() error {
	if p.Kernel != "" && p.Kernel != solver.KernelGaussian {
		return gterrors.NewConfigError(
			"Validating classifier parameters",
			fmt.Sprintf("kernel %q is not supported", p.Kernel),
			"Use the gaussian kernel",
			fmt.Errorf("unsupported kernel: %s", p.Kernel),
		)
	}
	switch p.FailurePolicy {
	case "", PolicyStderr, PolicyExitCode:
	default:
		return gterrors.NewConfigError(
			"Validating classifier parameters",
			fmt.Sprintf("failure policy %q is not supported", p.FailurePolicy),
			"Use 'stderr' or 'exit-code'",
			fmt.Errorf("unsupported failure policy: %s", p.FailurePolicy),
		)
	}
	return nil
}

func (p Params) policy() FailurePolicy {
	if p.FailurePolicy == "" {
		return PolicyStderr
	}
	return p.FailurePolicy
}

func (p Params) kernel() solver.KernelParams {
	return solver.KernelParams{
		Kernel:      solver.KernelGaussian,
		Parameter1:  p.Gamma,
		Regularizer: p.C,
		Biased:      p.Biased,
	}
}

// LabelSet is the sorted set of distinct training labels.
type LabelSet []int

// NewLabelSet collects the distinct values of y.
func NewLabelSet(y []int) LabelSet {
	seen := make(map[int]bool, len(y))
	var set LabelSet
	for _, label := range y {
		if !seen[label] {
			seen[label] = true
			set = append(set, label)
		}
	}
	sort.Ints(set)
	return set
}

// Mode is multiclass for more than two labels and binary otherwise.
func (s LabelSet) Mode() Mode {
	if len(s) > 2 {
		return ModeMulticlass
	}
	return ModeBinary
}

// Sentinel is a label guaranteed not to be in the set, returned for every
// sample when training failed.
func (s LabelSet) Sentinel() int {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1] + 1
}

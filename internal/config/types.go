package config

import "time"

// Config is the complete gtsvm configuration. It is populated from
// gtsvm.yaml, GTSVM_* environment variables and command line flags, in
// increasing order of precedence.
type Config struct {
	Solver    SolverConfig    `mapstructure:"solver" yaml:"solver"`
	Model     ModelConfig     `mapstructure:"model" yaml:"model"`
	Workspace WorkspaceConfig `mapstructure:"workspace" yaml:"workspace"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// SolverConfig locates the toolchain and decides how it is run.
type SolverConfig struct {
	BinDir        string        `mapstructure:"bin_dir" yaml:"bin_dir"`
	Runtime       string        `mapstructure:"runtime" yaml:"runtime" validate:"required,oneof=local docker"`
	FailurePolicy string        `mapstructure:"failure_policy" yaml:"failure_policy" validate:"required,oneof=stderr exit-code"`
	StageTimeout  time.Duration `mapstructure:"stage_timeout" yaml:"stage_timeout" validate:"gte=0"`
	Docker        DockerConfig  `mapstructure:"docker" yaml:"docker"`
}

// DockerConfig applies when Solver.Runtime is "docker".
type DockerConfig struct {
	Image string `mapstructure:"image" yaml:"image" validate:"required"`
	GPU   bool   `mapstructure:"gpu" yaml:"gpu"`
	Pull  bool   `mapstructure:"pull" yaml:"pull"`
}

// ModelConfig holds the training parameters.
type ModelConfig struct {
	C              float64 `mapstructure:"c" yaml:"c" validate:"gt=0"`
	Kernel         string  `mapstructure:"kernel" yaml:"kernel" validate:"required,oneof=gaussian"`
	Gamma          float64 `mapstructure:"gamma" yaml:"gamma" validate:"gt=0"`
	Tolerance      float64 `mapstructure:"tolerance" yaml:"tolerance" validate:"gt=0"`
	MaxIter        int     `mapstructure:"max_iter" yaml:"max_iter" validate:"min=1"`
	Biased         bool    `mapstructure:"biased" yaml:"biased"`
	SmallClusters  bool    `mapstructure:"small_clusters" yaml:"small_clusters"`
	ActiveClusters int     `mapstructure:"active_clusters" yaml:"active_clusters" validate:"min=0"`
	Recalculate    bool    `mapstructure:"recalculate" yaml:"recalculate"`
}

// WorkspaceConfig sets where per-run files are written. Empty means the
// system temporary directory.
type WorkspaceConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// LogConfig sets the level of the stderr log.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=debug info warn error"`
}

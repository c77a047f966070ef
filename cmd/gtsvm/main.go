package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gtsvmkit/internal/classifier"
	"gtsvmkit/internal/config"
	gterrors "gtsvmkit/internal/errors"
	"gtsvmkit/internal/gtsvm"
	"gtsvmkit/internal/runtime"
	"gtsvmkit/internal/ui"
	"gtsvmkit/internal/workspace"
	"gtsvmkit/pkg/solver"
)

// version is set at build time via ldflags
var version = "dev"

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"runtime":   "solver.runtime",
	"bin-dir":   "solver.bin_dir",
	"work-dir":  "workspace.dir",
	"log-level": "log.level",
	"c":         "model.c",
	"g":         "model.gamma",
}

// cli holds what every subcommand needs once configuration is loaded.
type cli struct {
	v          *viper.Viper
	cfg        *config.Config
	configPath string
	console    *ui.Console
	out        io.Writer
	logOut     io.Writer
}

func newRootCmd(out, errOut io.Writer, console *ui.Console) *cobra.Command {
	app := &cli{
		v:       config.New(),
		console: console,
		out:     out,
		logOut:  errOut,
	}

	rootCmd := &cobra.Command{
		Use:     "gtsvm",
		Short:   "gtsvm - train and apply GPU SVM models with the gtsvm toolchain",
		Version: version,
		Long: `gtsvm drives the gtsvm GPU SVM programs (gtsvm_initialize, gtsvm_optimize,
gtsvm_shrink, gtsvm_classify) through sparse-vector data files, either on this
host or inside a CUDA container.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.load(cmd)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "", "Path to a gtsvm.yaml configuration file")
	rootCmd.PersistentFlags().String("runtime", "local", "Where to run the toolchain: local or docker")
	rootCmd.PersistentFlags().String("bin-dir", gtsvm.DefaultBinDir, "Directory holding the gtsvm_* programs")
	rootCmd.PersistentFlags().String("work-dir", "", "Directory for per-run data files (default: system temp)")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(
		newTrainCmd(app),
		newPredictCmd(app),
		newGridCmd(app),
		newConfigCmd(app),
	)
	return rootCmd
}

// load binds the flags of the running command, reads the configuration and
// installs the logger.
func (a *cli) load(cmd *cobra.Command) error {
	for name, key := range flagKeys {
		if flag := cmd.Flags().Lookup(name); flag != nil {
			if err := a.v.BindPFlag(key, flag); err != nil {
				return fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return gterrors.NewConfigError(
			"Loading configuration",
			err.Error(),
			"Fix the value in gtsvm.yaml, the GTSVM_* environment or the command line flags",
			err,
		)
	}
	a.cfg = cfg

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(a.logOut, &slog.HandlerOptions{Level: level})))
	slog.Debug("Configuration loaded", "runtime", cfg.Solver.Runtime, "binDir", cfg.Solver.BinDir)
	return nil
}

func (a *cli) newClient() (solver.Client, error) {
	factory := runtime.NewFactory(runtime.DockerOptions{
		Image: a.cfg.Solver.Docker.Image,
		GPU:   a.cfg.Solver.Docker.GPU,
		Pull:  a.cfg.Solver.Docker.Pull,
	})
	rt, err := factory.Get(a.cfg.Solver.Runtime)
	if err != nil {
		return nil, gterrors.NewRuntimeError(
			"Starting the solver runtime",
			err.Error(),
			"Check that the Docker daemon is running, or use --runtime local",
			err,
		)
	}
	return gtsvm.NewCommandClient(rt, a.cfg.Solver.BinDir, gtsvm.WithStageTimeout(a.cfg.Solver.StageTimeout)), nil
}

func (a *cli) params() classifier.Params {
	m := a.cfg.Model
	return classifier.Params{
		C:              m.C,
		Kernel:         m.Kernel,
		Gamma:          m.Gamma,
		Tolerance:      m.Tolerance,
		MaxIterations:  m.MaxIter,
		Biased:         m.Biased,
		SmallClusters:  m.SmallClusters,
		ActiveClusters: m.ActiveClusters,
		Recalculate:    m.Recalculate,
		FailurePolicy:  classifier.FailurePolicy(a.cfg.Solver.FailurePolicy),
	}
}

func (a *cli) newWorkspace() (*workspace.Workspace, error) {
	ws, err := workspace.New(a.cfg.Workspace.Dir, nil)
	if err != nil {
		return nil, gterrors.NewFileSystemError(
			"Preparing the workspace",
			err.Error(),
			"Check that workspace.dir is writable",
			err,
		)
	}
	return ws, nil
}

func (a *cli) newClassifier(client solver.Client, params classifier.Params) (*classifier.Classifier, error) {
	ws, err := a.newWorkspace()
	if err != nil {
		return nil, err
	}
	return classifier.New(client, ws, params)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr, ui.NewConsole()).ExecuteContext(ctx)
	stop()
	if err != nil {
		gterrors.HandleError(err)
		os.Exit(1)
	}
}

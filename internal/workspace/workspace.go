// Package workspace manages the per-run files exchanged with the solver
// toolchain.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	trainSuffix   = "-svmcmd-train.dat"
	modelSuffix   = "-svmcmd-train.dat.model"
	testSuffix    = "-svmcmd-test.dat"
	predictSuffix = "-svmcmd-predict.dat"
)

// IDGenerator returns a fresh run id. The id becomes part of file names.
type IDGenerator func() string

// NewRunID returns a random UUID without dashes.
func NewRunID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Workspace holds the four files of one adapter instance, all derived from
// <dir>/<runID>.
type Workspace struct {
	RunID       string
	Dir         string
	TrainFile   string
	ModelFile   string
	TestFile    string
	PredictFile string
}

// New creates a workspace under dir. An empty dir means os.TempDir(); a nil
// generator means NewRunID. The directory is created if missing; no files
// are written.
func New(dir string, gen IDGenerator) (*Workspace, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if gen == nil {
		gen = NewRunID
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace directory %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory %s: %w", abs, err)
	}

	runID := gen()
	if runID == "" || strings.ContainsAny(runID, `/\`) {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}

	base := filepath.Join(abs, runID)
	return &Workspace{
		RunID:       runID,
		Dir:         abs,
		TrainFile:   base + trainSuffix,
		ModelFile:   base + modelSuffix,
		TestFile:    base + testSuffix,
		PredictFile: base + predictSuffix,
	}, nil
}

// Files lists the four paths in a fixed order.
func (w *Workspace) Files() []string {
	return []string{w.TrainFile, w.ModelFile, w.TestFile, w.PredictFile}
}

// Close removes every file of the workspace. Missing files are fine; other
// failures are logged and ignored. It always returns nil.
func (w *Workspace) Close() error {
	for _, path := range w.Files() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Debug("Failed to remove workspace file", "runId", w.RunID, "path", path, "error", err)
		}
	}
	return nil
}

// ExportModel copies the model file to dst, keeping its permissions.
func (w *Workspace) ExportModel(dst string) error {
	if err := copyFile(w.ModelFile, dst); err != nil {
		return fmt.Errorf("failed to export model: %w", err)
	}
	slog.Info("Model exported", "runId", w.RunID, "path", dst)
	return nil
}

// ImportModel copies an existing model file into the workspace so it can be
// used for classification.
func (w *Workspace) ImportModel(src string) error {
	if err := copyFile(src, w.ModelFile); err != nil {
		return fmt.Errorf("failed to import model: %w", err)
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", src, err)
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to get source file info: %w", err)
	}
	if srcInfo.IsDir() {
		return fmt.Errorf("source %s is a directory", src)
	}

	dstFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", dst, err)
	}
	defer func() {
		if cerr := dstFile.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close destination file %s: %w", dst, cerr)
		}
	}()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("failed to copy file content: %w", err)
	}

	return os.Chmod(dst, srcInfo.Mode())
}

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gterrors "gtsvmkit/internal/errors"
	"gtsvmkit/internal/ui"
)

// TestMain lets the tests re-run this binary as the gtsvm command.
func TestMain(m *testing.M) {
	if os.Getenv("GTSVM_TEST_RUN_MAIN") == "1" {
		main()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

const parseArgs = `while [ $# -gt 0 ]; do
  case "$1" in
    -f) data="$2"; shift 2;;
    -o) out="$2"; shift 2;;
    *) shift;;
  esac
done
`

// Rows labelled 1 carry feature 1 = 1, which the fake classifier echoes back.
const trainData = `0 2:0.5
0 2:1.5
0 2:2
1 1:1 2:0.5
1 1:1 2:3
1 1:1
`

// fakeToolchain writes shell stand-ins for the gtsvm programs into a
// directory and returns it.
func fakeToolchain(t *testing.T, optimizeStderr string) string {
	t.Helper()
	if goruntime.GOOS == "windows" {
		t.Skip("fake toolchain needs /bin/sh")
	}

	optimize := "#!/bin/sh\n"
	if optimizeStderr != "" {
		optimize += "echo '" + optimizeStderr + "' >&2\n"
	}

	scripts := map[string]string{
		"gtsvm_initialize": "#!/bin/sh\n" + parseArgs + "echo model > \"$out\"\n",
		"gtsvm_optimize":   optimize,
		"gtsvm_shrink":     "#!/bin/sh\nexit 0\n",
		"gtsvm_restart":    "#!/bin/sh\nexit 0\n",
		"gtsvm_classify": "#!/bin/sh\n" + parseArgs +
			`awk '{ v = 0; if (split($2, a, ":") == 2 && a[1] == 1) v = a[2]; print v }' "$data" > "$out"` + "\n",
	}

	dir := t.TempDir()
	for name, body := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0755))
	}
	return dir
}

func writeData(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.dat")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut, ui.NewPlainConsole(&out, &errOut))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace files should be removed")
}

func TestTrain_CrossValidation(t *testing.T) {
	bin := fakeToolchain(t, "")
	work := t.TempDir()

	out, _, err := execute(t, "train", writeData(t, trainData), "-v", "3", "--seed", "1",
		"--bin-dir", bin, "--work-dir", work)

	require.NoError(t, err)
	assert.Equal(t, "Cross Validation Accuracy = 100%\n", out)
	assertEmptyDir(t, work)
}

func TestTrain_CrossValidationWithFailedOptimizer(t *testing.T) {
	bin := fakeToolchain(t, "Error: The epsilon parameter must be positive")

	// Every training fold holds both labels, so the sentinel 2 never matches.
	out, errOut, err := execute(t, "train", writeData(t, trainData), "-v", "6", "--seed", "1",
		"--bin-dir", bin, "--work-dir", t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, "Cross Validation Accuracy = 0%\n", out)
	assert.Contains(t, errOut, "epsilon parameter must be positive")
}

func TestTrain_ExportsModel(t *testing.T) {
	bin := fakeToolchain(t, "")
	work := t.TempDir()
	model := filepath.Join(t.TempDir(), "out.model")

	out, _, err := execute(t, "train", writeData(t, trainData), model, "-c", "8", "-g", "0.5",
		"--bin-dir", bin, "--work-dir", work)

	require.NoError(t, err)
	assert.Contains(t, out, "Model written to "+model)

	data, err := os.ReadFile(model)
	require.NoError(t, err)
	assert.Equal(t, "model\n", string(data))
	assertEmptyDir(t, work)
}

func TestTrain_WithoutModelFile(t *testing.T) {
	bin := fakeToolchain(t, "")
	work := t.TempDir()

	out, errOut, err := execute(t, "train", writeData(t, trainData), "--bin-dir", bin, "--work-dir", work)

	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "Warning: No model file given")
	assertEmptyDir(t, work)
}

func TestTrain_FailedOptimizerIsAnError(t *testing.T) {
	bin := fakeToolchain(t, "Error: out of memory")

	_, _, err := execute(t, "train", writeData(t, trainData), "--bin-dir", bin, "--work-dir", t.TempDir())

	require.Error(t, err)
	assert.True(t, errors.Is(err, gterrors.ErrStageFailed))
}

func TestTrain_MissingToolchain(t *testing.T) {
	_, _, err := execute(t, "train", writeData(t, trainData), "--bin-dir", t.TempDir(), "--work-dir", t.TempDir())

	require.Error(t, err)
	assert.True(t, errors.Is(err, gterrors.ErrSolverUnavailable))
}

func TestTrain_BadDataset(t *testing.T) {
	_, _, err := execute(t, "train", writeData(t, "1 0:1\n"), "--bin-dir", t.TempDir())

	require.Error(t, err)
	assert.True(t, errors.Is(err, gterrors.ErrDatasetInvalid))
}

func TestTrain_TooManyFolds(t *testing.T) {
	bin := fakeToolchain(t, "")

	_, _, err := execute(t, "train", writeData(t, trainData), "-v", "10", "--bin-dir", bin, "--work-dir", t.TempDir())

	require.Error(t, err)
	assert.True(t, errors.Is(err, gterrors.ErrDatasetInvalid))
}

func TestPredict(t *testing.T) {
	bin := fakeToolchain(t, "")
	model := filepath.Join(t.TempDir(), "saved.model")
	require.NoError(t, os.WriteFile(model, []byte("model\n"), 0644))
	work := t.TempDir()

	out, _, err := execute(t, "predict", writeData(t, trainData), model, "--bin-dir", bin, "--work-dir", work)

	require.NoError(t, err)
	assert.Equal(t, "0\n0\n0\n1\n1\n1\n", out)
	assertEmptyDir(t, work)
}

func TestPredict_OutputFile(t *testing.T) {
	bin := fakeToolchain(t, "")
	model := filepath.Join(t.TempDir(), "saved.model")
	require.NoError(t, os.WriteFile(model, []byte("model\n"), 0644))
	labels := filepath.Join(t.TempDir(), "labels.txt")

	out, _, err := execute(t, "predict", writeData(t, "0 1:1\n0 2:1\n"), model, "-o", labels,
		"--bin-dir", bin, "--work-dir", t.TempDir())

	require.NoError(t, err)
	assert.Empty(t, out)
	data, err := os.ReadFile(labels)
	require.NoError(t, err)
	assert.Equal(t, "1\n0\n", string(data))
}

func TestWriteLabels(t *testing.T) {
	var out bytes.Buffer
	app := &cli{out: &out}

	require.NoError(t, writeLabels(app, "", []int{2, 0}))
	assert.Equal(t, "2\n0\n", out.String())

	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, writeLabels(app, path, []int{1}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1\n", string(data))

	err = writeLabels(app, filepath.Join(t.TempDir(), "missing", "labels.txt"), []int{1})
	assert.True(t, errors.Is(err, gterrors.ErrFileSystemFailed))
}

func TestWriteLabels_DeviceFull(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}

	err := writeLabels(&cli{}, "/dev/full", []int{1, 2, 3})
	assert.True(t, errors.Is(err, gterrors.ErrFileSystemFailed))
}

func TestPredict_MissingModel(t *testing.T) {
	bin := fakeToolchain(t, "")

	_, _, err := execute(t, "predict", writeData(t, trainData), filepath.Join(t.TempDir(), "none.model"),
		"--bin-dir", bin, "--work-dir", t.TempDir())

	require.Error(t, err)
	assert.True(t, errors.Is(err, gterrors.ErrFileSystemFailed))
}

func TestGrid(t *testing.T) {
	bin := fakeToolchain(t, "")

	work := t.TempDir()

	out, _, err := execute(t, "grid", writeData(t, trainData), "-v", "2", "--seed", "1",
		"--log2c", "0,1,1", "--log2g=-1,-1,1", "--bin-dir", bin, "--work-dir", work)

	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "c=1 gamma=0.5 accuracy=100%", lines[0])
	assert.Equal(t, "c=2 gamma=0.5 accuracy=100%", lines[1])
	assert.Equal(t, "Best: c=1 gamma=0.5 Cross Validation Accuracy = 100%", lines[2])
	assertEmptyDir(t, work)
}

func TestGrid_BadRange(t *testing.T) {
	_, _, err := execute(t, "grid", writeData(t, trainData), "--log2c", "nope")

	require.Error(t, err)
	assert.True(t, errors.Is(err, gterrors.ErrConfigInvalid))
}

func TestConfig(t *testing.T) {
	out, _, err := execute(t, "config", "--bin-dir", "/opt/gtsvm/bin", "--log-level", "debug")

	require.NoError(t, err)
	assert.Contains(t, out, "bin_dir: /opt/gtsvm/bin")
	assert.Contains(t, out, "level: debug")
	assert.Contains(t, out, "kernel: gaussian")
}

func TestConfig_Invalid(t *testing.T) {
	_, _, err := execute(t, "config", "--runtime", "podman")

	require.Error(t, err)
	assert.True(t, errors.Is(err, gterrors.ErrConfigInvalid))
	assert.Contains(t, err.Error(), "solver.runtime")
}

func TestConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model:\n  c: 16\n"), 0644))

	out, _, err := execute(t, "config", "--config", path)

	require.NoError(t, err)
	assert.Contains(t, out, "c: 16")
}

func runMain(t *testing.T, logDir string, args ...string) (string, error) {
	t.Helper()
	cmd := exec.Command(os.Args[0], args...)
	cmd.Dir = t.TempDir()
	cmd.Env = append(os.Environ(), "GTSVM_TEST_RUN_MAIN=1", "GTSVM_LOG_DIR="+logDir)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func TestMain_ErrorReporting(t *testing.T) {
	logDir := t.TempDir()

	output, err := runMain(t, logDir, "config", "--runtime", "podman")

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "expected a non-zero exit, got %v", err)
	assert.Equal(t, 1, exitErr.ExitCode())

	for _, part := range []string{
		"Error: Loading configuration",
		"Cause:",
		"solver.runtime",
		"Suggestion:",
	} {
		assert.Contains(t, output, part)
	}

	logData, err := os.ReadFile(filepath.Join(logDir, "gtsvm.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), `"type":"config_invalid"`)
}

func TestMain_DatasetErrorReporting(t *testing.T) {
	logDir := t.TempDir()

	output, err := runMain(t, logDir, "train", filepath.Join(t.TempDir(), "missing.dat"))

	require.Error(t, err)
	assert.Contains(t, output, "Error: Reading data file")
	assert.Contains(t, output, "failed to open")

	logData, err := os.ReadFile(filepath.Join(logDir, "gtsvm.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), `"type":"dataset_invalid"`)
}

func TestMain_Success(t *testing.T) {
	output, err := runMain(t, t.TempDir(), "config")

	require.NoError(t, err)
	assert.Contains(t, output, "runtime: local")
}

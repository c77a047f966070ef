package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func useLogDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "logs")
	t.Setenv(LogDirEnv, dir)
	return dir
}

func TestNewErrorHandler(t *testing.T) {
	useLogDir(t)

	handler, err := NewErrorHandler()
	if err != nil {
		t.Fatalf("NewErrorHandler() failed: %v", err)
	}
	if handler.logger == nil {
		t.Error("ErrorHandler.logger is nil")
	}
	if handler.console == nil {
		t.Error("ErrorHandler.console is nil")
	}
}

func TestErrorHandler_Handle_SolverError(t *testing.T) {
	logDir := useLogDir(t)

	handler, err := NewErrorHandler()
	if err != nil {
		t.Fatalf("NewErrorHandler() failed: %v", err)
	}

	handler.Handle(NewStageError(
		"gtsvm_initialize exited with status 1",
		"Error: You must provide a dataset file",
		"Check solver.bin_dir",
		errors.New("initialize: exit status 1"),
	))

	data, err := os.ReadFile(filepath.Join(logDir, logFileName))
	if err != nil {
		t.Fatalf("log file was not created: %v", err)
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &record); err != nil {
		t.Fatalf("log record is not JSON: %v\n%s", err, data)
	}
	if record["type"] != "stage_failed" {
		t.Errorf("type = %v, want stage_failed", record["type"])
	}
	if record["cause"] != "Error: You must provide a dataset file" {
		t.Errorf("cause = %v", record["cause"])
	}
}

func TestErrorHandler_Handle_GenericError(t *testing.T) {
	logDir := useLogDir(t)

	handler, err := NewErrorHandler()
	if err != nil {
		t.Fatalf("NewErrorHandler() failed: %v", err)
	}

	handler.Handle(errors.New("generic test error"))

	data, err := os.ReadFile(filepath.Join(logDir, logFileName))
	if err != nil {
		t.Fatalf("log file was not created: %v", err)
	}
	if !strings.Contains(string(data), `"type":"generic"`) {
		t.Errorf("log record missing generic type: %s", data)
	}
}

func TestErrorHandler_Handle_NilError(t *testing.T) {
	useLogDir(t)

	handler, err := NewErrorHandler()
	if err != nil {
		t.Fatalf("NewErrorHandler() failed: %v", err)
	}

	// Handle nil error should not panic
	handler.Handle(nil)
}

func TestHandleError_DefaultHandler(t *testing.T) {
	logDir := useLogDir(t)
	resetDefaultHandler()
	defer resetDefaultHandler()

	HandleError(errors.New("test error for HandleError"))

	if _, err := os.Stat(filepath.Join(logDir, logFileName)); os.IsNotExist(err) {
		t.Error("Log file was not created by HandleError")
	}
}

func TestErrorTypeName(t *testing.T) {
	tests := []struct {
		errorType error
		expected  string
	}{
		{ErrConfigInvalid, "config_invalid"},
		{ErrDatasetInvalid, "dataset_invalid"},
		{ErrSolverUnavailable, "solver_unavailable"},
		{ErrStageFailed, "stage_failed"},
		{ErrMalformedOutput, "malformed_output"},
		{ErrFileSystemFailed, "filesystem_failed"},
		{ErrNotFitted, "not_fitted"},
		{ErrRuntimeFailed, "runtime_failed"},
		{errors.New("other"), "unknown"},
	}

	for _, test := range tests {
		if got := errorTypeName(test.errorType); got != test.expected {
			t.Errorf("errorTypeName(%v) = %q, want %q", test.errorType, got, test.expected)
		}
	}
}

func TestSolverError_IsAndUnwrap(t *testing.T) {
	original := errors.New("exit status 1")
	err := fmt.Errorf("training failed: %w", NewStageError("ctx", "cause", "", original))

	if !errors.Is(err, ErrStageFailed) {
		t.Error("errors.Is(err, ErrStageFailed) = false, want true")
	}
	if errors.Is(err, ErrMalformedOutput) {
		t.Error("errors.Is(err, ErrMalformedOutput) = true, want false")
	}
	if !errors.Is(err, original) {
		t.Error("original error is not reachable through Unwrap")
	}
	if got := err.Error(); got != "training failed: exit status 1" {
		t.Errorf("Error() = %q", got)
	}
}

func TestSolverError_NilOriginal(t *testing.T) {
	err := NewSolverError(ErrNotFitted, "predict called before fit", "", "", nil)
	if err.Error() != ErrNotFitted.Error() {
		t.Errorf("Error() = %q, want %q", err.Error(), ErrNotFitted.Error())
	}
}

func TestErrorConstructors(t *testing.T) {
	originalErr := errors.New("test error")

	tests := []struct {
		name         string
		constructor  func(string, string, string, error) *SolverError
		expectedType error
	}{
		{"NewConfigError", NewConfigError, ErrConfigInvalid},
		{"NewDatasetError", NewDatasetError, ErrDatasetInvalid},
		{"NewUnavailableError", NewUnavailableError, ErrSolverUnavailable},
		{"NewStageError", NewStageError, ErrStageFailed},
		{"NewOutputError", NewOutputError, ErrMalformedOutput},
		{"NewFileSystemError", NewFileSystemError, ErrFileSystemFailed},
		{"NewRuntimeError", NewRuntimeError, ErrRuntimeFailed},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.constructor("context", "cause", "suggestion", originalErr)

			if err.Type != test.expectedType {
				t.Errorf("%s created error with type %v, want %v", test.name, err.Type, test.expectedType)
			}
			if err.Context != "context" || err.Cause != "cause" || err.Suggestion != "suggestion" {
				t.Errorf("%s dropped message fields: %+v", test.name, err)
			}
			if err.OriginalErr != originalErr {
				t.Errorf("%s created error with originalErr %v, want %v", test.name, err.OriginalErr, originalErr)
			}
		})
	}
}

func TestLogDir(t *testing.T) {
	t.Run("environment variable override", func(t *testing.T) {
		t.Setenv(LogDirEnv, "/custom/log/dir")

		result, err := logDir()
		if err != nil {
			t.Fatalf("logDir() failed: %v", err)
		}
		if result != "/custom/log/dir" {
			t.Errorf("logDir() = %q, want %q", result, "/custom/log/dir")
		}
	})

	t.Run("platform-specific directories", func(t *testing.T) {
		t.Setenv(LogDirEnv, "")

		result, err := logDir()
		if err != nil {
			t.Fatalf("logDir() failed: %v", err)
		}

		homeDir, _ := os.UserHomeDir()
		switch runtime.GOOS {
		case "linux", "freebsd", "openbsd", "netbsd":
			want := filepath.Join(homeDir, ".local", "share", "gtsvm", "logs")
			if result != want {
				t.Errorf("logDir() = %q, want %q", result, want)
			}
		case "darwin":
			want := filepath.Join(homeDir, "Library", "Logs", "gtsvm")
			if result != want {
				t.Errorf("logDir() = %q, want %q", result, want)
			}
		}
	})
}

func TestCheckLogRotation(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, logFileName)

	if err := checkLogRotation(logPath); err != nil {
		t.Errorf("checkLogRotation on missing file returned %v", err)
	}

	if err := os.WriteFile(logPath, []byte("small"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := checkLogRotation(logPath); err != nil {
		t.Fatalf("checkLogRotation() failed: %v", err)
	}
	if _, err := os.Stat(logPath + ".1"); !os.IsNotExist(err) {
		t.Error("small log file should not be rotated")
	}

	if err := os.Truncate(logPath, maxLogBytes); err != nil {
		t.Fatal(err)
	}
	if err := checkLogRotation(logPath); err != nil {
		t.Fatalf("checkLogRotation() failed: %v", err)
	}
	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Errorf("expected rotated file: %v", err)
	}
	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Error("current log should have been moved away")
	}
}

func TestRotateLogFile_DropsOldest(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, logFileName)

	write := func(path, content string) {
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
	write(logPath, "current")
	for i := 1; i <= maxRotatedLogs; i++ {
		write(fmt.Sprintf("%s.%d", logPath, i), fmt.Sprintf("gen-%d", i))
	}

	if err := rotateLogFile(logPath); err != nil {
		t.Fatalf("rotateLogFile() failed: %v", err)
	}

	got, _ := os.ReadFile(logPath + ".1")
	if string(got) != "current" {
		t.Errorf(".1 = %q, want %q", got, "current")
	}
	got, _ = os.ReadFile(fmt.Sprintf("%s.%d", logPath, maxRotatedLogs))
	if string(got) != fmt.Sprintf("gen-%d", maxRotatedLogs-1) {
		t.Errorf(".%d = %q, want gen-%d", maxRotatedLogs, got, maxRotatedLogs-1)
	}
}

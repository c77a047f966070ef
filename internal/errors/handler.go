package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"gtsvmkit/internal/ui"
)

const (
	// LogDirEnv overrides the directory the error log is written to.
	LogDirEnv = "GTSVM_LOG_DIR"

	logFileName    = "gtsvm.log"
	maxLogBytes    = 10 * 1024 * 1024
	maxRotatedLogs = 5
)

// ErrorHandler records errors as structured JSON in the error log and renders
// them for the terminal.
type ErrorHandler struct {
	logger  *slog.Logger
	console *ui.Console
}

func NewErrorHandler() (*ErrorHandler, error) {
	logFile, err := createLogFile()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	return &ErrorHandler{
		logger:  logger,
		console: ui.NewConsole(),
	}, nil
}

// logDir returns the OS-standard log directory, or the GTSVM_LOG_DIR override.
func logDir() (string, error) {
	if dir := os.Getenv(LogDirEnv); dir != "" {
		return dir, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Logs", "gtsvm"), nil
	case "linux", "freebsd", "openbsd", "netbsd":
		return filepath.Join(homeDir, ".local", "share", "gtsvm", "logs"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "gtsvm", "logs"), nil
		}
		return filepath.Join(homeDir, "AppData", "Roaming", "gtsvm", "logs"), nil
	default:
		return filepath.Join(homeDir, ".gtsvm", "logs"), nil
	}
}

// writableLogDir creates the log directory, falling back to the working
// directory when it cannot be written.
func writableLogDir() (string, error) {
	dir, err := logDir()
	if err == nil {
		if err = os.MkdirAll(dir, 0750); err == nil {
			probe := filepath.Join(dir, ".test_write")
			var f *os.File
			if f, err = os.Create(probe); err == nil {
				f.Close()
				os.Remove(probe)
				return dir, nil
			}
		}
	}

	cwd, cwdErr := os.Getwd()
	if cwdErr != nil {
		return "", fmt.Errorf("cannot determine current directory for fallback logging: %w", cwdErr)
	}
	fmt.Fprintf(os.Stderr, "Warning: cannot use log directory %q (%v). Falling back to current directory for logging.\n", dir, err)
	return cwd, nil
}

// rotateLogFile shifts gtsvm.log -> .1 -> .2 ... dropping the oldest.
func rotateLogFile(logPath string) error {
	oldest := fmt.Sprintf("%s.%d", logPath, maxRotatedLogs)
	if _, err := os.Stat(oldest); err == nil {
		if err := os.Remove(oldest); err != nil {
			slog.Warn("Failed to remove old log file", "path", oldest, "error", err)
		}
	}

	for i := maxRotatedLogs - 1; i > 0; i-- {
		from := fmt.Sprintf("%s.%d", logPath, i)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		to := fmt.Sprintf("%s.%d", logPath, i+1)
		if err := os.Rename(from, to); err != nil {
			slog.Warn("Failed to rotate log file", "old", from, "new", to, "error", err)
		}
	}

	if _, err := os.Stat(logPath); err == nil {
		return os.Rename(logPath, logPath+".1")
	}
	return nil
}

func checkLogRotation(logPath string) error {
	info, err := os.Stat(logPath)
	if err != nil {
		return nil
	}
	if info.Size() >= maxLogBytes {
		return rotateLogFile(logPath)
	}
	return nil
}

func createLogFile() (*os.File, error) {
	dir, err := writableLogDir()
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(dir, logFileName)
	if err := checkLogRotation(logPath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to rotate log file: %v\n", err)
	}

	return os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}

func (h *ErrorHandler) Handle(err error) {
	if err == nil {
		return
	}

	var solverErr *SolverError
	if errors.As(err, &solverErr) {
		h.logStructuredError(solverErr)
		h.console.PrintError(h.console.FormatErrorMessage(solverErr.Context, solverErr.Cause, solverErr.Suggestion))
		return
	}

	h.logger.Error("Unhandled error occurred",
		"error", err.Error(),
		"type", "generic",
	)
	h.console.PrintError(err.Error())
}

func (h *ErrorHandler) logStructuredError(err *SolverError) {
	attrs := []slog.Attr{
		slog.String("error", err.Error()),
		slog.String("type", errorTypeName(err.Type)),
		slog.String("context", err.Context),
	}
	if err.Cause != "" {
		attrs = append(attrs, slog.String("cause", err.Cause))
	}
	if err.Suggestion != "" {
		attrs = append(attrs, slog.String("suggestion", err.Suggestion))
	}

	h.logger.LogAttrs(context.Background(), slog.LevelError, "gtsvm error occurred", attrs...)
}

func errorTypeName(errType error) string {
	switch errType {
	case ErrConfigInvalid:
		return "config_invalid"
	case ErrDatasetInvalid:
		return "dataset_invalid"
	case ErrSolverUnavailable:
		return "solver_unavailable"
	case ErrStageFailed:
		return "stage_failed"
	case ErrMalformedOutput:
		return "malformed_output"
	case ErrFileSystemFailed:
		return "filesystem_failed"
	case ErrNotFitted:
		return "not_fitted"
	case ErrRuntimeFailed:
		return "runtime_failed"
	default:
		return "unknown"
	}
}

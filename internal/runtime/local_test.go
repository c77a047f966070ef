package runtime

import (
	"context"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"gtsvmkit/pkg/runtime"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Idle keep-alive connections left by the Docker client ping.
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

// writeScript creates an executable shell script in dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if goruntime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("Failed to write script: %s", err)
	}
	return path
}

func TestLocalRuntime_Run(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name       string
		body       string
		args       []string
		wantExit   int
		wantStdout string
		wantStderr string
	}{
		{
			name:       "Success with stdout",
			body:       `echo "optimized $1"`,
			args:       []string{"model.dat"},
			wantStdout: "optimized model.dat\n",
		},
		{
			name:       "Diagnostics on stderr",
			body:       `echo "Error: You must provide an input file" >&2`,
			wantStderr: "Error: You must provide an input file\n",
		},
		{
			name:       "Non-zero exit",
			body:       `echo "boom" >&2; exit 3`,
			wantExit:   3,
			wantStderr: "boom\n",
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := writeScript(t, dir, "tool"+string(rune('a'+i)), tt.body)

			result, err := NewLocalRuntime().Run(context.Background(), runtime.RunOptions{
				Command: append([]string{script}, tt.args...),
			})
			if err != nil {
				t.Fatalf("Unexpected error: %s", err)
			}
			if result.ExitCode != tt.wantExit {
				t.Errorf("ExitCode = %d, want %d", result.ExitCode, tt.wantExit)
			}
			if result.Stdout != tt.wantStdout {
				t.Errorf("Stdout = %q, want %q", result.Stdout, tt.wantStdout)
			}
			if result.Stderr != tt.wantStderr {
				t.Errorf("Stderr = %q, want %q", result.Stderr, tt.wantStderr)
			}
		})
	}
}

func TestLocalRuntime_EnvAndWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "env", `echo "$GTSVM_TEST_VALUE"; pwd`)

	result, err := NewLocalRuntime().Run(context.Background(), runtime.RunOptions{
		Command:          []string{script},
		EnvVars:          map[string]string{"GTSVM_TEST_VALUE": "42"},
		WorkingDirectory: dir,
	})
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
	if len(lines) != 2 || lines[0] != "42" {
		t.Fatalf("Unexpected output: %q", result.Stdout)
	}
	resolved, _ := filepath.EvalSymlinks(dir)
	if lines[1] != dir && lines[1] != resolved {
		t.Errorf("pwd = %q, want %q", lines[1], dir)
	}
}

func TestLocalRuntime_MissingBinary(t *testing.T) {
	_, err := NewLocalRuntime().Run(context.Background(), runtime.RunOptions{
		Command: []string{filepath.Join(t.TempDir(), "gtsvm_initialize")},
	})
	if err == nil {
		t.Fatal("Expected error for missing binary, got nil")
	}
	if !strings.Contains(err.Error(), "failed to run") {
		t.Errorf("Unexpected error: %s", err)
	}
}

func TestLocalRuntime_EmptyCommand(t *testing.T) {
	if _, err := NewLocalRuntime().Run(context.Background(), runtime.RunOptions{}); err == nil {
		t.Fatal("Expected error for empty command")
	}
}

func TestLocalRuntime_Cancelled(t *testing.T) {
	script := writeScript(t, t.TempDir(), "hang", `exec sleep 30`)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewLocalRuntime().Run(ctx, runtime.RunOptions{Command: []string{script}})
	if err == nil {
		t.Fatal("Expected error from cancelled command")
	}
	if time.Since(start) > 10*time.Second {
		t.Errorf("cancellation took %s", time.Since(start))
	}
}

package gateways

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
)

func TestToolchainRunner_Run_Success(t *testing.T) {
	r := NewToolchainRunner(nil)

	result, err := r.Run(context.Background(), gateways.CommandSpec{
		Name: "/bin/sh",
		Args: []string{"-c", "echo 'Hello, World!'"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.ExitCode != 0 {
		t.Errorf("Run() exit code = %d, want 0", result.ExitCode)
	}

	if result.Stdout != "Hello, World!\n" {
		t.Errorf("Run() stdout = %q, want %q", result.Stdout, "Hello, World!\n")
	}
}

func TestToolchainRunner_Run_Failure(t *testing.T) {
	r := NewToolchainRunner(nil)

	result, err := r.Run(context.Background(), gateways.CommandSpec{
		Name: "/bin/sh",
		Args: []string{"-c", "echo boom >&2; exit 42"},
	})
	if err == nil {
		t.Fatal("Run() should have failed")
	}

	if result.ExitCode != 42 {
		t.Errorf("Run() exit code = %d, want 42", result.ExitCode)
	}

	if !strings.Contains(result.Stderr, "boom") {
		t.Errorf("Run() stderr = %q, want to contain boom", result.Stderr)
	}
}

func TestToolchainRunner_Run_WithEnvironmentAndLog(t *testing.T) {
	r := NewToolchainRunner(nil)
	var log bytes.Buffer

	result, err := r.Run(context.Background(), gateways.CommandSpec{
		Name:      "/bin/sh",
		Args:      []string{"-c", "echo $TEST_VAR"},
		Env:       map[string]string{"TEST_VAR": "test_value"},
		LogWriter: &log,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Stdout != "test_value\n" {
		t.Errorf("Run() stdout = %q, want %q", result.Stdout, "test_value\n")
	}

	if log.String() != "test_value\n" {
		t.Errorf("log writer got %q", log.String())
	}
}

func TestToolchainRunner_Run_Timeout(t *testing.T) {
	r := NewToolchainRunner(nil)

	result, err := r.Run(context.Background(), gateways.CommandSpec{
		Name:    "/bin/sh",
		Args:    []string{"-c", "sleep 5"},
		Timeout: 100 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("Run() should have timed out")
	}

	if result.ExitCode != -1 {
		t.Errorf("Run() exit code = %d, want -1 after timeout", result.ExitCode)
	}
	if !strings.Contains(err.Error(), "timed out") || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want a timeout", err)
	}
}

func TestToolchainRunner_Run_Interrupted(t *testing.T) {
	r := NewToolchainRunner(nil)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := r.Run(ctx, gateways.CommandSpec{Name: "/bin/sh", Args: []string{"-c", "sleep 5"}})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestToolchainRunner_Run_MissingBinary(t *testing.T) {
	r := NewToolchainRunner(nil)

	result, err := r.Run(context.Background(), gateways.CommandSpec{Name: "definitely-not-a-real-tool-xyz"})
	if err == nil {
		t.Fatal("Run() should fail for a missing binary")
	}

	if result.ExitCode != -1 {
		t.Errorf("Run() exit code = %d, want -1", result.ExitCode)
	}
}

func TestDisplayCommandRedactsSecrets(t *testing.T) {
	spec := gateways.CommandSpec{
		Name:   "xcrun",
		Args:   []string{"notarytool", "history", "--apple-id", "dev@example.com", "--password", "abcd-efgh-ijkl-mnop"},
		Redact: []string{"abcd-efgh-ijkl-mnop", ""},
	}

	got := DisplayCommand(spec)

	if strings.Contains(got, "abcd-efgh-ijkl-mnop") {
		t.Errorf("DisplayCommand() leaked secret: %s", got)
	}
	if !strings.Contains(got, "--password ******") {
		t.Errorf("DisplayCommand() = %s", got)
	}
}

func TestTailLines(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		n        int
		expected string
	}{
		{"fewer lines than n", "a\nb", 5, "a\nb"},
		{"exactly n", "a\nb\nc", 3, "a\nb\nc"},
		{"more than n", "1\n2\n3\n4\n5\n", 2, "4\n5"},
		{"empty", "", 3, ""},
		{"crlf", "a\r\nb\r\nc\r\n", 2, "b\nc"},
		{"oversized line", "head\n" + strings.Repeat("x", 2*1024*1024) + "\nerror: archive failed", 1, "error: archive failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TailLines(tt.input, tt.n); got != tt.expected {
				t.Errorf("TailLines() = %q, want %q", got, tt.expected)
			}
		})
	}
}

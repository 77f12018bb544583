package toolexec_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"refinebox/internal/services"
	"refinebox/internal/toolexec"
)

func TestRunCapturesOutput(t *testing.T) {
	runner := toolexec.NewExecRunner(nil)
	var streamed []string
	res, err := runner.Run(context.Background(), toolexec.Command{
		Binary: "sh",
		Args:   []string{"-c", "echo hello; echo warn >&2"},
		OnLine: func(stream, line string) { streamed = append(streamed, stream+":"+line) },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("unexpected exit code %d", res.ExitCode)
	}
	if res.Stdout != "hello" || res.Stderr != "warn" {
		t.Fatalf("unexpected capture stdout=%q stderr=%q", res.Stdout, res.Stderr)
	}
	if len(streamed) != 2 {
		t.Fatalf("expected two streamed lines, got %v", streamed)
	}
}

func TestRunNonZeroExitIsToolFailure(t *testing.T) {
	runner := toolexec.NewExecRunner(nil)
	_, err := runner.Run(context.Background(), toolexec.Command{
		Binary: "sh",
		Args:   []string{"-c", "echo 'pipeline exploded' >&2; exit 3"},
	})
	var failure *toolexec.ToolFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected ToolFailure, got %v", err)
	}
	if failure.ExitCode != 3 {
		t.Fatalf("unexpected exit code %d", failure.ExitCode)
	}
	if !strings.Contains(failure.Stderr, "pipeline exploded") {
		t.Fatalf("stderr not captured: %q", failure.Stderr)
	}
	if !strings.Contains(err.Error(), "status 3") || !strings.Contains(err.Error(), "pipeline exploded") {
		t.Fatalf("error message missing detail: %v", err)
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool marker, got %v", err)
	}
	if services.ErrorKind(err) != "external_tool" {
		t.Fatalf("unexpected kind %q", services.ErrorKind(err))
	}
}

func TestRunMissingBinary(t *testing.T) {
	runner := toolexec.NewExecRunner(nil)
	_, err := runner.Run(context.Background(), toolexec.Command{Binary: "clearly-not-present-binary"})
	var failure *toolexec.ToolFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected ToolFailure, got %v", err)
	}
	if failure.ExitCode != -1 {
		t.Fatalf("expected exit code -1 for start failure, got %d", failure.ExitCode)
	}
}

func TestRunHonoursWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker.pipe"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	runner := toolexec.NewExecRunner(nil)
	res, err := runner.Run(context.Background(), toolexec.Command{
		Binary: "sh",
		Args:   []string{"-c", "ls"},
		Dir:    dir,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(res.Stdout, "marker.pipe") {
		t.Fatalf("expected command to run inside %s, got %q", dir, res.Stdout)
	}
}

func TestRunTimeout(t *testing.T) {
	runner := toolexec.NewExecRunner(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := runner.Run(ctx, toolexec.Command{Binary: "sh", Args: []string{"-c", "exec sleep 5"}})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if kind := services.ErrorKind(err); kind != "timeout" {
		t.Fatalf("expected timeout kind, got %q (%v)", kind, err)
	}
}

func TestCommandString(t *testing.T) {
	cmd := toolexec.Command{
		Binary: "kwiver",
		Args:   []string{"runner", "x.pipe", "--setting", "input:video_filename=/tmp/my list.txt"},
	}
	want := "kwiver runner x.pipe --setting 'input:video_filename=/tmp/my list.txt'"
	if got := cmd.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

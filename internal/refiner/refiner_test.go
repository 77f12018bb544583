package refiner_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"refinebox/internal/config"
	"refinebox/internal/logging"
	"refinebox/internal/refiner"
	"refinebox/internal/services"
	"refinebox/internal/testsupport"
	"refinebox/internal/toolexec"
)

type stubRunner struct {
	calls  []toolexec.Command
	result toolexec.Result
	err    error
	// writeOutput creates the file named by detector_writer when set.
	writeOutput string
}

func (s *stubRunner) Run(_ context.Context, cmd toolexec.Command) (toolexec.Result, error) {
	s.calls = append(s.calls, cmd)
	if s.writeOutput != "" {
		for _, arg := range cmd.Args {
			if path, ok := strings.CutPrefix(arg, "detector_writer:file_name="); ok {
				if err := writeFile(path, s.writeOutput); err != nil {
					return toolexec.Result{}, err
				}
			}
		}
	}
	return s.result, s.err
}

func newRequest(dir string) refiner.Request {
	return refiner.Request{
		ManifestPath:   filepath.Join(dir, "temp", "image_list.txt"),
		AnnotationPath: filepath.Join(dir, "2019", "sealions_2019.viame.csv"),
		OutputPath:     filepath.Join(dir, "output", "utility_add_segmentations_watershed_2019.csv"),
	}
}

func TestCommandMatchesPipelineContract(t *testing.T) {
	cfg := config.Default().Pipeline
	r, err := refiner.New(cfg, "/pipelines", logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cmd, err := r.Command(refiner.Request{
		Method:         "utility_add_segmentations_watershed.pipe",
		ManifestPath:   "/tmp/list.txt",
		AnnotationPath: "/data/ann.csv",
		OutputPath:     "/out/res.csv",
	})
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	want := []string{
		"runner", "utility_add_segmentations_watershed.pipe",
		"--setting", "input:video_filename=/tmp/list.txt",
		"--setting", "detector_writer:file_name=/out/res.csv",
		"--setting", "detection_reader:file_name=/data/ann.csv",
	}
	if cmd.Binary != "kwiver" || cmd.Dir != "/pipelines" || strings.Join(cmd.Args, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected command %+v", cmd)
	}
}

func TestCommandWrapsDebugger(t *testing.T) {
	r, err := refiner.New(config.Default().Pipeline, "/pipelines", nil, refiner.WithDebug(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cmd, err := r.Command(refiner.Request{ManifestPath: "m", AnnotationPath: "a", OutputPath: "o"})
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if cmd.Binary != "gdb" {
		t.Fatalf("expected gdb wrapper, got %s", cmd.Binary)
	}
	prefix := []string{"-ex", "run", "--args", "kwiver", "runner", "utility_add_segmentations_watershed.pipe"}
	if strings.Join(cmd.Args[:len(prefix)], " ") != strings.Join(prefix, " ") {
		t.Fatalf("unexpected debugger args %v", cmd.Args)
	}
}

func TestCommandRequiresPaths(t *testing.T) {
	r, err := refiner.New(config.Default().Pipeline, "/pipelines", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.Command(refiner.Request{ManifestPath: "m", AnnotationPath: "a"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRefineSucceedsWhenOutputWritten(t *testing.T) {
	dir := t.TempDir()
	runner := &stubRunner{writeOutput: "1,a.jpg,0\n"}
	r, err := refiner.New(config.Default().Pipeline, dir, nil, refiner.WithRunner(runner))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	req := newRequest(dir)
	if _, err := r.Refine(context.Background(), req); err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("expected one invocation, got %d", len(runner.calls))
	}
	if got := testsupport.ReadText(t, req.OutputPath); got != "1,a.jpg,0\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestRefineFailsWithoutOutput(t *testing.T) {
	dir := t.TempDir()
	r, err := refiner.New(config.Default().Pipeline, dir, nil, refiner.WithRunner(&stubRunner{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = r.Refine(context.Background(), newRequest(dir))
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestRefineSurfacesToolFailure(t *testing.T) {
	dir := t.TempDir()
	binDir := filepath.Join(dir, "bin")
	kwiver := testsupport.StubBinary(t, binDir, "kwiver", "echo 'pipeline definition not found' >&2\nexit 3\n")

	cfg := config.Default().Pipeline
	cfg.Binary = kwiver
	r, err := refiner.New(cfg, dir, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err := r.Refine(context.Background(), newRequest(dir))
	var failure *toolexec.ToolFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected ToolFailure, got %v", err)
	}
	if failure.ExitCode != 3 || result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d/%d", failure.ExitCode, result.ExitCode)
	}
	if !strings.Contains(failure.Stderr, "pipeline definition not found") {
		t.Fatalf("stderr not captured: %q", failure.Stderr)
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool marker, got %v", err)
	}
}

func TestRefineRunsInPipelineDirectory(t *testing.T) {
	dir := t.TempDir()
	pipelines := filepath.Join(dir, "pipelines")
	testsupport.WriteText(t, filepath.Join(pipelines, "m.pipe"), "config")
	// The stub copies the pipe file name it was given into the output, proving
	// the relative path resolved against the pipeline directory.
	kwiver := testsupport.StubBinary(t, filepath.Join(dir, "bin"), "kwiver", `pipe="$2"
test -f "$pipe" || exit 4
for arg in "$@"; do
  case "$arg" in
    detector_writer:file_name=*) cat "$pipe" > "${arg#detector_writer:file_name=}" ;;
  esac
done
`)
	cfg := config.Default().Pipeline
	cfg.Binary = kwiver
	cfg.Method = "m"
	r, err := refiner.New(cfg, pipelines, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	req := newRequest(dir)
	if _, err := r.Refine(context.Background(), req); err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if got := testsupport.ReadText(t, req.OutputPath); got != "config" {
		t.Fatalf("unexpected output %q", got)
	}
}

package archive_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"refinebox/internal/archive"
	"refinebox/internal/config"
	"refinebox/internal/services"
	"refinebox/internal/testsupport"
	"refinebox/internal/toolexec"
)

type recordingRunner struct {
	calls []string
	fail  map[string]error
}

func (r *recordingRunner) Run(_ context.Context, cmd toolexec.Command) (toolexec.Result, error) {
	line := strings.Join(cmd.Args, " ")
	r.calls = append(r.calls, line)
	for prefix, err := range r.fail {
		if strings.HasPrefix(line, prefix) {
			return toolexec.Result{ExitCode: 1}, err
		}
	}
	return toolexec.Result{}, nil
}

func newArchive(t *testing.T, runner toolexec.Runner) (*archive.Archive, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default().Archive
	cfg.Enabled = true
	cfg.Dir = root
	return archive.New(cfg, nil, archive.WithRunner(runner)), root
}

func TestSyncUnprotectsCopiesAndAdds(t *testing.T) {
	runner := &recordingRunner{}
	a, root := newArchive(t, runner)
	src := filepath.Join(t.TempDir(), "out.kwcoco.json")
	testsupport.WriteText(t, src, "{}\n")
	dst := filepath.Join(root, "2019", "sealions_2019_grabcut.kwcoco.json")
	testsupport.WriteText(t, dst, "old")

	result, err := a.Sync(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	want := []string{
		"unprotect " + dst,
		"--cd " + filepath.Dir(dst) + " add sealions_2019_grabcut.kwcoco.json",
	}
	if strings.Join(runner.calls, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected dvc calls:\n%s", strings.Join(runner.calls, "\n"))
	}
	if got := testsupport.ReadText(t, dst); got != "{}\n" {
		t.Fatalf("destination not replaced: %q", got)
	}
	if result.Bytes != 3 || result.SHA256 == "" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestSyncToleratesUnprotectFailure(t *testing.T) {
	runner := &recordingRunner{fail: map[string]error{"unprotect": errors.New("not tracked")}}
	a, root := newArchive(t, runner)
	src := filepath.Join(t.TempDir(), "out.csv")
	testsupport.WriteText(t, src, "1,a.jpg,0\n")
	dst := filepath.Join(root, "2019", "out.viame.csv")
	testsupport.WriteText(t, dst, "old")

	if _, err := a.Sync(context.Background(), src, dst); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("expected unprotect and add, got %v", runner.calls)
	}
}

func TestSyncSkipsUnprotectForNewFile(t *testing.T) {
	runner := &recordingRunner{}
	a, root := newArchive(t, runner)
	src := filepath.Join(t.TempDir(), "out.csv")
	testsupport.WriteText(t, src, "x")
	dst := filepath.Join(root, "2020", "new.viame.csv")

	if _, err := a.Sync(context.Background(), src, dst); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(runner.calls) != 1 || !strings.Contains(runner.calls[0], " add new.viame.csv") {
		t.Fatalf("expected only add, got %v", runner.calls)
	}
}

func TestSyncReportsAddFailure(t *testing.T) {
	failure := &toolexec.ToolFailure{Result: toolexec.Result{Command: "dvc add", ExitCode: 255}}
	runner := &recordingRunner{fail: map[string]error{"--cd": failure}}
	a, root := newArchive(t, runner)
	src := filepath.Join(t.TempDir(), "out.csv")
	testsupport.WriteText(t, src, "x")

	_, err := a.Sync(context.Background(), src, filepath.Join(root, "2019", "x.csv"))
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestRewriteWrapsEdit(t *testing.T) {
	runner := &recordingRunner{}
	a, root := newArchive(t, runner)
	path := filepath.Join(root, "2019", "sealions_2019.viame.csv")
	testsupport.WriteText(t, path, "x")

	edited := false
	if err := a.Rewrite(context.Background(), path, func() error {
		if len(runner.calls) != 1 || !strings.HasPrefix(runner.calls[0], "unprotect ") {
			t.Fatalf("expected unprotect before edit, got %v", runner.calls)
		}
		edited = true
		return nil
	}); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if !edited || len(runner.calls) != 2 {
		t.Fatalf("expected edit followed by add, got %v", runner.calls)
	}

	boom := errors.New("boom")
	runner.calls = nil
	if err := a.Rewrite(context.Background(), path, func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected rewrite error, got %v", err)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("add must not run after failed edit, got %v", runner.calls)
	}
}

func TestDisabledArchiveIsNoop(t *testing.T) {
	runner := &recordingRunner{}
	a := archive.New(config.Default().Archive, nil, archive.WithRunner(runner))
	ctx := context.Background()
	if a.Enabled() {
		t.Fatal("expected disabled archive")
	}
	if _, err := a.Sync(ctx, "/missing/src", "/missing/dst"); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := a.Unprotect(ctx, "/missing"); err != nil {
		t.Fatalf("Unprotect: %v", err)
	}
	if err := a.Add(ctx, "/missing"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ran := false
	if err := a.Rewrite(ctx, "/missing", func() error { ran = true; return nil }); err != nil || !ran {
		t.Fatalf("Rewrite should still run the edit: ran=%v err=%v", ran, err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("expected no dvc calls, got %v", runner.calls)
	}
}

func TestSyncWithStubbedDVC(t *testing.T) {
	base := t.TempDir()
	logPath := filepath.Join(base, "dvc.log")
	dvc := testsupport.StubBinary(t, filepath.Join(base, "bin"), "dvc", `echo "$@" >> "`+logPath+`"
`)
	root := filepath.Join(base, "archive")
	cfg := config.Archive{Enabled: true, Binary: dvc, Dir: root}
	a := archive.New(cfg, nil)

	src := filepath.Join(base, "out.csv")
	testsupport.WriteText(t, src, "1,a.jpg,0\n")
	dst := filepath.Join(root, "2019", "sealions_2019_grabcut.viame.csv")
	testsupport.WriteText(t, dst, "old")

	if _, err := a.Sync(context.Background(), src, dst); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	log := testsupport.ReadText(t, logPath)
	want := "unprotect " + dst + "\n--cd " + filepath.Dir(dst) + " add sealions_2019_grabcut.viame.csv\n"
	if log != want {
		t.Fatalf("unexpected dvc log:\n%q\nwant:\n%q", log, want)
	}
	if _, err := os.Stat(filepath.Join(root, ".refinebox.lock")); err != nil {
		t.Fatalf("expected lock file: %v", err)
	}
}

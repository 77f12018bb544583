package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"refinebox/internal/archive"
	"refinebox/internal/config"
	"refinebox/internal/refiner"
	"refinebox/internal/runstore"
	"refinebox/internal/services"
	"refinebox/internal/testsupport"
	"refinebox/internal/toolexec"
	"refinebox/internal/workflow"
)

const episodeRows = `# header
0,img_b.jpg,7,0,0,5,5,0.9,-1,Pup,0.8
1,img_a.jpg,3,1,1,6,6,0.7,-1,Adult Male,0.6
2,img_b.jpg,7,2,2,8,8,0.5,-1,Pup,0.4
`

// stubRefiner writes the annotation rows (optionally trimmed) as the output.
type stubRefiner struct {
	requests []refiner.Request
	dropRows int
	failFor  string
}

func (s *stubRefiner) Refine(_ context.Context, req refiner.Request) (toolexec.Result, error) {
	s.requests = append(s.requests, req)
	if s.failFor != "" && strings.Contains(req.OutputPath, s.failFor) {
		return toolexec.Result{ExitCode: 1}, &toolexec.ToolFailure{Result: toolexec.Result{Command: "kwiver", ExitCode: 1}}
	}
	data, err := os.ReadFile(req.AnnotationPath)
	if err != nil {
		return toolexec.Result{}, err
	}
	lines := strings.SplitAfter(strings.TrimSuffix(string(data), "\n"), "\n")
	lines = lines[:len(lines)-s.dropRows]
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return toolexec.Result{}, err
	}
	return toolexec.Result{}, os.WriteFile(req.OutputPath, []byte(strings.Join(lines, "")+"\n"), 0o644)
}

type recordingRunner struct {
	calls []string
}

func (r *recordingRunner) Run(_ context.Context, cmd toolexec.Command) (toolexec.Result, error) {
	r.calls = append(r.calls, strings.Join(cmd.Args, " "))
	return toolexec.Result{}, nil
}

func runOptions(cfg *config.Config) workflow.Options {
	opts := workflow.OptionsFromConfig(cfg)
	opts.RunPipeline = true
	opts.CheckOutputCounts = true
	return opts
}

func TestRunProcessesEpisodesAndRecordsLedger(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.Episode(t, cfg.Paths.InputDir, "2019_a", episodeRows)
	testsupport.Episode(t, cfg.Paths.InputDir, "2019_b", episodeRows)
	if err := os.MkdirAll(filepath.Join(cfg.Paths.InputDir, "2019_c"), 0o755); err != nil {
		t.Fatal(err)
	}

	stub := &stubRefiner{}
	ledger := testsupport.MustOpenLedger(t, cfg)
	var seen []string
	mgr, err := workflow.NewManager(cfg, runOptions(cfg), nil,
		workflow.WithRefiner(stub),
		workflow.WithLedger(ledger),
		workflow.WithOutcomeHandler(func(o workflow.EpisodeOutcome) { seen = append(seen, o.Episode) }),
	)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	summary, err := mgr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Join(seen, ",") != "2019_a,2019_b,2019_c" {
		t.Fatalf("unexpected episode order %v", seen)
	}
	counts := summary.Counts()
	if counts[runstore.StatusProcessed] != 2 || counts[runstore.StatusSkipped] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
	if summary.Failed() {
		t.Fatal("expected no failures")
	}

	first := summary.Outcomes[0]
	wantOutput := filepath.Join(cfg.Paths.OutputDir, cfg.Pipeline.Method+"_2019_a.csv")
	if first.OutputPath != wantOutput {
		t.Fatalf("output path = %q, want %q", first.OutputPath, wantOutput)
	}
	if first.AnnotationLines != 4 || first.OutputLines != 4 {
		t.Fatalf("unexpected line counts %+v", first)
	}
	if _, err := os.Stat(first.DatasetPath); err != nil {
		t.Fatalf("dataset not written: %v", err)
	}
	if len(stub.requests) != 2 || stub.requests[0].ManifestPath != cfg.Paths.ImageListFile {
		t.Fatalf("unexpected refine requests %+v", stub.requests)
	}

	manifest := testsupport.ReadText(t, cfg.Paths.ImageListFile)
	if !strings.Contains(manifest, filepath.Join(cfg.Paths.InputDir, "2019_b", "img_b.jpg")) {
		t.Fatalf("manifest should hold the last episode's images:\n%s", manifest)
	}

	run, err := ledger.GetRun(context.Background(), summary.RunID)
	if err != nil || run == nil {
		t.Fatalf("GetRun: %v %v", run, err)
	}
	if !run.Finished() || run.Counts[runstore.StatusProcessed] != 2 || run.Counts[runstore.StatusSkipped] != 1 {
		t.Fatalf("unexpected ledger run %+v", run)
	}
}

func TestRunMarksMismatchedEpisodes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.Episode(t, cfg.Paths.InputDir, "2020", episodeRows)

	mgr, err := workflow.NewManager(cfg, runOptions(cfg), nil, workflow.WithRefiner(&stubRefiner{dropRows: 1}))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	summary, err := mgr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	outcome := summary.Outcomes[0]
	if outcome.Status != runstore.StatusMismatched || outcome.Delta() != 1 {
		t.Fatalf("expected mismatched outcome with delta 1, got %+v", outcome)
	}
}

func TestRunContinuesAfterRefineFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.Episode(t, cfg.Paths.InputDir, "2019_a", episodeRows)
	testsupport.Episode(t, cfg.Paths.InputDir, "2019_b", episodeRows)

	mgr, err := workflow.NewManager(cfg, runOptions(cfg), nil, workflow.WithRefiner(&stubRefiner{failFor: "2019_a"}))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	summary, err := mgr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	failed := summary.Outcomes[0]
	if failed.Status != runstore.StatusFailed || failed.Stage != "refine" {
		t.Fatalf("expected refine failure, got %+v", failed)
	}
	if !errors.Is(failed.Err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", failed.Err)
	}
	if summary.Outcomes[1].Status != runstore.StatusProcessed {
		t.Fatalf("second episode should still be processed: %+v", summary.Outcomes[1])
	}
}

func TestRunFixFramesNormalizesAnnotation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, annotation := testsupport.Episode(t, cfg.Paths.InputDir, "2021", episodeRows)

	opts := workflow.OptionsFromConfig(cfg)
	opts.FixFrames = true
	mgr, err := workflow.NewManager(cfg, opts, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	summary, err := mgr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Outcomes[0].Status != runstore.StatusProcessed {
		t.Fatalf("unexpected outcome %+v", summary.Outcomes[0])
	}
	got := testsupport.ReadText(t, annotation)
	if !strings.Contains(got, "0,img_b.jpg,0,") || !strings.Contains(got, "1,img_a.jpg,1,") || !strings.Contains(got, "2,img_b.jpg,0,") {
		t.Fatalf("frames not renumbered:\n%s", got)
	}
}

func TestRunFolderIndexSelectsOneEpisode(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.Episode(t, cfg.Paths.InputDir, "a", episodeRows)
	testsupport.Episode(t, cfg.Paths.InputDir, "b", episodeRows)

	opts := workflow.OptionsFromConfig(cfg)
	index := 1
	opts.FolderIndex = &index
	mgr, err := workflow.NewManager(cfg, opts, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	summary, err := mgr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Outcomes) != 1 || summary.Outcomes[0].Episode != "b" {
		t.Fatalf("unexpected outcomes %+v", summary.Outcomes)
	}

	index = 5
	mgr, err = workflow.NewManager(cfg, opts, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := mgr.Run(context.Background()); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for out-of-range index, got %v", err)
	}
}

func TestRunConvertOnlyWritesDatasetBesideAnnotation(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithArchive())
	_, annotation := testsupport.Episode(t, cfg.Paths.InputDir, "2022", episodeRows)
	testsupport.Episode(t, cfg.Paths.InputDir, "2023", episodeRows)
	output := filepath.Join(cfg.Paths.OutputDir, cfg.Pipeline.Method+"_2022.csv")
	testsupport.WriteText(t, output, episodeRows)

	runner := &recordingRunner{}
	arch := archive.New(cfg.Archive, nil, archive.WithRunner(runner))
	opts := workflow.OptionsFromConfig(cfg)
	opts.ConvertOnly = true
	mgr, err := workflow.NewManager(cfg, opts, nil, workflow.WithArchive(arch))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	summary, err := mgr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	converted := summary.Outcomes[0]
	wantDataset := strings.TrimSuffix(annotation, ".viame.csv") + "_watershed.kwcoco.json"
	if converted.Status != runstore.StatusProcessed || converted.DatasetPath != wantDataset {
		t.Fatalf("unexpected convert outcome %+v", converted)
	}
	if _, err := os.Stat(wantDataset); err != nil {
		t.Fatalf("dataset missing: %v", err)
	}
	if len(runner.calls) != 1 || !strings.HasSuffix(runner.calls[0], "add "+filepath.Base(wantDataset)) {
		t.Fatalf("expected a single dvc add, got %v", runner.calls)
	}

	missing := summary.Outcomes[1]
	if missing.Status != runstore.StatusFailed || !errors.Is(missing.Err, services.ErrNotFound) {
		t.Fatalf("expected missing output failure, got %+v", missing)
	}
}

func TestRunSyncsResultsIntoArchive(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithArchive())
	_, annotation := testsupport.Episode(t, cfg.Paths.InputDir, "2024", episodeRows)

	runner := &recordingRunner{}
	arch := archive.New(cfg.Archive, nil, archive.WithRunner(runner))
	mgr, err := workflow.NewManager(cfg, runOptions(cfg), nil,
		workflow.WithRefiner(&stubRefiner{}),
		workflow.WithArchive(arch),
	)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	summary, err := mgr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Outcomes[0].Status != runstore.StatusProcessed {
		t.Fatalf("unexpected outcome %+v", summary.Outcomes[0])
	}

	base := strings.TrimSuffix(annotation, ".viame.csv") + "_watershed"
	for _, path := range []string{base + ".kwcoco.json", base + ".viame.csv"} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected synced file %s: %v", path, err)
		}
	}
	if len(runner.calls) != 2 {
		t.Fatalf("expected two dvc adds, got %v", runner.calls)
	}
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.Episode(t, cfg.Paths.InputDir, "a", episodeRows)

	mgr, err := workflow.NewManager(cfg, workflow.OptionsFromConfig(cfg), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := mgr.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(summary.Outcomes) != 0 {
		t.Fatalf("expected no outcomes, got %+v", summary.Outcomes)
	}
}

func TestOptionsValidate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	opts := workflow.OptionsFromConfig(cfg)
	opts.ConvertOnly = true
	opts.RunPipeline = true
	if err := opts.Validate(); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	opts = workflow.OptionsFromConfig(cfg)
	opts.Method = " "
	if err := opts.Validate(); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for empty method, got %v", err)
	}
}

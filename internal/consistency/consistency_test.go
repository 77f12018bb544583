package consistency_test

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"refinebox/internal/config"
	"refinebox/internal/consistency"
	"refinebox/internal/episode"
	"refinebox/internal/testsupport"
)

func TestCountLines(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name    string
		content string
		want    int
	}{
		{"empty", "", 0},
		{"trailing newline", "a\nb\n", 2},
		{"no trailing newline", "a\nb", 2},
		{"single line", "a", 1},
		{"blank lines", "\n\n", 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".csv")
			testsupport.WriteText(t, path, tc.content)
			got, err := consistency.CountLines(path)
			if err != nil {
				t.Fatalf("CountLines: %v", err)
			}
			if got != tc.want {
				t.Fatalf("CountLines(%q) = %d, want %d", tc.content, got, tc.want)
			}
		})
	}
}

func TestCompareReportsDelta(t *testing.T) {
	dir := t.TempDir()
	ann := filepath.Join(dir, "a.csv")
	out := filepath.Join(dir, "o.csv")
	testsupport.WriteText(t, ann, "1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n")
	testsupport.WriteText(t, out, "1\n2\n3\n4\n5\n6\n7\n8\n")

	reports := consistency.Compare([]consistency.Pair{
		{Episode: "2019", AnnotationPath: ann, OutputPath: out},
		{Episode: "same", AnnotationPath: ann, OutputPath: ann},
		{Episode: "gone", AnnotationPath: ann, OutputPath: filepath.Join(dir, "missing.csv")},
	})
	if len(reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(reports))
	}
	if reports[0].Delta != 2 || reports[0].AnnotationLines != 10 || reports[0].OutputLines != 8 {
		t.Fatalf("unexpected report %+v", reports[0])
	}
	if !reports[1].Consistent() {
		t.Fatalf("expected consistent report, got %+v", reports[1])
	}
	if reports[2].Err == nil {
		t.Fatal("expected error for missing output")
	}

	mismatched := consistency.Mismatched(reports)
	if len(mismatched) != 2 || mismatched[0].Episode != "2019" || mismatched[1].Episode != "gone" {
		t.Fatalf("unexpected mismatches %+v", mismatched)
	}
}

func TestPairByEpisodeMatchesByName(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "annotations")
	outDir := filepath.Join(base, "output")
	_, ann2017 := testsupport.Episode(t, root, "2017", "1,a.jpg,0\n")
	_, ann2019 := testsupport.Episode(t, root, "2019", "1,a.jpg,0\n")
	testsupport.WriteText(t, filepath.Join(outDir, "watershed_2019.csv"), "x\n")
	testsupport.WriteText(t, filepath.Join(outDir, "watershed_2017.csv"), "x\n")
	testsupport.WriteText(t, filepath.Join(outDir, "grabcut_2017.csv"), "x\n")
	testsupport.WriteText(t, filepath.Join(outDir, "notes.txt"), "x\n")

	pairs, err := consistency.PairByEpisode(root, outDir, "watershed", episode.NewFinder(config.Default().Discovery))
	if err != nil {
		t.Fatalf("PairByEpisode: %v", err)
	}
	want := []consistency.Pair{
		{Episode: "2017", AnnotationPath: ann2017, OutputPath: filepath.Join(outDir, "watershed_2017.csv")},
		{Episode: "2019", AnnotationPath: ann2019, OutputPath: filepath.Join(outDir, "watershed_2019.csv")},
	}
	if len(pairs) != len(want) {
		t.Fatalf("expected %d pairs, got %+v", len(want), pairs)
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Fatalf("pair %d = %+v, want %+v", i, pairs[i], want[i])
		}
	}
}

func TestPairByEpisodeReportsUnpaired(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "annotations")
	outDir := filepath.Join(base, "output")
	testsupport.Episode(t, root, "2017", "1,a.jpg,0\n")
	testsupport.Episode(t, root, "2018", "1,a.jpg,0\n")
	testsupport.WriteText(t, filepath.Join(outDir, "m_2017.csv"), "x\n")
	testsupport.WriteText(t, filepath.Join(outDir, "m_2021.csv"), "x\n")

	pairs, err := consistency.PairByEpisode(root, outDir, "m", episode.NewFinder(config.Default().Discovery))
	if !errors.Is(err, consistency.ErrUnpairedEpisode) {
		t.Fatalf("expected ErrUnpairedEpisode, got %v", err)
	}
	var unpaired *consistency.UnpairedError
	if !errors.As(err, &unpaired) {
		t.Fatalf("expected *UnpairedError, got %T", err)
	}
	if len(unpaired.MissingOutputs) != 1 || unpaired.MissingOutputs[0] != "2018" {
		t.Fatalf("unexpected missing outputs %v", unpaired.MissingOutputs)
	}
	if len(unpaired.OrphanOutputs) != 1 || unpaired.OrphanOutputs[0] != "2021" {
		t.Fatalf("unexpected orphan outputs %v", unpaired.OrphanOutputs)
	}
	if len(pairs) != 1 || pairs[0].Episode != "2017" {
		t.Fatalf("expected matched pair to survive, got %+v", pairs)
	}
}

func TestPairByEpisodeWithoutMethodUsesKnownSuffix(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "annotations")
	outDir := filepath.Join(base, "output")
	testsupport.Episode(t, root, "2019_06_14", "1,a.jpg,0\n")
	testsupport.WriteText(t, filepath.Join(outDir, "utility_add_segmentations_watershed_2019_06_14.csv"), "x\n")

	pairs, err := consistency.PairByEpisode(root, outDir, "", episode.NewFinder(config.Default().Discovery))
	if err != nil {
		t.Fatalf("PairByEpisode: %v", err)
	}
	if len(pairs) != 1 || pairs[0].Episode != "2019_06_14" {
		t.Fatalf("unexpected pairs %+v", pairs)
	}
}

func TestPairByEpisodeWithoutMethodReportsAmbiguousOutputs(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "annotations")
	outDir := filepath.Join(base, "output")
	testsupport.Episode(t, root, "2019", "1,a.jpg,0\n")
	testsupport.Episode(t, root, "2020", "1,a.jpg,0\n")
	testsupport.WriteText(t, filepath.Join(outDir, "utility_add_segmentations_grabcut_2019.csv"), "x\n")
	testsupport.WriteText(t, filepath.Join(outDir, "utility_add_segmentations_watershed_2019.csv"), "x\ny\n")
	testsupport.WriteText(t, filepath.Join(outDir, "utility_add_segmentations_watershed_2020.csv"), "x\n")

	pairs, err := consistency.PairByEpisode(root, outDir, "", episode.NewFinder(config.Default().Discovery))
	if !errors.Is(err, consistency.ErrUnpairedEpisode) {
		t.Fatalf("expected ErrUnpairedEpisode, got %v", err)
	}
	var unpaired *consistency.UnpairedError
	if !errors.As(err, &unpaired) {
		t.Fatalf("expected *UnpairedError, got %T", err)
	}
	if len(unpaired.Ambiguous) != 1 || unpaired.Ambiguous[0] != "2019" {
		t.Fatalf("unexpected ambiguous episodes %v", unpaired.Ambiguous)
	}
	if len(unpaired.MissingOutputs) != 0 || len(unpaired.OrphanOutputs) != 0 {
		t.Fatalf("unexpected unpaired sides %+v", unpaired)
	}
	if !strings.Contains(err.Error(), "several outputs for 2019") {
		t.Fatalf("error does not name the ambiguous episode: %v", err)
	}
	if len(pairs) != 1 || pairs[0].Episode != "2020" {
		t.Fatalf("expected only 2020 to pair, got %+v", pairs)
	}
}

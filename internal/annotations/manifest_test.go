package annotations_test

import (
	"os"
	"path/filepath"
	"testing"

	"refinebox/internal/annotations"
	"refinebox/internal/testsupport"
)

func TestWriteManifestUniqueInAppearanceOrder(t *testing.T) {
	base := t.TempDir()
	ann := filepath.Join(base, "ann.csv")
	testsupport.WriteText(t, ann, "1,c.jpg,0\n2,a.jpg,1\n3,c.jpg,0\n4,b.jpg,2\n5,a.jpg,1\n")
	out := filepath.Join(base, "temp", "nested", "image_list.txt")

	paths, err := annotations.WriteManifest(ann, "/data/2019", out, false)
	if err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	want := "/data/2019/c.jpg\n/data/2019/a.jpg\n/data/2019/b.jpg"
	if got := readFile(t, out); got != want {
		t.Fatalf("unexpected manifest %q, want %q", got, want)
	}
	if len(paths) != 3 {
		t.Fatalf("expected 3 paths, got %v", paths)
	}
}

func TestWriteManifestNestsUnderImages(t *testing.T) {
	base := t.TempDir()
	ann := filepath.Join(base, "ann.csv")
	testsupport.WriteText(t, ann, "1,a.jpg,0\n2,images/b.jpg,1\n3,/abs/c.jpg,2\n4,myimages/d.jpg,3\n")
	out := filepath.Join(base, "list.txt")

	if _, err := annotations.WriteManifest(ann, "/data/ep", out, true); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	want := "/data/ep/images/a.jpg\n/data/ep/images/b.jpg\n/abs/c.jpg\n/data/ep/images/myimages/d.jpg"
	if got := readFile(t, out); got != want {
		t.Fatalf("unexpected manifest %q, want %q", got, want)
	}
}

func TestWriteManifestTruncatesPreviousContent(t *testing.T) {
	base := t.TempDir()
	ann := filepath.Join(base, "ann.csv")
	testsupport.WriteText(t, ann, "1,a.jpg,0\n")
	out := filepath.Join(base, "list.txt")
	if err := os.WriteFile(out, []byte("stale\nstale\nstale\n"), 0o644); err != nil {
		t.Fatalf("seed manifest: %v", err)
	}
	if _, err := annotations.WriteManifest(ann, "/x", out, false); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	if got := readFile(t, out); got != "/x/a.jpg" {
		t.Fatalf("expected manifest to be replaced, got %q", got)
	}
}

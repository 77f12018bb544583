package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteText writes content to path, creating parent directories as needed.
func WriteText(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// ReadText returns the content of path or fails the test.
func ReadText(t testing.TB, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

// Episode creates an episode folder under root holding an annotation file
// named sealions_<name>.viame.csv with the given rows and returns the
// folder and annotation paths.
func Episode(t testing.TB, root, name, rows string) (string, string) {
	t.Helper()
	folder := filepath.Join(root, name)
	annotation := filepath.Join(folder, "sealions_"+name+".viame.csv")
	WriteText(t, annotation, rows)
	return folder, annotation
}

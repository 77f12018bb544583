package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"refinebox/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.InputDir = filepath.Join(base, "input")
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.PipelineDir = filepath.Join(base, "pipelines")
	cfgVal.Paths.ImageListFile = filepath.Join(base, "temp", "image_list.txt")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Convert.InputDir = cfgVal.Paths.OutputDir
	cfgVal.Archive.Dir = filepath.Join(base, "archive")

	for _, dir := range []string{cfgVal.Paths.InputDir, cfgVal.Paths.PipelineDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithArchive enables archive sync rooted at the config's archive directory.
func WithArchive() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Archive.Enabled = true
		if err := os.MkdirAll(b.cfg.Archive.Dir, 0o755); err != nil {
			b.t.Fatalf("mkdir archive dir: %v", err)
		}
	}
}

// WithMethod overrides the pipeline method on the test config.
func WithMethod(method string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Method = method
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default external binaries
// are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{b.cfg.Pipeline.Binary, b.cfg.Archive.Binary}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		for _, name := range names {
			StubBinary(b.t, binDir, name, "exit 0\n")
		}
		PrependPath(b.t, binDir)
	}
}

// StubBinary writes an executable shell script named name into dir. The body
// is placed after the shebang line.
func StubBinary(t testing.TB, dir, name, body string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	target := filepath.Join(dir, name)
	if err := os.WriteFile(target, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return target
}

// PrependPath puts dir at the front of PATH for the duration of the test.
func PrependPath(t testing.TB, dir string) {
	t.Helper()
	oldPath := os.Getenv("PATH")
	if err := os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath); err != nil {
		t.Fatalf("set PATH: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Setenv("PATH", oldPath)
	})
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}

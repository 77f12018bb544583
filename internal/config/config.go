package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and file locations used by a batch run.
type Paths struct {
	InputDir      string `toml:"input_dir"`
	OutputDir     string `toml:"output_dir"`
	PipelineDir   string `toml:"pipeline_dir"`
	ImageListFile string `toml:"image_list_file"`
	AnnotationDir string `toml:"annotation_dir"`
	LogDir        string `toml:"log_dir"`
}

// Discovery describes the annotation file naming convention inside an episode folder.
type Discovery struct {
	AnnotationPrefix string   `toml:"annotation_prefix"`
	AnnotationSuffix string   `toml:"annotation_suffix"`
	FallbackName     string   `toml:"fallback_name"`
	ExcludeTokens    []string `toml:"exclude_tokens"`
}

// Pipeline contains settings for the external refinement pipeline runner.
type Pipeline struct {
	Binary         string `toml:"binary"`
	Method         string `toml:"method"`
	Debugger       string `toml:"debugger"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	NestImages     bool   `toml:"nest_images"`
}

// Convert contains settings for the bulk output conversion command.
type Convert struct {
	InputDir      string   `toml:"input_dir"`
	Basename      string   `toml:"basename"`
	Method        string   `toml:"method"`
	ExcludeTokens []string `toml:"exclude_tokens"`
}

// Archive contains settings for the DVC-managed dataset tree.
type Archive struct {
	Enabled bool   `toml:"enabled"`
	Binary  string `toml:"binary"`
	Dir     string `toml:"dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for refinebox.
//
// Configuration sections by subsystem:
//   - Paths: input/output folders, pipeline definitions, manifest location
//   - Discovery: annotation file naming inside episode folders
//   - Pipeline: kwiver runner binary, method, debugger, timeout
//   - Convert: bulk conversion of refined CSV outputs
//   - Archive: DVC binary and dataset root
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Discovery Discovery `toml:"discovery"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Convert   Convert   `toml:"convert"`
	Archive   Archive   `toml:"archive"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/refinebox/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("refinebox.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a run writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.OutputDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LedgerPath returns the location of the run history database.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.LogDir, "runs.db")
}

// PipelineFile returns the pipeline definition file name for the configured method.
func (c *Config) PipelineFile() string {
	return c.Pipeline.Method + ".pipe"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

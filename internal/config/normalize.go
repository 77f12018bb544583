package config

import (
	"fmt"
	"strings"
)

// Normalize trims values, fills blanks with defaults, and expands paths. It is
// safe to call again after command flags override fields.
func (c *Config) Normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDiscovery()
	c.normalizePipeline()
	if err := c.normalizeConvert(); err != nil {
		return err
	}
	if err := c.normalizeArchive(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.InputDir, err = expandPath(strings.TrimSpace(c.Paths.InputDir)); err != nil {
		return fmt.Errorf("paths.input_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.PipelineDir) == "" {
		c.Paths.PipelineDir = defaultPipelineDir
	}
	if c.Paths.PipelineDir, err = expandPath(strings.TrimSpace(c.Paths.PipelineDir)); err != nil {
		return fmt.Errorf("paths.pipeline_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ImageListFile) == "" {
		c.Paths.ImageListFile = defaultImageListFile
	}
	if c.Paths.ImageListFile, err = expandPath(strings.TrimSpace(c.Paths.ImageListFile)); err != nil {
		return fmt.Errorf("paths.image_list_file: %w", err)
	}
	if c.Paths.AnnotationDir, err = expandPath(strings.TrimSpace(c.Paths.AnnotationDir)); err != nil {
		return fmt.Errorf("paths.annotation_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDiscovery() {
	c.Discovery.AnnotationPrefix = strings.TrimSpace(c.Discovery.AnnotationPrefix)
	c.Discovery.AnnotationSuffix = strings.TrimSpace(c.Discovery.AnnotationSuffix)
	if c.Discovery.AnnotationSuffix == "" {
		c.Discovery.AnnotationSuffix = defaultAnnotationSuffix
	}
	c.Discovery.FallbackName = strings.TrimSpace(c.Discovery.FallbackName)
	if c.Discovery.FallbackName == "" {
		c.Discovery.FallbackName = defaultFallbackName
	}
	tokens := append(append([]string(nil), requiredExcludeTokens...), c.Discovery.ExcludeTokens...)
	c.Discovery.ExcludeTokens = dedupeTokens(tokens)
}

func (c *Config) normalizePipeline() {
	c.Pipeline.Binary = strings.TrimSpace(c.Pipeline.Binary)
	if c.Pipeline.Binary == "" {
		c.Pipeline.Binary = defaultPipelineBinary
	}
	c.Pipeline.Method = strings.TrimSuffix(strings.TrimSpace(c.Pipeline.Method), ".pipe")
	if c.Pipeline.Method == "" {
		c.Pipeline.Method = defaultPipelineMethod
	}
	c.Pipeline.Debugger = strings.TrimSpace(c.Pipeline.Debugger)
	if c.Pipeline.Debugger == "" {
		c.Pipeline.Debugger = defaultDebugger
	}
}

func (c *Config) normalizeConvert() error {
	var err error
	if strings.TrimSpace(c.Convert.InputDir) == "" {
		c.Convert.InputDir = defaultOutputDir
	}
	if c.Convert.InputDir, err = expandPath(strings.TrimSpace(c.Convert.InputDir)); err != nil {
		return fmt.Errorf("convert.input_dir: %w", err)
	}
	c.Convert.Basename = strings.TrimSpace(c.Convert.Basename)
	c.Convert.Method = strings.TrimSpace(c.Convert.Method)
	if c.Convert.Method == "" {
		c.Convert.Method = defaultConvertMethod
	}
	c.Convert.ExcludeTokens = dedupeTokens(c.Convert.ExcludeTokens)
	return nil
}

func (c *Config) normalizeArchive() error {
	var err error
	c.Archive.Binary = strings.TrimSpace(c.Archive.Binary)
	if c.Archive.Binary == "" {
		c.Archive.Binary = defaultArchiveBinary
	}
	if c.Archive.Dir, err = expandPath(strings.TrimSpace(c.Archive.Dir)); err != nil {
		return fmt.Errorf("archive.dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func dedupeTokens(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		token := strings.TrimSpace(value)
		if token == "" {
			continue
		}
		if _, exists := seen[token]; exists {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

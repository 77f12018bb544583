package config

import (
	"errors"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDiscovery(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateDiscovery() error {
	if strings.ContainsAny(c.Discovery.AnnotationPrefix, "*?[") || strings.ContainsAny(c.Discovery.AnnotationSuffix, "*?[") {
		return errors.New("discovery.annotation_prefix and discovery.annotation_suffix must not contain glob metacharacters")
	}
	if strings.ContainsRune(c.Discovery.FallbackName, '/') {
		return errors.New("discovery.fallback_name must be a file name, not a path")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if strings.ContainsRune(c.Pipeline.Method, '/') {
		return errors.New("pipeline.method must be a pipeline name, not a path")
	}
	if c.Pipeline.TimeoutSeconds < 0 {
		return errors.New("pipeline.timeout_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateArchive() error {
	if c.Archive.Enabled && strings.TrimSpace(c.Archive.Dir) == "" {
		return errors.New("archive.dir must be set when archive.enabled is true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return errors.New("logging.level must be one of debug, info, warn, error")
	}
}

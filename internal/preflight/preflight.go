package preflight

import (
	"fmt"
	"path/filepath"
	"strings"

	"refinebox/internal/config"
	"refinebox/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
	// Optional results never block a run.
	Optional bool
}

// Options selects which checks apply.
type Options struct {
	RunPipeline bool
	Debug       bool
	Sync        bool
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckDirectoryReadable("Input directory", cfg.Paths.InputDir))
	results = append(results, CheckWritableOrCreatable("Output directory", cfg.Paths.OutputDir))
	results = append(results, CheckWritableOrCreatable("Manifest directory", filepath.Dir(cfg.Paths.ImageListFile)))

	if opts.RunPipeline {
		results = append(results, CheckDirectoryReadable("Pipeline directory", cfg.Paths.PipelineDir))
		results = append(results, CheckFile("Pipeline definition", filepath.Join(cfg.Paths.PipelineDir, cfg.PipelineFile())))
	}
	if opts.Sync && cfg.Archive.Enabled {
		results = append(results, CheckDirectoryAccess("Archive directory", cfg.Archive.Dir))
	}

	for _, status := range CheckSystemDeps(cfg, opts) {
		result := Result{Name: status.Name, Passed: status.Available, Optional: status.Optional}
		if status.Available {
			result.Detail = status.Path
		} else {
			result.Detail = status.Detail
		}
		results = append(results, result)
	}
	return results
}

// CheckSystemDeps evaluates the external binaries the run options need.
func CheckSystemDeps(cfg *config.Config, opts Options) []deps.Status {
	var requirements []deps.Requirement
	if opts.RunPipeline {
		requirements = append(requirements, deps.Requirement{
			Name:        "KWIVER",
			Command:     cfg.Pipeline.Binary,
			Description: "Required to run the refiner pipeline",
		})
		requirements = append(requirements, deps.Requirement{
			Name:        "Debugger",
			Command:     cfg.Pipeline.Debugger,
			Description: "Wraps the pipeline when --debug is set",
			Optional:    !opts.Debug,
		})
	}
	if opts.Sync && cfg.Archive.Enabled {
		requirements = append(requirements, deps.Requirement{
			Name:        "DVC",
			Command:     cfg.Archive.Binary,
			Description: "Required to sync files into the archive",
		})
	}
	return deps.CheckBinaries(requirements)
}

// Failed returns the required results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, result := range results {
		if !result.Passed && !result.Optional {
			out = append(out, result)
		}
	}
	return out
}

// Summary renders failed results as a single line.
func Summary(failed []Result) string {
	parts := make([]string, 0, len(failed))
	for _, result := range failed {
		parts = append(parts, fmt.Sprintf("%s: %s", result.Name, result.Detail))
	}
	return strings.Join(parts, "; ")
}

package workflow

import (
	"strings"

	"refinebox/internal/config"
	"refinebox/internal/convert"
	"refinebox/internal/services"
)

// Options selects the directories and stages of a run.
type Options struct {
	InputDir      string
	OutputDir     string
	PipelineDir   string
	Method        string
	ImageListFile string

	RunPipeline       bool
	Debug             bool
	CheckOutputCounts bool
	ConvertOnly       bool
	FixFrames         bool
	NestImages        bool

	// FolderIndex restricts the run to one episode when set.
	FolderIndex *int
	// DatasetLabel names the converted files stored beside annotation files.
	DatasetLabel string
}

// OptionsFromConfig seeds Options from configuration defaults.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		InputDir:      cfg.Paths.InputDir,
		OutputDir:     cfg.Paths.OutputDir,
		PipelineDir:   cfg.Paths.PipelineDir,
		Method:        cfg.Pipeline.Method,
		ImageListFile: cfg.Paths.ImageListFile,
		NestImages:    cfg.Pipeline.NestImages,
		DatasetLabel:  convert.MethodLabel(cfg.Pipeline.Method, cfg.Convert.Basename),
	}
}

// Validate reports missing required options.
func (o Options) Validate() error {
	required := map[string]string{
		"input directory":  o.InputDir,
		"output directory": o.OutputDir,
		"method":           o.Method,
	}
	if !o.ConvertOnly {
		required["image list file"] = o.ImageListFile
	}
	if o.RunPipeline {
		required["pipeline directory"] = o.PipelineDir
	}
	for _, name := range []string{"input directory", "output directory", "method", "image list file", "pipeline directory"} {
		value, ok := required[name]
		if ok && strings.TrimSpace(value) == "" {
			return services.Wrap(services.ErrConfiguration, "workflow", "options", name+" is required", nil)
		}
	}
	if o.ConvertOnly && o.RunPipeline {
		return services.Wrap(services.ErrConfiguration, "workflow", "options", "convert-only cannot be combined with a pipeline run", nil)
	}
	return nil
}

func (o Options) label() string {
	if strings.TrimSpace(o.DatasetLabel) != "" {
		return o.DatasetLabel
	}
	return o.Method
}

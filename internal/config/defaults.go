package config

const (
	defaultOutputDir        = "output"
	defaultPipelineDir      = "pipelines"
	defaultImageListFile    = "temp/image_list.txt"
	defaultLogDir           = "~/.local/share/refinebox"
	defaultAnnotationPrefix = "sealions_"
	defaultAnnotationSuffix = ".viame.csv"
	defaultFallbackName     = "annotations.csv"
	defaultPipelineBinary   = "kwiver"
	defaultPipelineMethod   = "utility_add_segmentations_watershed"
	defaultDebugger         = "gdb"
	defaultConvertBasename  = "utility_add_segmentations_"
	defaultConvertMethod    = "grabcut"
	defaultArchiveBinary    = "dvc"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
)

// requiredExcludeTokens mark refinement outputs that sit next to the original
// annotation files; discovery always skips them.
var requiredExcludeTokens = []string{"watershed", "grabcut"}

// Default returns a Config populated with repository defaults. Relative paths
// resolve against the working directory during normalization.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir:     defaultOutputDir,
			PipelineDir:   defaultPipelineDir,
			ImageListFile: defaultImageListFile,
			LogDir:        defaultLogDir,
		},
		Discovery: Discovery{
			AnnotationPrefix: defaultAnnotationPrefix,
			AnnotationSuffix: defaultAnnotationSuffix,
			FallbackName:     defaultFallbackName,
			ExcludeTokens:    append([]string(nil), requiredExcludeTokens...),
		},
		Pipeline: Pipeline{
			Binary:   defaultPipelineBinary,
			Method:   defaultPipelineMethod,
			Debugger: defaultDebugger,
		},
		Convert: Convert{
			InputDir:      defaultOutputDir,
			Basename:      defaultConvertBasename,
			Method:        defaultConvertMethod,
			ExcludeTokens: []string{"watershed", "grabcut", "kwcoco", "dvc", "image"},
		},
		Archive: Archive{
			Binary: defaultArchiveBinary,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

package refiner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"refinebox/internal/config"
	"refinebox/internal/logging"
	"refinebox/internal/services"
	"refinebox/internal/toolexec"
)

// Request names the files of one pipeline invocation.
type Request struct {
	// Method selects <Method>.pipe in the pipeline directory. Empty uses the configured method.
	Method         string
	ManifestPath   string
	AnnotationPath string
	OutputPath     string
}

// Option configures the Refiner.
type Option func(*Refiner)

// WithRunner injects a custom command runner (primarily for tests).
func WithRunner(runner toolexec.Runner) Option {
	return func(r *Refiner) {
		if runner != nil {
			r.runner = runner
		}
	}
}

// WithDebug wraps every invocation in the configured debugger.
func WithDebug(enabled bool) Option {
	return func(r *Refiner) {
		r.debug = enabled
	}
}

// Refiner invokes `kwiver runner` for one episode at a time.
type Refiner struct {
	binary      string
	method      string
	debugger    string
	pipelineDir string
	timeout     time.Duration
	debug       bool
	runner      toolexec.Runner
	logger      *slog.Logger
}

// New constructs a Refiner from pipeline settings.
func New(cfg config.Pipeline, pipelineDir string, logger *slog.Logger, opts ...Option) (*Refiner, error) {
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		return nil, services.Wrap(services.ErrConfiguration, "refine", "init", "pipeline binary required", nil)
	}
	if strings.TrimSpace(pipelineDir) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "refine", "init", "pipeline directory required", nil)
	}
	logger = logging.NewComponentLogger(logger, "refiner")
	r := &Refiner{
		binary:      binary,
		method:      cfg.Method,
		debugger:    strings.TrimSpace(cfg.Debugger),
		pipelineDir: pipelineDir,
		timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		runner:      toolexec.NewExecRunner(logger),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Command builds the invocation for req without running it.
func (r *Refiner) Command(req Request) (toolexec.Command, error) {
	method := strings.TrimSuffix(strings.TrimSpace(req.Method), ".pipe")
	if method == "" {
		method = r.method
	}
	if method == "" {
		return toolexec.Command{}, services.Wrap(services.ErrValidation, "refine", "command", "pipeline method required", nil)
	}
	for name, value := range map[string]string{
		"manifest":   req.ManifestPath,
		"annotation": req.AnnotationPath,
		"output":     req.OutputPath,
	} {
		if strings.TrimSpace(value) == "" {
			return toolexec.Command{}, services.Wrap(services.ErrValidation, "refine", "command", name+" path required", nil)
		}
	}

	args := []string{
		"runner", method + ".pipe",
		"--setting", "input:video_filename=" + req.ManifestPath,
		"--setting", "detector_writer:file_name=" + req.OutputPath,
		"--setting", "detection_reader:file_name=" + req.AnnotationPath,
	}
	cmd := toolexec.Command{Binary: r.binary, Args: args, Dir: r.pipelineDir}
	if r.debug && r.debugger != "" {
		cmd = toolexec.Command{
			Binary: r.debugger,
			Args:   append([]string{"-ex", "run", "--args", r.binary}, args...),
			Dir:    r.pipelineDir,
		}
	}
	return cmd, nil
}

// Refine runs the pipeline for req and blocks until it exits. A non-zero exit
// surfaces as *toolexec.ToolFailure; a clean exit that leaves no output file
// is an ErrExternalTool error.
func (r *Refiner) Refine(ctx context.Context, req Request) (toolexec.Result, error) {
	cmd, err := r.Command(req)
	if err != nil {
		return toolexec.Result{}, err
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return toolexec.Result{}, fmt.Errorf("create output directory: %w", err)
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.logger.InfoContext(ctx, "pipeline started",
		logging.String(logging.FieldEventType, "pipeline_start"),
		logging.String("command", cmd.String()),
		logging.String("output", req.OutputPath),
	)
	result, err := r.runner.Run(runCtx, cmd)
	if err != nil {
		var failure *toolexec.ToolFailure
		if errors.As(err, &failure) && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return result, fmt.Errorf("pipeline exceeded %s: %w", r.timeout, err)
		}
		return result, err
	}

	info, statErr := os.Stat(req.OutputPath)
	if statErr != nil || info.IsDir() {
		return result, services.Wrap(
			services.ErrExternalTool,
			"refine",
			"output",
			fmt.Sprintf("%s exited cleanly but wrote no output at %s", r.binary, req.OutputPath),
			statErr,
		)
	}
	r.logger.InfoContext(ctx, "pipeline finished",
		logging.String(logging.FieldEventType, "pipeline_complete"),
		logging.Duration("duration", result.Duration),
		logging.Int64("output_bytes", info.Size()),
	)
	return result, nil
}

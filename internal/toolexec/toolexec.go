package toolexec

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"refinebox/internal/logging"
	"refinebox/internal/services"
)

// maxCapturedLines bounds how much of each stream a Result retains.
const maxCapturedLines = 200

// Command describes one external program invocation.
type Command struct {
	Binary string
	Args   []string
	// Dir is the working directory; empty inherits the caller's.
	Dir string
	// OnLine receives every output line as it is produced; stream is "stdout" or "stderr".
	OnLine func(stream, line string)
}

// String renders the command line with shell-style quoting for display.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quoteArg(c.Binary))
	for _, arg := range c.Args {
		parts = append(parts, quoteArg(arg))
	}
	return strings.Join(parts, " ")
}

func quoteArg(arg string) string {
	if arg == "" {
		return "''"
	}
	if !strings.ContainsAny(arg, " \t\n'\"\\$`") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

// Result captures the outcome of a completed command.
type Result struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// ToolFailure reports a command that could not start or exited non-zero.
type ToolFailure struct {
	Result
	Err error
}

func (f *ToolFailure) Error() string {
	var b strings.Builder
	if f.ExitCode >= 0 {
		fmt.Fprintf(&b, "%s exited with status %d", f.Command, f.ExitCode)
	} else {
		fmt.Fprintf(&b, "%s failed", f.Command)
		if f.Err != nil {
			fmt.Fprintf(&b, ": %v", f.Err)
		}
	}
	if tail := lastLines(f.Stderr, 5); tail != "" {
		b.WriteString(": ")
		b.WriteString(tail)
	}
	return b.String()
}

// Unwrap exposes both the tool marker and the underlying exec error.
func (f *ToolFailure) Unwrap() []error {
	if f.Err == nil {
		return []error{services.ErrExternalTool}
	}
	return []error{services.ErrExternalTool, f.Err}
}

// ErrorKind classifies the failure for the run ledger.
func (f *ToolFailure) ErrorKind() string {
	if errors.Is(f.Err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(f.Err, context.Canceled) {
		return "canceled"
	}
	return "external_tool"
}

// Runner abstracts command execution for testability.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner executes commands with os/exec and mirrors their output to the logger at debug level.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner constructs a runner. A nil logger discards output mirroring.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	return &ExecRunner{logger: logging.NewComponentLogger(logger, "toolexec")}
}

// Run starts cmd, blocks until it exits, and returns its Result. Non-zero exit
// statuses, start failures, and context expiry are returned as *ToolFailure.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if strings.TrimSpace(cmd.Binary) == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, "toolexec", "run", "binary required", nil)
	}
	logger := logging.WithContext(ctx, r.logger)
	display := cmd.String()
	logger.Info("running external command", logging.String("command", display), logging.String("dir", cmd.Dir))

	proc := exec.CommandContext(ctx, cmd.Binary, cmd.Args...) //nolint:gosec
	proc.Dir = cmd.Dir
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := proc.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stderr pipe: %w", err)
	}

	started := time.Now()
	result := Result{Command: display, ExitCode: -1}
	if err := proc.Start(); err != nil {
		result.Duration = time.Since(started)
		return result, &ToolFailure{Result: result, Err: err}
	}

	var (
		wg        sync.WaitGroup
		outBuf    = newTailBuffer(maxCapturedLines)
		errBuf    = newTailBuffer(maxCapturedLines)
		forwardMu sync.Mutex
	)
	scan := func(stream string, rd io.Reader, buf *tailBuffer) {
		defer wg.Done()
		scanner := bufio.NewScanner(rd)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			buf.add(line)
			logger.Debug(line, logging.String("stream", stream))
			if cmd.OnLine != nil {
				forwardMu.Lock()
				cmd.OnLine(stream, line)
				forwardMu.Unlock()
			}
		}
	}
	wg.Add(2)
	go scan("stdout", stdout, outBuf)
	go scan("stderr", stderr, errBuf)
	wg.Wait()

	waitErr := proc.Wait()
	result.Duration = time.Since(started)
	result.Stdout = outBuf.String()
	result.Stderr = errBuf.String()
	if proc.ProcessState != nil {
		result.ExitCode = proc.ProcessState.ExitCode()
	}

	if waitErr != nil {
		failure := &ToolFailure{Result: result, Err: waitErr}
		if ctxErr := ctx.Err(); ctxErr != nil {
			failure.Err = fmt.Errorf("%w: %w", ctxErr, waitErr)
		}
		return result, failure
	}

	logger.Debug("external command finished",
		logging.String("command", display),
		logging.Duration("duration", result.Duration))
	return result, nil
}

type tailBuffer struct {
	limit int
	lines []string
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) add(line string) {
	b.lines = append(b.lines, line)
	if len(b.lines) > b.limit {
		b.lines = b.lines[len(b.lines)-b.limit:]
	}
}

func (b *tailBuffer) String() string {
	return strings.Join(b.lines, "\n")
}

func lastLines(text string, n int) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

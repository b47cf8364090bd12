package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
)

// ErrDestinationExists is returned by Promote when dst is already present and
// replacement was not requested.
var ErrDestinationExists = errors.New("destination already exists")

var (
	rename = os.Rename
	link   = os.Link
)

// CopyFileVerified streams src to dst with SHA256 + size integrity verification.
// Removes dst on mismatch.
func CopyFileVerified(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	srcSize := srcInfo.Size()

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	tee := io.TeeReader(in, srcHasher)
	multi := io.MultiWriter(out, dstHasher)

	written, err := io.Copy(multi, tee)
	if err != nil {
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}

	if written != srcSize {
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcSize, written)
	}

	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		_ = os.Remove(dst)
		return fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}

	return nil
}

// Promote moves a finished file to its final location. Without replace the
// file is hard linked into place, which fails rather than clobbering a dst
// that appears concurrently; with replace a single rename is used. When src
// and dst live on different filesystems the file is first copied, verified,
// to a hidden sibling of dst, so dst is never observed partially written.
func Promote(src, dst string, replace bool) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	var err error
	if replace {
		err = rename(src, dst)
	} else {
		err = place(src, dst)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDestinationExists):
		return err
	case !errors.Is(err, syscall.EXDEV):
		return fmt.Errorf("move to destination: %w", err)
	}

	staged := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".partial")
	if err := CopyFileVerified(src, staged); err != nil {
		return fmt.Errorf("copy across filesystems: %w", err)
	}
	if replace {
		err = os.Rename(staged, dst)
	} else {
		err = place(staged, dst)
	}
	if err != nil {
		_ = os.Remove(staged)
		if errors.Is(err, ErrDestinationExists) {
			return err
		}
		return fmt.Errorf("move staged copy: %w", err)
	}
	_ = os.Remove(src)
	return nil
}

// place links src to dst and removes src. Filesystems without hard links
// fall back to a checked rename.
func place(src, dst string) error {
	err := link(src, dst)
	switch {
	case err == nil:
		_ = os.Remove(src)
		return nil
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
	case errors.Is(err, syscall.EPERM), errors.Is(err, syscall.ENOTSUP), errors.Is(err, syscall.EMLINK):
		if _, statErr := os.Lstat(dst); statErr == nil {
			return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
		} else if !errors.Is(statErr, fs.ErrNotExist) {
			return fmt.Errorf("stat destination: %w", statErr)
		}
		return rename(src, dst)
	default:
		return err
	}
}

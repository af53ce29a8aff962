package securefs

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/glyphmap/tilesync/internal/errors"
)

const (
	dirPermissions  = 0o755
	filePermissions = 0o644
)

// ValidateName checks that a client-supplied name (a model directory, for
// instance) is a single local path element.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.HasPrefix(name, ".") ||
		strings.ContainsAny(name, `/\`) ||
		!filepath.IsLocal(name) {
		return errors.New(fmt.Errorf("%w: %q", ErrInvalidName, name)).
			Category(errors.CategoryValidation).
			Component("securefs").
			Build()
	}
	return nil
}

// IsPathWithinBase reports whether target is base or lies below it, after
// resolving both to absolute paths.
func IsPathWithinBase(base, target string) (bool, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false, fmt.Errorf("failed to resolve base path: %w", err)
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false, fmt.Errorf("failed to resolve target path: %w", err)
	}
	absBase = filepath.Clean(absBase)
	absTarget = filepath.Clean(absTarget)
	return absTarget == absBase || strings.HasPrefix(absTarget, absBase+string(filepath.Separator)), nil
}

// Join joins name below base and rejects the result if it escapes base.
func Join(base, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	p := filepath.Join(base, name)
	ok, err := IsPathWithinBase(base, p)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.New(fmt.Errorf("%w: %s", ErrPathTraversal, name)).
			Category(errors.CategoryValidation).
			Component("securefs").
			Build()
	}
	return p, nil
}

// WriteAtomic streams r into a temporary file next to path and renames it
// into place, creating parent directories as needed. Readers observe either
// the old content or the complete new content. It returns the bytes written.
func WriteAtomic(path string, r io.Reader) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return 0, errors.FileError(fmt.Errorf("creating %s: %w", dir, err), path, 0)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, errors.FileError(fmt.Errorf("creating temporary file: %w", err), path, 0)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		return n, errors.FileError(fmt.Errorf("writing temporary file: %w", err), path, n)
	}
	if err := tmp.Chmod(filePermissions); err != nil {
		_ = tmp.Close()
		return n, errors.FileError(fmt.Errorf("setting permissions: %w", err), path, n)
	}
	if err := tmp.Close(); err != nil {
		return n, errors.FileError(fmt.Errorf("closing temporary file: %w", err), path, n)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return n, errors.FileError(fmt.Errorf("renaming into place: %w", err), path, n)
	}
	committed = true
	return n, nil
}

// WriteFileAtomic is WriteAtomic for an in-memory payload.
func WriteFileAtomic(path string, data []byte) error {
	_, err := WriteAtomic(path, bytes.NewReader(data))
	return err
}

// RemoveIfExists deletes path, treating an already absent file as success.
// It reports whether a file was actually removed.
func RemoveIfExists(path string) (bool, error) {
	err := os.Remove(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, errors.FileError(fmt.Errorf("removing %s: %w", filepath.Base(path), err), path, 0)
	}
}

// Exists reports whether path exists as a regular file.
func Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		return info.Mode().IsRegular(), nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, errors.FileError(err, path, 0)
	}
}

// Package securefs provides the filesystem primitives the tile collections
// rely on: atomic replacement of files, idempotent removal, and validation
// of client-supplied path segments.
package securefs

import (
	"github.com/glyphmap/tilesync/internal/errors"
)

var (
	// ErrPathTraversal indicates a path that escapes its collection root.
	ErrPathTraversal = errors.NewStd("security error: path attempts to traverse outside base directory")

	// ErrInvalidName indicates a path segment that is empty, hidden or contains separators.
	ErrInvalidName = errors.NewStd("security error: invalid path segment")
)

// Package sandbox confines filesystem paths accepted by the daemon to the
// configured workspace root. Both the root and the candidate are
// canonicalised so a symlink anywhere in the candidate cannot escape.
package sandbox

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/errors"
)

// MaxPathLen bounds any path field accepted from a request.
const MaxPathLen = 4096

var (
	ErrOutsideWorkspace = errors.New("path resolves outside the workspace root")
	ErrMissingPath      = errors.New("path does not exist")
	ErrNotRelative      = errors.New("path must be relative to the workspace root")
)

// ResolveInsideWorkspace canonicalises candidate against root and ensures
// the result is root or a strict descendant of it. When the candidate does
// not exist yet, its nearest existing ancestor is canonicalised instead so
// a symlinked parent still cannot escape. With allowMissing=false a
// non-existent result is an error; clone destinations pass true.
func ResolveInsideWorkspace(root, candidate string, allowMissing bool) (string, error) {
	if len(candidate) > MaxPathLen {
		return "", errors.Wrapf(ErrOutsideWorkspace, "path exceeds %d characters", MaxPathLen)
	}
	canonRoot, err := canonicalise(root)
	if err != nil {
		return "", errors.Wrap(err, "canonicalise workspace root")
	}

	resolved := candidate
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(canonRoot, resolved)
	}
	resolved = filepath.Clean(resolved)

	canonical, exists, err := canonicaliseExistingPrefix(resolved)
	if err != nil {
		return "", errors.WithStack(err)
	}

	rel, err := filepath.Rel(canonRoot, canonical)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", errors.WithStack(ErrOutsideWorkspace)
	}
	if !exists && !allowMissing {
		return "", errors.WithStack(ErrMissingPath)
	}
	return canonical, nil
}

// EnsureRelative rejects absolute candidates and any candidate that, after
// normalisation, is empty, the root itself, or climbs out of it.
func EnsureRelative(candidate string) error {
	if candidate == "" || filepath.IsAbs(candidate) || filepath.VolumeName(candidate) != "" {
		return errors.WithStack(ErrNotRelative)
	}
	cleaned := filepath.Clean(candidate)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return errors.WithStack(ErrNotRelative)
	}
	return nil
}

func canonicalise(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.WithStack(err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return canonical, nil
}

// canonicaliseExistingPrefix resolves symlinks in the longest existing
// prefix of path and rejoins the missing suffix. Returns whether the full
// path exists.
func canonicaliseExistingPrefix(path string) (canonical string, exists bool, err error) {
	if canonical, err = filepath.EvalSymlinks(path); err == nil {
		return canonical, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", false, errors.Wrap(err, "canonicalise path")
	}

	prefix := path
	var suffix []string
	for {
		parent := filepath.Dir(prefix)
		if parent == prefix {
			return "", false, errors.WithStack(ErrOutsideWorkspace)
		}
		suffix = append([]string{filepath.Base(prefix)}, suffix...)
		prefix = parent
		canonical, err = filepath.EvalSymlinks(prefix)
		if err == nil {
			return filepath.Join(append([]string{canonical}, suffix...)...), false, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", false, errors.Wrap(err, "canonicalise path prefix")
		}
	}
}

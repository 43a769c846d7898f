// Package pathsafe confines client supplied paths to a served root directory
// and turns client supplied file names into safe local names.
package pathsafe

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrPathSecurity matches every *SecurityError.
	ErrPathSecurity = errors.New("path traversal attempt detected")
	// ErrInvalidFilename is returned when nothing usable is left of a file name.
	ErrInvalidFilename = errors.New("invalid filename")
)

// invalidChars are replaced with '_' in file names. The set is the union of
// what Windows and POSIX reject so uploaded names stay portable.
const invalidChars = `<>:"/\|?*`

// SecurityError reports a relative path that would leave the root.
type SecurityError struct {
	Root string
	Path string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("path traversal attempt detected: %q escapes %s", e.Path, e.Root)
}

func (e *SecurityError) Is(target error) bool {
	return target == ErrPathSecurity
}

// normalize converts backslashes to slashes, refuses parent references and
// trims leading separators so the result can be joined onto a root.
func normalize(root, rel string) (string, error) {
	p := strings.ReplaceAll(rel, `\`, "/")
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", &SecurityError{Root: root, Path: rel}
		}
	}
	return strings.TrimLeft(p, "/"), nil
}

// Resolve joins rel onto root and returns the canonical absolute path.
// Symlinks are resolved for the part of the path that exists, and the result
// must be root itself or lie below it on a path component boundary.
func Resolve(root, rel string) (string, error) {
	safe, err := normalize(root, rel)
	if err != nil {
		return "", err
	}

	rootCanon, err := canonical(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root %s: %w", root, err)
	}
	target, err := canonical(filepath.Join(root, filepath.FromSlash(safe)))
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", rel, err)
	}

	if !within(rootCanon, target, string(filepath.Separator)) {
		return "", &SecurityError{Root: root, Path: rel}
	}
	return target, nil
}

// ResolveLexical is Resolve for slash separated paths on a remote host, where
// symlinks cannot be evaluated locally. Only cleaning and the boundary check apply.
func ResolveLexical(root, rel string) (string, error) {
	safe, err := normalize(root, rel)
	if err != nil {
		return "", err
	}

	r := path.Clean(filepath.ToSlash(root))
	target := path.Join(r, safe)
	if r == "." {
		return target, nil
	}
	if !within(r, target, "/") {
		return "", &SecurityError{Root: root, Path: rel}
	}
	return target, nil
}

func within(root, target, sep string) bool {
	if target == root {
		return true
	}
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(target, root)
}

// canonical evaluates symlinks on the longest existing prefix of p and
// appends the remaining, not yet existing, components unchanged.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	parent := filepath.Dir(abs)
	if parent == abs {
		return abs, nil
	}
	base, err := canonical(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, filepath.Base(abs)), nil
}

// SanitizeFilename keeps only the last path component of name and replaces
// characters that are not allowed in file names with '_'.
func SanitizeFilename(name string) (string, error) {
	base := name
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	base = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(invalidChars, r) {
			return '_'
		}
		return r
	}, base)

	if strings.TrimSpace(base) == "" || base == "." || base == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return base, nil
}

// UniqueDestination returns p unchanged when overwriting is allowed or p does
// not exist. Otherwise it inserts _1, _2, ... before the extension until exists
// reports a free name. The check and the later create are not atomic.
func UniqueDestination(p string, allowOverwrite bool, exists func(string) bool) string {
	if allowOverwrite || !exists(p) {
		return p
	}

	dir, base := "", p
	if i := strings.LastIndexAny(p, "/"+string(filepath.Separator)); i >= 0 {
		dir, base = p[:i+1], p[i+1:]
	}
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s%s_%d%s", dir, stem, i, ext)
		if !exists(candidate) {
			return candidate
		}
	}
}

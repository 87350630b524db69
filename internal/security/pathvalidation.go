// Package security confines file paths supplied over the API to the
// directories the process was told it may read and write.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideDirectory is returned for paths that resolve outside the allowed
// directory, including through symlinks.
var ErrOutsideDirectory = errors.New("path escapes allowed directory")

// ErrInvalidPath is returned for an empty name or a wrong extension.
var ErrInvalidPath = errors.New("invalid path")

// canonical resolves symlinks in path. For a path that does not exist yet the
// nearest existing ancestor is resolved and the rest appended, so a symlinked
// parent cannot smuggle a new file out of the directory.
func canonical(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rel, _ := filepath.Rel(dir, path)
			return filepath.Join(resolved, rel)
		}
		if parent := filepath.Dir(dir); parent == dir {
			return path
		}
	}
}

// ValidatePathWithinDirectory reports whether filePath resolves inside dir.
func ValidatePathWithinDirectory(filePath, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory path: %w", err)
	}
	canonicalDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalDir, canonical(absPath))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s is not within %s", ErrOutsideDirectory, filePath, dir)
	}
	return nil
}

// ResolveInDirectory turns a user supplied name into a path inside dir.
// Relative names are taken relative to dir. When ext is non-empty the name
// must carry that extension (case-insensitive).
func ResolveInDirectory(dir, name, ext string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: path is required", ErrInvalidPath)
	}
	if ext != "" && !strings.EqualFold(filepath.Ext(name), ext) {
		return "", fmt.Errorf("%w: must have a %s extension", ErrInvalidPath, ext)
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	if err := ValidatePathWithinDirectory(path, dir); err != nil {
		return "", err
	}
	return path, nil
}

// SanitizeFilename maps s to ASCII letters, digits, dot, underscore and dash,
// collapsing runs of anything else into one underscore. The result is at most
// 128 bytes and never empty.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

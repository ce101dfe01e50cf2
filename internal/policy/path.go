package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"zora/internal/config"
)

// ValidatePath validates a filesystem path against the filesystem policy.
// The ~ prefix is expanded, the path resolved to absolute, and when
// follow_symlinks is false the symlink target is resolved too. A path
// under any denied_path is denied regardless of allowed_paths; otherwise
// it must fall under some allowed_path.
func (e *Engine) ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return &DenyError{Kind: DenyPath, Reason: "empty path"}
	}

	abs, err := resolvePath(path)
	if err != nil {
		return &DenyError{Kind: DenyPath, Reason: fmt.Sprintf("cannot resolve %q: %v", path, err)}
	}

	e.mu.Lock()
	fs := e.policy.Filesystem
	e.mu.Unlock()

	candidates := []string{abs}
	if !fs.FollowSymlinks {
		// A symlink inside an allowed path must not escape into a denied
		// one; validate the real target as well as the declared path.
		if real, err := filepath.EvalSymlinks(abs); err == nil && real != abs {
			candidates = append(candidates, real)
		}
	}

	for _, c := range candidates {
		for _, denied := range fs.DeniedPaths {
			dAbs, err := resolvePath(denied)
			if err != nil {
				continue
			}
			if pathWithin(c, dAbs) {
				return &DenyError{Kind: DenyPermanent, Reason: fmt.Sprintf("path %q is inside denied path %q", path, denied)}
			}
		}
	}

	for _, allowed := range fs.AllowedPaths {
		aAbs, err := resolvePath(allowed)
		if err != nil {
			continue
		}
		if pathWithin(abs, aAbs) {
			return nil
		}
	}
	return &DenyError{Kind: DenyPath, Reason: fmt.Sprintf("path %q is outside all allowed paths", path)}
}

// deniedPathCheck screens a path against denied_paths only; used for
// path-like shell arguments where allowed_paths does not apply.
func (e *Engine) deniedPathCheck(path string) error {
	abs, err := resolvePath(path)
	if err != nil {
		return nil
	}
	e.mu.Lock()
	denied := e.policy.Filesystem.DeniedPaths
	e.mu.Unlock()

	for _, d := range denied {
		dAbs, err := resolvePath(d)
		if err != nil {
			continue
		}
		if pathWithin(abs, dAbs) {
			return &DenyError{Kind: DenyPermanent, Reason: fmt.Sprintf("argument %q is inside denied path %q", path, d)}
		}
	}
	return nil
}

// resolvePath expands ~ and makes the path absolute and clean. The file
// need not exist.
func resolvePath(path string) (string, error) {
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(expanded) {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		expanded = filepath.Join(wd, expanded)
	}
	return filepath.Clean(expanded), nil
}

// pathWithin reports whether path equals root or is a descendant of it,
// matching on path components rather than raw string prefixes.
func pathWithin(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

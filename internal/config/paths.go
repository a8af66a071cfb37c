package config

import (
	"os"
	"path/filepath"
	"strings"

	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
)

// StagingSuffix and BackupSuffix name the sibling directories used while
// publishing output_dir.
const (
	StagingSuffix = "_stage"
	BackupSuffix  = ".prev"
)

// CheckOutputPlacement rejects an output_dir whose publish swap would move
// or delete root_dir: the same directory, an ancestor of it, or a staging
// or backup sibling that contains it. Both paths are resolved to absolute
// form with symlinks evaluated as far as they exist.
func CheckOutputPlacement(rootDir, outputDir string) error {
	if reason := outputConflict(rootDir, outputDir); reason != "" {
		return ferrors.ValidationError("output_dir "+reason).
			WithContext("root_dir", rootDir).
			WithContext("output_dir", outputDir).
			Build()
	}
	return nil
}

func outputConflict(rootDir, outputDir string) string {
	root, err := resolvePath(rootDir)
	if err != nil {
		return "cannot be checked: " + err.Error()
	}
	out, err := resolvePath(outputDir)
	if err != nil {
		return "cannot be checked: " + err.Error()
	}
	switch {
	case root == out:
		return "must differ from root_dir"
	case within(out, root):
		return "must not contain root_dir"
	case within(out+StagingSuffix, root), within(out+BackupSuffix, root):
		return "staging directories must not contain root_dir"
	}
	return ""
}

// resolvePath returns p as an absolute path with the symlinks of its longest
// existing prefix evaluated.
func resolvePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	dir, rest := abs, ""
	for {
		if _, err := os.Lstat(dir); err == nil {
			real, err := filepath.EvalSymlinks(dir)
			if err != nil {
				return "", err
			}
			return filepath.Join(real, rest), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = parent
	}
}

// within reports whether p is base or lies below it.
func within(base, p string) bool {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

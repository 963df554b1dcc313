package workflow

import (
	"fmt"
	"os"
	"path/filepath"
)

// resolveTarget follows symlinks so the compressed result replaces the file
// a link points at instead of the link itself.
func resolveTarget(path string) (string, error) {
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("resolve original: %w", err)
	}
	return target, nil
}

// replaceFile moves tmpPath over destPath with a single rename so readers
// see either the old or the new file. The temp file takes destPath's
// permission bits first. destPath must already be resolved by resolveTarget;
// a symlink at destPath would itself be replaced. It returns the sizes
// before and after.
func replaceFile(tmpPath, destPath string) (int64, int64, error) {
	srcInfo, err := os.Stat(destPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, 0, fmt.Errorf("stat original: %w", err)
	}
	if err := os.Chmod(tmpPath, srcInfo.Mode().Perm()); err != nil {
		_ = os.Remove(tmpPath)
		return 0, 0, fmt.Errorf("copy permissions: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)
		return 0, 0, fmt.Errorf("replace original: %w", err)
	}

	outInfo, err := os.Stat(destPath)
	if err != nil {
		return srcInfo.Size(), 0, nil
	}
	return srcInfo.Size(), outInfo.Size(), nil
}

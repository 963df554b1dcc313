// Package ingest expands command-line arguments into the files to queue.
package ingest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// tempPrefix marks download temp files, which are never queued even when a
// crashed run left one behind.
const tempPrefix = ".tinypng-"

// Classifier decides whether a file found during a directory walk is kept.
type Classifier interface {
	IsRecognizedImage(path string) bool
}

// Collect returns absolute paths to queue, in argument order. File arguments
// are returned as given so that the engine can report non-images. Directories
// are walked recursively and contribute only files the classifier
// recognizes; hidden directories are skipped. A path is returned at most
// once. Missing arguments are an error.
func Collect(classifier Classifier, paths ...string) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	for _, arg := range paths {
		absRoot, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", arg, err)
		}
		info, err := os.Stat(absRoot)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(absRoot)
			continue
		}

		fsys := os.DirFS(absRoot)
		err = fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			name := d.Name()
			if d.IsDir() {
				if path != "." && strings.HasPrefix(name, ".") {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || strings.HasPrefix(name, tempPrefix) {
				return nil
			}
			fullPath := filepath.Join(absRoot, filepath.FromSlash(path))
			if classifier != nil && !classifier.IsRecognizedImage(fullPath) {
				return nil
			}
			add(fullPath)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", arg, err)
		}
	}
	return out, nil
}

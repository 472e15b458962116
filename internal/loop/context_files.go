package loop

import (
	"io/fs"
	"path/filepath"
	"slices"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/ralphloop/internal/errors"
)

// skippedDirs are never descended into when matching context files.
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".ralphloop":   true,
}

// CompileContextPatterns compiles glob patterns with '/' as the separator,
// so "*" stays inside one directory and "**" crosses directories.
func CompileContextPatterns(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(filepath.ToSlash(p), '/')
		if err != nil {
			return nil, errors.NewValidationError("invalid context file pattern").
				WithField("context_files").WithValue(p).WithCause(err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// ResolveContextFiles returns the files under dir, relative and sorted,
// that match any of globs.
func ResolveContextFiles(dir string, globs []glob.Glob) ([]string, error) {
	if len(globs) == 0 {
		return nil, nil
	}
	var matches []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		for _, g := range globs {
			if g.Match(rel) {
				matches = append(matches, rel)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(matches)
	return matches, nil
}

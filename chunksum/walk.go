package chunksum

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	ignore "github.com/sabhiram/go-gitignore"
)

//Walk discovers the regular files below each root and returns them as
//tasks in lexicographic order of their slash separated paths, the
//canonical manifest order. Roots that are files themselves are included
//directly. Paths matching 'skip' (gitignore semantics, may be nil) are
//left out, duplicates discovered through overlapping roots appear once
func Walk(roots []string, skip ignore.IgnoreParser) (tasks []Task, err error) {
	seen := map[string]struct{}{}

	add := func(path string) {
		rel := filepath.ToSlash(filepath.Clean(path))
		if skip != nil && skip.MatchesPath(rel) {
			return
		}

		if _, ok := seen[rel]; ok {
			return
		}

		seen[rel] = struct{}{}
		tasks = append(tasks, Task{Path: path, Rel: rel})
	}

	for _, root := range roots {
		fi, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("failed to stat root '%s': %w", root, err)
		}

		if !fi.IsDir() {
			add(root)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if !d.Type().IsRegular() {
				return nil
			}

			add(path)
			return nil
		})

		if err != nil {
			return nil, fmt.Errorf("failed to walk root '%s': %w", root, err)
		}
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].Rel < tasks[j].Rel
	})

	for i := range tasks {
		tasks[i].Seq = i
	}

	return tasks, nil
}

package store

import (
	"io"
	"os"
	"path/filepath"

	"github.com/repx-run/repx/internal/apperror"
)

// mergeStores copies content from sources into destination, skipping any
// path that already exists there. Grounded on the original merge_stores
// walk: a flat directory-entry list across all sources, one rename/copy
// per entry, no transaction — a partial merge is safe to re-run.
func mergeStores(sources []string, destination string, onProgress func(MergeProgress)) error {
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return apperror.New(apperror.KindStore, "merge: create destination", err)
	}

	type entry struct {
		root string
		path string
	}
	var entries []entry
	for _, src := range sources {
		err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			entries = append(entries, entry{root: src, path: path})
			return nil
		})
		if err != nil {
			return apperror.New(apperror.KindStore, "merge: walk source", err)
		}
	}

	total := int64(len(entries))
	for i, e := range entries {
		rel, err := filepath.Rel(e.root, e.path)
		if err != nil {
			return apperror.New(apperror.KindStore, "merge: relativize path", err)
		}
		dest := filepath.Join(destination, rel)

		if onProgress != nil {
			onProgress(MergeProgress{
				TotalEntries:     total,
				ProcessedEntries: int64(i),
				CurrentPath:      rel,
			})
		}

		info, err := os.Lstat(e.path)
		if err != nil {
			continue
		}
		if info.IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return apperror.New(apperror.KindStore, "merge: mkdir", err)
			}
			continue
		}
		if _, err := os.Lstat(dest); err == nil {
			continue // already present at destination
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return apperror.New(apperror.KindStore, "merge: mkdir parent", err)
		}
		if err := copyFile(e.path, dest, info.Mode()); err != nil {
			return apperror.New(apperror.KindStore, "merge: copy", err)
		}
	}
	return nil
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// Package archive reads documents out of zip containers.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"path"
	"strings"
)

// WalkFunc is called by Walk for every file entry under the requested prefix.
// The archive argument is the path of the container being walked, file is the
// matched entry. Returning an error stops the walk.
type WalkFunc func(archive string, file *zip.File) error

// Walk visits all file entries of the archive whose names start with prefix,
// in container order. Directory entries are skipped. Entries with absolute
// paths or ".." components abort the walk, such containers are not to be
// trusted. The walk also stops once ctx is cancelled.
func Walk(ctx context.Context, archive, prefix string, walkFn WalkFunc) error {

	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("unable to open archive: %w", err)
	}
	defer r.Close()

	prefix = strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(prefix, `\`, "/")), "/")
	if prefix == "." {
		prefix = ""
	}

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := f.FileHeader.Name
		if !isSafePath(name) {
			return fmt.Errorf("zip entry %q: unsafe path (absolute or contains path traversal)", name)
		}
		if f.FileInfo().IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		if err := walkFn(archive, f); err != nil {
			return err
		}
	}
	return nil
}

// isSafePath returns false for entry names that could escape the extraction
// directory.
func isSafePath(name string) bool {
	if path.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

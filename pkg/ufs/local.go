package ufs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalUFS serves UFS reads from a local filesystem root. Paths are
// interpreted relative to the root; an empty root uses absolute paths
// as-is.
type LocalUFS struct {
	root string
}

// NewLocalUFS creates a local filesystem UFS rooted at root.
func NewLocalUFS(root string) *LocalUFS {
	return &LocalUFS{root: root}
}

func (u *LocalUFS) resolve(path string) string {
	if u.root == "" {
		return path
	}
	return filepath.Join(u.root, filepath.FromSlash(path))
}

// GetStatus returns the status of a single path.
func (u *LocalUFS) GetStatus(ctx context.Context, path string) (FileStatus, error) {
	if err := ctx.Err(); err != nil {
		return FileStatus{}, err
	}
	info, err := os.Stat(u.resolve(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileStatus{}, ErrFileNotFound
		}
		return FileStatus{}, err
	}
	return FileStatus{
		Path:         path,
		UfsPath:      path,
		Length:       uint64(info.Size()),
		IsDir:        info.IsDir(),
		LastModified: info.ModTime(),
	}, nil
}

// ListStatus enumerates the files under path.
func (u *LocalUFS) ListStatus(ctx context.Context, path string, recursive bool) ([]FileStatus, error) {
	root := u.resolve(path)
	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}

	var statuses []FileStatus
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if !recursive && p != root {
				return fs.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		logical := path
		if rel != "." {
			logical = filepath.ToSlash(filepath.Join(path, rel))
		}
		statuses = append(statuses, FileStatus{
			Path:         logical,
			UfsPath:      logical,
			Length:       uint64(info.Size()),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return statuses, nil
}

// Open returns a positioned reader for the file at path.
func (u *LocalUFS) Open(ctx context.Context, path string) (PositionReader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(u.resolve(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return f, nil
}

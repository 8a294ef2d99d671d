// Package filestore gives access to the original files of media, either on
// the local disk of the host or in a GCS bucket.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/extractocr/internal/gcp"
)

// Files reads stored files by name. Missing files are reported with an
// error matching fs.ErrNotExist.
type Files interface {
	Exists(ctx context.Context, name string) (bool, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Localize returns a path on local disk holding the file. Copies are
	// made inside dir when the file is not local already.
	Localize(ctx context.Context, name, dir string) (string, error)
	// Put stores a local file under name, failing if name is taken.
	Put(ctx context.Context, localPath, name, contentType string) error
	// Remove deletes a stored file. A missing file is not an error.
	Remove(ctx context.Context, name string) error
}

// Local serves files from a directory.
type Local struct {
	Dir string
}

func (l Local) path(name string) string {
	return filepath.Join(l.Dir, filepath.Base(name))
}

func (l Local) Exists(_ context.Context, name string) (bool, error) {
	info, err := os.Stat(l.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (l Local) Open(_ context.Context, name string) (io.ReadCloser, error) {
	return os.Open(l.path(name))
}

func (l Local) Localize(ctx context.Context, name, _ string) (string, error) {
	ok, err := l.Exists(ctx, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("file %s: %w", name, fs.ErrNotExist)
	}
	return l.path(name), nil
}

func (l Local) Put(_ context.Context, localPath, name, _ string) error {
	return CopyFile(localPath, l.path(name), true)
}

func (l Local) Remove(_ context.Context, name string) error {
	err := os.Remove(l.path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// CopyFile copies src to dst through a temporary file in the directory of
// dst, so that readers never see a partial file. With exclusive set an
// existing dst is an error matching fs.ErrExist.
func CopyFile(src, dst string, exclusive bool) error {
	if exclusive {
		if _, err := os.Stat(dst); err == nil {
			return fmt.Errorf("file %s: %w", dst, fs.ErrExist)
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-"+filepath.Base(dst)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create file in %s: %w", filepath.Dir(dst), err)
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move file to %s: %w", dst, err)
	}
	return nil
}

// GCS serves files from a bucket, under an optional prefix.
type GCS struct {
	Bucket *storage.BucketHandle
	Prefix string
}

func (g GCS) object(name string) string {
	return path.Join(g.Prefix, path.Base(name))
}

func (g GCS) Exists(ctx context.Context, name string) (bool, error) {
	return gcp.ObjectExists(ctx, g.Bucket, g.object(name))
}

func (g GCS) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := g.Bucket.Object(g.object(name)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("object %s: %w", g.object(name), fs.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", g.object(name), err)
	}
	return r, nil
}

func (g GCS) Localize(ctx context.Context, name, dir string) (string, error) {
	dest := filepath.Join(dir, path.Base(name))
	if err := gcp.StreamObject(ctx, g.Bucket, g.object(name), dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (g GCS) Put(ctx context.Context, localPath, name, contentType string) error {
	err := gcp.UploadFileIfAbsent(ctx, g.Bucket, localPath, g.object(name), contentType)
	if errors.Is(err, gcp.ErrObjectExists) {
		return fmt.Errorf("object %s: %w", g.object(name), fs.ErrExist)
	}
	return err
}

func (g GCS) Remove(ctx context.Context, name string) error {
	return gcp.DeleteObject(ctx, g.Bucket, g.object(name))
}

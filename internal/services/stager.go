package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"

	"github.com/Lllllllleong/extractocr/internal/filestore"
	"github.com/Lllllllleong/extractocr/internal/gcp"
)

// Stager publishes an artifact at a url the host can ingest it from. The
// files store ingests the staged copy, not the extraction output.
type Stager interface {
	// Prepare checks that staging is possible before a run starts.
	Prepare(ctx context.Context) error
	// Stage copies a local file under a new unique name and returns it.
	Stage(ctx context.Context, localPath, extension, contentType string) (string, error)
	// URL is the public url of a staged file. A non empty baseURI replaces
	// the configured one.
	URL(baseURI, name string) string
	// Localize returns a local path holding the staged file, downloading it
	// into dir when staging is remote.
	Localize(ctx context.Context, name, dir string) (string, error)
	Remove(ctx context.Context, name string) error
}

// stagedName returns a name unique to this call: a timestamp and a random
// suffix.
func stagedName(now time.Time, extension string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s.%s", now.UTC().Format("20060102-150405"), suffix, extension)
}

func joinURL(base, name string) string {
	return strings.TrimRight(base, "/") + "/" + name
}

// LocalStager stages files in a web accessible directory of the host.
type LocalStager struct {
	Dir     string
	BaseURL string
	Now     func() time.Time
}

func (s *LocalStager) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Prepare creates the directory and checks it is writable.
func (s *LocalStager) Prepare(_ context.Context) error {
	return ensureWritableDir(s.Dir)
}

func (s *LocalStager) Stage(_ context.Context, localPath, extension, _ string) (string, error) {
	for i := 0; i < 3; i++ {
		name := stagedName(s.now(), extension)
		err := filestore.CopyFile(localPath, filepath.Join(s.Dir, name), true)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to stage %s: %w", localPath, err)
		}
		return name, nil
	}
	return "", fmt.Errorf("failed to find a free staging name in %s", s.Dir)
}

func (s *LocalStager) URL(baseURI, name string) string {
	if baseURI == "" {
		baseURI = s.BaseURL
	}
	return joinURL(baseURI, name)
}

func (s *LocalStager) Localize(_ context.Context, name, _ string) (string, error) {
	p := filepath.Join(s.Dir, filepath.Base(name))
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("staged file %s: %w", name, err)
	}
	return p, nil
}

func (s *LocalStager) Remove(_ context.Context, name string) error {
	err := os.Remove(filepath.Join(s.Dir, filepath.Base(name)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove staged file %s: %w", name, err)
	}
	return nil
}

// GCSStager stages files in a bucket, each object written only if absent.
type GCSStager struct {
	Bucket     *storage.BucketHandle
	BucketName string
	Prefix     string
	BaseURL    string
	Now        func() time.Time
}

func (s *GCSStager) Prepare(ctx context.Context) error {
	if _, err := s.Bucket.Attrs(ctx); err != nil {
		return fmt.Errorf("staging bucket %s is not available: %w", s.BucketName, err)
	}
	return nil
}

func (s *GCSStager) Stage(ctx context.Context, localPath, extension, contentType string) (string, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	for i := 0; i < 3; i++ {
		name := stagedName(now(), extension)
		err := gcp.UploadFileIfAbsent(ctx, s.Bucket, localPath, path.Join(s.Prefix, name), contentType)
		if errors.Is(err, gcp.ErrObjectExists) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to stage %s: %w", localPath, err)
		}
		return name, nil
	}
	return "", fmt.Errorf("failed to find a free staging name in bucket %s", s.BucketName)
}

func (s *GCSStager) URL(baseURI, name string) string {
	if baseURI == "" {
		baseURI = s.BaseURL
	}
	if baseURI == "" {
		baseURI = "https://storage.googleapis.com/" + s.BucketName
		if s.Prefix != "" {
			baseURI = joinURL(baseURI, strings.Trim(s.Prefix, "/"))
		}
	}
	return joinURL(baseURI, name)
}

func (s *GCSStager) Localize(ctx context.Context, name, dir string) (string, error) {
	dest := filepath.Join(dir, "staged-"+filepath.Base(name))
	if err := gcp.StreamObject(ctx, s.Bucket, path.Join(s.Prefix, name), dest); err != nil {
		return "", fmt.Errorf("failed to read staged file %s: %w", name, err)
	}
	return dest, nil
}

func (s *GCSStager) Remove(ctx context.Context, name string) error {
	return gcp.DeleteObject(ctx, s.Bucket, path.Join(s.Prefix, name))
}

// ensureWritableDir creates dir if needed and checks a file can be written
// in it.
func ensureWritableDir(dir string) error {
	if dir == "" {
		return errors.New("no directory configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", dir, err)
	}
	f.Close()
	return os.Remove(f.Name())
}

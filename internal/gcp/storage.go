package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// ErrObjectExists is returned when a create-if-absent write finds the object
// already there.
var ErrObjectExists = errors.New("object already exists")

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// UploadFileIfAbsent copies a local file to a GCS object only if the object
// doesn't already exist. Transient failures are retried with a doubling
// backoff; an existing object is reported as ErrObjectExists right away.
func UploadFileIfAbsent(ctx context.Context, bucket *storage.BucketHandle, localPath, objectName, contentType string) error {
	const maxRetries = 4
	var backoff = 1 * time.Second
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := func() error {
			localFileReader, err := os.Open(localPath)
			if err != nil {
				return fmt.Errorf("could not open local file %s: %w", localPath, err)
			}
			defer localFileReader.Close()

			writeCtx, cancel := context.WithTimeout(ctx, time.Second*50)
			defer cancel()

			writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(writeCtx)
			writer.ContentType = contentType

			if _, err := io.Copy(writer, localFileReader); err != nil {
				_ = writer.Close()
				return checkPrecondition(err)
			}
			if err := writer.Close(); err != nil {
				return checkPrecondition(err)
			}
			return nil
		}()

		if err == nil {
			return nil
		}
		if errors.Is(err, ErrObjectExists) || errors.Is(err, os.ErrNotExist) {
			return err
		}

		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", objectName,
			"attempt", i+1,
			"maxRetries", maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("upload for %s failed after all retries: %w", objectName, lastErr)
}

func checkPrecondition(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == 412 {
		return ErrObjectExists
	}
	return fmt.Errorf("failed to write to GCS: %w", err)
}

// StreamObject copies a GCS object to a local file.
func StreamObject(ctx context.Context, bucket *storage.BucketHandle, objectName, destPath string) error {
	gcsReader, err := bucket.Object(objectName).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("object %s: %w", objectName, os.ErrNotExist)
	}
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for %s: %w", objectName, err)
	}
	defer gcsReader.Close()

	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer localFile.Close()
	if _, err := io.Copy(localFile, gcsReader); err != nil {
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return nil
}

// ObjectExists reports whether an object is present in the bucket.
func ObjectExists(ctx context.Context, bucket *storage.BucketHandle, objectName string) (bool, error) {
	_, err := bucket.Object(objectName).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read attributes of %s: %w", objectName, err)
	}
	return true, nil
}

// DeleteObject removes an object; a missing object is not an error.
func DeleteObject(ctx context.Context, bucket *storage.BucketHandle, objectName string) error {
	err := bucket.Object(objectName).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete %s: %w", objectName, err)
	}
	return nil
}

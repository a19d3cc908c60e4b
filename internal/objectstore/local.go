package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"

	"github.com/duskcast/streamcore/internal/storage"
)

// LocalAdapter stores blobs under a sandboxed directory tree, used for
// local/dev deployments and tests. It delegates atomicity to
// storage.Sandbox's temp-then-rename primitives.
type LocalAdapter struct {
	sandbox *storage.Sandbox
}

// NewLocalAdapter creates a LocalAdapter rooted at baseDir.
func NewLocalAdapter(baseDir string) (*LocalAdapter, error) {
	sandbox, err := storage.NewSandbox(baseDir)
	if err != nil {
		return nil, err
	}
	return &LocalAdapter{sandbox: sandbox}, nil
}

// Upload copies localPath's contents into key atomically.
func (a *LocalAdapter) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return a.sandbox.AtomicWriteReader(key, f)
}

// Download copies key's contents to localPath.
func (a *LocalAdapter) Download(ctx context.Context, key, localPath string) error {
	data, err := a.sandbox.ReadFile(key)
	if err != nil {
		return err
	}

	out, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, bytes.NewReader(data))
	return err
}

// Delete removes key. A missing key is not an error.
func (a *LocalAdapter) Delete(ctx context.Context, key string) error {
	err := a.sandbox.Remove(key)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// DeleteAll deletes every key, collecting per-key failures.
func (a *LocalAdapter) DeleteAll(ctx context.Context, keys []string) DeletionReport {
	report := NewDeletionReport()
	for _, key := range keys {
		if err := a.Delete(ctx, key); err != nil {
			report.Failed[key] = err
			continue
		}
		report.Deleted = append(report.Deleted, key)
	}
	return report
}

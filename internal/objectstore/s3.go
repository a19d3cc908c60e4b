package objectstore

import (
	"context"
	"fmt"
	"math/rand"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Adapter stores blobs in an S3-compatible bucket. Because S3 has no
// native rename, atomic visibility is achieved by uploading to a temporary
// key first and then completing the publish with a server-side copy
// followed by a delete of the temporary key.
type S3Adapter struct {
	client *s3.Client
	bucket string
}

// NewS3Adapter creates an S3Adapter for the given bucket.
func NewS3Adapter(client *s3.Client, bucket string) *S3Adapter {
	return &S3Adapter{client: client, bucket: bucket}
}

// Upload uploads localPath's contents to key, making it visible only once
// the full object has landed.
func (a *S3Adapter) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}

	tmpKey := fmt.Sprintf("%s.tmp-%08x", key, rand.Uint32())

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &a.bucket,
		Key:           &tmpKey,
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return fmt.Errorf("upload to s3: %w", err)
	}

	copySource := a.bucket + "/" + tmpKey
	_, err = a.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     &a.bucket,
		Key:        &key,
		CopySource: &copySource,
	})
	if err != nil {
		_, _ = a.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &a.bucket, Key: &tmpKey})
		return fmt.Errorf("publish %s: %w", key, err)
	}

	_, err = a.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &a.bucket, Key: &tmpKey})
	if err != nil {
		return fmt.Errorf("cleanup temp key %s: %w", tmpKey, err)
	}

	return nil
}

// Download fetches key and writes it to localPath.
func (a *S3Adapter) Download(ctx context.Context, key, localPath string) error {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("get object %s: %w", key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := f.ReadFrom(out.Body); err != nil {
		return fmt.Errorf("write %s: %w", localPath, err)
	}
	return nil
}

// Delete removes key. A missing key is not an error (S3 DeleteObject is
// idempotent for non-existent keys).
func (a *S3Adapter) Delete(ctx context.Context, key string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// DeleteAll deletes every key, collecting per-key failures.
func (a *S3Adapter) DeleteAll(ctx context.Context, keys []string) DeletionReport {
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

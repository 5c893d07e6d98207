// Package minio implements the durable DeadLetterStore on S3-compatible
// object storage. Each dead letter is one JSON object under
// <run-id>/<item-id>.json, so offline reprocessing tools can list a run's
// quarantine with a single prefix scan.
package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"

	"github.com/urbanmesh/urbanflow/internal/domain"
)

// Store implements DeadLetterStore using a MinIO bucket.
type Store struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewStore creates the adapter and ensures the bucket exists.
func NewStore(ctx context.Context, client *minio.Client, bucket string, logger *zap.Logger) (*Store, error) {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return &Store{client: client, bucket: bucket, logger: logger}, nil
}

// Record implements DeadLetterStore.
func (s *Store) Record(ctx context.Context, item domain.DeadLetter) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	key := objectKey(item.RunID, item.ID)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return &domain.TransientIOError{Op: "minio put", Err: err}
	}

	s.logger.Debug("dead letter recorded",
		zap.String("run_id", item.RunID),
		zap.String("key", key),
		zap.String("kind", string(item.Kind)))
	return nil
}

// List implements DeadLetterStore.
func (s *Store) List(ctx context.Context, runID string) ([]domain.DeadLetter, error) {
	prefix := ""
	if runID != "" {
		prefix = runID + "/"
	}

	var items []domain.DeadLetter
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, &domain.TransientIOError{Op: "minio list", Err: object.Err}
		}

		obj, err := s.client.GetObject(ctx, s.bucket, object.Key, minio.GetObjectOptions{})
		if err != nil {
			return nil, &domain.TransientIOError{Op: "minio get", Err: err}
		}
		data, err := io.ReadAll(obj)
		_ = obj.Close()
		if err != nil {
			return nil, &domain.TransientIOError{Op: "minio read", Err: err}
		}

		var item domain.DeadLetter
		if err := json.Unmarshal(data, &item); err != nil {
			s.logger.Warn("skipping unreadable dead letter",
				zap.String("key", object.Key),
				zap.Error(err))
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func objectKey(runID, itemID string) string {
	return fmt.Sprintf("%s/%s.json", runID, itemID)
}

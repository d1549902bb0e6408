package miniostorage

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/zanzhit/pitch_recorder/internal/config"
)

const contentType = "video/mp4"

type Storage struct {
	client *minio.Client
	bucket string
}

func New(cfg config.Minio) (*Storage, error) {
	const op = "storage.minio.New"

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s := &Storage{
		client: client,
		bucket: cfg.Bucket,
	}

	if err := s.ensureBucket(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s, nil
}

func (s *Storage) ensureBucket() error {
	const op = "storage.minio.ensureBucket"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	return nil
}

// Upload puts the local file into the bucket under objectName and returns the
// stored size in bytes.
func (s *Storage) Upload(ctx context.Context, localPath, objectName string) (int64, error) {
	const op = "storage.minio.Upload"

	info, err := s.client.FPutObject(ctx, s.bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return info.Size, nil
}

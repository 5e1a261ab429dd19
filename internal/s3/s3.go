package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Capitan-Parrot/motion-detector/internal/models"
)

const objectTimestampLayout = "20060102T150405.000000Z0700"

// objectStore is the part of *minio.Client the sink needs.
type objectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Sink складывает кадры с движением в бакет: <ts>/color.jpg и <ts>/gray.jpg
type Sink struct {
	client objectStore
	bucket string
	logger *slog.Logger
}

func NewMinioClient(endpoint, accessKey, secretKey string) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return client, nil
}

func NewSink(client objectStore, bucket string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{client: client, bucket: bucket, logger: logger}
}

// EnsureBucketExists создаёт бакет, если его ещё нет
func (s *Sink) EnsureBucketExists(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("bucket created", "bucket", s.bucket)
	return nil
}

func (s *Sink) SaveImages(ctx context.Context, movement models.Movement, color, gray []byte) error {
	if err := s.EnsureBucketExists(ctx); err != nil {
		return err
	}

	prefix := movement.Timestamp.Format(objectTimestampLayout)
	for _, obj := range []struct {
		name string
		data []byte
	}{
		{"color.jpg", color},
		{"gray.jpg", gray},
	} {
		objectPath := fmt.Sprintf("%s/%s", prefix, obj.name)
		_, err := s.client.PutObject(
			ctx,
			s.bucket,
			objectPath,
			bytes.NewReader(obj.data),
			int64(len(obj.data)),
			minio.PutObjectOptions{
				ContentType: "image/jpeg",
			},
		)
		if err != nil {
			return fmt.Errorf("failed to save %s to S3: %w", objectPath, err)
		}
		s.logger.Info("saved frame to S3", "bucket", s.bucket, "object", objectPath)
	}

	return nil
}

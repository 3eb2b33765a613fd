package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"StepFM/config"
	"StepFM/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var minioClient *minio.Client

// InitMinio initializes the MinIO client and ensures the sample bucket
// exists.
func InitMinio(cfg *config.Config) error {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("created sample bucket", logger.String("bucket", cfg.MinioBucket))
	}

	minioClient = client
	logger.Info("connected to MinIO",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))
	return nil
}

// GetMinioClient returns the global client, or nil before InitMinio.
func GetMinioClient() *minio.Client {
	return minioClient
}

// GetSample opens a sample object for streaming. The caller must close the
// returned reader.
func GetSample(ctx context.Context, bucket, sampleID string) (io.ReadCloser, error) {
	if minioClient == nil {
		return nil, fmt.Errorf("MinIO client not initialized")
	}
	object, err := minioClient.GetObject(ctx, bucket, "samples/"+sampleID, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get sample %s: %w", sampleID, err)
	}
	return object, nil
}

// PutSample uploads a sample object.
func PutSample(ctx context.Context, bucket, sampleID string, r io.Reader, size int64, contentType string) error {
	if minioClient == nil {
		return fmt.Errorf("MinIO client not initialized")
	}
	_, err := minioClient.PutObject(ctx, bucket, "samples/"+sampleID, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put sample %s: %w", sampleID, err)
	}
	return nil
}

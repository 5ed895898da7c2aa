package minioctrl

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	ArtifactsBucket = "rendered-artifacts"
)

type MinioService struct {
	client *minio.Client
}

func NewMinioService(endpoint, accessKeyID, secretAccessKey string, useSSL bool) (*MinioService, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %v", err)
	}

	return &MinioService{
		client: client,
	}, nil
}

func (s *MinioService) EnsureBucketExists(ctx context.Context, bucketName string) error {
	exists, err := s.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %v", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %v", err)
		}
	}

	return nil
}

// StoreArtifact uploads a rendered file and returns its bucket/object
// location, the durable address stored on the render job.
func (s *MinioService) StoreArtifact(ctx context.Context, localPath, objectName string) (string, error) {
	_, err := s.client.FPutObject(ctx, ArtifactsBucket, objectName, localPath, minio.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact: %v", err)
	}

	return fmt.Sprintf("%s/%s", ArtifactsBucket, objectName), nil
}

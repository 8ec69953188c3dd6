package archive

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/shelfwatch/backend/internal/infrastructure/config"
)

// Uploader 对象上传能力
type Uploader interface {
	EnsureBucket(ctx context.Context) error
	UploadFile(ctx context.Context, objectName, filePath, contentType string) error
}

// MinioUploader 基于 MinIO/S3 的上传实现
type MinioUploader struct {
	client *minio.Client
	bucket string
}

// NewMinioUploader 创建 MinIO 上传器
// 只创建客户端，连接在第一次操作时建立
func NewMinioUploader(cfg *config.ArchiveConfig) (*MinioUploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinioUploader{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket 存储桶不存在时创建
func (u *MinioUploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

// UploadFile 上传本地文件
func (u *MinioUploader) UploadFile(ctx context.Context, objectName, filePath, contentType string) error {
	_, err := u.client.FPutObject(ctx, u.bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}
	return nil
}

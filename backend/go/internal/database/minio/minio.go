package minio

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"factforge/backend/go/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	client  *minio.Client
	once    sync.Once
	initErr error
)

// GetClient 使用单例模式初始化并返回一个 MinIO 客户端实例。证据截图保存在这里。
func GetClient(ctx context.Context, cfg *config.MinIOConfig) (*minio.Client, error) {
	once.Do(func() {
		if cfg.Endpoint == "" {
			initErr = fmt.Errorf("未配置 MinIO 端点")
			return
		}
		c, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.Secure,
		})
		if err != nil {
			initErr = fmt.Errorf("无法创建 MinIO 客户端: %w", err)
			return
		}

		ok, err := c.BucketExists(ctx, cfg.Bucket)
		if err != nil {
			initErr = fmt.Errorf("MinIO 初始化健康检查失败: %w", err)
			return
		}
		if !ok {
			if err := c.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
				initErr = fmt.Errorf("创建存储桶 '%s' 失败: %w", cfg.Bucket, err)
				return
			}
		}
		client = c
	})

	return client, initErr
}

// ScreenshotSigner 把证据截图的对象名转换为限时访问的 URL。
type ScreenshotSigner struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
}

// NewScreenshotSigner 创建签名器。
func NewScreenshotSigner(c *minio.Client, cfg *config.MinIOConfig) *ScreenshotSigner {
	return &ScreenshotSigner{
		client: c,
		bucket: cfg.Bucket,
		ttl:    config.Duration(cfg.PresignTTL, 15*time.Minute),
	}
}

// Presign 返回对象的预签名 GET URL。
func (s *ScreenshotSigner) Presign(ctx context.Context, object string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, object, s.ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("为对象 '%s' 生成预签名 URL 失败: %w", object, err)
	}
	return u.String(), nil
}

// HealthCheck 检查 MinIO 连接的健康状况。
func HealthCheck(ctx context.Context) error {
	if client == nil {
		return fmt.Errorf("MinIO 客户端未初始化")
	}
	if _, err := client.ListBuckets(ctx); err != nil {
		return fmt.Errorf("MinIO 健康检查失败: %w", err)
	}
	return nil
}

package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	apperrors "github.com/eatchicken1/frequency-ai-engine/internal/errors"
)

// MaxObjectSize 训练文件大小上限
const MaxObjectSize = 20 * 1024 * 1024

// MinIOConfig 对象存储连接参数，兼容阿里云OSS的S3接口
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MinIOFetcher 按file_url从bucket下载训练文件
type MinIOFetcher struct {
	client  *minio.Client
	bucket  string
	maxSize int64
	logger  *zap.Logger
}

// NewMinIOFetcher 创建MinIO客户端，不做网络探测
func NewMinIOFetcher(cfg MinIOConfig, logger *zap.Logger) (*MinIOFetcher, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint not configured")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket not configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// minio.New 不需要协议前缀
	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimSuffix(endpoint, "/")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinIOFetcher{
		client:  client,
		bucket:  cfg.Bucket,
		maxSize: MaxObjectSize,
		logger:  logger,
	}, nil
}

// Fetch 下载对象并限制大小，空文件视为错误
func (f *MinIOFetcher) Fetch(ctx context.Context, fileURL string) ([]byte, error) {
	key, err := ObjectKey(fileURL, f.bucket)
	if err != nil {
		return nil, apperrors.NewObjectStorageError(err.Error(), err)
	}

	f.logger.Info("Downloading from object storage", zap.String("bucket", f.bucket), zap.String("key", key))

	object, err := f.client.GetObject(ctx, f.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, wrapObjectError(key, err)
	}
	defer object.Close()

	data, err := readLimited(object, f.maxSize)
	if err != nil {
		return nil, wrapObjectError(key, err)
	}
	return data, nil
}

// readLimited 读取至多max字节
func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("file too large: exceeds %d bytes", max)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file")
	}
	return data, nil
}

func wrapObjectError(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" {
		return apperrors.NewObjectStorageError(fmt.Sprintf("object %s not found", key), err)
	}
	return apperrors.NewObjectStorageError(fmt.Sprintf("download %s failed: %v", key, err), err)
}

// ObjectKey 从file_url解析对象key
//
// 支持裸key、oss://bucket/key、路径风格 http(s)://host/bucket/key
// 以及虚拟主机风格 http(s)://bucket.host/key。
func ObjectKey(fileURL, bucket string) (string, error) {
	raw := strings.TrimSpace(fileURL)
	if raw == "" {
		return "", fmt.Errorf("file_url is empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid file_url %q: %w", fileURL, err)
	}

	var key string
	switch strings.ToLower(u.Scheme) {
	case "":
		key = u.Path
	case "oss", "s3":
		if u.Host != bucket {
			return "", fmt.Errorf("file_url bucket %q does not match %q", u.Host, bucket)
		}
		key = u.Path
	case "http", "https":
		key = u.Path
		if !strings.HasPrefix(u.Host, bucket+".") {
			key = strings.TrimPrefix(strings.TrimPrefix(key, "/"), bucket+"/")
		}
	default:
		return "", fmt.Errorf("unsupported file_url scheme %q", u.Scheme)
	}

	key = strings.TrimPrefix(key, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		return "", fmt.Errorf("file_url %q has no object key", fileURL)
	}
	return key, nil
}

package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// OSSStorage implements Storage on Aliyun OSS for trees whose segments
// live in remote object storage.
type OSSStorage struct {
	client *oss.Client
	bucket *oss.Bucket
	prefix string
}

// OSSConfig holds OSS configuration.
type OSSConfig struct {
	Endpoint  string // OSS endpoint (e.g., "oss-cn-hangzhou")
	Bucket    string // Bucket name
	AccessKey string // Access key
	SecretKey string // Secret key
	Prefix    string // Optional key prefix inside the bucket
	Internal  bool   // Use internal endpoint
}

// NewOSSStorage creates a new OSS storage instance.
func NewOSSStorage(cfg OSSConfig) (*OSSStorage, error) {
	endpoint := cfg.Endpoint
	if cfg.Internal {
		endpoint = endpoint + "-internal"
	}
	if !strings.HasPrefix(endpoint, "http") {
		endpoint = fmt.Sprintf("https://%s.aliyuncs.com", endpoint)
	}

	client, err := oss.New(endpoint, cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &OSSStorage{
		client: client,
		bucket: bucket,
		prefix: strings.TrimSuffix(cfg.Prefix, "/"),
	}, nil
}

func (s *OSSStorage) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *OSSStorage) Put(ctx context.Context, key string, data []byte) error {
	if err := s.bucket.PutObject(s.objectKey(key), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

func (s *OSSStorage) Get(ctx context.Context, key string) ([]byte, error) {
	body, err := s.bucket.GetObject(s.objectKey(key))
	if err != nil {
		if ossErr, ok := err.(oss.ServiceError); ok && ossErr.StatusCode == 404 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

func (s *OSSStorage) Delete(ctx context.Context, key string) error {
	if err := s.bucket.DeleteObject(s.objectKey(key)); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

func (s *OSSStorage) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := s.bucket.IsObjectExist(s.objectKey(key))
	if err != nil {
		return false, fmt.Errorf("failed to check object %s: %w", key, err)
	}
	return exists, nil
}

func (s *OSSStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	marker := ""
	for {
		result, err := s.bucket.ListObjects(oss.Prefix(s.objectKey(prefix)), oss.Marker(marker))
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, object := range result.Objects {
			key := object.Key
			if s.prefix != "" {
				key = strings.TrimPrefix(key, s.prefix+"/")
			}
			keys = append(keys, key)
		}
		if !result.IsTruncated {
			break
		}
		marker = result.NextMarker
	}
	return keys, nil
}

package artifact

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStoreConfig describes an S3-compatible bucket holding firmware images.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Region    string // skips the bucket location lookup when set
	UseSSL    bool
}

// ObjectStore serves firmware images from an S3-compatible bucket.
type ObjectStore struct {
	Conn   *minio.Client
	bucket string
	prefix string
}

// ConnectObjectStore creates the minio client and checks that the bucket exists.
func ConnectObjectStore(ctx context.Context, cfg ObjectStoreConfig) (*ObjectStore, error) {
	conn, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := conn.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to establish minio connection: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("firmware bucket %q does not exist", cfg.Bucket)
	}

	return &ObjectStore{Conn: conn, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Open downloads the named image into memory.
func (s *ObjectStore) Open(ctx context.Context, name string) ([]byte, error) {
	key := path.Join(s.prefix, name)

	obj, err := s.Conn.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.translate(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.translate(key, err)
	}
	return data, nil
}

func (s *ObjectStore) translate(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: s3://%s/%s", ErrArtifactMissing, s.bucket, key)
	}
	return fmt.Errorf("fetch s3://%s/%s: %w", s.bucket, key, err)
}

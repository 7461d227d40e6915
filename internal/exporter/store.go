package exporter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"catpipe/internal/config"
	"catpipe/internal/errors"
)

// ArtifactStore mirrors written artifacts to a second location
type ArtifactStore interface {
	// Put copies the local file to key and returns the mirrored location
	Put(ctx context.Context, key, localPath string) (string, error)
	Backend() string
}

// NewArtifactStore builds the store selected by cfg.Backend
func NewArtifactStore(cfg config.StoreConfig, logger *slog.Logger) (ArtifactStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case "", "none":
		return nopStore{}, nil
	case "local":
		return NewLocalStore(cfg.Root, cfg.Prefix, logger), nil
	case "s3":
		return NewS3Store(cfg, logger)
	default:
		return nil, errors.NewConfigError(fmt.Sprintf("unknown artifact store backend %q", cfg.Backend), nil)
	}
}

type nopStore struct{}

func (nopStore) Put(context.Context, string, string) (string, error) { return "", nil }
func (nopStore) Backend() string                                     { return "none" }

// LocalStore copies artifacts below a root directory
type LocalStore struct {
	root   string
	prefix string
	logger *slog.Logger
}

// NewLocalStore creates a store rooted at root
func NewLocalStore(root, prefix string, logger *slog.Logger) *LocalStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalStore{root: root, prefix: prefix, logger: logger.With(slog.String("component", "local_store"))}
}

// Backend implements ArtifactStore
func (s *LocalStore) Backend() string { return "local" }

// Put implements ArtifactStore
func (s *LocalStore) Put(ctx context.Context, key, localPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dst := filepath.Join(s.root, filepath.FromSlash(objectKey(s.prefix, key)))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", errors.NewStorageError("failed to create store directory", err).WithContext("path", dst)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", errors.NewStorageError("failed to open artifact", err).WithContext("path", localPath)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", errors.NewStorageError("failed to create mirrored artifact", err).WithContext("path", dst)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return "", errors.NewStorageError("failed to copy artifact", err).WithContext("path", dst)
	}
	if err := out.Close(); err != nil {
		return "", errors.NewStorageError("failed to close mirrored artifact", err).WithContext("path", dst)
	}

	s.logger.Debug("artifact_mirrored", slog.String("path", dst))
	return dst, nil
}

// S3Store uploads artifacts to an S3 compatible bucket
type S3Store struct {
	client *minio.Client
	cfg    config.StoreConfig
	logger *slog.Logger
}

// NewS3Store creates a MinIO/S3 client from cfg. The endpoint may be a bare
// host:port or a URL; an https URL turns TLS on.
func NewS3Store(cfg config.StoreConfig, logger *slog.Logger) (*S3Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.NewConfigError("s3 store needs endpoint and bucket", nil)
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.NewConfigError("s3 store needs access and secret keys", nil)
	}

	endpoint, secure := cfg.Endpoint, cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		secure = secure || u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.NewStorageError("failed to create s3 client", err).WithContext("endpoint", endpoint)
	}

	return &S3Store{
		client: client,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "s3_store"), slog.String("bucket", cfg.Bucket)),
	}, nil
}

// Backend implements ArtifactStore
func (s *S3Store) Backend() string { return "s3" }

// EnsureBucket creates the bucket when it does not exist
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return errors.NewStorageError("failed to check bucket", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return errors.NewStorageError("failed to create bucket", err)
	}
	s.logger.InfoContext(ctx, "bucket_created")
	return nil
}

// Put implements ArtifactStore
func (s *S3Store) Put(ctx context.Context, key, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", errors.NewStorageError("failed to open artifact", err).WithContext("path", localPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", errors.NewStorageError("failed to stat artifact", err).WithContext("path", localPath)
	}

	object := objectKey(s.cfg.Prefix, key)
	_, err = s.client.PutObject(ctx, s.cfg.Bucket, object, f, info.Size(), minio.PutObjectOptions{
		ContentType: contentType(localPath),
	})
	if err != nil {
		return "", errors.NewStorageError("failed to upload artifact", err).WithContext("key", object)
	}

	location := fmt.Sprintf("s3://%s/%s", s.cfg.Bucket, object)
	s.logger.DebugContext(ctx, "artifact_uploaded", slog.String("location", location), slog.Int64("bytes", info.Size()))
	return location, nil
}

func objectKey(prefix, key string) string {
	return strings.TrimPrefix(path.Join(prefix, filepath.ToSlash(key)), "/")
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if t := mime.TypeByExtension(filepath.Ext(p)); t != "" {
		return t
	}
	return "application/octet-stream"
}

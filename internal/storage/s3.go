package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfsplitter/internal/config"
)

// Uploader is the part of manager.Uploader the sink uses.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Sink stages outputs in a local temp dir and uploads them on Commit.
type S3Sink struct {
	bucket string
	prefix string
	up     Uploader

	mu       *sync.Mutex
	stageDir string
}

// NewS3Sink loads the AWS config (static keys when cfg carries them, the
// default chain otherwise) and returns a sink writing to cfg.Bucket.
func NewS3Sink(ctx context.Context, cfg config.StorageConfig) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 storage: bucket is required")
	}
	var opts []func(*awscfg.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awscfg.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsConf, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	up := manager.NewUploader(s3.NewFromConfig(awsConf), func(u *manager.Uploader) {
		u.PartSize = 8 * 1024 * 1024
	})
	return NewS3SinkWithUploader(cfg.Bucket, cfg.Prefix, up), nil
}

func NewS3SinkWithUploader(bucket, prefix string, up Uploader) *S3Sink {
	return &S3Sink{bucket: bucket, prefix: strings.Trim(prefix, "/"), up: up, mu: &sync.Mutex{}}
}

// WithPrefix returns a copy whose keys live under p, below the current prefix.
func (s *S3Sink) WithPrefix(p string) *S3Sink {
	c := *s
	p = strings.Trim(filepath.ToSlash(p), "/")
	if p != "" {
		c.prefix = strings.Trim(path.Join(s.prefix, p), "/")
	}
	c.mu = &sync.Mutex{}
	c.stageDir = ""
	return &c
}

func (s *S3Sink) Key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *S3Sink) Stage(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stageDir == "" {
		dir, err := os.MkdirTemp("", "pdfsplit-stage-")
		if err != nil {
			return "", fmt.Errorf("create stage dir: %w", err)
		}
		s.stageDir = dir
	}
	return filepath.Join(s.stageDir, name), nil
}

// Close removes the staging directory along with any outputs that were
// staged but never committed.
func (s *S3Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stageDir == "" {
		return nil
	}
	err := os.RemoveAll(s.stageDir)
	s.stageDir = ""
	return err
}

func (s *S3Sink) Commit(ctx context.Context, name, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open staged file: %w", err)
	}
	defer func() {
		f.Close()
		_ = os.Remove(localPath)
	}()

	key := s.Key(name)
	_, err = s.up.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/pdf"),
		Metadata:    map[string]string{"name": name},
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("upload failed")
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	loc := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	log.Info().Str("location", loc).Msg("uploaded split output")
	return loc, nil
}

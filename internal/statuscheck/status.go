package statuscheck

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/local/pdfsplitter/internal/config"
)

// RedisPinger models the minimal Redis capability we need for status checks.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// BucketHeader is the part of the S3 client used to probe the bucket.
type BucketHeader interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Checker aggregates readiness checks for the things a split depends on.
type Checker struct {
	redis     RedisPinger
	storage   config.StorageConfig
	bucket    BucketHeader
	uploadDir string
	outputDir string
}

type Options struct {
	Redis     RedisPinger
	Storage   config.StorageConfig
	UploadDir string
	OutputDir string
	// Bucket overrides the S3 client built from Storage.
	Bucket BucketHeader
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Redis   Status `json:"redis"`
	Storage Status `json:"storage"`
	Uploads Status `json:"uploads"`
}

func (s Summary) OK() bool { return s.Redis.OK && s.Storage.OK && s.Uploads.OK }

func New(opts Options) *Checker {
	return &Checker{
		redis:     opts.Redis,
		storage:   opts.Storage,
		bucket:    opts.Bucket,
		uploadDir: opts.UploadDir,
		outputDir: opts.OutputDir,
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Redis:   c.checkRedis(ctx),
		Storage: c.checkStorage(ctx),
		Uploads: checkWritable(c.uploadDir),
	}
}

// Handler serves the summary as JSON, 503 when any check fails.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sum := c.Summary(r.Context())
		code := http.StatusOK
		if !sum.OK() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(sum)
	})
}

func (c *Checker) checkRedis(ctx context.Context) Status {
	if c.redis == nil {
		return Status{OK: false, Message: "client unavailable"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkStorage(ctx context.Context) Status {
	if c.storage.Backend != "s3" {
		return checkWritable(c.outputDir)
	}
	if c.storage.Bucket == "" {
		return Status{OK: false, Message: "Bucket not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cli := c.bucket
	if cli == nil {
		var err error
		if cli, err = c.s3Client(ctx); err != nil {
			return Status{OK: false, Message: trimError(err)}
		}
	}
	if _, err := cli.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.storage.Bucket)}); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) s3Client(ctx context.Context) (*s3.Client, error) {
	var opts []func(*awscfg.LoadOptions) error
	if c.storage.Region != "" {
		opts = append(opts, awscfg.WithRegion(c.storage.Region))
	}
	if c.storage.AccessKeyID != "" && c.storage.SecretAccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.storage.AccessKeyID, c.storage.SecretAccessKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg), nil
}

func checkWritable(dir string) Status {
	if dir == "" {
		return Status{OK: false, Message: "Directory not configured"}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	f, err := os.CreateTemp(dir, ".probe-")
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	name := f.Name()
	f.Close()
	_ = os.Remove(name)
	return Status{OK: true, Message: "Writable: " + filepath.Clean(dir)}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}

package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/local/pdfsplitter/internal/config"
)

// Sink decides where split outputs are written and where they end up.
// Stage returns a local path to write name to; Commit finalizes it and
// returns the location reported to the user. Close releases whatever
// Stage set up once no more outputs follow.
type Sink interface {
	Stage(name string) (string, error)
	Commit(ctx context.Context, name, localPath string) (string, error)
	Close() error
}

// LocalSink writes outputs directly into Dir.
type LocalSink struct {
	Dir string
}

func NewLocalSink(dir string) *LocalSink { return &LocalSink{Dir: dir} }

func (s *LocalSink) Stage(name string) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return filepath.Join(s.Dir, name), nil
}

func (s *LocalSink) Commit(_ context.Context, _ string, localPath string) (string, error) {
	if abs, err := filepath.Abs(localPath); err == nil {
		return abs, nil
	}
	return localPath, nil
}

func (s *LocalSink) Close() error { return nil }

// Open builds the sink configured by cfg. dir is the local output
// directory for the local backend and the key prefix below cfg.Prefix for s3.
func Open(ctx context.Context, cfg config.StorageConfig, dir string) (Sink, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalSink(dir), nil
	case "s3":
		s, err := NewS3Sink(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s.WithPrefix(dir), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

package pdfdoc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Temp files created for remote sources carry these prefixes so that
// CleanupTemps can find leftovers.
const (
	httpTempPrefix = "pdfdl-"
	s3TempPrefix   = "s3pdf-"
)

// HTTPError is a non-200 answer while downloading a source.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("download %s: http %d", e.URL, e.StatusCode)
}

// Source is a local copy of a referenced PDF.
type Source struct {
	Ref  string
	Path string
	// Name is the file name the user knows the document by.
	Name string
	temp bool
}

// Close removes the temp copy of a remote source.
func (s *Source) Close() error {
	if s == nil || !s.temp {
		return nil
	}
	return os.Remove(s.Path)
}

// Resolve returns a local file for ref. Supported:
// - file://path or absolute/relative filesystem paths
// - http(s):// URLs (downloads to temp)
// - s3://bucket/key (downloads to temp via AWS SDK v2)
func Resolve(ctx context.Context, ref string) (*Source, error) {
	// Strip optional #page fragment if present
	if i := strings.Index(ref, "#"); i >= 0 {
		ref = ref[:i]
	}
	if ref == "" {
		return nil, fmt.Errorf("empty document reference")
	}

	switch {
	case strings.HasPrefix(ref, "s3://"):
		p, err := downloadS3ToTemp(ctx, ref)
		if err != nil {
			return nil, err
		}
		return &Source{Ref: ref, Path: p, Name: filepath.Base(ref), temp: true}, nil
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		p, err := downloadHTTPToTemp(ctx, ref)
		if err != nil {
			return nil, err
		}
		name := ref[strings.LastIndex(ref, "/")+1:]
		if i := strings.IndexByte(name, '?'); i >= 0 {
			name = name[:i]
		}
		return &Source{Ref: ref, Path: p, Name: name, temp: true}, nil
	default:
		p := strings.TrimPrefix(ref, "file://")
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("open source: %w", err)
		}
		return &Source{Ref: ref, Path: p, Name: filepath.Base(p)}, nil
	}
}

// RemoveLocal deletes the file behind a local ref. Remote refs and files
// that are already gone are not an error.
func RemoveLocal(ref string) error {
	if strings.HasPrefix(ref, "s3://") || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return nil
	}
	if i := strings.Index(ref, "#"); i >= 0 {
		ref = ref[:i]
	}
	p := strings.TrimPrefix(ref, "file://")
	if p == "" {
		return nil
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func downloadHTTPToTemp(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{StatusCode: resp.StatusCode, URL: url}
	}
	return copyToTemp(httpTempPrefix, resp.Body)
}

func downloadS3ToTemp(ctx context.Context, s3url string) (string, error) {
	bucket, key, err := SplitS3URL(s3url)
	if err != nil {
		return "", err
	}

	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("load aws config: %w", err)
	}
	cli := s3.NewFromConfig(cfg)

	out, err := cli.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return "", fmt.Errorf("get s3 object: %w", err)
	}
	defer out.Body.Close()

	p, err := copyToTemp(s3TempPrefix, out.Body)
	if err != nil {
		return "", err
	}
	log.Info().Str("bucket", bucket).Str("key", key).Str("file", filepath.Base(p)).Msg("downloaded s3 pdf to temp")
	return p, nil
}

// SplitS3URL splits s3://bucket/key.
func SplitS3URL(s3url string) (string, string, error) {
	path := strings.TrimPrefix(s3url, "s3://")
	slash := strings.Index(path, "/")
	if slash <= 0 || slash == len(path)-1 {
		return "", "", fmt.Errorf("invalid s3 url: %s", s3url)
	}
	return path[:slash], path[slash+1:], nil
}

func copyToTemp(prefix string, r io.Reader) (string, error) {
	// keep the .pdf extension, pdfcpu looks at it
	f, err := os.CreateTemp("", prefix+"*.pdf")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// CleanupTemps removes download temp files older than maxAge from dir, or
// from os.TempDir when dir is empty. It returns how many were removed.
func CleanupTemps(dir string, maxAge time.Duration) int {
	if dir == "" {
		dir = os.TempDir()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	now := time.Now()
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, httpTempPrefix) && !strings.HasPrefix(name, s3TempPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if os.Remove(filepath.Join(dir, name)) == nil {
			removed++
		}
	}
	return removed
}

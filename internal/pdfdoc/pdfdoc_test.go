package pdfdoc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/local/pdfsplitter/internal/pdftest"
	"github.com/local/pdfsplitter/internal/splitplan"
)

func TestOpenReadsPageCount(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "book.pdf")
	pdftest.WriteFile(t, p, 5)

	doc, err := Open(context.Background(), "file://"+p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer doc.Close()
	if doc.PageCount() != 5 {
		t.Fatalf("expected 5 pages, got %d", doc.PageCount())
	}
	if doc.Name != "book.pdf" {
		t.Fatalf("unexpected name %q", doc.Name)
	}
}

func TestOpenRejectsNonPDF(t *testing.T) {
	p := filepath.Join(t.TempDir(), "notes.pdf")
	if err := os.WriteFile(p, []byte("just some text, not a pdf\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(context.Background(), p)
	if !errors.Is(err, ErrNotPDF) {
		t.Fatalf("expected ErrNotPDF, got %v", err)
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(context.Background(), filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestResolveHTTPDownloadsToTemp(t *testing.T) {
	src := filepath.Join(t.TempDir(), "remote.pdf")
	pdftest.WriteFile(t, src, 2)
	body, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/remote.pdf" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	s, err := Resolve(context.Background(), srv.URL+"/files/remote.pdf?sig=abc")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.Name != "remote.pdf" {
		t.Fatalf("unexpected name %q", s.Name)
	}
	if _, err := os.Stat(s.Path); err != nil {
		t.Fatalf("temp copy missing: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(s.Path); !os.IsNotExist(err) {
		t.Fatalf("temp copy not removed: %v", err)
	}

	if _, err := Resolve(context.Background(), srv.URL+"/nope.pdf"); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestSplitS3URL(t *testing.T) {
	b, k, err := SplitS3URL("s3://bucket/in/file.pdf")
	if err != nil || b != "bucket" || k != "in/file.pdf" {
		t.Fatalf("got %q %q %v", b, k, err)
	}
	for _, bad := range []string{"s3://", "s3://bucket", "s3://bucket/", "s3:///key"} {
		if _, _, err := SplitS3URL(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestCleanupTemps(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-2 * time.Hour)
	for _, name := range []string{"pdfdl-1.pdf", "s3pdf-2.pdf", "keep.pdf", "pdfdl-fresh.pdf"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if name != "pdfdl-fresh.pdf" {
			if err := os.Chtimes(p, old, old); err != nil {
				t.Fatal(err)
			}
		}
	}
	if n := CleanupTemps(dir, time.Hour); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	for _, name := range []string{"keep.pdf", "pdfdl-fresh.pdf"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s should remain: %v", name, err)
		}
	}
}

func TestRemoveLocal(t *testing.T) {
	p := filepath.Join(t.TempDir(), "upload.pdf")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := RemoveLocal("file://" + p); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("file still there: %v", err)
	}
	// gone already, or not ours to touch
	for _, ref := range []string{"file://" + p, "https://example.com/a.pdf", "s3://bucket/a.pdf"} {
		if err := RemoveLocal(ref); err != nil {
			t.Errorf("%s: %v", ref, err)
		}
	}
}

func TestWriterExtract(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.pdf")
	pdftest.WriteFile(t, src, 6)

	w := NewWriter()
	out := filepath.Join(dir, "out", "part.pdf")
	ranges := []splitplan.PageSelection{{Start: 2, End: 3}, {Start: 3, End: 3}, {Start: 6, End: 6}}
	if err := w.Extract(context.Background(), src, ranges, out); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	doc, err := Open(context.Background(), out)
	if err != nil {
		t.Fatalf("Open output: %v", err)
	}
	if doc.PageCount() != 4 {
		t.Fatalf("expected 4 pages in output, got %d", doc.PageCount())
	}
	if _, err := os.Stat(out + ".part.pdf"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestWriterExtractHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewWriter().Extract(ctx, "unused.pdf", []splitplan.PageSelection{{Start: 1, End: 1}}, filepath.Join(t.TempDir(), "x.pdf"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

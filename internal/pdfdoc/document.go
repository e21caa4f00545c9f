package pdfdoc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"
)

// ErrNotPDF is returned when a source's magic bytes are not a PDF.
var ErrNotPDF = errors.New("not a pdf")

var configOnce sync.Once

// pdfcpu keeps a config dir under the user's home by default; a server has
// no use for it.
func disableConfigDir() { configOnce.Do(api.DisableConfigDir) }

// Document is an opened source with a known page count. Close removes any
// downloaded temp copy.
type Document struct {
	*Source
	pages int
}

// PageCount returns the number of pages, always >= 1.
func (d *Document) PageCount() int { return d.pages }

// Open resolves ref, checks that it is a PDF and reads its page count.
func Open(ctx context.Context, ref string) (*Document, error) {
	src, err := Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	doc, err := OpenSource(src)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return doc, nil
}

// OpenSource reads the page count of an already resolved source.
func OpenSource(src *Source) (*Document, error) {
	disableConfigDir()
	if err := CheckPDF(src.Path); err != nil {
		return nil, err
	}
	n, err := api.PageCountFile(src.Path)
	if err != nil {
		return nil, fmt.Errorf("pdf page count failed: %w", err)
	}
	if n < 1 {
		return nil, fmt.Errorf("pdf %s has no pages", src.Name)
	}
	log.Debug().Str("file", src.Name).Int("pages", n).Msg("opened pdf")
	return &Document{Source: src, pages: n}, nil
}

// CheckPDF detects the file type by magic bytes, not by name.
func CheckPDF(path string) error {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("failed to detect file type: %w", err)
	}
	if !mt.Is("application/pdf") {
		return fmt.Errorf("%w: %s is %s", ErrNotPDF, path, mt.String())
	}
	return nil
}

package orchestrator

import (
	"context"

	"github.com/local/pdfsplitter/internal/pdfdoc"
	"github.com/local/pdfsplitter/internal/splitter"
)

// PageCounter returns the number of pages and the display name of the PDF
// referenced by ref (file path, file://, http(s):// or s3://).
type PageCounter interface {
	PageCount(ctx context.Context, ref string) (int, string, error)
}

type pdfPageCounter struct{}

func (pdfPageCounter) PageCount(ctx context.Context, ref string) (int, string, error) {
	doc, err := pdfdoc.Open(ctx, ref)
	if err != nil {
		return 0, "", err
	}
	defer doc.Close()
	return doc.PageCount(), doc.Name, nil
}

var planSplit = splitter.Plan

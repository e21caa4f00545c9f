package pdfdoc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/local/pdfsplitter/internal/splitplan"
)

// Writer copies page ranges of a source PDF into a new file with pdfcpu.
type Writer struct {
	conf *model.Configuration
}

func NewWriter() *Writer {
	disableConfigDir()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Writer{conf: conf}
}

// Extract writes the given ranges, in order, to outPath. Repeated and
// overlapping ranges repeat pages. The file appears only once complete.
func (w *Writer) Extract(ctx context.Context, srcPath string, ranges []splitplan.PageSelection, outPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ranges) == 0 {
		return fmt.Errorf("extract %s: no pages", filepath.Base(outPath))
	}
	sel := make([]string, 0, len(ranges))
	for _, r := range ranges {
		sel = append(sel, fmt.Sprintf("%d-%d", r.Start, r.End))
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp := outPath + ".part.pdf"
	if err := api.CollectFile(srcPath, tmp, sel, w.conf); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("collect pages %v: %w", sel, err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize %s: %w", filepath.Base(outPath), err)
	}
	return nil
}

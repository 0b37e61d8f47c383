package delivery

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/MeKo-Tech/eventshot/internal/utils"
)

// PrintSheetDeliverer wraps each image in a single page PDF sized to the
// physical print, ready for a photo printer queue.
type PrintSheetDeliverer struct {
	dir      string
	widthIn  float64
	heightIn float64
	quality  int
}

// NewPrintSheetDeliverer writes sheets into dir. The page size follows the
// orientation of each image: shortIn × longIn inches for portrait, swapped
// for landscape.
func NewPrintSheetDeliverer(dir string, shortIn, longIn float64) (*PrintSheetDeliverer, error) {
	if dir == "" {
		return nil, errors.New("print directory is empty")
	}
	if shortIn <= 0 || longIn <= 0 {
		return nil, fmt.Errorf("print size must be positive, got %gx%g in", shortIn, longIn)
	}
	return &PrintSheetDeliverer{dir: dir, widthIn: shortIn, heightIn: longIn, quality: DefaultJPEGQuality}, nil
}

// Name returns "print".
func (p *PrintSheetDeliverer) Name() string { return "print" }

// PageSize returns the page dimensions in inches for an image of w×h.
func (p *PrintSheetDeliverer) PageSize(w, h int) (float64, float64) {
	if utils.OrientationOf(w, h) == utils.Portrait {
		return p.widthIn, p.heightIn
	}
	return p.heightIn, p.widthIn
}

// Deliver writes a one-page PDF holding img scaled to the page. An existing
// sheet for the same item is replaced.
func (p *PrintSheetDeliverer) Deliver(ctx context.Context, img image.Image, meta Metadata) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	b := img.Bounds()
	pw, ph := p.PageSize(b.Dx(), b.Dy())

	tmpDir, err := os.MkdirTemp("", "eventshot-print-*")
	if err != nil {
		return Ack{}, fmt.Errorf("create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	jpgPath := filepath.Join(tmpDir, "page.jpg")
	if err := utils.SaveJPEG(jpgPath, img, p.quality); err != nil {
		return Ack{}, err
	}

	imp, err := api.Import(fmt.Sprintf("dimensions:%g %g, pos:full", pw, ph), types.INCHES)
	if err != nil {
		return Ack{}, fmt.Errorf("print layout: %w", err)
	}

	out := filepath.Join(p.dir, meta.FileName(".pdf"))
	// importing into an existing file appends pages; a retry must replace it
	if err := os.Remove(out); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Ack{}, fmt.Errorf("replace print sheet: %w", err)
	}
	if err := api.ImportImagesFile([]string{jpgPath}, out, imp, model.NewDefaultConfiguration()); err != nil {
		return Ack{}, fmt.Errorf("build print sheet: %w", err)
	}

	var size int64
	if fi, err := os.Stat(out); err == nil {
		size = fi.Size()
	}
	return Ack{Deliverer: p.Name(), Location: out, Bytes: size}, nil
}

package delivery

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/eventshot/internal/utils"
)

// DefaultJPEGQuality is used for the final output files.
const DefaultJPEGQuality = 95

// DirectoryDeliverer writes the final JPEG into Layout.Output.
type DirectoryDeliverer struct {
	dir     string
	quality int
}

// NewDirectoryDeliverer returns a deliverer for dir. quality outside 1..100
// falls back to DefaultJPEGQuality.
func NewDirectoryDeliverer(dir string, quality int) *DirectoryDeliverer {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &DirectoryDeliverer{dir: dir, quality: quality}
}

// Name returns "directory".
func (d *DirectoryDeliverer) Name() string { return "directory" }

// Deliver encodes img as JPEG and writes it atomically to
// <dir>/<Metadata.FileName>. The Ack location is the written path.
func (d *DirectoryDeliverer) Deliver(ctx context.Context, img image.Image, meta Metadata) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	path := filepath.Join(d.dir, meta.FileName(".jpg"))
	if err := utils.SaveJPEG(path, img, d.quality); err != nil {
		return Ack{}, fmt.Errorf("write output: %w", err)
	}
	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}
	return Ack{Deliverer: d.Name(), Location: path, Bytes: size}, nil
}

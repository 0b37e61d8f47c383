// Package delivery moves finished images to their destinations: the
// final-output directory, an upload endpoint and printable PDF sheets.
//
// A Layout names the four installation directories (inbound, backup,
// output, print). Originals are copied to the backup directory before any
// processing. Every Deliverer names its file after the item with
// Metadata.FileName, so the directory, upload and print outputs of one item
// share a name and no two items collide.
//
// Remote failures are reported as *Error with a Network or Rejected kind.
// Callers decide about retries; deliverers make a single attempt.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
)

// ErrorKind classifies delivery failures.
type ErrorKind int

const (
	// Network covers transport failures and server-side errors.
	Network ErrorKind = iota
	// Rejected means the destination refused the image.
	Rejected
)

// String returns "network" or "rejected".
func (k ErrorKind) String() string {
	if k == Rejected {
		return "rejected"
	}
	return "network"
}

// Error is returned by deliverers that talk to a remote destination.
type Error struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string { return fmt.Sprintf("delivery %s: %v", e.Kind, e.Err) }

// Unwrap returns the underlying transport or status error.
func (e *Error) Unwrap() error { return e.Err }

// IsRejected reports whether err is a Rejected delivery error.
func IsRejected(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == Rejected
}

// Metadata describes the item being delivered.
type Metadata struct {
	// ItemID is the work item's unique ID; its tag keeps file names apart.
	ItemID string
	// SourcePath is the inbound file the image was produced from.
	SourcePath string
	// Stem is the source file name without directory and extension.
	Stem        string
	Faces       int
	Orientation string
	// DiscoveredAt supplies the timestamp in output names.
	DiscoveredAt time.Time
	ProcessedAt  time.Time
}

// FileName is the output file name of the item with extension ext.
func (m Metadata) FileName(ext string) string {
	return OutputName(m.Stem, m.DiscoveredAt, m.ItemID, ext)
}

// Ack confirms a delivery.
type Ack struct {
	// Deliverer is the Name of the destination that accepted the image.
	Deliverer string `json:"deliverer"`
	// Location is a file path or the URL reported by the upload endpoint.
	Location string `json:"location"`
	// Bytes is the encoded size that was written or sent.
	Bytes int64 `json:"bytes"`
}

// Deliverer hands a finished image to one destination.
type Deliverer interface {
	// Name identifies the destination in logs and acks.
	Name() string
	// Deliver makes one attempt. Delivering the same item again replaces
	// the earlier result.
	Deliver(ctx context.Context, img image.Image, meta Metadata) (Ack, error)
}

// Multi delivers to every destination in order and stops at the first error.
type Multi []Deliverer

// Name returns "multi".
func (m Multi) Name() string { return "multi" }

// Deliver returns the Ack of the first deliverer, which is the primary
// destination.
func (m Multi) Deliver(ctx context.Context, img image.Image, meta Metadata) (Ack, error) {
	var first Ack
	for i, d := range m {
		if err := ctx.Err(); err != nil {
			return Ack{}, err
		}
		ack, err := d.Deliver(ctx, img, meta)
		if err != nil {
			return Ack{}, fmt.Errorf("%s: %w", d.Name(), err)
		}
		if i == 0 {
			first = ack
		}
	}
	return first, nil
}

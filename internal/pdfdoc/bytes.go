// Package pdfdoc opens, validates and rasterises PDF documents.
package pdfdoc

import (
	"bytes"
	"fmt"

	"github.com/shehryarbajwa/certfetch/internal/apperr"
)

// Magic is the byte sequence every PDF starts with.
var Magic = []byte("%PDF-")

// Bytes is a PDF payload that has passed the magic-byte check. The zero value
// is empty and never produced by Verify.
type Bytes struct {
	data []byte
}

// HasMagic reports whether head starts with the PDF magic sequence.
func HasMagic(head []byte) bool {
	return bytes.HasPrefix(head, Magic)
}

// Verify wraps data as Bytes if it starts with %PDF-.
func Verify(data []byte) (Bytes, error) {
	if !HasMagic(data) {
		n := min(len(data), len(Magic))
		return Bytes{}, apperr.Errorf(apperr.KindUpstreamFormat, "pdfdoc.verify",
			"%w: leading bytes %q", apperr.ErrNotAPdf, data[:n])
	}
	return Bytes{data: data}, nil
}

// Data returns the raw document.
func (b Bytes) Data() []byte { return b.data }

// Len returns the document size in bytes.
func (b Bytes) Len() int { return len(b.data) }

func (b Bytes) String() string {
	return fmt.Sprintf("pdf(%d bytes)", len(b.data))
}

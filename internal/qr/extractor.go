// Package qr reads the QR code printed on the first page of a PDF.
package qr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/shehryarbajwa/certfetch/internal/apperr"
	"github.com/shehryarbajwa/certfetch/internal/pdfdoc"
)

// DefaultDPI renders page 1 at 300/72 of the PDF's native scale.
const DefaultDPI = 300

// Source is a PDF given either as a filesystem path or in memory.
type Source struct {
	Path string
	Data []byte
}

// FromPath returns a Source reading the PDF at path.
func FromPath(path string) Source { return Source{Path: path} }

// FromBytes returns a Source over an in-memory PDF.
func FromBytes(data []byte) Source { return Source{Data: data} }

// Config configures an Extractor.
type Config struct {
	DPI    float64
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.DPI <= 0 {
		c.DPI = DefaultDPI
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Extractor decodes QR codes from PDFs.
type Extractor struct {
	opener pdfdoc.Opener
	cfg    Config
}

// NewExtractor creates an Extractor rendering through opener.
func NewExtractor(opener pdfdoc.Opener, cfg Config) *Extractor {
	cfg.defaults()
	return &Extractor{opener: opener, cfg: cfg}
}

// Extract returns the text of the QR code on page 1. A page without a
// decodable code yields found == false and a nil error. When several codes
// are present the first one the detector reports wins.
func (x *Extractor) Extract(ctx context.Context, src Source) (text string, found bool, err error) {
	const op = "qr.extract"

	doc, err := x.open(src)
	if err != nil {
		return "", false, apperr.E(apperr.KindValidation, op, err).
			WithMessage("uploaded file is not a readable PDF")
	}
	defer doc.Close()

	if doc.NumPages() == 0 {
		return "", false, apperr.E(apperr.KindValidation, op, apperr.ErrDocumentEmpty).
			WithMessage("uploaded PDF has no pages")
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	page, err := doc.Image(0, x.cfg.DPI)
	if err != nil {
		return "", false, apperr.E(apperr.KindInternal, op, fmt.Errorf("%w: %w", apperr.ErrRender, err))
	}

	text, ok := Decode(opaque(page))
	if !ok {
		x.cfg.Logger.Debug("qr: no code on first page", "dpi", x.cfg.DPI)
		return "", false, nil
	}
	return text, true, nil
}

func (x *Extractor) open(src Source) (pdfdoc.Document, error) {
	switch {
	case src.Data != nil:
		return x.opener.Open(src.Data)
	case src.Path != "":
		return x.opener.OpenFile(src.Path)
	default:
		return nil, errors.New("empty source")
	}
}

// Decode runs the QR detector over img.
func Decode(img image.Image) (string, bool) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", false
	}
	reader := qrcode.NewQRCodeReader()

	res, err := reader.Decode(bmp, map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	})
	if err != nil {
		res, err = reader.Decode(bmp, map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_PURE_BARCODE: true,
		})
		if err != nil {
			return "", false
		}
	}
	if res.GetText() == "" {
		return "", false
	}
	return res.GetText(), true
}

// opaque flattens img onto white, dropping any alpha so the detector sees a
// plain three-channel raster.
func opaque(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.White, image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}

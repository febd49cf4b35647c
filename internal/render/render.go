// Package render turns captured pages into ordered PNG images, either from
// elements of a live browser page or from the pages of a PDF.
package render

import (
	"context"
	"fmt"
	"time"

	"github.com/shehryarbajwa/certfetch/internal/apperr"
	"github.com/shehryarbajwa/certfetch/internal/pdfdoc"
	"github.com/shehryarbajwa/certfetch/internal/session"
	"github.com/shehryarbajwa/certfetch/pkg/models"
)

// DefaultSettle is the pause between scrolling an element into view and
// capturing it, giving lazily drawn viewer pages time to paint.
const DefaultSettle = 300 * time.Millisecond

// DefaultDPI is the raster resolution for PDF pages.
const DefaultDPI = 150

// Capturer is the part of a browser session the DOM renderer needs.
// *session.Session satisfies it.
type Capturer interface {
	ScrollIntoView(ctx context.Context, el session.Element) error
	Screenshot(ctx context.Context, el session.Element) ([]byte, error)
}

// FromDOM screenshots each element in order. Nothing is returned unless
// every element was captured.
func FromDOM(ctx context.Context, c Capturer, elements []session.Element, settle time.Duration) ([]models.RenderedImage, error) {
	const op = "render.dom"
	if len(elements) == 0 {
		return nil, apperr.E(apperr.KindInternal, op, apperr.ErrNoPages)
	}

	out := make([]models.RenderedImage, 0, len(elements))
	for i, el := range elements {
		if err := c.ScrollIntoView(ctx, el); err != nil {
			return nil, renderErr(op, i, err)
		}
		if err := sleep(ctx, settle); err != nil {
			return nil, renderErr(op, i, err)
		}
		png, err := c.Screenshot(ctx, el)
		if err != nil {
			return nil, renderErr(op, i, err)
		}
		out = append(out, models.RenderedImage{Index: i + 1, PNG: png})
	}
	return out, nil
}

// FromPDF rasterises every page of doc at dpi.
func FromPDF(ctx context.Context, opener pdfdoc.Opener, doc pdfdoc.Bytes, dpi float64) ([]models.RenderedImage, error) {
	const op = "render.pdf"
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	d, err := opener.Open(doc.Data())
	if err != nil {
		return nil, apperr.Errorf(apperr.KindInternal, op, "%w: %w", apperr.ErrRender, err)
	}
	defer d.Close()

	n := d.NumPages()
	if n == 0 {
		return nil, apperr.E(apperr.KindInternal, op, apperr.ErrNoPages)
	}

	out := make([]models.RenderedImage, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, renderErr(op, i, err)
		}
		png, err := d.PNG(i, dpi)
		if err != nil {
			return nil, renderErr(op, i, err)
		}
		out = append(out, models.RenderedImage{Index: i + 1, PNG: png})
	}
	return out, nil
}

func renderErr(op string, i int, err error) error {
	return apperr.Errorf(apperr.KindInternal, op, "%w: page %d: %w", apperr.ErrRender, i+1, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("settle interrupted: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

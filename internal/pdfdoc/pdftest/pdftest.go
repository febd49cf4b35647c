// Package pdftest provides an in-memory pdfdoc.Opener and page fixtures for
// tests that must not depend on MuPDF.
package pdftest

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"

	"github.com/shehryarbajwa/certfetch/internal/pdfdoc"
)

// ErrUnknownDocument is returned by Engine.Open for payloads never registered.
var ErrUnknownDocument = errors.New("pdftest: unknown document")

// Engine maps registered payloads to fake documents.
type Engine struct {
	mu     sync.Mutex
	docs   map[string]*Document
	opened int
}

// NewEngine returns an empty Engine.
func NewEngine() *Engine {
	return &Engine{docs: make(map[string]*Document)}
}

// Add registers doc as the result of opening data.
func (e *Engine) Add(data []byte, doc *Document) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.docs[string(data)] = doc
}

// Opened returns how many documents were opened successfully.
func (e *Engine) Opened() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened
}

func (e *Engine) Open(data []byte) (pdfdoc.Document, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	doc, ok := e.docs[string(data)]
	if !ok {
		return nil, ErrUnknownDocument
	}
	e.opened++
	return doc, nil
}

func (e *Engine) OpenFile(path string) (pdfdoc.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return e.Open(data)
}

// Document is a fake PDF whose pages are ready-made images.
type Document struct {
	Pages []image.Image
	// FailPage, when >= 0, makes rendering of that 0-based page fail.
	FailPage int

	mu     sync.Mutex
	closed bool
	dpis   []float64
}

// NewDocument returns a Document with the given pages.
func NewDocument(pages ...image.Image) *Document {
	return &Document{Pages: pages, FailPage: -1}
}

// Closed reports whether Close was called.
func (d *Document) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// DPIs returns the resolution of every Image or PNG call, in order.
func (d *Document) DPIs() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.dpis...)
}

func (d *Document) NumPages() int { return len(d.Pages) }

func (d *Document) Image(page int, dpi float64) (image.Image, error) {
	d.mu.Lock()
	d.dpis = append(d.dpis, dpi)
	d.mu.Unlock()
	if page < 0 || page >= len(d.Pages) {
		return nil, fmt.Errorf("pdftest: page %d out of range", page)
	}
	if page == d.FailPage {
		return nil, fmt.Errorf("pdftest: page %d is broken", page)
	}
	return d.Pages[page], nil
}

func (d *Document) PNG(page int, dpi float64) ([]byte, error) {
	img, err := d.Image(page, dpi)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *Document) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// QRImage renders text as a QR code centred on a white page of size x size
// pixels.
func QRImage(text string, size int) (image.Image, error) {
	matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, size/2, size/2, nil)
	if err != nil {
		return nil, err
	}
	page := BlankImage(size, size)
	ox := (size - matrix.GetWidth()) / 2
	oy := (size - matrix.GetHeight()) / 2
	for y := 0; y < matrix.GetHeight(); y++ {
		for x := 0; x < matrix.GetWidth(); x++ {
			if matrix.Get(x, y) {
				page.Set(ox+x, oy+y, color.Black)
			}
		}
	}
	return page, nil
}

// QRPDF wraps a QR code for text in a real one-page PDF built by pdfcpu.
func QRPDF(text string, size int) ([]byte, error) {
	img, err := QRImage(text, size)
	if err != nil {
		return nil, err
	}
	var src bytes.Buffer
	if err := png.Encode(&src, img); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, []io.Reader{&src}, pdfcpu.DefaultImportConfig(), nil); err != nil {
		return nil, fmt.Errorf("pdftest: import image: %w", err)
	}
	return out.Bytes(), nil
}

// BlankImage returns an opaque white RGBA image.
func BlankImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	return img
}

// MinimalPDF builds a structurally valid PDF with the given number of empty
// pages. Label is embedded as a comment so that different fixtures produce
// different bytes.
func MinimalPDF(pages int, label string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	fmt.Fprintf(&buf, "%% %s\n", label)

	var offsets []int
	write := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	write("<< /Type /Catalog /Pages 2 0 R >>")
	write(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		write("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] /Resources << >> >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

package pdfdoc

import (
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// Document is an opened PDF. Page indices are 0-based.
type Document interface {
	NumPages() int
	Image(page int, dpi float64) (image.Image, error)
	PNG(page int, dpi float64) ([]byte, error)
	Close() error
}

// Opener opens PDF documents from memory or disk.
type Opener interface {
	Open(data []byte) (Document, error)
	OpenFile(path string) (Document, error)
}

// FitzEngine rasterises pages with MuPDF through go-fitz.
type FitzEngine struct{}

// NewFitzEngine returns the MuPDF-backed Opener.
func NewFitzEngine() *FitzEngine {
	return &FitzEngine{}
}

func (e *FitzEngine) Open(data []byte) (Document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	return &fitzDocument{doc: doc}, nil
}

func (e *FitzEngine) OpenFile(path string) (Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &fitzDocument{doc: doc}, nil
}

type fitzDocument struct {
	doc *fitz.Document
}

func (d *fitzDocument) NumPages() int {
	return d.doc.NumPage()
}

func (d *fitzDocument) Image(page int, dpi float64) (image.Image, error) {
	img, err := d.doc.ImageDPI(page, dpi)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", page+1, err)
	}
	return img, nil
}

func (d *fitzDocument) PNG(page int, dpi float64) ([]byte, error) {
	b, err := d.doc.ImagePNG(page, dpi)
	if err != nil {
		return nil, fmt.Errorf("failed to encode page %d: %w", page+1, err)
	}
	return b, nil
}

func (d *fitzDocument) Close() error {
	return d.doc.Close()
}

// Package archive packs rendered pages into a single ZIP payload.
package archive

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shehryarbajwa/certfetch/internal/apperr"
	"github.com/shehryarbajwa/certfetch/pkg/models"
)

// EntryName returns the archive member name of the page at index.
func EntryName(index int) string {
	return "page_" + strconv.Itoa(index) + ".png"
}

// Pack writes one deflated entry per image, in order. Indices must start at
// 1 and increase by one.
func Pack(images []models.RenderedImage) ([]byte, error) {
	const op = "archive.pack"
	if len(images) == 0 {
		return nil, apperr.E(apperr.KindInternal, op, apperr.ErrNoPages)
	}
	for i, img := range images {
		if img.Index != i+1 {
			return nil, apperr.Errorf(apperr.KindInternal, op, "page %d has index %d", i+1, img.Index)
		}
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})

	modified := time.Now()
	for _, img := range images {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     EntryName(img.Index),
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return nil, apperr.E(apperr.KindInternal, op, fmt.Errorf("failed to add %s: %w", EntryName(img.Index), err))
		}
		if _, err := w.Write(img.PNG); err != nil {
			return nil, apperr.E(apperr.KindInternal, op, fmt.Errorf("failed to write %s: %w", EntryName(img.Index), err))
		}
	}
	if err := zw.Close(); err != nil {
		return nil, apperr.E(apperr.KindInternal, op, fmt.Errorf("failed to finalise archive: %w", err))
	}
	return buf.Bytes(), nil
}

// Unpack reads an archive produced by Pack back into ordered images.
func Unpack(data []byte) ([]models.RenderedImage, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	out := make([]models.RenderedImage, 0, len(zr.File))
	for _, f := range zr.File {
		name := path.Base(f.Name)
		if !strings.HasPrefix(name, "page_") || !strings.HasSuffix(name, ".png") {
			return nil, fmt.Errorf("unexpected archive member %q", f.Name)
		}
		idx, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "page_"), ".png"))
		if err != nil {
			return nil, fmt.Errorf("unexpected archive member %q", f.Name)
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
		out = append(out, models.RenderedImage{Index: idx, PNG: b})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

package pdfdoc_test

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/certfetch/internal/apperr"
	"github.com/shehryarbajwa/certfetch/internal/pdfdoc"
	"github.com/shehryarbajwa/certfetch/internal/pdfdoc/pdftest"
)

func TestVerify(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		ok   bool
	}{
		{"pdf", []byte("%PDF-1.7\n..."), true},
		{"exact magic", []byte("%PDF-"), true},
		{"html error page", []byte("<!DOCTYPE html><html>error</html>"), false},
		{"short", []byte("%PD"), false},
		{"empty", nil, false},
		{"lowercase", []byte("%pdf-1.4"), false},
		{"leading whitespace", []byte(" %PDF-1.4"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := pdfdoc.Verify(tt.data)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, len(tt.data), b.Len())
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrNotAPdf)
			assert.Equal(t, apperr.KindUpstreamFormat, apperr.KindOf(err))
		})
	}
}

func TestInspect(t *testing.T) {
	b, err := pdfdoc.Verify(pdftest.MinimalPDF(2, "inspect"))
	require.NoError(t, err)

	info, err := pdfdoc.Inspect(b)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Pages)
	assert.Equal(t, b.Len(), info.Size)
}

func TestInspectRejectsForgedHeader(t *testing.T) {
	b, err := pdfdoc.Verify([]byte("%PDF-1.4\n<html>not really</html>"))
	require.NoError(t, err)

	_, err = pdfdoc.Inspect(b)
	assert.Error(t, err)
}

func TestFitzEngine(t *testing.T) {
	doc, err := pdfdoc.NewFitzEngine().Open(pdftest.MinimalPDF(2, "fitz"))
	require.NoError(t, err)
	defer doc.Close()

	require.Equal(t, 2, doc.NumPages())

	data, err := doc.PNG(1, 72)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), 0)

	img2, err := doc.Image(0, 144)
	require.NoError(t, err)
	assert.Greater(t, img2.Bounds().Dx(), img.Bounds().Dx())
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/certfetch/internal/archive"
	"github.com/shehryarbajwa/certfetch/internal/pdfdoc/pdftest"
)

func execute(t *testing.T, engine *pdftest.Engine, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(engine)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writePDF(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestDecode(t *testing.T) {
	engine := pdftest.NewEngine()
	data := pdftest.MinimalPDF(1, "qr")
	page, err := pdftest.QRImage("https://cert.example.test/v?id=1", 400)
	require.NoError(t, err)
	engine.Add(data, pdftest.NewDocument(page))

	out, err := execute(t, engine, "decode", writePDF(t, data))
	require.NoError(t, err)
	assert.Equal(t, "https://cert.example.test/v?id=1", strings.TrimSpace(out))
}

func TestDecodeNoCode(t *testing.T) {
	engine := pdftest.NewEngine()
	data := pdftest.MinimalPDF(1, "blank")
	engine.Add(data, pdftest.NewDocument(pdftest.BlankImage(100, 100)))

	_, err := execute(t, engine, "decode", writePDF(t, data))
	assert.ErrorContains(t, err, "no QR code")
}

func TestInspect(t *testing.T) {
	out, err := execute(t, pdftest.NewEngine(), "inspect", writePDF(t, pdftest.MinimalPDF(3, "three")))
	require.NoError(t, err)
	assert.Contains(t, out, "pages: 3")
}

func TestRender(t *testing.T) {
	engine := pdftest.NewEngine()
	data := pdftest.MinimalPDF(2, "render")
	engine.Add(data, pdftest.NewDocument(pdftest.BlankImage(5, 5), pdftest.BlankImage(6, 6)))

	dst := filepath.Join(t.TempDir(), "out.zip")
	out, err := execute(t, engine, "render", writePDF(t, data), "-o", dst, "--verify")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 2 pages")

	zip, err := os.ReadFile(dst)
	require.NoError(t, err)
	imgs, err := archive.Unpack(zip)
	require.NoError(t, err)
	assert.Len(t, imgs, 2)
}

func TestRenderRejectsNonPDF(t *testing.T) {
	_, err := execute(t, pdftest.NewEngine(), "render", writePDF(t, []byte("<html>")))
	assert.Error(t, err)
}

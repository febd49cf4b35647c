package pdfdoc

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Info is the structural summary of a PDF.
type Info struct {
	Pages int
	Size  int
}

// Inspect parses and validates the document structure with pdfcpu in relaxed
// mode. It is stricter than the magic-byte check: truncated downloads and
// HTML with a forged header fail here.
func Inspect(b Bytes) (Info, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(b.Data()), conf)
	if err != nil {
		return Info{}, fmt.Errorf("pdfcpu read: %w", err)
	}
	return Info{
		Pages: ctx.PageCount,
		Size:  b.Len(),
	}, nil
}

package models

// RenderedImage is one rasterised page. Index is 1-based and ordering is
// significant from rendering through archiving.
type RenderedImage struct {
	Index int
	PNG   []byte
}

package transform

import (
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// Size is the width and height of a page, in points or pixels.
type Size struct {
	Width  float64
	Height float64
}

// PageSizer gives the size of a page by its 1-based number.
type PageSizer interface {
	PageSize(page int) (Size, bool)
}

// PageSizes is a PageSizer over a fixed list of pages.
type PageSizes []Size

func (p PageSizes) PageSize(page int) (Size, bool) {
	if page < 1 || page > len(p) {
		return Size{}, false
	}
	s := p[page-1]
	return s, s.Width > 0 && s.Height > 0
}

// ReadPdfPageSizes reads the media box of every page of a pdf.
func ReadPdfPageSizes(path string) (PageSizes, error) {
	ctx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf context: %w", err)
	}
	dims, err := ctx.PageDims()
	if err != nil {
		return nil, fmt.Errorf("failed to read page dimensions: %w", err)
	}

	sizes := make(PageSizes, len(dims))
	for i, d := range dims {
		sizes[i] = Size{Width: d.Width, Height: d.Height}
	}
	return sizes, nil
}

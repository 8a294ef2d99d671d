package services

import (
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Lllllllleong/extractocr/internal/filestore"
	"github.com/Lllllllleong/extractocr/internal/models"
	"github.com/Lllllllleong/extractocr/internal/transform"
)

// imageSizer gives the pixel size of the page images of an item. Page n is
// the n-th image media of the item by position; an item whose images are not
// one per page in page order gets wrong boxes.
type imageSizer struct {
	ctx    context.Context
	logCtx *slog.Logger
	files  filestore.Files
	images []models.Media
	sizes  map[int]transform.Size
}

func newImageSizer(ctx context.Context, logCtx *slog.Logger, files filestore.Files, siblings []models.Media) *imageSizer {
	s := &imageSizer{ctx: ctx, logCtx: logCtx, files: files, sizes: make(map[int]transform.Size)}
	for _, m := range siblings {
		if strings.HasPrefix(m.MediaType, "image/") {
			s.images = append(s.images, m)
		}
	}
	return s
}

func (s *imageSizer) PageSize(page int) (transform.Size, bool) {
	if page < 1 || page > len(s.images) {
		return transform.Size{}, false
	}
	if size, ok := s.sizes[page]; ok {
		return size, size.Width > 0 && size.Height > 0
	}

	m := s.images[page-1]
	size := transform.Size{Width: float64(m.Width), Height: float64(m.Height)}
	if size.Width <= 0 || size.Height <= 0 {
		size = s.decode(m)
	}
	s.sizes[page] = size
	return size, size.Width > 0 && size.Height > 0
}

func (s *imageSizer) decode(m models.Media) transform.Size {
	r, err := s.files.Open(s.ctx, m.Filename())
	if err != nil {
		s.logCtx.Warn("Cannot open page image.", "imageMediaId", m.ID, "error", err)
		return transform.Size{}
	}
	defer r.Close()

	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		s.logCtx.Warn("Cannot read page image size.", "imageMediaId", m.ID, "error", err)
		return transform.Size{}
	}
	return transform.Size{Width: float64(cfg.Width), Height: float64(cfg.Height)}
}

// pdfSizer reads the page sizes of a pdf with pdfcpu on first use.
type pdfSizer struct {
	path   string
	logCtx *slog.Logger
	once   sync.Once
	sizes  transform.PageSizes
}

func (p *pdfSizer) PageSize(page int) (transform.Size, bool) {
	p.once.Do(func() {
		sizes, err := transform.ReadPdfPageSizes(p.path)
		if err != nil {
			p.logCtx.Warn("Cannot read pdf page sizes.", "error", err)
			return
		}
		p.sizes = sizes
	})
	return p.sizes.PageSize(page)
}

package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/Lllllllleong/extractocr/internal/config"
	"github.com/Lllllllleong/extractocr/internal/filestore"
	"github.com/Lllllllleong/extractocr/internal/models"
	"github.com/Lllllllleong/extractocr/internal/store"
	"github.com/Lllllllleong/extractocr/internal/tools"
)

// PropertyTableOfContents receives the range tree of a pdf.
const PropertyTableOfContents = "dcterms:tableOfContents"

// Bookmark is one outline entry of a pdf.
type Bookmark struct {
	Title string
	Level int
	Page  int
}

// ParseBookmarks reads the bookmarks of a pdftk data dump. Entries without a
// level are dropped.
func ParseBookmarks(dump []byte) []Bookmark {
	var (
		bookmarks []Bookmark
		current   *Bookmark
	)
	flush := func() {
		if current != nil && current.Level > 0 {
			bookmarks = append(bookmarks, *current)
		}
		current = nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(dump))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "BookmarkBegin" {
			flush()
			current = &Bookmark{}
			continue
		}
		if !strings.HasPrefix(line, "Bookmark") {
			flush()
			continue
		}
		if current == nil {
			continue
		}
		key, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch key {
		case "BookmarkTitle":
			current.Title = value
		case "BookmarkLevel":
			current.Level, _ = strconv.Atoi(strings.TrimSpace(value))
		case "BookmarkPageNumber":
			current.Page, _ = strconv.Atoi(strings.TrimSpace(value))
		}
	}
	flush()
	return bookmarks
}

// Range is a IIIF presentation 2 range.
type Range struct {
	ID       string   `json:"@id"`
	Type     string   `json:"@type"`
	Label    string   `json:"label"`
	Canvases []string `json:"canvases"`
	Ranges   []*Range `json:"ranges,omitempty"`
}

// BuildRanges nests the bookmarks by level. A bookmark deeper than the one
// before it becomes its child, whatever the gap between the levels. Range ids
// are the 0-based path of the range in the tree.
func BuildRanges(bookmarks []Bookmark, iiifURL string, itemID int) []*Range {
	base := fmt.Sprintf("%s/%d", strings.TrimRight(iiifURL, "/"), itemID)

	type open struct {
		level int
		path  string
		r     *Range
	}
	var (
		roots []*Range
		stack []open
	)
	for _, b := range bookmarks {
		for len(stack) > 0 && stack[len(stack)-1].level >= b.Level {
			stack = stack[:len(stack)-1]
		}

		var path string
		if len(stack) == 0 {
			path = strconv.Itoa(len(roots))
		} else {
			parent := stack[len(stack)-1]
			path = parent.path + "-" + strconv.Itoa(len(parent.r.Ranges))
		}
		r := &Range{
			ID:       base + "/range/r" + path,
			Type:     "sc:Range",
			Label:    b.Title,
			Canvases: []string{base + "/canvas/p" + strconv.Itoa(b.Page)},
		}
		if len(stack) == 0 {
			roots = append(roots, r)
		} else {
			parent := stack[len(stack)-1].r
			parent.Ranges = append(parent.Ranges, r)
		}
		stack = append(stack, open{level: b.Level, path: path, r: r})
	}
	if roots == nil {
		roots = []*Range{}
	}
	return roots
}

// ExtractTocFunction stores the outline of a pdf as a range tree on its media.
type ExtractTocFunction struct {
	settings config.Settings
	store    store.Store
	files    filestore.Files
	runner   tools.Runner
}

// NewExtractToc wires the function from the environment.
func NewExtractToc(ctx context.Context) (*ExtractTocFunction, error) {
	if err := tools.CheckInstalled("pdftk"); err != nil {
		return nil, err
	}
	b, err := newBackend(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("Extract TOC logic initialized.")
	return b.extractToc(), nil
}

// NewExtractTocFunction assembles the function from its parts.
func NewExtractTocFunction(settings config.Settings, s store.Store, files filestore.Files, runner tools.Runner) *ExtractTocFunction {
	return &ExtractTocFunction{settings: settings, store: s, files: files, runner: runner}
}

// Process dumps the bookmarks of the pdf media and appends the range tree to
// it, once.
func (f *ExtractTocFunction) Process(ctx context.Context, req models.ExtractTocRequest) (*models.ExtractTocResponse, error) {
	logCtx := slog.With("itemId", req.ItemID, "mediaId", req.MediaID)

	iiifURL := req.IiifURL
	if iiifURL == "" {
		iiifURL = f.settings.IiifURL
	}
	if iiifURL == "" {
		return nil, errors.New("no iiif url given or configured")
	}

	pdf, err := f.store.Media(ctx, req.MediaID)
	if err != nil {
		return nil, fmt.Errorf("failed to read media %d: %w", req.MediaID, err)
	}
	if !store.IsPdf(*pdf) {
		return nil, fmt.Errorf("media %d is not a pdf", pdf.ID)
	}
	itemID := req.ItemID
	if itemID == 0 {
		itemID = pdf.ItemID
	}

	workDir, err := os.MkdirTemp("", "extract-toc-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	pdfPath, err := f.files.Localize(ctx, pdf.Filename(), workDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fail(NoPdfFile, pdf.ID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pdf of media %d: %w", pdf.ID, err)
	}

	dump, err := tools.DumpData(ctx, f.runner, pdfPath)
	if err != nil {
		return nil, fail(ToolFailure, pdf.ID, err)
	}
	ranges := BuildRanges(ParseBookmarks(dump), iiifURL, itemID)
	toc, err := json.Marshal(ranges)
	if err != nil {
		return nil, fmt.Errorf("failed to encode table of contents: %w", err)
	}

	v := models.Value{Property: PropertyTableOfContents, Type: models.ValueLiteral, Value: string(toc)}
	added, err := store.AppendValueOnce(ctx, f.store, models.MediaRef(pdf.ID), v)
	if err != nil {
		return nil, err
	}
	logCtx.Info("Stored table of contents.", "ranges", len(ranges), "added", added)
	return &models.ExtractTocResponse{Status: StatusCompleted, RangeCount: len(ranges)}, nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Lllllllleong/extractocr/internal/config"
	"github.com/Lllllllleong/extractocr/internal/filestore"
	"github.com/Lllllllleong/extractocr/internal/models"
	"github.com/Lllllllleong/extractocr/internal/repair"
	"github.com/Lllllllleong/extractocr/internal/store"
	"github.com/Lllllllleong/extractocr/internal/tools"
	"github.com/Lllllllleong/extractocr/internal/transform"
)

// Extractor produces the artifact of one pdf.
type Extractor struct {
	Settings config.Settings
	Runner   tools.Runner
	Files    filestore.Files
	Store    store.Store
	Now      func() time.Time
}

// Extract runs the tools on pdf inside workDir and returns the artifact,
// written in workDir too. Errors are *FailureError values.
func (e *Extractor) Extract(ctx context.Context, logCtx *slog.Logger, pdf models.Media, name, workDir string, createMedia bool) (*Artifact, error) {
	pdfPath, err := e.Files.Localize(ctx, pdf.Filename(), workDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fail(NoPdfFile, pdf.ID, err)
	}
	if err != nil {
		return nil, fail(ToolFailure, pdf.ID, err)
	}

	format := e.Settings.Format
	a := &Artifact{
		Format:     format,
		SourceName: name,
		Path:       filepath.Join(workDir, "artifact."+format.Extension()),
	}

	switch format {
	case config.FormatAlto, config.FormatPdf2xml:
		doc, err := e.pdf2xml(ctx, pdfPath, workDir)
		if err != nil {
			return nil, fail(ToolFailure, pdf.ID, err)
		}
		if format == config.FormatAlto {
			if doc, err = e.alto(ctx, pdf, doc); err != nil {
				return nil, fail(ToolFailure, pdf.ID, err)
			}
			if a.Text, err = transform.AltoText(doc); err != nil {
				return nil, fail(ToolFailure, pdf.ID, err)
			}
		} else {
			a.Text = transform.MarkupText(doc)
		}
		if a.Text == "" && !e.Settings.CreateEmptyFile && createMedia {
			return nil, fail(NoTextLayer, pdf.ID, nil)
		}
		if err := os.WriteFile(a.Path, doc, 0o644); err != nil {
			return nil, fail(ToolFailure, pdf.ID, err)
		}

	case config.FormatTsv:
		index, err := e.wordIndex(ctx, logCtx, pdf, pdfPath, workDir)
		if err != nil {
			return nil, fail(ToolFailure, pdf.ID, err)
		}
		if index.Len() == 0 && !e.Settings.CreateEmptyFile {
			logCtx.Info("No words found, no index written.")
			a.Empty = true
			a.Path = ""
			return a, nil
		}
		if err := os.WriteFile(a.Path, index.TSV(), 0o644); err != nil {
			return nil, fail(ToolFailure, pdf.ID, err)
		}

	default:
		return nil, fail(ToolFailure, pdf.ID, fmt.Errorf("unsupported format %s", format))
	}
	return a, nil
}

// pdf2xml converts the pdf and repairs the output.
func (e *Extractor) pdf2xml(ctx context.Context, pdfPath, workDir string) ([]byte, error) {
	out, err := tools.PdfToXML(ctx, e.Runner, pdfPath, filepath.Join(workDir, "pdf2xml"))
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdftohtml output: %w", err)
	}
	doc, err := repair.Reserialize(repair.Sanitize(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to repair pdftohtml output: %w", err)
	}
	return doc, nil
}

func (e *Extractor) alto(ctx context.Context, pdf models.Media, doc []byte) ([]byte, error) {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	params := transform.AltoParams{
		SourceURL:        e.Settings.FileURL(pdf.Filename()),
		SourceName:       pdf.Source,
		SourceIdentifier: pdf.Identifier,
		DocumentURL:      e.Settings.ItemURL(pdf.ItemID),
		Timestamp:        now().UTC().Format(time.RFC3339),
	}
	if item, err := e.Store.Item(ctx, pdf.ItemID); err == nil {
		params.DocumentIdentifier = item.Identifier
	}
	return transform.ToAlto(doc, params)
}

func (e *Extractor) wordIndex(ctx context.Context, logCtx *slog.Logger, pdf models.Media, pdfPath, workDir string) (*transform.WordIndex, error) {
	bboxPath := filepath.Join(workDir, "bbox.xml")
	if err := tools.PdfToBbox(ctx, e.Runner, pdfPath, bboxPath); err != nil {
		return nil, err
	}
	bbox, err := os.ReadFile(bboxPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdftotext output: %w", err)
	}

	siblings, err := e.Store.ItemMedia(ctx, pdf.ItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to read media of item %d: %w", pdf.ItemID, err)
	}
	images := newImageSizer(ctx, logCtx, e.Files, siblings)
	return transform.BuildWordIndex(bbox, images, &pdfSizer{path: pdfPath, logCtx: logCtx})
}

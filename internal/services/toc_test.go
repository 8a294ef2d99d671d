package services

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/extractocr/internal/config"
	"github.com/Lllllllleong/extractocr/internal/models"
	"github.com/Lllllllleong/extractocr/internal/store"
)

const sampleDump = `InfoBegin
InfoKey: Title
InfoValue: Manual
NumberOfPages: 12
BookmarkBegin
BookmarkTitle: Introduction
BookmarkLevel: 1
BookmarkPageNumber: 1
BookmarkBegin
BookmarkTitle: Scope: what is covered
BookmarkLevel: 2
BookmarkPageNumber: 2
BookmarkBegin
BookmarkTitle: Terms
BookmarkLevel: 2
BookmarkPageNumber: 3
BookmarkBegin
BookmarkTitle: Details
BookmarkLevel: 3
BookmarkPageNumber: 4
BookmarkBegin
BookmarkTitle: Annex
BookmarkLevel: 1
BookmarkPageNumber: 10
PageMediaBegin
PageMediaNumber: 1
`

func TestParseBookmarks(t *testing.T) {
	bookmarks := ParseBookmarks([]byte(sampleDump))
	require.Len(t, bookmarks, 5)
	assert.Equal(t, Bookmark{Title: "Introduction", Level: 1, Page: 1}, bookmarks[0])
	assert.Equal(t, Bookmark{Title: "Scope: what is covered", Level: 2, Page: 2}, bookmarks[1])
	assert.Equal(t, Bookmark{Title: "Annex", Level: 1, Page: 10}, bookmarks[4])

	assert.Empty(t, ParseBookmarks([]byte("InfoBegin\nNumberOfPages: 3\n")))
}

func TestBuildRanges(t *testing.T) {
	ranges := BuildRanges(ParseBookmarks([]byte(sampleDump)), "https://example.org/iiif/", 7)
	require.Len(t, ranges, 2)

	intro := ranges[0]
	assert.Equal(t, "https://example.org/iiif/7/range/r0", intro.ID)
	assert.Equal(t, "sc:Range", intro.Type)
	assert.Equal(t, []string{"https://example.org/iiif/7/canvas/p1"}, intro.Canvases)
	require.Len(t, intro.Ranges, 2)
	assert.Equal(t, "https://example.org/iiif/7/range/r0-1", intro.Ranges[1].ID)
	require.Len(t, intro.Ranges[1].Ranges, 1)
	assert.Equal(t, "https://example.org/iiif/7/range/r0-1-0", intro.Ranges[1].Ranges[0].ID)
	assert.Equal(t, "https://example.org/iiif/7/canvas/p4", intro.Ranges[1].Ranges[0].Canvases[0])

	assert.Equal(t, "https://example.org/iiif/7/range/r1", ranges[1].ID)
	assert.Empty(t, ranges[1].Ranges)

	out, err := json.Marshal(ranges[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"@id":"https://example.org/iiif/7/range/r1","@type":"sc:Range","label":"Annex","canvases":["https://example.org/iiif/7/canvas/p10"]}`, string(out))
}

func TestBuildRangesSkippedLevel(t *testing.T) {
	ranges := BuildRanges([]Bookmark{
		{Title: "a", Level: 1, Page: 1},
		{Title: "b", Level: 3, Page: 2},
		{Title: "c", Level: 2, Page: 3},
	}, "https://example.org/iiif", 1)

	require.Len(t, ranges, 1)
	require.Len(t, ranges[0].Ranges, 2)
	assert.Equal(t, "b", ranges[0].Ranges[0].Label)
	assert.Equal(t, "c", ranges[0].Ranges[1].Label)
}

func TestBuildRangesEmpty(t *testing.T) {
	out, err := json.Marshal(BuildRanges(nil, "https://example.org/iiif", 1))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(out))
}

func TestExtractTocProcess(t *testing.T) {
	f := newFixture(t, config.FormatPdf2xml)
	f.settings.IiifURL = "https://example.org/iiif"
	f.runner.dump = []byte(sampleDump)
	f.addItem(7)
	pdf := f.addPdf(7, "manual.pdf", "%PDF-1.4")

	fn := NewExtractTocFunction(f.settings, f.store, f.files, f.runner)
	for i := 0; i < 2; i++ {
		res, err := fn.Process(f.ctx, models.ExtractTocRequest{ItemID: 7, MediaID: pdf.ID})
		require.NoError(t, err)
		assert.Equal(t, 2, res.RangeCount)
	}

	values, err := store.Values(f.ctx, f.store, models.MediaRef(pdf.ID))
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, PropertyTableOfContents, values[0].Property)

	var ranges []Range
	require.NoError(t, json.Unmarshal([]byte(values[0].Value), &ranges))
	assert.Equal(t, "Introduction", ranges[0].Label)
	assert.Equal(t, []string{"pdftk", "pdftk"}, f.runner.calls)
}

func TestExtractTocProcessErrors(t *testing.T) {
	f := newFixture(t, config.FormatPdf2xml)
	f.addItem(1)
	pdf := f.addPdf(1, "manual.pdf", "%PDF-1.4")
	image := f.addImage(1, models.Media{Source: "p1.jpg", StorageID: "img1", Extension: "jpg", MediaType: "image/jpeg"})
	fn := NewExtractTocFunction(f.settings, f.store, f.files, f.runner)

	_, err := fn.Process(f.ctx, models.ExtractTocRequest{MediaID: pdf.ID})
	assert.ErrorContains(t, err, "no iiif url")

	req := models.ExtractTocRequest{MediaID: image.ID, IiifURL: "https://example.org/iiif"}
	_, err = fn.Process(f.ctx, req)
	assert.ErrorContains(t, err, "not a pdf")

	require.NoError(t, os.Remove(filepath.Join(f.files.Dir, pdf.Filename())))
	req.MediaID = pdf.ID
	_, err = fn.Process(f.ctx, req)
	var failure *FailureError
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, NoPdfFile, failure.Reason)
}

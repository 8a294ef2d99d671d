package services

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/extractocr/internal/config"
	"github.com/Lllllllleong/extractocr/internal/filestore"
	"github.com/Lllllllleong/extractocr/internal/models"
	"github.com/Lllllllleong/extractocr/internal/store"
	"github.com/Lllllllleong/extractocr/internal/store/sqlstore"
)

const textPdf = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE pdf2xml SYSTEM "pdf2xml.dtd">
<pdf2xml producer="poppler" version="22.02.0">
<page number="1" position="absolute" top="0" left="0" height="1000" width="800">
<fontspec id="0" size="12" family="Times" color="#000000"/>
<text top="100" left="50" width="110" height="12" font="0">Hello <b>world</b></text>
</page>
</pdf2xml>`

const blankPdf = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE pdf2xml SYSTEM "pdf2xml.dtd">
<pdf2xml producer="poppler" version="22.02.0">
<page number="1" position="absolute" top="0" left="0" height="1000" width="800">
</page>
</pdf2xml>`

const wordsPdf = `<html><body><doc>
<page width="100.000000" height="200.000000">
<word xMin="10.000000" yMin="20.000000" xMax="30.000000" yMax="30.000000">Été</word>
</page>
</doc></body></html>`

// fakeRunner stands in for the poppler tools: the stored "pdf" already holds
// the tool output, which is copied where the tool would write it.
type fakeRunner struct {
	calls []string
	dump  []byte
	onRun func(name string)
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, name)
	if r.onRun != nil {
		r.onRun(name)
	}
	switch name {
	case "pdftohtml":
		return nil, filestore.CopyFile(args[len(args)-2], args[len(args)-1]+".xml", false)
	case "pdftotext":
		return nil, filestore.CopyFile(args[len(args)-2], args[len(args)-1], false)
	case "pdftk":
		return r.dump, nil
	}
	return nil, fmt.Errorf("unexpected command %s", name)
}

// stopAfter asks the run to stop once n candidates were started.
type stopAfter struct {
	n        int
	polls    int
	statuses []string
}

func (s *stopAfter) StopRequested(context.Context, string) (bool, error) {
	s.polls++
	return s.n > 0 && s.polls > s.n, nil
}

func (s *stopAfter) UpdateStatus(_ context.Context, _ string, job models.Job) error {
	s.statuses = append(s.statuses, job.Status)
	return nil
}

func (s *stopAfter) ReportProgress(context.Context, string, int, int) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	store    *sqlstore.Store
	files    filestore.Local
	staging  string
	settings config.Settings
	runner   *fakeRunner
	jobs     *stopAfter
	next     int
}

func newFixture(t *testing.T, format config.TargetFormat) *fixture {
	t.Helper()
	dir := t.TempDir()
	s := sqlstore.New(filepath.Join(dir, "omeka.db"))
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   s,
		files:   filestore.Local{Dir: filepath.Join(dir, "original")},
		staging: filepath.Join(dir, "temp"),
		runner:  &fakeRunner{},
		jobs:    &stopAfter{},
		settings: config.Settings{
			Format:          format,
			CreateMedia:     true,
			ContentProperty: "bibo:content",
			LinkSource:      true,
			IndexDir:        filepath.Join(dir, "iiif-search"),
		},
	}
	require.NoError(t, os.MkdirAll(f.files.Dir, 0o755))
	require.NoError(t, os.MkdirAll(f.staging, 0o755))
	return f
}

func (f *fixture) addItem(id int) {
	f.t.Helper()
	_, err := f.store.CreateItem(f.ctx, models.Item{ID: id, Identifier: fmt.Sprintf("doc-%d", id)})
	require.NoError(f.t, err)
}

// addPdf stores a pdf media whose file holds content. An empty content
// leaves the file missing.
func (f *fixture) addPdf(itemID int, source, content string) models.Media {
	f.t.Helper()
	f.next++
	m := models.Media{
		ItemID:    itemID,
		Source:    source,
		StorageID: fmt.Sprintf("pdf%d", f.next),
		Extension: "pdf",
		MediaType: "application/pdf",
	}
	if content != "" {
		require.NoError(f.t, os.WriteFile(filepath.Join(f.files.Dir, m.Filename()), []byte(content), 0o644))
	}
	created, err := f.store.CreateMedia(f.ctx, m)
	require.NoError(f.t, err)
	return *created
}

func (f *fixture) addImage(itemID int, m models.Media) models.Media {
	f.t.Helper()
	m.ItemID = itemID
	created, err := f.store.CreateMedia(f.ctx, m)
	require.NoError(f.t, err)
	return *created
}

func (f *fixture) persister() *Persister {
	return f.persisterWith(f.store, f.stager())
}

func (f *fixture) stager() *LocalStager {
	return &LocalStager{Dir: f.staging, BaseURL: "https://example.org/files/temp"}
}

func (f *fixture) persisterWith(s store.Store, stager Stager) *Persister {
	return &Persister{
		Settings: f.settings,
		Store:    s,
		Files:    f.files,
		Stager:   stager,
	}
}

func (f *fixture) function() *ExtractOcrFunction {
	return f.functionWith(f.persister(), f.jobs)
}

func (f *fixture) functionWith(p *Persister, jobs Jobs) *ExtractOcrFunction {
	extractor := &Extractor{
		Settings: f.settings,
		Runner:   f.runner,
		Files:    f.files,
		Store:    p.Store,
		Now:      func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	return NewExtractOcrFunction(f.settings, p.Store, extractor, p, jobs)
}

func (f *fixture) run(req models.ExtractOcrRequest) *models.ExtractOcrResponse {
	f.t.Helper()
	res, err := f.function().Process(f.ctx, req)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) itemMedia(itemID int) []models.Media {
	f.t.Helper()
	media, err := f.store.ItemMedia(f.ctx, itemID)
	require.NoError(f.t, err)
	return media
}

func countProperty(values []models.Value, property string) int {
	n := 0
	for _, v := range values {
		if v.Property == property {
			n++
		}
	}
	return n
}

func TestProcessCreatesMediaLast(t *testing.T) {
	f := newFixture(t, config.FormatPdf2xml)
	f.addItem(1)
	f.addImage(1, models.Media{Source: "p1.jpg", StorageID: "img1", Extension: "jpg", MediaType: "image/jpeg"})
	pdf := f.addPdf(1, "scans/report.PDF", textPdf)
	f.addImage(1, models.Media{Source: "p2.jpg", StorageID: "img2", Extension: "jpg", MediaType: "image/jpeg"})

	res := f.run(models.ExtractOcrRequest{Mode: ModeAll})
	assert.Equal(t, &models.ExtractOcrResponse{Status: StatusCompleted, Total: 1, Processed: 1}, res)

	media := f.itemMedia(1)
	require.Len(t, media, 4)
	last := media[3]
	assert.Equal(t, "report.xml", last.Source)
	assert.Equal(t, "xml", last.Extension)
	assert.Equal(t, config.MediaTypePdf2xml, last.MediaType)
	assert.Equal(t, 4, last.Position)
	for i, m := range media {
		assert.Equal(t, i+1, m.Position)
	}

	require.Len(t, last.Values, 1)
	assert.Equal(t, PropertyIsFormatOf, last.Values[0].Property)
	assert.Equal(t, pdf.ID, last.Values[0].ResourceID)

	stored, err := os.ReadFile(filepath.Join(f.files.Dir, last.Filename()))
	require.NoError(t, err)
	assert.Contains(t, string(stored), "<pdf2xml")
	assert.Contains(t, string(stored), "Hello world")

	staged, err := os.ReadDir(f.staging)
	require.NoError(t, err)
	assert.Empty(t, staged)
	assert.Equal(t, []string{"pdftohtml"}, f.runner.calls)
}

func TestProcessAltoContentValue(t *testing.T) {
	f := newFixture(t, config.FormatAlto)
	f.settings.ContentStore = config.StoreArtifactMedia
	f.addItem(3)
	f.addPdf(3, "book.pdf", textPdf)

	f.run(models.ExtractOcrRequest{Mode: ModeAll})

	media := f.itemMedia(3)
	require.Len(t, media, 2)
	alto := media[1]
	assert.Equal(t, "book.xml", alto.Source)
	assert.Equal(t, config.MediaTypeAlto, alto.MediaType)
	require.Len(t, alto.Values, 2)
	assert.Equal(t, "bibo:content", alto.Values[0].Property)
	assert.Equal(t, "Hello world", alto.Values[0].Value)

	stored, err := os.ReadFile(filepath.Join(f.files.Dir, alto.Filename()))
	require.NoError(t, err)
	assert.Contains(t, string(stored), `<documentIdentifier>doc-3</documentIdentifier>`)
	assert.Contains(t, string(stored), `<processingDateTime>2024-01-02T03:04:05Z</processingDateTime>`)
}

func TestProcessFailureBuckets(t *testing.T) {
	f := newFixture(t, config.FormatPdf2xml)
	f.addItem(1)
	blank := f.addPdf(1, "blank.pdf", blankPdf)
	missing := f.addPdf(1, "missing.pdf", "")
	broken := f.addPdf(1, "broken.pdf", "not xml at all")
	f.addPdf(1, "good.pdf", textPdf)

	fn := f.function()
	run, err := fn.NewRun(models.ExtractOcrRequest{Mode: ModeAll})
	require.NoError(t, err)
	candidates, err := f.store.SearchPDFs(f.ctx, nil)
	require.NoError(t, err)
	for _, pdf := range candidates {
		fn.processCandidate(f.ctx, testLogger(), run, pdf)
	}

	assert.Equal(t, 1, run.CountProcessed)
	assert.Equal(t, 3, run.CountFailed)
	assert.Equal(t, []int{blank.ID}, run.Stats[BucketNoTextLayer])
	assert.Equal(t, []int{missing.ID}, run.Stats[BucketNoPdf])
	assert.Equal(t, []int{broken.ID}, run.Stats[BucketIssue])
	assert.Len(t, f.itemMedia(1), 5)
}

func TestProcessEmptyFileAllowed(t *testing.T) {
	f := newFixture(t, config.FormatPdf2xml)
	f.settings.CreateEmptyFile = true
	f.addItem(1)
	f.addPdf(1, "blank.pdf", blankPdf)

	res := f.run(models.ExtractOcrRequest{Mode: ModeAll})
	assert.Equal(t, 1, res.Processed)
	assert.Len(t, f.itemMedia(1), 2)
}

func TestProcessStopsBetweenCandidates(t *testing.T) {
	f := newFixture(t, config.FormatPdf2xml)
	f.jobs.n = 2
	for id := 1; id <= 5; id++ {
		f.addItem(id)
		f.addPdf(id, "doc.pdf", textPdf)
	}

	res := f.run(models.ExtractOcrRequest{JobID: "job-1", Mode: ModeAll})
	assert.Equal(t, StatusStopped, res.Status)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, models.JobStopped, f.jobs.statuses[len(f.jobs.statuses)-1])

	assert.Len(t, f.itemMedia(1), 2)
	assert.Len(t, f.itemMedia(2), 2)
	assert.Len(t, f.itemMedia(3), 1)
}

func TestProcessMissingIsIdempotent(t *testing.T) {
	f := newFixture(t, config.FormatPdf2xml)
	f.addItem(1)
	f.addPdf(1, "report.pdf", textPdf)

	first := f.run(models.ExtractOcrRequest{})
	assert.Equal(t, 1, first.Processed)

	second := f.run(models.ExtractOcrRequest{Mode: ModeMissing})
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 1, second.Skipped)
	assert.Len(t, f.itemMedia(1), 2)
	assert.Len(t, f.runner.calls, 1)
}

func TestProcessExistingReplacesArtifact(t *testing.T) {
	f := newFixture(t, config.FormatPdf2xml)
	f.addItem(1)
	f.addItem(2)
	f.addPdf(1, "report.pdf", textPdf)
	f.addPdf(2, "other.pdf", textPdf)

	f.run(models.ExtractOcrRequest{ItemID: 1})
	before := f.itemMedia(1)[1]

	res := f.run(models.ExtractOcrRequest{Mode: ModeExisting})
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Skipped)

	media := f.itemMedia(1)
	require.Len(t, media, 2)
	assert.NotEqual(t, before.ID, media[1].ID)
	assert.NoFileExists(t, filepath.Join(f.files.Dir, before.Filename()))
	assert.FileExists(t, filepath.Join(f.files.Dir, media[1].Filename()))
	assert.Len(t, f.itemMedia(2), 1)
}

func TestProcessWritesTextBackOnce(t *testing.T) {
	f := newFixture(t, config.FormatPdf2xml)
	f.settings.ContentStore = config.StorePdfMedia | config.StoreItem
	f.addItem(1)
	pdf := f.addPdf(1, "report.pdf", textPdf)

	f.run(models.ExtractOcrRequest{Mode: ModeAll})
	f.run(models.ExtractOcrRequest{Mode: ModeAll})

	pdfValues, err := store.Values(f.ctx, f.store, models.MediaRef(pdf.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, countProperty(pdfValues, "bibo:content"))

	itemValues, err := store.Values(f.ctx, f.store, models.ItemRef(1))
	require.NoError(t, err)
	assert.Equal(t, 1, countProperty(itemValues, "bibo:content"))
}

func TestProcessManualSkipsItem(t *testing.T) {
	f := newFixture(t, config.FormatPdf2xml)
	f.settings.ContentStore = config.StorePdfMedia | config.StoreItem
	f.addItem(1)
	pdf := f.addPdf(1, "report.pdf", textPdf)

	f.run(models.ExtractOcrRequest{ItemID: 1, Manual: true})

	itemValues, err := store.Values(f.ctx, f.store, models.ItemRef(1))
	require.NoError(t, err)
	assert.Zero(t, countProperty(itemValues, "bibo:content"))

	pdfValues, err := store.Values(f.ctx, f.store, models.MediaRef(pdf.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, countProperty(pdfValues, "bibo:content"))
}

func TestProcessWordIndex(t *testing.T) {
	f := newFixture(t, config.FormatTsv)
	f.addItem(1)
	f.addImage(1, models.Media{Source: "p1.jpg", StorageID: "img1", Extension: "jpg", MediaType: "image/jpeg", Width: 200, Height: 400})
	f.addPdf(1, "words.pdf", wordsPdf)

	res := f.run(models.ExtractOcrRequest{Mode: ModeAll})
	assert.Equal(t, 1, res.Processed)

	media := f.itemMedia(1)
	require.Len(t, media, 3)
	assert.Equal(t, config.MediaTypeTsv, media[2].MediaType)
	stored, err := os.ReadFile(filepath.Join(f.files.Dir, media[2].Filename()))
	require.NoError(t, err)
	assert.Equal(t, "ete\t1:20,40,40,20\n", string(stored))
}

func TestProcessWordIndexDecodesImageSize(t *testing.T) {
	f := newFixture(t, config.FormatTsv)
	f.settings.CreateMedia = false
	f.addItem(4)

	img := image.NewGray(image.Rect(0, 0, 50, 100))
	out, err := os.Create(filepath.Join(f.files.Dir, "img1.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(out, img))
	require.NoError(t, out.Close())
	f.addImage(4, models.Media{Source: "p1.png", StorageID: "img1", Extension: "png", MediaType: "image/png"})
	f.addPdf(4, "words.pdf", wordsPdf)

	res := f.run(models.ExtractOcrRequest{Mode: ModeAll})
	assert.Equal(t, 1, res.Processed)

	index, err := os.ReadFile(filepath.Join(f.settings.IndexDir, "4.tsv"))
	require.NoError(t, err)
	assert.Equal(t, "ete\t1:5,10,10,5\n", string(index))
	assert.Len(t, f.itemMedia(4), 2)
}

func TestProcessEmptyWordIndexWritesNothing(t *testing.T) {
	f := newFixture(t, config.FormatTsv)
	f.addItem(1)
	f.addPdf(1, "blank.pdf", `<html><body><doc><page width="1" height="1"></page></doc></body></html>`)

	res := f.run(models.ExtractOcrRequest{Mode: ModeAll})
	assert.Equal(t, 1, res.Processed)
	assert.Zero(t, res.Failed)
	assert.Len(t, f.itemMedia(1), 1)
}

func TestProcessRanges(t *testing.T) {
	f := newFixture(t, config.FormatPdf2xml)
	f.settings.ItemIDs = "2-3"
	for id := 1; id <= 4; id++ {
		f.addItem(id)
		f.addPdf(id, "doc.pdf", textPdf)
	}

	res := f.run(models.ExtractOcrRequest{Mode: ModeAll})
	assert.Equal(t, 2, res.Total)

	res = f.run(models.ExtractOcrRequest{Mode: ModeAll, ItemID: 4, ItemIDs: "1"})
	assert.Equal(t, 2, res.Total)
	assert.Len(t, f.itemMedia(1), 2)
	assert.Len(t, f.itemMedia(4), 2)
}

func TestProcessIndexDirUnavailable(t *testing.T) {
	f := newFixture(t, config.FormatPdf2xml)
	f.settings.CreateMedia = false
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	f.settings.IndexDir = filepath.Join(blocker, "dir")

	_, err := f.function().Process(f.ctx, models.ExtractOcrRequest{JobID: "job-2"})
	assert.Error(t, err)
	assert.Equal(t, []string{models.JobFailed}, f.jobs.statuses)
}

func TestNewRunModes(t *testing.T) {
	fn := NewExtractOcrFunction(config.Settings{ItemIDs: "5-"}, nil, nil, nil, nil)

	tests := []struct {
		req  models.ExtractOcrRequest
		want string
	}{
		{models.ExtractOcrRequest{}, ModeMissing},
		{models.ExtractOcrRequest{Mode: " Existing "}, ModeExisting},
		{models.ExtractOcrRequest{Mode: ModeMissing, Override: true}, ModeAll},
	}
	for _, tt := range tests {
		run, err := fn.NewRun(tt.req)
		require.NoError(t, err)
		assert.Equal(t, tt.want, run.Mode)
		assert.Equal(t, "5-", run.ItemRanges.String())
	}

	_, err := fn.NewRun(models.ExtractOcrRequest{Mode: "some"})
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestDecide(t *testing.T) {
	assert.Equal(t, actionExtract, decide(ModeAll, false))
	assert.Equal(t, actionReplace, decide(ModeAll, true))
	assert.Equal(t, actionExtract, decide(ModeMissing, false))
	assert.Equal(t, actionSkip, decide(ModeMissing, true))
	assert.Equal(t, actionSkip, decide(ModeExisting, false))
	assert.Equal(t, actionReplace, decide(ModeExisting, true))
}

func TestSummary(t *testing.T) {
	run := &Run{Mode: ModeAll, CountPdf: 4, CountProcessed: 2, CountFailed: 2, Stats: map[string][]int{
		BucketNoPdf: {3},
		BucketIssue: {4},
	}}
	assert.Equal(t, "Processed 2/4 pdf files, 2 failed (1 without file, 0 without text layer, 1 with issue).", run.Summary())

	run.Mode = ModeMissing
	run.CountSkipped = 1
	assert.Equal(t, "Processed 2/4 pdf files, 1 skipped, 2 failed (1 without file, 0 without text layer, 1 with issue).", run.Summary())
}

func TestProcessAllTwiceIsStable(t *testing.T) {
	f := newFixture(t, config.FormatPdf2xml)
	f.addItem(1)
	f.addPdf(1, "report.pdf", textPdf)

	read := func() []byte {
		media := f.itemMedia(1)
		require.Len(t, media, 2)
		b, err := os.ReadFile(filepath.Join(f.files.Dir, media[1].Filename()))
		require.NoError(t, err)
		return b
	}

	f.run(models.ExtractOcrRequest{Mode: ModeAll})
	first := read()
	f.run(models.ExtractOcrRequest{Mode: ModeAll})
	assert.Equal(t, first, read())
}

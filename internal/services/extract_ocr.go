package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Lllllllleong/extractocr/internal/config"
	"github.com/Lllllllleong/extractocr/internal/idrange"
	"github.com/Lllllllleong/extractocr/internal/logging"
	"github.com/Lllllllleong/extractocr/internal/models"
	"github.com/Lllllllleong/extractocr/internal/store"
	"github.com/Lllllllleong/extractocr/internal/tools"
)

// Run modes.
const (
	ModeAll      = "all"
	ModeMissing  = "missing"
	ModeExisting = "existing"
)

// ErrUnknownMode is returned for a request naming no known mode.
var ErrUnknownMode = errors.New("unknown mode")

// Response statuses.
const (
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
)

// Run is the state of one extraction run. It is owned by the run loop.
type Run struct {
	JobID       string
	Mode        string
	ItemRanges  idrange.Ranges
	CreateMedia bool
	Manual      bool
	BaseURI     string

	CountPdf       int
	CountSkipped   int
	CountFailed    int
	CountProcessed int
	Stats          map[string][]int
}

func (r *Run) recordFailure(mediaID int, reason FailureReason) {
	r.CountFailed++
	bucket := reason.Bucket()
	r.Stats[bucket] = append(r.Stats[bucket], mediaID)
}

func (r *Run) response(status string) *models.ExtractOcrResponse {
	return &models.ExtractOcrResponse{
		Status:    status,
		Total:     r.CountPdf,
		Processed: r.CountProcessed,
		Skipped:   r.CountSkipped,
		Failed:    r.CountFailed,
	}
}

// Summary is the human readable outcome of the run. Skips are only
// reported for the missing and existing modes.
func (r *Run) Summary() string {
	var b strings.Builder
	if r.Mode == ModeAll {
		fmt.Fprintf(&b, "Processed %d/%d pdf files", r.CountProcessed, r.CountPdf)
	} else {
		fmt.Fprintf(&b, "Processed %d/%d pdf files, %d skipped", r.CountProcessed, r.CountPdf, r.CountSkipped)
	}
	fmt.Fprintf(&b, ", %d failed (%d without file, %d without text layer, %d with issue).",
		r.CountFailed, len(r.Stats[BucketNoPdf]), len(r.Stats[BucketNoTextLayer]), len(r.Stats[BucketIssue]))
	return b.String()
}

type action int

const (
	actionSkip action = iota
	actionExtract
	actionReplace
)

// decide applies the run mode to a pdf whose artifact exists or not.
func decide(mode string, exists bool) action {
	switch {
	case mode == ModeMissing && exists:
		return actionSkip
	case mode == ModeExisting && !exists:
		return actionSkip
	case exists:
		return actionReplace
	default:
		return actionExtract
	}
}

// ExtractOcrFunction is the extraction run: it selects the pdfs, applies the
// mode to each of them and extracts their text layer one at a time.
type ExtractOcrFunction struct {
	settings  config.Settings
	store     store.Store
	extractor *Extractor
	persister *Persister
	jobs      Jobs
}

// NewExtractOcr wires the run from the environment.
func NewExtractOcr(ctx context.Context) (*ExtractOcrFunction, error) {
	if err := tools.CheckInstalled("pdftohtml", "pdftotext"); err != nil {
		return nil, err
	}
	b, err := newBackend(ctx)
	if err != nil {
		return nil, err
	}
	f := b.extractOcr()
	slog.Info("Extract OCR logic initialized.", "format", b.settings.Format.String(), "createMedia", b.settings.CreateMedia)
	return f, nil
}

// NewExtractOcrFunction assembles a run from its parts.
func NewExtractOcrFunction(settings config.Settings, s store.Store, e *Extractor, p *Persister, jobs Jobs) *ExtractOcrFunction {
	if jobs == nil {
		jobs = noJobs{}
	}
	return &ExtractOcrFunction{settings: settings, store: s, extractor: e, persister: p, jobs: jobs}
}

// NewRun builds the run state from a request.
func (f *ExtractOcrFunction) NewRun(req models.ExtractOcrRequest) (*Run, error) {
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	switch {
	case req.Override:
		mode = ModeAll
	case mode == "":
		mode = ModeMissing
	case mode != ModeAll && mode != ModeMissing && mode != ModeExisting:
		return nil, fmt.Errorf("%w %q", ErrUnknownMode, req.Mode)
	}

	ranges := idrange.Parse(req.ItemIDs)
	if req.ItemID > 0 {
		ranges = append(ranges, idrange.Single(req.ItemID))
	}
	if len(ranges) == 0 {
		ranges = idrange.Parse(f.settings.ItemIDs)
	}

	return &Run{
		JobID:       req.JobID,
		Mode:        mode,
		ItemRanges:  ranges,
		CreateMedia: f.settings.CreateMedia,
		Manual:      req.Manual,
		BaseURI:     req.BaseURI,
		Stats: map[string][]int{
			BucketNoPdf:       nil,
			BucketNoTextLayer: nil,
			BucketIssue:       nil,
		},
	}, nil
}

// Process runs the extraction. Failures of single pdfs are counted, not
// returned; an error means the run could not start or list its pdfs.
func (f *ExtractOcrFunction) Process(ctx context.Context, req models.ExtractOcrRequest) (*models.ExtractOcrResponse, error) {
	run, err := f.NewRun(req)
	if err != nil {
		return nil, err
	}
	logCtx := slog.With("jobId", run.JobID, "mode", run.Mode, "itemIds", run.ItemRanges.String())
	logCtx.Info("Starting extraction run.", "format", f.settings.Format.String(), "createMedia", run.CreateMedia)

	if err := f.persister.Prepare(ctx, run.CreateMedia); err != nil {
		return nil, f.handleError(ctx, logCtx, run, "destination directory is not available", err)
	}

	candidates, err := f.store.SearchPDFs(ctx, run.ItemRanges)
	if err != nil {
		return nil, f.handleError(ctx, logCtx, run, "failed to search pdf media", err)
	}
	run.CountPdf = len(candidates)
	if run.CountPdf == 0 {
		logging.Notice(logCtx, "No pdf to process.")
		f.updateStatus(ctx, logCtx, run, models.JobCompleted, "")
		return run.response(StatusCompleted), nil
	}
	f.updateStatus(ctx, logCtx, run, models.JobInProgress, "")

	for i, pdf := range candidates {
		stop, err := f.jobs.StopRequested(ctx, run.JobID)
		if err != nil {
			logCtx.Warn("Cannot read stop request.", "error", err)
		}
		if stop || ctx.Err() != nil {
			logging.Notice(logCtx, "The job was stopped. "+run.Summary(), "remaining", len(candidates)-i)
			f.updateStatus(ctx, logCtx, run, models.JobStopped, "")
			return run.response(StatusStopped), nil
		}

		f.processCandidate(ctx, logCtx.With("itemId", pdf.ItemID, "mediaId", pdf.ID), run, pdf)
		if (i+1)%10 == 0 {
			if err := f.jobs.ReportProgress(ctx, run.JobID, run.CountProcessed, run.CountPdf); err != nil {
				logCtx.Warn("Failed to report progress.", "error", err)
			}
		}
	}

	logging.Notice(logCtx, run.Summary(),
		BucketNoPdf, run.Stats[BucketNoPdf],
		BucketNoTextLayer, run.Stats[BucketNoTextLayer],
		BucketIssue, run.Stats[BucketIssue])
	f.updateStatus(ctx, logCtx, run, models.JobCompleted, "")
	return run.response(StatusCompleted), nil
}

// processCandidate handles one pdf. Its outcome only changes the counters.
func (f *ExtractOcrFunction) processCandidate(ctx context.Context, logCtx *slog.Logger, run *Run, pdf models.Media) {
	name := ArtifactName(pdf, f.settings.Format.Extension())
	logCtx = logCtx.With("artifact", name)

	exists, existing, err := f.persister.Existing(ctx, pdf, name, run.CreateMedia)
	if err != nil {
		logCtx.Error("Cannot check existing artifact.", "error", err)
		run.recordFailure(pdf.ID, ToolFailure)
		return
	}

	switch decide(run.Mode, exists) {
	case actionSkip:
		run.CountSkipped++
		return
	case actionReplace:
		if err := f.persister.Remove(ctx, pdf, existing); err != nil {
			logCtx.Error("Cannot remove existing artifact.", "error", err)
			run.recordFailure(pdf.ID, ToolFailure)
			return
		}
		logCtx.Info("Removed existing artifact.")
	}

	workDir, err := os.MkdirTemp("", "extract-ocr-*")
	if err != nil {
		logCtx.Error("Failed to create temp dir.", "error", err)
		run.recordFailure(pdf.ID, ToolFailure)
		return
	}
	defer os.RemoveAll(workDir)

	artifact, err := f.extractor.Extract(ctx, logCtx, pdf, name, workDir, run.CreateMedia)
	if err != nil {
		reason := ToolFailure
		var failure *FailureError
		if errors.As(err, &failure) {
			reason = failure.Reason
		}
		logCtx.Warn("Extraction failed.", "reason", reason.String(), "bucket", reason.Bucket(), "error", err)
		run.recordFailure(pdf.ID, reason)
		return
	}

	if err := f.persister.Persist(ctx, logCtx, run, pdf, artifact); err != nil {
		logCtx.Error("Failed to store artifact.", "error", err)
		run.recordFailure(pdf.ID, ToolFailure)
		return
	}
	run.CountProcessed++
	logCtx.Info("Extracted text layer.", "empty", artifact.Empty)
}

// updateStatus also runs when ctx is cancelled, so that a stopped run
// records its final status.
func (f *ExtractOcrFunction) updateStatus(ctx context.Context, logCtx *slog.Logger, run *Run, status, details string) {
	ctx = context.WithoutCancel(ctx)
	job := models.Job{
		Status:       status,
		ErrorDetails: details,
		Processed:    run.CountProcessed,
		Total:        run.CountPdf,
	}
	if err := f.jobs.UpdateStatus(ctx, run.JobID, job); err != nil {
		logCtx.Warn("Failed to update job status.", "status", status, "error", err)
	}
}

func (f *ExtractOcrFunction) handleError(ctx context.Context, logCtx *slog.Logger, run *Run, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	f.updateStatus(ctx, logCtx, run, models.JobFailed, fullError)
	return fmt.Errorf("%s: %w", message, originalErr)
}

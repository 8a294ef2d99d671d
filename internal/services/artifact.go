package services

import (
	"fmt"
	"strings"

	"github.com/Lllllllleong/extractocr/internal/config"
	"github.com/Lllllllleong/extractocr/internal/models"
)

// FailureReason classifies why a pdf produced no artifact.
type FailureReason int

const (
	// NoPdfFile: the stored file of the pdf is missing.
	NoPdfFile FailureReason = iota + 1
	// NoTextLayer: the pdf has no text and empty artifacts are disabled.
	NoTextLayer
	// ToolFailure: a tool, the repair, the transform or the storage failed.
	ToolFailure
)

// Stats buckets.
const (
	BucketNoPdf       = "no_pdf"
	BucketNoTextLayer = "no_text_layer"
	BucketIssue       = "issue"
)

// Bucket is the stats bucket the failure is counted in.
func (r FailureReason) Bucket() string {
	switch r {
	case NoPdfFile:
		return BucketNoPdf
	case NoTextLayer:
		return BucketNoTextLayer
	default:
		return BucketIssue
	}
}

func (r FailureReason) String() string {
	switch r {
	case NoPdfFile:
		return "no pdf file"
	case NoTextLayer:
		return "no text layer"
	case ToolFailure:
		return "tool failure"
	}
	return fmt.Sprintf("FailureReason(%d)", int(r))
}

// FailureError is the error returned for a pdf that could not be processed.
type FailureError struct {
	Reason  FailureReason
	MediaID int
	Err     error
}

func (e *FailureError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("media %d: %s", e.MediaID, e.Reason)
	}
	return fmt.Sprintf("media %d: %s: %v", e.MediaID, e.Reason, e.Err)
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

func fail(reason FailureReason, mediaID int, err error) error {
	return &FailureError{Reason: reason, MediaID: mediaID, Err: err}
}

// Artifact is the text layer extracted from one pdf, held in a temporary
// file until it is persisted.
type Artifact struct {
	Format config.TargetFormat
	// SourceName is the name the artifact is stored under and looked up by.
	SourceName string
	Text       string
	Path       string
	// Empty is set for a word index without rows when empty files are not
	// created. Path is then unset.
	Empty bool
}

// ArtifactName derives the artifact name from the original file name of the
// pdf: "report.pdf" gives "report.xml". Without a usable file name it falls
// back to "<mediaId>-<storageId>.<ext>".
func ArtifactName(pdf models.Media, extension string) string {
	base := pdf.Source
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if len(base) >= 4 && strings.EqualFold(base[len(base)-4:], ".pdf") {
		base = base[:len(base)-4]
	}
	if strings.TrimSpace(base) == "" {
		return fmt.Sprintf("%d-%s.%s", pdf.ID, pdf.StorageID, extension)
	}
	return base + "." + extension
}

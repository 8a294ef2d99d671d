package services

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/extractocr/internal/models"
)

// Jobs tracks the status of runs and carries stop requests from operators.
// Runs without a job id are not tracked.
type Jobs interface {
	StopRequested(ctx context.Context, jobID string) (bool, error)
	// UpdateStatus changes the status and counters of the job. A pending
	// stop request is never replaced by IN_PROGRESS.
	UpdateStatus(ctx context.Context, jobID string, job models.Job) error
	// ReportProgress writes the counters only.
	ReportProgress(ctx context.Context, jobID string, processed, total int) error
}

// nextStatus is the status stored when requested is written over current.
func nextStatus(current, requested string) string {
	if current == models.JobStopping && requested == models.JobInProgress {
		return models.JobStopping
	}
	return requested
}

// JobStatus keeps one Firestore document per job.
type JobStatus struct {
	client     *firestore.Client
	collection string
}

// NewJobStatus returns a tracker writing to collection.
func NewJobStatus(client *firestore.Client, collection string) *JobStatus {
	return &JobStatus{client: client, collection: collection}
}

// StopRequested reports whether the job document asks the run to stop.
func (j *JobStatus) StopRequested(ctx context.Context, jobID string) (bool, error) {
	if jobID == "" {
		return false, nil
	}
	snap, err := j.client.Collection(j.collection).Doc(jobID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read job %s: %w", jobID, err)
	}
	var job models.Job
	if err := snap.DataTo(&job); err != nil {
		return false, fmt.Errorf("failed to decode job %s: %w", jobID, err)
	}
	return job.Status == models.JobStopping, nil
}

// UpdateStatus merges the status and counters into the job document. The
// current status is read in the same transaction so that a stop request
// written meanwhile is kept.
func (j *JobStatus) UpdateStatus(ctx context.Context, jobID string, job models.Job) error {
	if jobID == "" {
		return nil
	}
	ref := j.client.Collection(j.collection).Doc(jobID)
	err := j.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current models.Job
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&current); err != nil {
				return err
			}
		}

		updates := map[string]interface{}{
			"status":    nextStatus(current.Status, job.Status),
			"processed": job.Processed,
			"total":     job.Total,
		}
		if job.ErrorDetails != "" {
			updates["errorDetails"] = job.ErrorDetails
		}
		return tx.Set(ref, updates, firestore.MergeAll)
	})
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	return nil
}

// ReportProgress merges the counters into the job document and leaves its
// status alone.
func (j *JobStatus) ReportProgress(ctx context.Context, jobID string, processed, total int) error {
	if jobID == "" {
		return nil
	}
	updates := map[string]interface{}{
		"processed": processed,
		"total":     total,
	}
	_, err := j.client.Collection(j.collection).Doc(jobID).Set(ctx, updates, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to report progress of job %s: %w", jobID, err)
	}
	return nil
}

// noJobs is used when no job store is configured.
type noJobs struct{}

func (noJobs) StopRequested(context.Context, string) (bool, error)    { return false, nil }
func (noJobs) UpdateStatus(context.Context, string, models.Job) error { return nil }
func (noJobs) ReportProgress(context.Context, string, int, int) error { return nil }

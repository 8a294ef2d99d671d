package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
// It centralizes client creation for all functions.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// Project holds the GCP settings shared by every function, read from the
// environment.
type Project struct {
	ProjectID          string
	ItemsCollection    string
	MediaCollection    string
	CountersCollection string
	JobsCollection     string
	FilesBucket        string
	FilesPrefix        string
	WorkflowLocation   string
	WorkflowID         string
}

// ProjectFromEnv reads the shared settings. PROJECT_ID is required.
func ProjectFromEnv() (Project, error) {
	p := Project{
		ProjectID:          GetEnv("PROJECT_ID", ""),
		ItemsCollection:    GetEnv("ITEMS_COLLECTION", "items"),
		MediaCollection:    GetEnv("MEDIA_COLLECTION", "media"),
		CountersCollection: GetEnv("COUNTERS_COLLECTION", "counters"),
		JobsCollection:     GetEnv("JOBS_COLLECTION", "jobs"),
		FilesBucket:        GetEnv("FILES_BUCKET", ""),
		FilesPrefix:        GetEnv("FILES_PREFIX", "original/"),
		WorkflowLocation:   GetEnv("WORKFLOW_LOCATION", "us-central1"),
		WorkflowID:         GetEnv("WORKFLOW_ID", "extract-ocr-runner"),
	}
	if p.ProjectID == "" {
		return Project{}, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	return p, nil
}

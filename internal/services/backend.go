package services

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/extractocr/internal/config"
	"github.com/Lllllllleong/extractocr/internal/filestore"
	"github.com/Lllllllleong/extractocr/internal/gcp"
	"github.com/Lllllllleong/extractocr/internal/store"
	"github.com/Lllllllleong/extractocr/internal/store/docstore"
	"github.com/Lllllllleong/extractocr/internal/store/sqlstore"
	"github.com/Lllllllleong/extractocr/internal/tools"
)

// backend holds the clients shared by the functions of one instance.
type backend struct {
	settings   config.Settings
	store      store.Store
	files      filestore.Files
	stager     Stager
	jobs       Jobs
	runner     tools.Runner
	dispatcher Dispatcher
}

// newBackend reads the settings and connects to the stores. SQLITE_PATH
// selects a local SQLite store and local files, for runs outside GCP.
func newBackend(ctx context.Context) (*backend, error) {
	settings, err := config.Load(gcp.GetEnv("EXTRACTOCR_CONFIG", ""))
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	b := &backend{
		settings: settings,
		runner:   tools.ExecRunner{Timeout: settings.ToolTimeout},
		jobs:     noJobs{},
	}

	if dbPath := gcp.GetEnv("SQLITE_PATH", ""); dbPath != "" {
		s := sqlstore.New(dbPath)
		if err := s.Init(ctx); err != nil {
			return nil, fmt.Errorf("failed to init sqlite store: %w", err)
		}
		b.store = s
		b.files = filestore.Local{Dir: settings.FilesPath}
		b.stager = &LocalStager{Dir: settings.StagingDir, BaseURL: settings.StagingURL}
		slog.Info("Using local store.", "path", dbPath, "files", settings.FilesPath)
		return b, nil
	}

	project, err := gcp.ProjectFromEnv()
	if err != nil {
		return nil, err
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, project.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	b.store = docstore.New(firestoreClient, docstore.Config{
		ItemsCollection:    project.ItemsCollection,
		MediaCollection:    project.MediaCollection,
		CountersCollection: project.CountersCollection,
	})
	b.jobs = NewJobStatus(firestoreClient, project.JobsCollection)

	var storageClient *storage.Client
	if project.FilesBucket != "" || settings.StagingBucket != "" {
		if storageClient, err = storage.NewClient(ctx); err != nil {
			return nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
	}
	if project.FilesBucket != "" {
		b.files = filestore.GCS{Bucket: storageClient.Bucket(project.FilesBucket), Prefix: project.FilesPrefix}
	} else {
		b.files = filestore.Local{Dir: settings.FilesPath}
	}
	if settings.StagingBucket != "" {
		b.stager = &GCSStager{
			Bucket:     storageClient.Bucket(settings.StagingBucket),
			BucketName: settings.StagingBucket,
			BaseURL:    settings.StagingURL,
		}
	} else {
		b.stager = &LocalStager{Dir: settings.StagingDir, BaseURL: settings.StagingURL}
	}

	dispatcher, err := gcp.NewWorkflowDispatcher(ctx, project.ProjectID, project.WorkflowLocation, project.WorkflowID)
	if err != nil {
		return nil, err
	}
	b.dispatcher = dispatcher
	return b, nil
}

func (b *backend) persister() *Persister {
	return &Persister{Settings: b.settings, Store: b.store, Files: b.files, Stager: b.stager}
}

func (b *backend) extractOcr() *ExtractOcrFunction {
	extractor := &Extractor{Settings: b.settings, Runner: b.runner, Files: b.files, Store: b.store}
	return NewExtractOcrFunction(b.settings, b.store, extractor, b.persister(), b.jobs)
}

func (b *backend) extractToc() *ExtractTocFunction {
	return NewExtractTocFunction(b.settings, b.store, b.files, b.runner)
}

func (b *backend) itemHook() *ItemHookFunction {
	return NewItemHookFunction(b.settings, b.store, b.persister(), b.dispatcher)
}

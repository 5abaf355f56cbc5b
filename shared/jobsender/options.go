package jobsender

import (
	"log/slog"

	"github.com/spf13/afero"

	"github.com/cuongbtq/helix-jobs/shared/blobstore"
)

// StoreFactory resolves the storage strategy for a job from its connection string
type StoreFactory func(connectionString string, issuer blobstore.ContainerIssuer) (blobstore.Store, error)

type options struct {
	fs                afero.Fs
	storeFactory      StoreFactory
	uploadConcurrency int
	logger            *slog.Logger
}

func defaultOptions() options {
	return options{
		fs:                afero.NewOsFs(),
		storeFactory:      blobstore.NewStore,
		uploadConcurrency: 1,
		logger:            slog.New(slog.DiscardHandler),
	}
}

// Option configures a JobDefinition
type Option func(*options)

// WithFs sets the filesystem local payloads are read from
func WithFs(fs afero.Fs) Option {
	return func(o *options) {
		if fs != nil {
			o.fs = fs
		}
	}
}

// WithStoreFactory replaces the storage strategy dispatch
func WithStoreFactory(f StoreFactory) Option {
	return func(o *options) {
		if f != nil {
			o.storeFactory = f
		}
	}
}

// WithUploadConcurrency bounds how many work item payloads upload at once.
// The default of 1 uploads them one after another.
func WithUploadConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.uploadConcurrency = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

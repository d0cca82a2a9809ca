package port

import (
	"context"
	"io"

	"github.com/arturoeanton/go-release-archiver/internal/domain"
)

// ReleaseResource is everything the deposit collaborator may ask of a release
// being processed: the stored rows, the normalized event data, and scoped
// access to the release archive.
type ReleaseResource interface {
	Release() *domain.Release
	Repository() *domain.Repository

	// Generic returns the normalized release and repository extracted from
	// the originating webhook payload.
	Generic() (*domain.GenericRelease, *domain.GenericRepository, error)

	// FileName is the archive file name for the deposited record,
	// "{full_name}-{tag}.zip".
	FileName() (string, error)

	// ResolveArchiveURL resolves (and caches) the final archive URL.
	ResolveArchiveURL(ctx context.Context) (string, error)

	// FetchArchive opens the archive stream. The caller must close it on
	// every exit path.
	FetchArchive(ctx context.Context) (io.ReadCloser, error)

	Contributors(ctx context.Context) ([]domain.GenericContributor, error)
	Owner(ctx context.Context) (*domain.GenericOwner, error)

	// RemoteMetadataFile fetches an optional repository-supplied metadata
	// file (e.g. a citation file) at the release tag; (nil, nil) if absent.
	RemoteMetadataFile(ctx context.Context, path string) ([]byte, error)
}

// Depositor is the boundary to the external record/deposit service. A
// successful ProcessRelease returns the identifier of the created citable
// record; the task layer then marks the release PUBLISHED and stores the id.
type Depositor interface {
	ProcessRelease(ctx context.Context, release ReleaseResource) (recordID string, err error)
}

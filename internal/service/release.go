package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/arturoeanton/go-release-archiver/internal/domain"
	"github.com/arturoeanton/go-release-archiver/internal/port"
)

// VCSRelease is the working view of one stored release during processing. It
// implements port.ReleaseResource, caching the normalized event payload and
// the resolved archive URL across the collaborator's calls.
type VCSRelease struct {
	release  *domain.Release
	repo     *domain.Repository
	provider port.Provider

	maxContributors int
	archiveTimeout  time.Duration

	genericOnce sync.Once
	genericRel  *domain.GenericRelease
	genericRepo *domain.GenericRepository
	genericErr  error

	resolveOnce sync.Once
	resolvedURL string
	resolveErr  error
}

// NewVCSRelease builds the processing view of a release.
func NewVCSRelease(release *domain.Release, repo *domain.Repository, provider port.Provider, maxContributors int, archiveTimeout time.Duration) *VCSRelease {
	return &VCSRelease{
		release:         release,
		repo:            repo,
		provider:        provider,
		maxContributors: maxContributors,
		archiveTimeout:  archiveTimeout,
	}
}

// Release returns the stored release row.
func (r *VCSRelease) Release() *domain.Release { return r.release }

// Repository returns the stored repository row.
func (r *VCSRelease) Repository() *domain.Repository { return r.repo }

// Generic normalizes the originating webhook payload, once.
func (r *VCSRelease) Generic() (*domain.GenericRelease, *domain.GenericRepository, error) {
	r.genericOnce.Do(func() {
		r.genericRel, r.genericRepo, r.genericErr =
			r.provider.Factory().WebhookEventToGeneric(r.release.EventPayload)
	})
	return r.genericRel, r.genericRepo, r.genericErr
}

// FileName is the archive file name of the deposited record. Path separators
// in the repository name are flattened so the name is a single segment.
func (r *VCSRelease) FileName() (string, error) {
	rel, _, err := r.Generic()
	if err != nil {
		return "", err
	}
	name := strings.ReplaceAll(r.repo.FullName, "/", "-")
	return fmt.Sprintf("%s-%s.zip", name, rel.TagName), nil
}

// ResolveArchiveURL resolves the final downloadable archive URL, once.
func (r *VCSRelease) ResolveArchiveURL(ctx context.Context) (string, error) {
	r.resolveOnce.Do(func() {
		rel, _, err := r.Generic()
		if err != nil {
			r.resolveErr = err
			return
		}
		if rel.ZipballURL == "" {
			r.resolveErr = &port.ReleaseArchiveFetchError{URL: "", StatusCode: 0}
			return
		}
		r.resolvedURL, r.resolveErr = r.provider.ResolveReleaseArchiveURL(ctx, rel.ZipballURL)
	})
	return r.resolvedURL, r.resolveErr
}

// FetchArchive opens the archive stream. The caller owns the body.
func (r *VCSRelease) FetchArchive(ctx context.Context) (io.ReadCloser, error) {
	resolved, err := r.ResolveArchiveURL(ctx)
	if err != nil {
		return nil, err
	}
	return r.provider.FetchReleaseArchive(ctx, resolved, r.archiveTimeout)
}

// Contributors returns the repository's contributor list, nil when the
// repository has more contributors than the configured cut-off.
func (r *VCSRelease) Contributors(ctx context.Context) ([]domain.GenericContributor, error) {
	if r.repo.ProviderID == "" {
		return nil, nil
	}
	return r.provider.ListRepositoryContributors(ctx, r.repo.ProviderID, r.maxContributors)
}

// Owner returns the repository's owning user or organization.
func (r *VCSRelease) Owner(ctx context.Context) (*domain.GenericOwner, error) {
	if r.repo.ProviderID == "" {
		return nil, nil
	}
	return r.provider.GetRepositoryOwner(ctx, r.repo.ProviderID)
}

// RemoteMetadataFile fetches one file from the repository tree at the release
// tag, (nil, nil) when the file does not exist.
func (r *VCSRelease) RemoteMetadataFile(ctx context.Context, path string) ([]byte, error) {
	rel, _, err := r.Generic()
	if err != nil {
		return nil, err
	}
	if r.repo.ProviderID == "" {
		return nil, nil
	}
	return r.provider.RetrieveRemoteFile(ctx, r.repo.ProviderID, rel.TagName, path)
}

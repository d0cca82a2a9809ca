package port

import (
	"context"
	"encoding/json"
	"time"

	"github.com/arturoeanton/go-release-archiver/internal/domain"
)

// RepositoryStore persists repositories and the repository↔user association.
// Lookups return (nil, nil) when the row does not exist.
type RepositoryStore interface {
	CreateRepository(ctx context.Context, repo *domain.Repository) error
	GetRepository(ctx context.Context, provider, providerID string) (*domain.Repository, error)
	GetRepositoryByID(ctx context.Context, id string) (*domain.Repository, error)

	// UpdateRepositoryMetadata persists the descriptive fields copied from a
	// remote snapshot (name, branch, description, license, html url).
	UpdateRepositoryMetadata(ctx context.Context, repo *domain.Repository) error

	// UpdateRepositoryHook sets the installed hook id and the enabling user.
	// Both empty marks the repository disabled; the row is kept for release
	// history, never deleted.
	UpdateRepositoryHook(ctx context.Context, id, hook, enabledByUser string) error

	// DisableAbsentRepositories clears hook and enabling user on every
	// repository of the provider currently enabled by the user whose
	// provider id is not in presentIDs, and drops the user's association
	// rows for those repositories. Returns the affected provider ids.
	DisableAbsentRepositories(ctx context.Context, provider, userID string, presentIDs []string) ([]string, error)

	ListUserRepositories(ctx context.Context, provider, userID string) ([]domain.Repository, error)
	ListUserEnabledRepositories(ctx context.Context, provider, userID string) ([]domain.Repository, error)

	AddRepositoryUser(ctx context.Context, repositoryID, userID string) error
	RemoveRepositoryUser(ctx context.Context, repositoryID, userID string) error
	ListRepositoryUsers(ctx context.Context, repositoryID string) ([]string, error)
}

// ReleaseStore persists releases. CreateRelease must fail with
// *ReleaseAlreadyReceivedError when (provider, provider_id) already exists;
// the unique constraint is the sole guard against duplicate ingestion.
type ReleaseStore interface {
	CreateRelease(ctx context.Context, release *domain.Release) error
	GetRelease(ctx context.Context, provider, providerID string) (*domain.Release, error)

	// GetPendingRelease loads a release only while it is still processable,
	// i.e. in the RECEIVED or FAILED state.
	GetPendingRelease(ctx context.Context, provider, providerID string) (*domain.Release, error)

	UpdateReleaseStatus(ctx context.Context, id string, status domain.ReleaseStatus) error
	SetReleaseErrors(ctx context.Context, id string, errs json.RawMessage) error

	// SetReleasePublished records the terminal success state together with
	// the weak reference to the created record.
	SetReleasePublished(ctx context.Context, id, recordID string) error

	LatestRelease(ctx context.Context, repositoryID string, status domain.ReleaseStatus) (*domain.Release, error)
	ListRepositoryReleases(ctx context.Context, repositoryID string) ([]domain.Release, error)
}

// AccountStore persists the per-user provider links and their typed sync
// cache. Lookups return (nil, nil) when no link exists.
type AccountStore interface {
	GetAccount(ctx context.Context, provider, userID string) (*domain.Account, error)
	GetAccountByWebhookToken(ctx context.Context, provider, token string) (*domain.Account, error)
	SaveAccount(ctx context.Context, account *domain.Account) error
	DeleteAccount(ctx context.Context, provider, userID string) error

	// ListStaleAccounts selects accounts not updated since the threshold,
	// used by the scheduled refresh sweep.
	ListStaleAccounts(ctx context.Context, provider string, olderThan time.Time) ([]domain.Account, error)

	// FindUserByExternalID maps a provider-side user id to a local user, ""
	// when that identity was never linked.
	FindUserByExternalID(ctx context.Context, provider, externalID string) (string, error)
}

// Store is the full persistence boundary of the integration.
type Store interface {
	RepositoryStore
	ReleaseStore
	AccountStore
}

package port

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/arturoeanton/go-release-archiver/internal/domain"
)

// TokenSource supplies the per-user credentials held by the OAuth
// collaborator. AccessToken returns "" (not an error) when the user has no
// linked account for the provider.
type TokenSource interface {
	AccessToken(ctx context.Context, provider, userID string) (string, error)
	WebhookToken(ctx context.Context, provider, userID string) (string, error)
}

// ProviderFactory is a stateless, shareable descriptor of one configured VCS
// integration. Its ID doubles as the webhook receiver key and must never be
// renamed once deployed: it is baked into persisted webhook URLs and
// historical event routing.
type ProviderFactory interface {
	// ID is the stable provider identifier, e.g. "github".
	ID() string

	// Name is the human-readable provider name.
	Name() string

	// Description is shown next to the provider in account settings.
	Description() string

	// Icon is the identifier of the provider's UI icon.
	Icon() string

	// BaseURL is the root of the provider's web UI, e.g. "https://github.com".
	BaseURL() string

	// RepositoryNoun returns the provider's word for a repository in singular
	// and plural form ("repository"/"repositories", "project"/"projects").
	RepositoryNoun() (singular, plural string)

	// WebhookIsCreateReleaseEvent reports whether the raw JSON payload of a
	// webhook event represents the publication of a release. Returning false
	// ends further processing of the event without error.
	WebhookIsCreateReleaseEvent(payload []byte) bool

	// WebhookEventToGeneric extracts the release and repository data from the
	// raw JSON payload of a webhook event.
	WebhookEventToGeneric(payload []byte) (*domain.GenericRelease, *domain.GenericRepository, error)

	// URLForRepository is the UI homepage of a repository.
	URLForRepository(fullName string) string

	// URLForRelease is the UI page showing the details of a release.
	URLForRelease(fullName, releaseID, tag string) string

	// URLForTag is the UI page showing the tree at a tag.
	URLForTag(fullName, tag string) string

	// URLForNewRelease is the UI page for publishing a new release.
	URLForNewRelease(fullName string) string

	// ForUser binds the factory to a per-user provider whose credentials are
	// resolved through the configured TokenSource.
	ForUser(userID string) Provider

	// ForAccessToken binds the factory to a provider using an explicit access
	// token; used during disconnect cleanup after the account row is gone.
	ForAccessToken(userID, accessToken string) Provider
}

// Provider is the per-user session over one VCS provider's API. All
// implementations translate provider responses into the generic models; no
// provider-specific type leaks past this boundary.
//
// Read operations return (nil, nil) for "not found", and fail with transport
// or UnexpectedProviderResponse errors otherwise.
type Provider interface {
	Factory() ProviderFactory
	UserID() string

	// ListRepositories enumerates the repositories on which the user has at
	// least maintainer/admin rights, keyed by provider id. Returns a nil map
	// and nil error when no usable credentials exist; callers must treat nil
	// as "no data available", not as an empty result.
	ListRepositories(ctx context.Context) (map[string]domain.GenericRepository, error)

	GetRepository(ctx context.Context, repositoryID string) (*domain.GenericRepository, error)
	GetRepositoryOwner(ctx context.Context, repositoryID string) (*domain.GenericOwner, error)
	ListRepositoryContributors(ctx context.Context, repositoryID string, max int) ([]domain.GenericContributor, error)

	// ListRepositoryWebhooks returns the repository's active release webhooks
	// in arbitrary order.
	ListRepositoryWebhooks(ctx context.Context, repositoryID string) ([]domain.GenericWebhook, error)

	// ListRepositoryUserIDs returns provider user ids with sufficient rights
	// to manage webhooks on the repository.
	ListRepositoryUserIDs(ctx context.Context, repositoryID string) ([]string, error)

	// GetOwnUser describes the user the session belongs to.
	GetOwnUser(ctx context.Context) (*domain.GenericUser, error)

	// CreateWebhook installs (or updates in place, when a hook with the
	// configured URL already exists) the release webhook and returns its id.
	// Returns "" when the repository is gone or the user lacks permission.
	CreateWebhook(ctx context.Context, repositoryID string) (string, error)

	// DeleteWebhook removes the hook with the given id, or, when hookID is
	// empty, whichever hook matches the configured callback host.
	DeleteWebhook(ctx context.Context, repositoryID, hookID string) (bool, error)

	// WebhookURL is the fully formatted receiver URL for this user, with the
	// user's webhook token substituted in.
	WebhookURL(ctx context.Context) (string, error)

	// ResolveReleaseArchiveURL follows provider-specific redirect and
	// ambiguity edge cases and returns the final downloadable URL.
	ResolveReleaseArchiveURL(ctx context.Context, archiveURL string) (string, error)

	// FetchReleaseArchive streams the release archive. The caller owns the
	// returned body and must close it on every exit path.
	FetchReleaseArchive(ctx context.Context, archiveURL string, timeout time.Duration) (io.ReadCloser, error)

	// RetrieveRemoteFile downloads one file at a ref (tag, branch, commit).
	RetrieveRemoteFile(ctx context.Context, repositoryID, ref, path string) ([]byte, error)

	// RevokeToken permanently invalidates an access token. Best-effort:
	// providers without a revocation API must return nil.
	RevokeToken(ctx context.Context, accessToken string) error
}

// ValidWebhookURL reports whether candidate has the same network host as the
// configured receiver URL. False on any missing or unparseable host.
func ValidWebhookURL(configured, candidate string) bool {
	if configured == "" || candidate == "" {
		return false
	}
	cu, err := url.Parse(configured)
	if err != nil {
		return false
	}
	du, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	if cu.Host == "" || du.Host == "" {
		return false
	}
	return cu.Host == du.Host
}

// FirstValidWebhook returns the first of the repository's webhooks whose URL
// points at the configured receiver, or nil if none does.
func FirstValidWebhook(ctx context.Context, p Provider, repositoryID string) (*domain.GenericWebhook, error) {
	configured, err := p.WebhookURL(ctx)
	if err != nil {
		return nil, err
	}
	hooks, err := p.ListRepositoryWebhooks(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	for i := range hooks {
		if ValidWebhookURL(configured, hooks[i].URL) {
			return &hooks[i], nil
		}
	}
	return nil, nil
}

// Registry maps provider ids to their factories. It is process-wide
// configuration state, populated once at startup from a static list.
type Registry struct {
	order     []string
	factories map[string]ProviderFactory
}

// NewRegistry builds a registry from the configured factories. Duplicate ids
// are a startup configuration error.
func NewRegistry(factories ...ProviderFactory) (*Registry, error) {
	r := &Registry{factories: make(map[string]ProviderFactory, len(factories))}
	for _, f := range factories {
		if _, dup := r.factories[f.ID()]; dup {
			return nil, fmt.Errorf("vcs provider %q registered twice", f.ID())
		}
		r.factories[f.ID()] = f
		r.order = append(r.order, f.ID())
	}
	return r, nil
}

// Get resolves a factory by id. Failing here means the deployment is
// misconfigured: receiver ids are only ever registered for configured
// providers, so this should never be reachable from user input.
func (r *Registry) Get(id string) (ProviderFactory, error) {
	f, ok := r.factories[id]
	if !ok {
		return nil, &ProviderNotRegisteredError{ID: id}
	}
	return f, nil
}

// All returns the factories in registration order.
func (r *Registry) All() []ProviderFactory {
	out := make([]ProviderFactory, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.factories[id])
	}
	return out
}

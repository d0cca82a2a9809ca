package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/arturoeanton/go-release-archiver/internal/domain"
	"github.com/arturoeanton/go-release-archiver/internal/port"
	"github.com/google/uuid"
)

// TaskEnqueuer hands long-running work to the background runner. The service
// never blocks a request on provider round-trips it can defer.
type TaskEnqueuer interface {
	EnqueueSyncHooks(provider, userID string, providerRepoIDs []string)
	EnqueueProcessRelease(provider, providerID string)
	EnqueueDisconnect(provider, userID, accessToken string, repoHooks map[string]string)
}

// VCSService implements account synchronization and the per-repository
// enable/disable lifecycle on top of the provider registry and the store.
type VCSService struct {
	store           port.Store
	registry        *port.Registry
	tasks           TaskEnqueuer
	refreshAge      time.Duration
	maxContributors int
}

// NewVCSService creates the service. The task enqueuer is attached later via
// SetTasks because the runner needs the service to execute its tasks.
func NewVCSService(s port.Store, registry *port.Registry, refreshAge time.Duration, maxContributors int) *VCSService {
	return &VCSService{
		store:           s,
		registry:        registry,
		refreshAge:      refreshAge,
		maxContributors: maxContributors,
	}
}

// SetTasks attaches the background runner.
func (s *VCSService) SetTasks(tasks TaskEnqueuer) { s.tasks = tasks }

// Registry exposes the configured providers.
func (s *VCSService) Registry() *port.Registry { return s.registry }

// Store exposes the persistence boundary to collaborating layers.
func (s *VCSService) Store() port.Store { return s.store }

// MaxContributors is the cut-off above which contributor lists are dropped.
func (s *VCSService) MaxContributors() int { return s.maxContributors }

func (s *VCSService) providerFor(provider, userID string) (port.Provider, error) {
	factory, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	return factory.ForUser(userID), nil
}

// InitAccount sets up (or refreshes) the user's provider link: it mints the
// webhook token on first use and caches the remote identity so webhook
// deliveries and collaborator lists can be mapped back to the user.
func (s *VCSService) InitAccount(ctx context.Context, provider, userID string) (*domain.Account, error) {
	p, err := s.providerFor(provider, userID)
	if err != nil {
		return nil, err
	}
	remoteUser, err := p.GetOwnUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("init account: %w", err)
	}

	account, err := s.store.GetAccount(ctx, provider, userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = &domain.Account{UserID: userID, Provider: provider}
	}
	if account.Data.WebhookToken == "" {
		account.Data.WebhookToken = uuid.NewString()
	}
	account.Data.ExternalID = remoteUser.ID
	account.Data.Login = remoteUser.Username
	account.Data.Name = remoteUser.DisplayName

	if err := s.store.SaveAccount(ctx, account); err != nil {
		return nil, err
	}
	slog.Info("account initialized", "provider", provider, "user_id", userID, "login", remoteUser.Username)
	return account, nil
}

// Sync reconciles the local repository set against the provider, which is the
// source of truth. Repositories that disappeared from the remote admin set
// lose their hook and enabling user; new ones are created disabled. When
// hooks is set the webhook state of the user's repositories is reconciled
// too, inline or through the background runner.
func (s *VCSService) Sync(ctx context.Context, provider, userID string, hooks, asyncHooks bool) error {
	account, err := s.store.GetAccount(ctx, provider, userID)
	if err != nil {
		return err
	}
	if account == nil {
		return &port.RemoteAccountNotFoundError{UserID: userID}
	}

	p, err := s.providerFor(provider, userID)
	if err != nil {
		return err
	}
	remote, err := p.ListRepositories(ctx)
	if err != nil {
		return fmt.Errorf("sync %s/%s: %w", provider, userID, err)
	}
	// nil means "no data available" (no usable credentials), which must not
	// be confused with an empty admin set: nothing is touched.
	if remote == nil {
		slog.Warn("sync skipped, no repository data", "provider", provider, "user_id", userID)
		return nil
	}

	presentIDs := make([]string, 0, len(remote))
	snapshot := make(map[string]domain.RepoSnapshot, len(remote))
	for providerID, g := range remote {
		presentIDs = append(presentIDs, providerID)
		snapshot[providerID] = domain.RepoSnapshot{
			ID:            g.ID,
			FullName:      g.FullName,
			DefaultBranch: g.DefaultBranch,
		}

		repo, err := s.store.GetRepository(ctx, provider, providerID)
		if err != nil {
			return err
		}
		if repo == nil {
			repo = &domain.Repository{Provider: provider, ProviderID: providerID}
			g.ApplyTo(repo)
			if err := s.store.CreateRepository(ctx, repo); err != nil {
				return err
			}
		} else if g.ApplyTo(repo) {
			if err := s.store.UpdateRepositoryMetadata(ctx, repo); err != nil {
				return err
			}
		}
		if err := s.store.AddRepositoryUser(ctx, repo.ID, userID); err != nil {
			return err
		}
	}

	sort.Strings(presentIDs)

	disabled, err := s.store.DisableAbsentRepositories(ctx, provider, userID, presentIDs)
	if err != nil {
		return err
	}
	if len(disabled) > 0 {
		slog.Info("repositories disabled during sync",
			"provider", provider, "user_id", userID, "count", len(disabled))
	}

	account.Data.Repos = snapshot
	account.Data.LastSync = time.Now().UTC()
	if err := s.store.SaveAccount(ctx, account); err != nil {
		return err
	}

	if !hooks {
		return nil
	}
	// Hooks are reconciled over the whole remote admin set, not just the
	// locally enabled rows: a disabled row whose remote hook survived must
	// converge back to enabled.
	if asyncHooks && s.tasks != nil {
		s.tasks.EnqueueSyncHooks(provider, userID, presentIDs)
		return nil
	}
	for _, id := range presentIDs {
		if err := s.SyncRepoHook(ctx, provider, userID, id); err != nil {
			return err
		}
	}
	return nil
}

// SyncRepoHook reconciles the stored hook of one repository, identified by
// its provider-native id, against the provider: an installed hook pointing at
// the receiver is adopted, creating or re-enabling the local row as needed,
// while a stored hook that no longer exists remotely is cleared.
func (s *VCSService) SyncRepoHook(ctx context.Context, provider, userID, providerRepoID string) error {
	p, err := s.providerFor(provider, userID)
	if err != nil {
		return err
	}
	repo, err := s.store.GetRepository(ctx, provider, providerRepoID)
	if err != nil {
		return err
	}

	hook, err := port.FirstValidWebhook(ctx, p, providerRepoID)
	if err != nil {
		return err
	}

	switch {
	case hook != nil:
		if repo == nil {
			g, err := p.GetRepository(ctx, providerRepoID)
			if err != nil {
				return err
			}
			if g == nil {
				return &port.RepositoryNotFoundError{Repo: providerRepoID}
			}
			repo = &domain.Repository{Provider: provider, ProviderID: providerRepoID}
			g.ApplyTo(repo)
			repo.Hook = hook.ID
			repo.EnabledByUser = userID
			return s.store.CreateRepository(ctx, repo)
		}
		enabledBy := repo.EnabledByUser
		if enabledBy == "" {
			enabledBy = userID
		}
		if repo.Hook == hook.ID && repo.EnabledByUser == enabledBy {
			return nil
		}
		return s.store.UpdateRepositoryHook(ctx, repo.ID, hook.ID, enabledBy)
	case repo != nil && repo.Enabled():
		slog.Info("remote hook gone, disabling repository",
			"provider", provider, "repo", repo.FullName)
		return s.store.UpdateRepositoryHook(ctx, repo.ID, "", "")
	}
	return nil
}

// SyncRepoUsers reconciles the repository↔user association rows against the
// provider's member list. Only remote users that linked an account here are
// materialized; the enabling user is never removed.
func (s *VCSService) SyncRepoUsers(ctx context.Context, provider, userID, providerRepoID string) error {
	repo, err := s.store.GetRepository(ctx, provider, providerRepoID)
	if err != nil {
		return err
	}
	if repo == nil {
		return &port.RepositoryNotFoundError{Repo: providerRepoID}
	}

	p, err := s.providerFor(provider, userID)
	if err != nil {
		return err
	}
	remoteIDs, err := p.ListRepositoryUserIDs(ctx, repo.ProviderID)
	if err != nil {
		return err
	}
	if remoteIDs == nil {
		return nil
	}

	remoteLocal := make(map[string]bool)
	for _, externalID := range remoteIDs {
		localID, err := s.store.FindUserByExternalID(ctx, provider, externalID)
		if err != nil {
			return err
		}
		if localID == "" {
			continue
		}
		remoteLocal[localID] = true
		if err := s.store.AddRepositoryUser(ctx, repo.ID, localID); err != nil {
			return err
		}
	}

	current, err := s.store.ListRepositoryUsers(ctx, repo.ID)
	if err != nil {
		return err
	}
	for _, localID := range current {
		if remoteLocal[localID] || localID == repo.EnabledByUser {
			continue
		}
		if err := s.store.RemoveRepositoryUser(ctx, repo.ID, localID); err != nil {
			return err
		}
	}
	return nil
}

// CheckRepoAccessPermissions verifies the user may manage the repository:
// either the last sync snapshot lists it, or the user enabled it.
func (s *VCSService) CheckRepoAccessPermissions(ctx context.Context, provider, userID string, repo *domain.Repository) error {
	if repo.EnabledByUser == userID && userID != "" {
		return nil
	}
	account, err := s.store.GetAccount(ctx, provider, userID)
	if err != nil {
		return err
	}
	if account != nil && repo.ProviderID != "" {
		if _, ok := account.Data.Repos[repo.ProviderID]; ok {
			return nil
		}
	}
	return &port.RepositoryAccessError{UserID: userID, Repo: repo.FullName, RepoID: repo.ID}
}

// EnableRepository installs the release webhook and records the user as the
// enabling owner.
func (s *VCSService) EnableRepository(ctx context.Context, provider, userID, repositoryID string) (*domain.Repository, error) {
	repo, err := s.store.GetRepositoryByID(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, &port.RepositoryNotFoundError{Repo: repositoryID}
	}
	if err := s.CheckRepoAccessPermissions(ctx, provider, userID, repo); err != nil {
		return nil, err
	}

	p, err := s.providerFor(provider, userID)
	if err != nil {
		return nil, err
	}
	hookID, err := p.CreateWebhook(ctx, repo.ProviderID)
	if err != nil {
		return nil, err
	}
	if hookID == "" {
		// The provider refused: repository gone or rights revoked since the
		// last sync.
		return nil, &port.RepositoryAccessError{UserID: userID, Repo: repo.FullName, RepoID: repo.ID}
	}

	if err := s.store.UpdateRepositoryHook(ctx, repo.ID, hookID, userID); err != nil {
		return nil, err
	}
	if err := s.store.AddRepositoryUser(ctx, repo.ID, userID); err != nil {
		return nil, err
	}
	repo.Hook = hookID
	repo.EnabledByUser = userID
	slog.Info("repository enabled", "provider", provider, "repo", repo.FullName, "user_id", userID)
	return repo, nil
}

// DisableRepository removes the release webhook and clears local ownership.
// The repository row and its release history stay.
func (s *VCSService) DisableRepository(ctx context.Context, provider, userID, repositoryID string) (*domain.Repository, error) {
	repo, err := s.store.GetRepositoryByID(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, &port.RepositoryNotFoundError{Repo: repositoryID}
	}
	if err := s.CheckRepoAccessPermissions(ctx, provider, userID, repo); err != nil {
		return nil, err
	}

	p, err := s.providerFor(provider, userID)
	if err != nil {
		return nil, err
	}
	if repo.ProviderID != "" {
		removed, err := p.DeleteWebhook(ctx, repo.ProviderID, repo.Hook)
		if err != nil {
			return nil, err
		}
		if !removed {
			slog.Warn("remote hook was already gone", "provider", provider, "repo", repo.FullName)
		}
	}

	if err := s.store.UpdateRepositoryHook(ctx, repo.ID, "", ""); err != nil {
		return nil, err
	}
	repo.Hook = ""
	repo.EnabledByUser = ""
	slog.Info("repository disabled", "provider", provider, "repo", repo.FullName, "user_id", userID)
	return repo, nil
}

// AvailableRepositories lists every repository the user is associated with.
func (s *VCSService) AvailableRepositories(ctx context.Context, provider, userID string) ([]domain.Repository, error) {
	return s.store.ListUserRepositories(ctx, provider, userID)
}

// EnabledRepositories lists the user's repositories with an active hook.
func (s *VCSService) EnabledRepositories(ctx context.Context, provider, userID string) ([]domain.Repository, error) {
	return s.store.ListUserEnabledRepositories(ctx, provider, userID)
}

// LatestRelease returns the newest release of a repository, optionally
// restricted to one status.
func (s *VCSService) LatestRelease(ctx context.Context, repositoryID string, status domain.ReleaseStatus) (*domain.Release, error) {
	return s.store.LatestRelease(ctx, repositoryID, status)
}

// ListReleases returns a repository's releases in chronological order.
func (s *VCSService) ListReleases(ctx context.Context, repositoryID string) ([]domain.Release, error) {
	return s.store.ListRepositoryReleases(ctx, repositoryID)
}

// LastSyncTime returns when the user's account was last synced.
func (s *VCSService) LastSyncTime(ctx context.Context, provider, userID string) (time.Time, error) {
	account, err := s.store.GetAccount(ctx, provider, userID)
	if err != nil {
		return time.Time{}, err
	}
	if account == nil {
		return time.Time{}, &port.RemoteAccountNotFoundError{UserID: userID}
	}
	if account.Data.LastSync.IsZero() {
		return time.Time{}, &port.RemoteAccountDataNotSetError{UserID: userID, Field: "last_sync"}
	}
	return account.Data.LastSync, nil
}

// CheckSync reports whether the account needs a sync: never synced, or older
// than the refresh age.
func (s *VCSService) CheckSync(ctx context.Context, provider, userID string) (bool, error) {
	last, err := s.LastSyncTime(ctx, provider, userID)
	if err != nil {
		var notSet *port.RemoteAccountDataNotSetError
		if errors.As(err, &notSet) {
			return true, nil
		}
		return false, err
	}
	return time.Since(last) > s.refreshAge, nil
}

// Disconnect removes the user's provider link and hands the remote cleanup
// (hook removal, token revocation) to the background runner with the last
// known credentials, since the account row is gone once this returns.
func (s *VCSService) Disconnect(ctx context.Context, provider, userID string) error {
	account, err := s.store.GetAccount(ctx, provider, userID)
	if err != nil {
		return err
	}
	if account == nil {
		return &port.RemoteAccountNotFoundError{UserID: userID}
	}

	enabled, err := s.store.ListUserEnabledRepositories(ctx, provider, userID)
	if err != nil {
		return err
	}
	repoHooks := make(map[string]string)
	for i := range enabled {
		if enabled[i].EnabledByUser == userID && enabled[i].ProviderID != "" {
			repoHooks[enabled[i].ProviderID] = enabled[i].Hook
		}
		if err := s.store.RemoveRepositoryUser(ctx, enabled[i].ID, userID); err != nil {
			return err
		}
		if enabled[i].EnabledByUser == userID {
			if err := s.store.UpdateRepositoryHook(ctx, enabled[i].ID, "", ""); err != nil {
				return err
			}
		}
	}

	if err := s.store.DeleteAccount(ctx, provider, userID); err != nil {
		return err
	}
	if s.tasks != nil {
		s.tasks.EnqueueDisconnect(provider, userID, account.AccessToken, repoHooks)
	}
	slog.Info("account disconnected", "provider", provider, "user_id", userID)
	return nil
}

package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/arturoeanton/go-release-archiver/internal/domain"
	"github.com/arturoeanton/go-release-archiver/internal/port"
	"github.com/arturoeanton/go-release-archiver/internal/service"
	"github.com/google/uuid"
)

// Tasks wires the background work onto the runner. It implements
// service.TaskEnqueuer.
type Tasks struct {
	runner    *Runner
	store     port.Store
	registry  *port.Registry
	svc       *service.VCSService
	depositor port.Depositor

	maxContributors int
	archiveTimeout  time.Duration
	refreshAge      time.Duration
}

// New creates the task layer and attaches it to the service.
func New(runner *Runner, s port.Store, registry *port.Registry, svc *service.VCSService,
	depositor port.Depositor, maxContributors int, archiveTimeout, refreshAge time.Duration) *Tasks {
	t := &Tasks{
		runner:          runner,
		store:           s,
		registry:        registry,
		svc:             svc,
		depositor:       depositor,
		maxContributors: maxContributors,
		archiveTimeout:  archiveTimeout,
		refreshAge:      refreshAge,
	}
	svc.SetTasks(t)
	return t
}

// EnqueueSyncHooks schedules webhook reconciliation for the repositories,
// identified by their provider-native ids.
func (t *Tasks) EnqueueSyncHooks(provider, userID string, providerRepoIDs []string) {
	ids := append([]string(nil), providerRepoIDs...)
	t.runner.Submit(taskName("sync-hooks", provider, userID), func(ctx context.Context) error {
		return t.syncHooks(ctx, provider, userID, ids)
	})
}

// EnqueueProcessRelease schedules the processing of one received release.
func (t *Tasks) EnqueueProcessRelease(provider, providerID string) {
	t.runner.Submit(taskName("process-release", provider, providerID), func(ctx context.Context) error {
		return t.processRelease(ctx, provider, providerID)
	})
}

// EnqueueDisconnect schedules the remote cleanup after an account was
// deleted: hook removal and token revocation with the last known token.
func (t *Tasks) EnqueueDisconnect(provider, userID, accessToken string, repoHooks map[string]string) {
	hooks := make(map[string]string, len(repoHooks))
	for k, v := range repoHooks {
		hooks[k] = v
	}
	t.runner.Submit(taskName("disconnect", provider, userID), func(ctx context.Context) error {
		return t.disconnect(ctx, provider, userID, accessToken, hooks)
	})
}

// syncHooks reconciles hooks and user associations repository by repository.
// Per-repository failures from lost access or deleted repositories are
// logged and skipped; the remaining repositories still get reconciled.
func (t *Tasks) syncHooks(ctx context.Context, provider, userID string, providerRepoIDs []string) error {
	for _, id := range providerRepoIDs {
		if err := t.svc.SyncRepoHook(ctx, provider, userID, id); err != nil {
			if tolerableSyncError(err) {
				slog.Warn("hook sync skipped", "provider", provider, "repo_id", id, "error", err)
				continue
			}
			return err
		}
		if err := t.svc.SyncRepoUsers(ctx, provider, userID, id); err != nil {
			if tolerableSyncError(err) {
				slog.Warn("user sync skipped", "provider", provider, "repo_id", id, "error", err)
				continue
			}
			return err
		}
	}
	return nil
}

// tolerableSyncError reports whether a per-repository failure may be skipped.
// Lost access and deleted repositories are expected churn; anything else,
// including undocumented provider responses, aborts the batch so the runner
// retries it.
func tolerableSyncError(err error) bool {
	var access *port.RepositoryAccessError
	var notFound *port.RepositoryNotFoundError
	return errors.As(err, &access) || errors.As(err, &notFound)
}

// processRelease drives one release through PROCESSING to PUBLISHED, or
// through the error handler chain to FAILED.
func (t *Tasks) processRelease(ctx context.Context, provider, providerID string) error {
	release, err := t.store.GetPendingRelease(ctx, provider, providerID)
	if err != nil {
		return Retryable(err)
	}
	// Already published, deleted, or claimed by a concurrent worker.
	if release == nil {
		return nil
	}

	repo, err := t.store.GetRepositoryByID(ctx, release.RepositoryID)
	if err != nil {
		return Retryable(err)
	}
	if repo == nil {
		return t.failTerminally(ctx, release,
			&port.RepositoryNotFoundError{Repo: release.RepositoryID}, "repository_not_found")
	}

	if err := t.store.UpdateReleaseStatus(ctx, release.ID, domain.ReleaseProcessing); err != nil {
		return Retryable(err)
	}
	release.Status = domain.ReleaseProcessing

	factory, err := t.registry.Get(provider)
	if err != nil {
		return t.failTerminally(ctx, release, err, "provider_not_registered")
	}
	p := factory.ForUser(repo.EnabledByUser)
	resource := service.NewVCSRelease(release, repo, p, t.maxContributors, t.archiveTimeout)

	recordID, err := t.depositor.ProcessRelease(ctx, resource)
	if err == nil {
		if err := t.store.SetReleasePublished(ctx, release.ID, recordID); err != nil {
			return Retryable(err)
		}
		slog.Info("release published",
			"provider", provider, "repo", repo.FullName, "tag", release.Tag, "record_id", recordID)
		return nil
	}
	return t.handleProcessingError(ctx, release, err)
}

// handleProcessingError walks the ordered handler chain. The first matching
// handler settles the release terminally; only the catch-all at the end asks
// the runner for a retry.
func (t *Tasks) handleProcessingError(ctx context.Context, release *domain.Release, cause error) error {
	var metadata *port.InvalidMetadataError
	var fetch *port.ReleaseArchiveFetchError
	var account *port.RemoteAccountNotFoundError
	var accountData *port.RemoteAccountDataNotSetError
	var unexpected *port.UnexpectedProviderResponseError

	switch {
	case errors.As(cause, &metadata):
		return t.failTerminally(ctx, release, cause, "invalid_metadata")
	case errors.As(cause, &fetch):
		return t.failTerminally(ctx, release, cause, "archive_fetch")
	case errors.As(cause, &account), errors.As(cause, &accountData):
		return t.failTerminally(ctx, release, cause, "account_not_ready")
	case errors.As(cause, &unexpected):
		return t.failTerminally(ctx, release, cause, "provider_response")
	}

	// Catch-all: persist the failure so it survives a crash, then retry.
	t.recordFailure(ctx, release, cause, "unexpected")
	return Retryable(cause)
}

// failTerminally records the failure and ends processing without a retry.
func (t *Tasks) failTerminally(ctx context.Context, release *domain.Release, cause error, kind string) error {
	t.recordFailure(ctx, release, cause, kind)
	slog.Error("release failed terminally",
		"provider", release.Provider, "tag", release.Tag, "kind", kind, "error", cause)
	return nil
}

// recordFailure persists the error blob and flips the release to FAILED.
func (t *Tasks) recordFailure(ctx context.Context, release *domain.Release, cause error, kind string) {
	blob, err := json.Marshal(map[string]any{
		"error":          cause.Error(),
		"error_type":     kind,
		"correlation_id": uuid.NewString(),
		"occurred_at":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		blob = json.RawMessage(`{"error":"failure could not be serialized"}`)
	}
	if err := t.store.SetReleaseErrors(ctx, release.ID, blob); err != nil {
		slog.Error("failed to persist release errors", "release_id", release.ID, "error", err)
	}
	release.Status = domain.ReleaseFailed
	release.Errors = blob
}

// disconnect performs the remote side of an account deletion: best-effort
// hook removal, then token revocation. Only a failed revocation is retried,
// since a surviving token is a standing credential.
func (t *Tasks) disconnect(ctx context.Context, provider, userID, accessToken string, repoHooks map[string]string) error {
	factory, err := t.registry.Get(provider)
	if err != nil {
		return err
	}
	p := factory.ForAccessToken(userID, accessToken)

	for providerID, hookID := range repoHooks {
		if _, err := p.DeleteWebhook(ctx, providerID, hookID); err != nil {
			slog.Warn("disconnect hook removal failed",
				"provider", provider, "repo_id", providerID, "error", err)
		}
	}

	if err := p.RevokeToken(ctx, accessToken); err != nil {
		return Retryable(err)
	}
	slog.Info("disconnect cleanup finished", "provider", provider, "user_id", userID)
	return nil
}

// RefreshStaleAccounts re-syncs accounts whose snapshot has gone stale. It is
// invoked by the scheduler; each account gets its own task so one failing
// account does not starve the sweep.
func (t *Tasks) RefreshStaleAccounts(ctx context.Context) {
	threshold := time.Now().Add(-t.refreshAge)
	for _, factory := range t.registry.All() {
		provider := factory.ID()
		accounts, err := t.store.ListStaleAccounts(ctx, provider, threshold)
		if err != nil {
			slog.Error("stale account sweep failed", "provider", provider, "error", err)
			continue
		}
		for i := range accounts {
			userID := accounts[i].UserID
			t.runner.Submit(taskName("refresh-account", provider, userID), func(ctx context.Context) error {
				if err := t.svc.Sync(ctx, provider, userID, false, false); err != nil {
					slog.Warn("account refresh failed", "provider", provider, "user_id", userID, "error", err)
				}
				return nil
			})
		}
		if len(accounts) > 0 {
			slog.Info("stale accounts queued for refresh", "provider", provider, "count", len(accounts))
		}
	}
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/arturoeanton/go-release-archiver/internal/domain"
	"github.com/arturoeanton/go-release-archiver/internal/port"
	"github.com/stretchr/testify/require"
)

func newTestService(store *memStore, registry *port.Registry) *VCSService {
	return NewVCSService(store, registry, 30*24*time.Hour, 30)
}

func TestInitAccountMintsWebhookToken(t *testing.T) {
	store, factory, registry := newFakeWorld("fake")
	factory.provider.ownUser = &domain.GenericUser{ID: "500", Username: "jdoe", DisplayName: "J. Doe"}
	svc := newTestService(store, registry)

	account, err := svc.InitAccount(context.Background(), "fake", "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, account.Data.WebhookToken)
	require.Equal(t, "500", account.Data.ExternalID)
	require.Equal(t, "jdoe", account.Data.Login)

	// the token survives re-initialization
	token := account.Data.WebhookToken
	again, err := svc.InitAccount(context.Background(), "fake", "user-1")
	require.NoError(t, err)
	require.Equal(t, token, again.Data.WebhookToken)
}

func TestSyncCreatesAndUpdatesRepositories(t *testing.T) {
	store, factory, registry := newFakeWorld("fake")
	svc := newTestService(store, registry)
	ctx := context.Background()

	require.NoError(t, store.SaveAccount(ctx, &domain.Account{
		UserID: "user-1", Provider: "fake",
		Data: domain.AccountData{WebhookToken: "wh-1"},
	}))

	factory.provider.repos = map[string]domain.GenericRepository{
		"42": {ID: "42", FullName: "acme/tool", DefaultBranch: "main"},
		"43": {ID: "43", FullName: "acme/lib", DefaultBranch: "main"},
	}
	require.NoError(t, svc.Sync(ctx, "fake", "user-1", false, false))

	repos, err := svc.AvailableRepositories(ctx, "fake", "user-1")
	require.NoError(t, err)
	require.Len(t, repos, 2)

	account, err := store.GetAccount(ctx, "fake", "user-1")
	require.NoError(t, err)
	require.Len(t, account.Data.Repos, 2)
	require.False(t, account.Data.LastSync.IsZero())

	// the remote applies a rename; the next sync picks it up
	factory.provider.repos = map[string]domain.GenericRepository{
		"42": {ID: "42", FullName: "acme/tool-ng", DefaultBranch: "main"},
		"43": {ID: "43", FullName: "acme/lib", DefaultBranch: "main"},
	}
	require.NoError(t, svc.Sync(ctx, "fake", "user-1", false, false))

	repo, err := store.GetRepository(ctx, "fake", "42")
	require.NoError(t, err)
	require.Equal(t, "acme/tool-ng", repo.FullName)
}

func TestSyncDisablesAbsentRepositories(t *testing.T) {
	store, factory, registry := newFakeWorld("fake")
	svc := newTestService(store, registry)
	ctx := context.Background()

	require.NoError(t, store.SaveAccount(ctx, &domain.Account{
		UserID: "user-1", Provider: "fake",
		Data: domain.AccountData{WebhookToken: "wh-1"},
	}))
	repo := &domain.Repository{
		Provider: "fake", ProviderID: "42", FullName: "acme/tool",
		Hook: "77", EnabledByUser: "user-1",
	}
	require.NoError(t, store.CreateRepository(ctx, repo))
	require.NoError(t, store.AddRepositoryUser(ctx, repo.ID, "user-1"))

	// the remote admin set no longer contains the repository
	factory.provider.repos = map[string]domain.GenericRepository{}
	require.NoError(t, svc.Sync(ctx, "fake", "user-1", false, false))

	got, err := store.GetRepositoryByID(ctx, repo.ID)
	require.NoError(t, err)
	require.False(t, got.Enabled())
	require.Empty(t, got.EnabledByUser)
}

func TestSyncSkipsWhenNoRepositoryData(t *testing.T) {
	store, factory, registry := newFakeWorld("fake")
	svc := newTestService(store, registry)
	ctx := context.Background()

	require.NoError(t, store.SaveAccount(ctx, &domain.Account{
		UserID: "user-1", Provider: "fake",
		Data: domain.AccountData{WebhookToken: "wh-1"},
	}))
	repo := &domain.Repository{
		Provider: "fake", ProviderID: "42", FullName: "acme/tool",
		Hook: "77", EnabledByUser: "user-1",
	}
	require.NoError(t, store.CreateRepository(ctx, repo))

	// nil map means "no usable credentials", not an empty admin set
	factory.provider.repos = nil
	require.NoError(t, svc.Sync(ctx, "fake", "user-1", false, false))

	got, err := store.GetRepositoryByID(ctx, repo.ID)
	require.NoError(t, err)
	require.True(t, got.Enabled())
}

func TestSyncWithoutAccount(t *testing.T) {
	store, _, registry := newFakeWorld("fake")
	svc := newTestService(store, registry)

	err := svc.Sync(context.Background(), "fake", "user-1", false, false)
	var notFound *port.RemoteAccountNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestSyncHandsHookReconcileToRunner(t *testing.T) {
	store, factory, registry := newFakeWorld("fake")
	svc := newTestService(store, registry)
	tasks := &recordingTasks{}
	svc.SetTasks(tasks)
	ctx := context.Background()

	require.NoError(t, store.SaveAccount(ctx, &domain.Account{
		UserID: "user-1", Provider: "fake",
		Data: domain.AccountData{WebhookToken: "wh-1"},
	}))
	repo := &domain.Repository{
		Provider: "fake", ProviderID: "42", FullName: "acme/tool",
		Hook: "77", EnabledByUser: "user-1",
	}
	require.NoError(t, store.CreateRepository(ctx, repo))
	require.NoError(t, store.AddRepositoryUser(ctx, repo.ID, "user-1"))

	factory.provider.repos = map[string]domain.GenericRepository{
		"42": {ID: "42", FullName: "acme/tool"},
	}
	require.NoError(t, svc.Sync(ctx, "fake", "user-1", true, true))

	require.Len(t, tasks.syncHooks, 1)
	require.Equal(t, []string{"fake", "user-1", "42"}, tasks.syncHooks[0])
}

func TestSyncReenablesRepositoryWithSurvivingRemoteHook(t *testing.T) {
	store, factory, registry := newFakeWorld("fake")
	svc := newTestService(store, registry)
	ctx := context.Background()

	require.NoError(t, store.SaveAccount(ctx, &domain.Account{
		UserID: "user-1", Provider: "fake",
		Data: domain.AccountData{WebhookToken: "wh-1"},
	}))
	// locally disabled, but the hook on the provider side survived
	repo := &domain.Repository{Provider: "fake", ProviderID: "42", FullName: "acme/tool"}
	require.NoError(t, store.CreateRepository(ctx, repo))

	factory.provider.repos = map[string]domain.GenericRepository{
		"42": {ID: "42", FullName: "acme/tool", DefaultBranch: "main"},
	}
	factory.provider.webhookURL = "https://hooks.example.org/api/receivers/fake/events?access_token=wh-1"
	factory.provider.hooks = []domain.GenericWebhook{
		{ID: "88", URL: "https://hooks.example.org/api/receivers/fake/events?access_token=wh-1"},
	}
	require.NoError(t, svc.Sync(ctx, "fake", "user-1", true, false))

	got, err := store.GetRepositoryByID(ctx, repo.ID)
	require.NoError(t, err)
	require.True(t, got.Enabled())
	require.Equal(t, "88", got.Hook)
	require.Equal(t, "user-1", got.EnabledByUser)
}

func TestSyncRepoHookAdoptsRemoteHook(t *testing.T) {
	store, factory, registry := newFakeWorld("fake")
	svc := newTestService(store, registry)
	ctx := context.Background()

	repo := &domain.Repository{Provider: "fake", ProviderID: "42", FullName: "acme/tool"}
	require.NoError(t, store.CreateRepository(ctx, repo))

	factory.provider.webhookURL = "https://hooks.example.org/api/receivers/fake/events?access_token=wh-1"
	factory.provider.hooks = []domain.GenericWebhook{
		{ID: "88", URL: "https://hooks.example.org/api/receivers/fake/events?access_token=wh-1"},
	}
	require.NoError(t, svc.SyncRepoHook(ctx, "fake", "user-1", "42"))

	got, err := store.GetRepositoryByID(ctx, repo.ID)
	require.NoError(t, err)
	require.Equal(t, "88", got.Hook)
	require.Equal(t, "user-1", got.EnabledByUser)
}

func TestSyncRepoHookCreatesMissingRepository(t *testing.T) {
	store, factory, registry := newFakeWorld("fake")
	svc := newTestService(store, registry)
	ctx := context.Background()

	// no local row yet; the provider knows the repository and its hook
	factory.provider.repos = map[string]domain.GenericRepository{
		"42": {ID: "42", FullName: "acme/tool", DefaultBranch: "main"},
	}
	factory.provider.webhookURL = "https://hooks.example.org/api/receivers/fake/events?access_token=wh-1"
	factory.provider.hooks = []domain.GenericWebhook{
		{ID: "88", URL: "https://hooks.example.org/api/receivers/fake/events?access_token=wh-1"},
	}
	require.NoError(t, svc.SyncRepoHook(ctx, "fake", "user-1", "42"))

	got, err := store.GetRepository(ctx, "fake", "42")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "acme/tool", got.FullName)
	require.Equal(t, "88", got.Hook)
	require.Equal(t, "user-1", got.EnabledByUser)
}

func TestSyncRepoHookClearsGoneHook(t *testing.T) {
	store, factory, registry := newFakeWorld("fake")
	svc := newTestService(store, registry)
	ctx := context.Background()

	repo := &domain.Repository{
		Provider: "fake", ProviderID: "42", FullName: "acme/tool",
		Hook: "77", EnabledByUser: "user-1",
	}
	require.NoError(t, store.CreateRepository(ctx, repo))

	factory.provider.webhookURL = "https://hooks.example.org/api/receivers/fake/events?access_token=wh-1"
	factory.provider.hooks = nil
	require.NoError(t, svc.SyncRepoHook(ctx, "fake", "user-1", "42"))

	got, err := store.GetRepositoryByID(ctx, repo.ID)
	require.NoError(t, err)
	require.False(t, got.Enabled())
}

func TestSyncRepoUsers(t *testing.T) {
	store, factory, registry := newFakeWorld("fake")
	svc := newTestService(store, registry)
	ctx := context.Background()

	repo := &domain.Repository{
		Provider: "fake", ProviderID: "42", FullName: "acme/tool",
		Hook: "77", EnabledByUser: "user-1",
	}
	require.NoError(t, store.CreateRepository(ctx, repo))
	require.NoError(t, store.AddRepositoryUser(ctx, repo.ID, "user-1"))
	require.NoError(t, store.AddRepositoryUser(ctx, repo.ID, "user-gone"))

	// user-2 linked an account and appears in the remote member list
	require.NoError(t, store.SaveAccount(ctx, &domain.Account{
		UserID: "user-2", Provider: "fake",
		Data: domain.AccountData{ExternalID: "502"},
	}))
	factory.provider.memberIDs = []string{"502", "999"}

	require.NoError(t, svc.SyncRepoUsers(ctx, "fake", "user-1", "42"))

	users, err := store.ListRepositoryUsers(ctx, repo.ID)
	require.NoError(t, err)
	// user-gone dropped, user-2 added, the enabling user always kept
	require.Equal(t, []string{"user-1", "user-2"}, users)
}

func TestEnableRepository(t *testing.T) {
	store, factory, registry := newFakeWorld("fake")
	svc := newTestService(store, registry)
	ctx := context.Background()

	repo := &domain.Repository{Provider: "fake", ProviderID: "42", FullName: "acme/tool"}
	require.NoError(t, store.CreateRepository(ctx, repo))
	require.NoError(t, store.SaveAccount(ctx, &domain.Account{
		UserID: "user-1", Provider: "fake",
		Data: domain.AccountData{Repos: map[string]domain.RepoSnapshot{"42": {ID: "42"}}},
	}))

	factory.provider.createHookID = "90"
	got, err := svc.EnableRepository(ctx, "fake", "user-1", repo.ID)
	require.NoError(t, err)
	require.Equal(t, "90", got.Hook)
	require.Equal(t, "user-1", got.EnabledByUser)

	enabled, err := svc.EnabledRepositories(ctx, "fake", "user-1")
	require.NoError(t, err)
	require.Len(t, enabled, 1)
}

func TestEnableRepositoryWithoutAccess(t *testing.T) {
	store, factory, registry := newFakeWorld("fake")
	svc := newTestService(store, registry)
	ctx := context.Background()

	repo := &domain.Repository{Provider: "fake", ProviderID: "42", FullName: "acme/tool"}
	require.NoError(t, store.CreateRepository(ctx, repo))

	// no account, no snapshot: access denied before any provider call
	factory.provider.createHookID = "90"
	_, err := svc.EnableRepository(ctx, "fake", "user-1", repo.ID)
	var access *port.RepositoryAccessError
	require.ErrorAs(t, err, &access)
}

func TestEnableRepositoryProviderRefuses(t *testing.T) {
	store, factory, registry := newFakeWorld("fake")
	svc := newTestService(store, registry)
	ctx := context.Background()

	repo := &domain.Repository{Provider: "fake", ProviderID: "42", FullName: "acme/tool"}
	require.NoError(t, store.CreateRepository(ctx, repo))
	require.NoError(t, store.SaveAccount(ctx, &domain.Account{
		UserID: "user-1", Provider: "fake",
		Data: domain.AccountData{Repos: map[string]domain.RepoSnapshot{"42": {ID: "42"}}},
	}))

	// an empty hook id means the rights were revoked since the last sync
	factory.provider.createHookID = ""
	_, err := svc.EnableRepository(ctx, "fake", "user-1", repo.ID)
	var access *port.RepositoryAccessError
	require.ErrorAs(t, err, &access)
}

func TestDisableRepository(t *testing.T) {
	store, factory, registry := newFakeWorld("fake")
	svc := newTestService(store, registry)
	ctx := context.Background()

	repo := &domain.Repository{
		Provider: "fake", ProviderID: "42", FullName: "acme/tool",
		Hook: "77", EnabledByUser: "user-1",
	}
	require.NoError(t, store.CreateRepository(ctx, repo))

	factory.provider.deleteOK = true
	got, err := svc.DisableRepository(ctx, "fake", "user-1", repo.ID)
	require.NoError(t, err)
	require.False(t, got.Enabled())
	require.Equal(t, [][2]string{{"42", "77"}}, factory.provider.deletedHooks)
}

func TestCheckSync(t *testing.T) {
	store, _, registry := newFakeWorld("fake")
	svc := newTestService(store, registry)
	ctx := context.Background()

	// never synced: a sync is due
	require.NoError(t, store.SaveAccount(ctx, &domain.Account{
		UserID: "user-1", Provider: "fake",
		Data: domain.AccountData{WebhookToken: "wh-1"},
	}))
	due, err := svc.CheckSync(ctx, "fake", "user-1")
	require.NoError(t, err)
	require.True(t, due)

	// fresh sync: nothing to do
	require.NoError(t, store.SaveAccount(ctx, &domain.Account{
		UserID: "user-1", Provider: "fake",
		Data: domain.AccountData{WebhookToken: "wh-1", LastSync: time.Now().UTC()},
	}))
	due, err = svc.CheckSync(ctx, "fake", "user-1")
	require.NoError(t, err)
	require.False(t, due)

	// stale sync: due again
	require.NoError(t, store.SaveAccount(ctx, &domain.Account{
		UserID: "user-1", Provider: "fake",
		Data: domain.AccountData{WebhookToken: "wh-1", LastSync: time.Now().Add(-60 * 24 * time.Hour)},
	}))
	due, err = svc.CheckSync(ctx, "fake", "user-1")
	require.NoError(t, err)
	require.True(t, due)

	// no account at all is an error, not a pending sync
	_, err = svc.CheckSync(ctx, "fake", "user-2")
	var notFound *port.RemoteAccountNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestDisconnect(t *testing.T) {
	store, _, registry := newFakeWorld("fake")
	svc := newTestService(store, registry)
	tasks := &recordingTasks{}
	svc.SetTasks(tasks)
	ctx := context.Background()

	require.NoError(t, store.SaveAccount(ctx, &domain.Account{
		UserID: "user-1", Provider: "fake", AccessToken: "secret-token",
		Data: domain.AccountData{WebhookToken: "wh-1"},
	}))
	repo := &domain.Repository{
		Provider: "fake", ProviderID: "42", FullName: "acme/tool",
		Hook: "77", EnabledByUser: "user-1",
	}
	require.NoError(t, store.CreateRepository(ctx, repo))
	require.NoError(t, store.AddRepositoryUser(ctx, repo.ID, "user-1"))

	require.NoError(t, svc.Disconnect(ctx, "fake", "user-1"))

	account, err := store.GetAccount(ctx, "fake", "user-1")
	require.NoError(t, err)
	require.Nil(t, account)

	got, err := store.GetRepositoryByID(ctx, repo.ID)
	require.NoError(t, err)
	require.False(t, got.Enabled())

	require.Len(t, tasks.disconnects, 1)
	require.Equal(t, "secret-token", tasks.disconnects[0].token)
	require.Equal(t, map[string]string{"42": "77"}, tasks.disconnects[0].repoHooks)
}

func TestVCSReleaseFileName(t *testing.T) {
	_, factory, _ := newFakeWorld("fake")

	release := &domain.Release{
		EventPayload: []byte(`{"action":"published","id":"9001","tag":"v1.0.0","repo_id":"42"}`),
	}
	repo := &domain.Repository{FullName: "acme/tool"}
	r := NewVCSRelease(release, repo, factory.ForUser("user-1"), 30, time.Minute)

	name, err := r.FileName()
	require.NoError(t, err)
	require.Equal(t, "acme-tool-v1.0.0.zip", name)
}

func TestVCSReleaseMissingArchiveURL(t *testing.T) {
	_, factory, _ := newFakeWorld("fake")

	release := &domain.Release{
		EventPayload: []byte(`{"action":"published","id":"9001","tag":"v1.0.0","repo_id":"42"}`),
	}
	repo := &domain.Repository{FullName: "acme/tool"}
	r := NewVCSRelease(release, repo, factory.ForUser("user-1"), 30, time.Minute)

	_, err := r.ResolveArchiveURL(context.Background())
	var fetchErr *port.ReleaseArchiveFetchError
	require.ErrorAs(t, err, &fetchErr)
}

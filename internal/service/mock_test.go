package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/arturoeanton/go-release-archiver/internal/domain"
	"github.com/arturoeanton/go-release-archiver/internal/port"
)

// memStore is an in-memory port.Store for tests.
type memStore struct {
	mu        sync.Mutex
	seq       int
	repos     map[string]*domain.Repository // by internal id
	repoUsers map[string]map[string]bool    // repo id -> user ids
	releases  map[string]*domain.Release    // by provider:provider_id
	accounts  map[string]*domain.Account    // by provider:user_id
}

func newMemStore() *memStore {
	return &memStore{
		repos:     make(map[string]*domain.Repository),
		repoUsers: make(map[string]map[string]bool),
		releases:  make(map[string]*domain.Release),
		accounts:  make(map[string]*domain.Account),
	}
}

func (m *memStore) nextID() string {
	m.seq++
	return strconv.Itoa(m.seq)
}

func (m *memStore) CreateRepository(ctx context.Context, repo *domain.Repository) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if repo.ID == "" {
		repo.ID = m.nextID()
	}
	repo.CreatedAt = time.Now()
	m.repos[repo.ID] = repo
	return nil
}

func (m *memStore) GetRepository(ctx context.Context, provider, providerID string) (*domain.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.repos {
		if r.Provider == provider && r.ProviderID == providerID && providerID != "" {
			return r, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetRepositoryByID(ctx context.Context, id string) (*domain.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repos[id], nil
}

func (m *memStore) UpdateRepositoryMetadata(ctx context.Context, repo *domain.Repository) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.repos[repo.ID]
	if !ok {
		return fmt.Errorf("repository %s not found", repo.ID)
	}
	*stored = *repo
	return nil
}

func (m *memStore) UpdateRepositoryHook(ctx context.Context, id, hook, enabledByUser string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.repos[id]
	if !ok {
		return fmt.Errorf("repository %s not found", id)
	}
	stored.Hook = hook
	stored.EnabledByUser = enabledByUser
	return nil
}

func (m *memStore) DisableAbsentRepositories(ctx context.Context, provider, userID string, presentIDs []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	present := make(map[string]bool, len(presentIDs))
	for _, id := range presentIDs {
		present[id] = true
	}
	var disabled []string
	for _, r := range m.repos {
		if r.Provider != provider || r.EnabledByUser != userID || r.ProviderID == "" {
			continue
		}
		if present[r.ProviderID] {
			continue
		}
		r.Hook = ""
		r.EnabledByUser = ""
		delete(m.repoUsers[r.ID], userID)
		disabled = append(disabled, r.ProviderID)
	}
	sort.Strings(disabled)
	return disabled, nil
}

func (m *memStore) listRepos(provider, userID string, enabledOnly bool) []domain.Repository {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Repository
	for _, r := range m.repos {
		if r.Provider != provider || !m.repoUsers[r.ID][userID] {
			continue
		}
		if enabledOnly && !r.Enabled() {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) ListUserRepositories(ctx context.Context, provider, userID string) ([]domain.Repository, error) {
	return m.listRepos(provider, userID, false), nil
}

func (m *memStore) ListUserEnabledRepositories(ctx context.Context, provider, userID string) ([]domain.Repository, error) {
	return m.listRepos(provider, userID, true), nil
}

func (m *memStore) AddRepositoryUser(ctx context.Context, repositoryID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.repoUsers[repositoryID] == nil {
		m.repoUsers[repositoryID] = make(map[string]bool)
	}
	m.repoUsers[repositoryID][userID] = true
	return nil
}

func (m *memStore) RemoveRepositoryUser(ctx context.Context, repositoryID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.repoUsers[repositoryID], userID)
	return nil
}

func (m *memStore) ListRepositoryUsers(ctx context.Context, repositoryID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id := range m.repoUsers[repositoryID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func releaseKey(provider, providerID string) string { return provider + ":" + providerID }

func (m *memStore) CreateRelease(ctx context.Context, release *domain.Release) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := releaseKey(release.Provider, release.ProviderID)
	if _, dup := m.releases[key]; dup {
		return &port.ReleaseAlreadyReceivedError{Provider: release.Provider, ProviderID: release.ProviderID}
	}
	if release.ID == "" {
		release.ID = m.nextID()
	}
	release.CreatedAt = time.Now()
	m.releases[key] = release
	return nil
}

func (m *memStore) GetRelease(ctx context.Context, provider, providerID string) (*domain.Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases[releaseKey(provider, providerID)], nil
}

func (m *memStore) GetPendingRelease(ctx context.Context, provider, providerID string) (*domain.Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rel := m.releases[releaseKey(provider, providerID)]
	if rel == nil {
		return nil, nil
	}
	if rel.Status != domain.ReleaseReceived && rel.Status != domain.ReleaseFailed {
		return nil, nil
	}
	return rel, nil
}

func (m *memStore) findRelease(id string) *domain.Release {
	for _, r := range m.releases {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (m *memStore) UpdateReleaseStatus(ctx context.Context, id string, status domain.ReleaseStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rel := m.findRelease(id)
	if rel == nil {
		return fmt.Errorf("release %s not found", id)
	}
	rel.Status = status
	return nil
}

func (m *memStore) SetReleaseErrors(ctx context.Context, id string, errs json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rel := m.findRelease(id)
	if rel == nil {
		return fmt.Errorf("release %s not found", id)
	}
	rel.Errors = errs
	rel.Status = domain.ReleaseFailed
	return nil
}

func (m *memStore) SetReleasePublished(ctx context.Context, id, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rel := m.findRelease(id)
	if rel == nil {
		return fmt.Errorf("release %s not found", id)
	}
	rel.Status = domain.ReleasePublished
	rel.RecordID = recordID
	rel.Errors = nil
	return nil
}

func (m *memStore) LatestRelease(ctx context.Context, repositoryID string, status domain.ReleaseStatus) (*domain.Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.Release
	for _, r := range m.releases {
		if r.RepositoryID != repositoryID {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest, nil
}

func (m *memStore) ListRepositoryReleases(ctx context.Context, repositoryID string) ([]domain.Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Release
	for _, r := range m.releases {
		if r.RepositoryID == repositoryID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func accountKey(provider, userID string) string { return provider + ":" + userID }

func (m *memStore) GetAccount(ctx context.Context, provider, userID string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[accountKey(provider, userID)], nil
}

func (m *memStore) GetAccountByWebhookToken(ctx context.Context, provider, token string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token == "" {
		return nil, nil
	}
	for _, a := range m.accounts {
		if a.Provider == provider && a.Data.WebhookToken == token {
			return a, nil
		}
	}
	return nil, nil
}

func (m *memStore) SaveAccount(ctx context.Context, account *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account.ID == "" {
		account.ID = m.nextID()
	}
	account.UpdatedAt = time.Now()
	m.accounts[accountKey(account.Provider, account.UserID)] = account
	return nil
}

func (m *memStore) DeleteAccount(ctx context.Context, provider, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, accountKey(provider, userID))
	return nil
}

func (m *memStore) ListStaleAccounts(ctx context.Context, provider string, olderThan time.Time) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Account
	for _, a := range m.accounts {
		if a.Provider == provider && a.UpdatedAt.Before(olderThan) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) FindUserByExternalID(ctx context.Context, provider, externalID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Provider == provider && a.Data.ExternalID == externalID && externalID != "" {
			return a.UserID, nil
		}
	}
	return "", nil
}

// fakeEvent is the webhook payload shape the fake factory understands.
type fakeEvent struct {
	Action string `json:"action"`
	ID     string `json:"id"`
	Tag    string `json:"tag"`
	RepoID string `json:"repo_id"`
	Zip    string `json:"zip,omitempty"`
}

// fakeFactory is a scriptable port.ProviderFactory.
type fakeFactory struct {
	id       string
	provider *fakeProvider
}

func (f *fakeFactory) ID() string                       { return f.id }
func (f *fakeFactory) Name() string                     { return "Fake" }
func (f *fakeFactory) Description() string              { return "A fake provider." }
func (f *fakeFactory) Icon() string                     { return "fa-fake" }
func (f *fakeFactory) BaseURL() string                  { return "https://fake.example.org" }
func (f *fakeFactory) RepositoryNoun() (string, string) { return "repository", "repositories" }

func (f *fakeFactory) WebhookIsCreateReleaseEvent(payload []byte) bool {
	var e fakeEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return false
	}
	return e.Action == "published"
}

func (f *fakeFactory) WebhookEventToGeneric(payload []byte) (*domain.GenericRelease, *domain.GenericRepository, error) {
	var e fakeEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, nil, err
	}
	if e.ID == "" {
		return nil, nil, fmt.Errorf("fake: event without release id")
	}
	rel := &domain.GenericRelease{ID: e.ID, TagName: e.Tag, ZipballURL: e.Zip, CreatedAt: time.Now()}
	repo := &domain.GenericRepository{ID: e.RepoID}
	return rel, repo, nil
}

func (f *fakeFactory) URLForRepository(fullName string) string              { return "" }
func (f *fakeFactory) URLForRelease(fullName, releaseID, tag string) string { return "" }
func (f *fakeFactory) URLForTag(fullName, tag string) string                { return "" }
func (f *fakeFactory) URLForNewRelease(fullName string) string              { return "" }

func (f *fakeFactory) ForUser(userID string) port.Provider {
	f.provider.userID = userID
	return f.provider
}

func (f *fakeFactory) ForAccessToken(userID, accessToken string) port.Provider {
	f.provider.userID = userID
	f.provider.fixedToken = accessToken
	return f.provider
}

// fakeProvider is a scriptable port.Provider.
type fakeProvider struct {
	factory    *fakeFactory
	userID     string
	fixedToken string

	repos        map[string]domain.GenericRepository
	listErr      error
	hooks        []domain.GenericWebhook
	memberIDs    []string
	ownUser      *domain.GenericUser
	webhookURL   string
	createHookID string
	createErr    error
	deleteOK     bool
	deleteErr    error
	revokeErr    error

	deletedHooks  [][2]string // repositoryID, hookID
	revokedTokens []string
}

func (p *fakeProvider) Factory() port.ProviderFactory { return p.factory }
func (p *fakeProvider) UserID() string                { return p.userID }

func (p *fakeProvider) ListRepositories(ctx context.Context) (map[string]domain.GenericRepository, error) {
	return p.repos, p.listErr
}

func (p *fakeProvider) GetRepository(ctx context.Context, repositoryID string) (*domain.GenericRepository, error) {
	if g, ok := p.repos[repositoryID]; ok {
		return &g, nil
	}
	return nil, nil
}

func (p *fakeProvider) GetRepositoryOwner(ctx context.Context, repositoryID string) (*domain.GenericOwner, error) {
	return nil, nil
}

func (p *fakeProvider) ListRepositoryContributors(ctx context.Context, repositoryID string, max int) ([]domain.GenericContributor, error) {
	return nil, nil
}

func (p *fakeProvider) ListRepositoryWebhooks(ctx context.Context, repositoryID string) ([]domain.GenericWebhook, error) {
	return p.hooks, nil
}

func (p *fakeProvider) ListRepositoryUserIDs(ctx context.Context, repositoryID string) ([]string, error) {
	return p.memberIDs, nil
}

func (p *fakeProvider) GetOwnUser(ctx context.Context) (*domain.GenericUser, error) {
	if p.ownUser == nil {
		return nil, fmt.Errorf("fake: no own user configured")
	}
	return p.ownUser, nil
}

func (p *fakeProvider) CreateWebhook(ctx context.Context, repositoryID string) (string, error) {
	return p.createHookID, p.createErr
}

func (p *fakeProvider) DeleteWebhook(ctx context.Context, repositoryID, hookID string) (bool, error) {
	p.deletedHooks = append(p.deletedHooks, [2]string{repositoryID, hookID})
	return p.deleteOK, p.deleteErr
}

func (p *fakeProvider) WebhookURL(ctx context.Context) (string, error) {
	return p.webhookURL, nil
}

func (p *fakeProvider) ResolveReleaseArchiveURL(ctx context.Context, archiveURL string) (string, error) {
	return archiveURL, nil
}

func (p *fakeProvider) FetchReleaseArchive(ctx context.Context, archiveURL string, timeout time.Duration) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}

func (p *fakeProvider) RetrieveRemoteFile(ctx context.Context, repositoryID, ref, path string) ([]byte, error) {
	return nil, nil
}

func (p *fakeProvider) RevokeToken(ctx context.Context, accessToken string) error {
	p.revokedTokens = append(p.revokedTokens, accessToken)
	return p.revokeErr
}

// recordingTasks records enqueue calls instead of running them.
type recordingTasks struct {
	syncHooks      [][]string // provider, userID, repo ids...
	processRelease [][2]string
	disconnects    []struct {
		provider, userID, token string
		repoHooks               map[string]string
	}
}

func (r *recordingTasks) EnqueueSyncHooks(provider, userID string, repositoryIDs []string) {
	call := append([]string{provider, userID}, repositoryIDs...)
	r.syncHooks = append(r.syncHooks, call)
}

func (r *recordingTasks) EnqueueProcessRelease(provider, providerID string) {
	r.processRelease = append(r.processRelease, [2]string{provider, providerID})
}

func (r *recordingTasks) EnqueueDisconnect(provider, userID, accessToken string, repoHooks map[string]string) {
	r.disconnects = append(r.disconnects, struct {
		provider, userID, token string
		repoHooks               map[string]string
	}{provider, userID, accessToken, repoHooks})
}

// newFakeWorld wires a fake provider, registry and store for service tests.
func newFakeWorld(providerID string) (*memStore, *fakeFactory, *port.Registry) {
	factory := &fakeFactory{id: providerID}
	factory.provider = &fakeProvider{factory: factory}
	registry, err := port.NewRegistry(factory)
	if err != nil {
		panic(err)
	}
	return newMemStore(), factory, registry
}

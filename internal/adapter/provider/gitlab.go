package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/arturoeanton/go-release-archiver/internal/domain"
	"github.com/arturoeanton/go-release-archiver/internal/port"
)

// GitLab's "Maintainer" role, the minimum needed to manage project hooks.
const gitlabMaintainerAccess = 40

// GitLabOptions carries the deployment configuration of one GitLab
// integration (gitlab.com or self-managed).
type GitLabOptions struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	SharedSecret string // value GitLab sends back in the X-Gitlab-Token header
	InsecureSSL  bool
	SiteName     string // shown in the managed hook's description

	// IncludeUpcomingReleases admits webhook events for releases whose
	// release date is still in the future. Off by default: upcoming releases
	// have no downloadable sources yet.
	IncludeUpcomingReleases bool
}

// GitLabFactory implements port.ProviderFactory for GitLab.
type GitLabFactory struct {
	opts        GitLabOptions
	apiBase     string
	tokens      port.TokenSource
	receiverURL ReceiverURLFunc
	httpClient  *http.Client
	now         func() time.Time
}

// NewGitLabFactory creates the GitLab provider factory.
func NewGitLabFactory(opts GitLabOptions, tokens port.TokenSource, receiverURL ReceiverURLFunc) *GitLabFactory {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://gitlab.com"
	}
	return &GitLabFactory{
		opts:        opts,
		apiBase:     opts.BaseURL + "/api/v4",
		tokens:      tokens,
		receiverURL: receiverURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		now:         time.Now,
	}
}

// ID returns "gitlab".
func (f *GitLabFactory) ID() string { return "gitlab" }

// Name returns the human-readable provider name.
func (f *GitLabFactory) Name() string { return "GitLab" }

// Description is shown next to the provider in account settings.
func (f *GitLabFactory) Description() string {
	return "Archive your GitLab releases automatically."
}

// Icon returns the UI icon identifier.
func (f *GitLabFactory) Icon() string { return "fa-brands fa-gitlab" }

// BaseURL is the root of the provider's web UI.
func (f *GitLabFactory) BaseURL() string { return f.opts.BaseURL }

// RepositoryNoun returns GitLab's word for a repository.
func (f *GitLabFactory) RepositoryNoun() (string, string) { return "project", "projects" }

// gitlabTime parses GitLab's webhook timestamp format, which differs from
// the RFC 3339 the REST API uses.
func gitlabTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse("2006-01-02 15:04:05 MST", s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// gitlabReleaseEvent is the subset of a GitLab release webhook payload the
// receiver cares about.
type gitlabReleaseEvent struct {
	ObjectKind  string `json:"object_kind"`
	Action      string `json:"action"`
	ID          int64  `json:"id"`
	Tag         string `json:"tag"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
	CreatedAt   string `json:"created_at"`
	ReleasedAt  string `json:"released_at"`
	Assets      struct {
		Sources []struct {
			Format string `json:"format"`
			URL    string `json:"url"`
		} `json:"sources"`
	} `json:"assets"`
	Project *gitlabProject `json:"project"`
}

// WebhookIsCreateReleaseEvent reports whether the payload announces a newly
// created release. Upcoming releases (release date in the future) are
// excluded unless configured in.
func (f *GitLabFactory) WebhookIsCreateReleaseEvent(payload []byte) bool {
	var event gitlabReleaseEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return false
	}
	if event.ObjectKind != "release" || event.Action != "create" || event.Project == nil {
		return false
	}
	if !f.opts.IncludeUpcomingReleases {
		if releasedAt, ok := gitlabTime(event.ReleasedAt); ok && releasedAt.After(f.now()) {
			return false
		}
	}
	return true
}

// WebhookEventToGeneric extracts the release and project from the payload.
func (f *GitLabFactory) WebhookEventToGeneric(payload []byte) (*domain.GenericRelease, *domain.GenericRepository, error) {
	var event gitlabReleaseEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, nil, fmt.Errorf("gitlab: decode release event: %w", err)
	}
	if event.Project == nil {
		return nil, nil, fmt.Errorf("gitlab: release event without project")
	}

	rel := &domain.GenericRelease{
		ID:      strconv.FormatInt(event.ID, 10),
		TagName: event.Tag,
		Name:    event.Name,
		Body:    event.Description,
		HTMLURL: event.URL,
	}
	if t, ok := gitlabTime(event.CreatedAt); ok {
		rel.CreatedAt = t
	}
	if t, ok := gitlabTime(event.ReleasedAt); ok {
		rel.PublishedAt = &t
	}
	for _, src := range event.Assets.Sources {
		switch src.Format {
		case "zip":
			rel.ZipballURL = src.URL
		case "tar.gz":
			rel.TarballURL = src.URL
		}
	}
	repo := event.Project.toGeneric()
	return rel, &repo, nil
}

// URLForRepository is the UI homepage of a project.
func (f *GitLabFactory) URLForRepository(fullName string) string {
	return fmt.Sprintf("%s/%s", f.opts.BaseURL, fullName)
}

// URLForRelease is the UI page showing a release.
func (f *GitLabFactory) URLForRelease(fullName, releaseID, tag string) string {
	return fmt.Sprintf("%s/%s/-/releases/%s", f.opts.BaseURL, fullName, tag)
}

// URLForTag is the UI page showing the tree at a tag.
func (f *GitLabFactory) URLForTag(fullName, tag string) string {
	return fmt.Sprintf("%s/%s/-/tree/%s", f.opts.BaseURL, fullName, tag)
}

// URLForNewRelease is the UI page for publishing a new release.
func (f *GitLabFactory) URLForNewRelease(fullName string) string {
	return fmt.Sprintf("%s/%s/-/releases/new", f.opts.BaseURL, fullName)
}

// ForUser binds the factory to a per-user session with credentials resolved
// through the token source.
func (f *GitLabFactory) ForUser(userID string) port.Provider {
	return &gitLabProvider{factory: f, userID: userID}
}

// ForAccessToken binds the factory to a session with an explicit token.
func (f *GitLabFactory) ForAccessToken(userID, accessToken string) port.Provider {
	return &gitLabProvider{factory: f, userID: userID, token: accessToken, tokenFixed: true}
}

// gitLabProvider is the per-user GitLab API session.
type gitLabProvider struct {
	factory    *GitLabFactory
	userID     string
	token      string
	tokenFixed bool
}

func (p *gitLabProvider) Factory() port.ProviderFactory { return p.factory }
func (p *gitLabProvider) UserID() string                { return p.userID }

func (p *gitLabProvider) accessToken(ctx context.Context) (string, error) {
	if p.tokenFixed {
		return p.token, nil
	}
	return p.factory.tokens.AccessToken(ctx, p.factory.ID(), p.userID)
}

func (p *gitLabProvider) do(ctx context.Context, method, rawURL string, body io.Reader) (*http.Response, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("gitlab: create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.factory.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gitlab: %s %s: %w", method, rawURL, err)
	}
	return resp, nil
}

// gitlabProject is the subset of a GitLab project object shared by the REST
// API and webhook payloads.
type gitlabProject struct {
	ID                int64  `json:"id"`
	PathWithNamespace string `json:"path_with_namespace"`
	DefaultBranch     string `json:"default_branch"`
	WebURL            string `json:"web_url"`
	Description       string `json:"description"`
	License           *struct {
		Key string `json:"key"`
	} `json:"license"`
	Namespace *struct {
		ID   int64  `json:"id"`
		Kind string `json:"kind"`
		Path string `json:"path"`
		Name string `json:"name"`
	} `json:"namespace"`
}

func (pr *gitlabProject) toGeneric() domain.GenericRepository {
	g := domain.GenericRepository{
		ID:            strconv.FormatInt(pr.ID, 10),
		FullName:      pr.PathWithNamespace,
		DefaultBranch: pr.DefaultBranch,
		HTMLURL:       pr.WebURL,
		Description:   pr.Description,
	}
	if pr.License != nil {
		g.LicenseSPDX = pr.License.Key
	}
	return g
}

// ListRepositories enumerates the projects on which the user holds at least
// the Maintainer role, keyed by project id. A user without credentials gets a
// nil map and nil error.
func (p *gitLabProvider) ListRepositories(ctx context.Context) (map[string]domain.GenericRepository, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}

	projects := make(map[string]domain.GenericRepository)
	page := "1"
	for page != "" {
		rawURL := fmt.Sprintf("%s/projects?membership=true&min_access_level=%d&license=true&per_page=100&page=%s",
			p.factory.apiBase, gitlabMaintainerAccess, page)
		resp, err := p.do(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			drainClose(resp.Body)
			return nil, &port.UnexpectedProviderResponseError{
				Provider: p.factory.ID(), Operation: "list projects", StatusCode: resp.StatusCode,
			}
		}
		page = resp.Header.Get("X-Next-Page")

		var batch []gitlabProject
		if err := decodeJSON(resp, &batch); err != nil {
			return nil, fmt.Errorf("gitlab: list projects: %w", err)
		}
		for i := range batch {
			g := batch[i].toGeneric()
			projects[g.ID] = g
		}
	}
	return projects, nil
}

// GetRepository loads one project by provider id, (nil, nil) if gone.
func (p *gitLabProvider) GetRepository(ctx context.Context, repositoryID string) (*domain.GenericRepository, error) {
	resp, err := p.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/projects/%s?license=true", p.factory.apiBase, url.PathEscape(repositoryID)), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		drainClose(resp.Body)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		drainClose(resp.Body)
		return nil, &port.UnexpectedProviderResponseError{
			Provider: p.factory.ID(), Operation: "get project", StatusCode: resp.StatusCode,
		}
	}
	var project gitlabProject
	if err := decodeJSON(resp, &project); err != nil {
		return nil, fmt.Errorf("gitlab: get project: %w", err)
	}
	g := project.toGeneric()
	return &g, nil
}

// GetRepositoryOwner resolves the owning namespace, (nil, nil) when the
// project is gone.
func (p *gitLabProvider) GetRepositoryOwner(ctx context.Context, repositoryID string) (*domain.GenericOwner, error) {
	resp, err := p.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/projects/%s", p.factory.apiBase, url.PathEscape(repositoryID)), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		drainClose(resp.Body)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		drainClose(resp.Body)
		return nil, &port.UnexpectedProviderResponseError{
			Provider: p.factory.ID(), Operation: "get project owner", StatusCode: resp.StatusCode,
		}
	}
	var project gitlabProject
	if err := decodeJSON(resp, &project); err != nil {
		return nil, fmt.Errorf("gitlab: get project owner: %w", err)
	}
	if project.Namespace == nil {
		return nil, nil
	}

	owner := &domain.GenericOwner{
		ID:          strconv.FormatInt(project.Namespace.ID, 10),
		PathName:    project.Namespace.Path,
		Type:        domain.OwnerOrganization,
		DisplayName: project.Namespace.Name,
	}
	if project.Namespace.Kind == "user" {
		owner.Type = domain.OwnerPerson
	}
	return owner, nil
}

// ListRepositoryContributors lists up to max commit authors. GitLab counts
// commits per author identity rather than per registered user, so the
// username is resolved by an email search and may stay empty. Repositories
// with more than max contributors yield (nil, nil).
func (p *gitLabProvider) ListRepositoryContributors(ctx context.Context, repositoryID string, max int) ([]domain.GenericContributor, error) {
	resp, err := p.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/projects/%s/repository/contributors?per_page=%d",
			p.factory.apiBase, url.PathEscape(repositoryID), max+1), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		drainClose(resp.Body)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		drainClose(resp.Body)
		return nil, &port.UnexpectedProviderResponseError{
			Provider: p.factory.ID(), Operation: "list contributors", StatusCode: resp.StatusCode,
		}
	}

	var raw []struct {
		Name    string `json:"name"`
		Email   string `json:"email"`
		Commits int    `json:"commits"`
	}
	if err := decodeJSON(resp, &raw); err != nil {
		return nil, fmt.Errorf("gitlab: list contributors: %w", err)
	}
	if len(raw) > max {
		return nil, nil
	}

	var contributors []domain.GenericContributor
	for _, c := range raw {
		contributor := domain.GenericContributor{
			DisplayName:        c.Name,
			ContributionsCount: c.Commits,
		}
		if user := p.findUserByEmail(ctx, c.Email); user != nil {
			contributor.ID = user.ID
			contributor.Username = user.Username
		}
		contributors = append(contributors, contributor)
	}
	return contributors, nil
}

// findUserByEmail is a best-effort search, nil when nothing matches.
func (p *gitLabProvider) findUserByEmail(ctx context.Context, email string) *domain.GenericUser {
	if email == "" {
		return nil
	}
	resp, err := p.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/users?search=%s", p.factory.apiBase, url.QueryEscape(email)), nil)
	if err != nil {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		drainClose(resp.Body)
		return nil
	}
	var users []struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		Name     string `json:"name"`
	}
	if err := decodeJSON(resp, &users); err != nil || len(users) == 0 {
		return nil
	}
	return &domain.GenericUser{
		ID:          strconv.FormatInt(users[0].ID, 10),
		Username:    users[0].Username,
		DisplayName: users[0].Name,
	}
}

// ListRepositoryWebhooks returns the project's release hooks.
func (p *gitLabProvider) ListRepositoryWebhooks(ctx context.Context, repositoryID string) ([]domain.GenericWebhook, error) {
	resp, err := p.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/projects/%s/hooks?per_page=100", p.factory.apiBase, url.PathEscape(repositoryID)), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		drainClose(resp.Body)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		drainClose(resp.Body)
		return nil, &port.UnexpectedProviderResponseError{
			Provider: p.factory.ID(), Operation: "list hooks", StatusCode: resp.StatusCode,
		}
	}

	var raw []struct {
		ID             int64  `json:"id"`
		URL            string `json:"url"`
		ReleasesEvents bool   `json:"releases_events"`
	}
	if err := decodeJSON(resp, &raw); err != nil {
		return nil, fmt.Errorf("gitlab: list hooks: %w", err)
	}

	var hooks []domain.GenericWebhook
	for _, h := range raw {
		if !h.ReleasesEvents || h.URL == "" {
			continue
		}
		hooks = append(hooks, domain.GenericWebhook{
			ID:           strconv.FormatInt(h.ID, 10),
			RepositoryID: repositoryID,
			URL:          h.URL,
		})
	}
	return hooks, nil
}

// ListRepositoryUserIDs returns members holding at least the Maintainer role.
func (p *gitLabProvider) ListRepositoryUserIDs(ctx context.Context, repositoryID string) ([]string, error) {
	var ids []string
	page := "1"
	for page != "" {
		rawURL := fmt.Sprintf("%s/projects/%s/members/all?per_page=100&page=%s",
			p.factory.apiBase, url.PathEscape(repositoryID), page)
		resp, err := p.do(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusNotFound {
			drainClose(resp.Body)
			return nil, nil
		}
		if resp.StatusCode != http.StatusOK {
			drainClose(resp.Body)
			return nil, &port.UnexpectedProviderResponseError{
				Provider: p.factory.ID(), Operation: "list members", StatusCode: resp.StatusCode,
			}
		}
		page = resp.Header.Get("X-Next-Page")

		var members []struct {
			ID          int64 `json:"id"`
			AccessLevel int   `json:"access_level"`
		}
		if err := decodeJSON(resp, &members); err != nil {
			return nil, fmt.Errorf("gitlab: list members: %w", err)
		}
		for _, m := range members {
			if m.AccessLevel >= gitlabMaintainerAccess {
				ids = append(ids, strconv.FormatInt(m.ID, 10))
			}
		}
	}
	return ids, nil
}

// GetOwnUser describes the user of this session.
func (p *gitLabProvider) GetOwnUser(ctx context.Context) (*domain.GenericUser, error) {
	resp, err := p.do(ctx, http.MethodGet, p.factory.apiBase+"/user", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		drainClose(resp.Body)
		return nil, &port.UnexpectedProviderResponseError{
			Provider: p.factory.ID(), Operation: "get own user", StatusCode: resp.StatusCode,
		}
	}
	var user struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		Name     string `json:"name"`
	}
	if err := decodeJSON(resp, &user); err != nil {
		return nil, fmt.Errorf("gitlab: get own user: %w", err)
	}
	return &domain.GenericUser{
		ID:          strconv.FormatInt(user.ID, 10),
		Username:    user.Username,
		DisplayName: user.Name,
	}, nil
}

// CreateWebhook installs the release hook, reusing a hook that already points
// at the configured receiver. Returns "" when the project is gone or the user
// lost the required role.
func (p *gitLabProvider) CreateWebhook(ctx context.Context, repositoryID string) (string, error) {
	hookURL, err := p.WebhookURL(ctx)
	if err != nil {
		return "", err
	}

	hookBody := map[string]any{
		"url":                     hookURL,
		"releases_events":         true,
		"push_events":             false,
		"token":                   p.factory.opts.SharedSecret,
		"enable_ssl_verification": !p.factory.opts.InsecureSSL,
		"description":             fmt.Sprintf("Managed by %s", p.factory.opts.SiteName),
	}
	payload, err := json.Marshal(hookBody)
	if err != nil {
		return "", fmt.Errorf("gitlab: encode hook: %w", err)
	}

	existing, err := p.ListRepositoryWebhooks(ctx, repositoryID)
	if err != nil {
		return "", err
	}
	for _, h := range existing {
		if h.URL != hookURL {
			continue
		}
		resp, err := p.do(ctx, http.MethodPut,
			fmt.Sprintf("%s/projects/%s/hooks/%s", p.factory.apiBase, url.PathEscape(repositoryID), h.ID),
			bytes.NewReader(payload))
		if err != nil {
			return "", err
		}
		drainClose(resp.Body)
		if resp.StatusCode == http.StatusOK {
			return h.ID, nil
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
			return "", nil
		}
		return "", &port.UnexpectedProviderResponseError{
			Provider: p.factory.ID(), Operation: "update hook", StatusCode: resp.StatusCode,
		}
	}

	resp, err := p.do(ctx, http.MethodPost,
		fmt.Sprintf("%s/projects/%s/hooks", p.factory.apiBase, url.PathEscape(repositoryID)),
		bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
		drainClose(resp.Body)
		return "", nil
	}
	if resp.StatusCode != http.StatusCreated {
		drainClose(resp.Body)
		return "", &port.UnexpectedProviderResponseError{
			Provider: p.factory.ID(), Operation: "create hook", StatusCode: resp.StatusCode,
		}
	}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := decodeJSON(resp, &created); err != nil {
		return "", fmt.Errorf("gitlab: create hook: %w", err)
	}
	return strconv.FormatInt(created.ID, 10), nil
}

// DeleteWebhook removes the hook, falling back to a host match against the
// configured receiver when the hook id was lost.
func (p *gitLabProvider) DeleteWebhook(ctx context.Context, repositoryID, hookID string) (bool, error) {
	if hookID == "" {
		hook, err := port.FirstValidWebhook(ctx, p, repositoryID)
		if err != nil {
			return false, err
		}
		if hook == nil {
			return false, nil
		}
		hookID = hook.ID
	}

	resp, err := p.do(ctx, http.MethodDelete,
		fmt.Sprintf("%s/projects/%s/hooks/%s", p.factory.apiBase, url.PathEscape(repositoryID), hookID), nil)
	if err != nil {
		return false, err
	}
	drainClose(resp.Body)
	switch resp.StatusCode {
	case http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, &port.UnexpectedProviderResponseError{
		Provider: p.factory.ID(), Operation: "delete hook", StatusCode: resp.StatusCode,
	}
}

// WebhookURL is the receiver callback URL for this user.
func (p *gitLabProvider) WebhookURL(ctx context.Context) (string, error) {
	token, err := p.factory.tokens.WebhookToken(ctx, p.factory.ID(), p.userID)
	if err != nil {
		return "", err
	}
	return p.factory.receiverURL(p.factory.ID(), token), nil
}

// ResolveReleaseArchiveURL is a passthrough: GitLab's asset source URLs are
// stable and directly downloadable.
func (p *gitLabProvider) ResolveReleaseArchiveURL(ctx context.Context, archiveURL string) (string, error) {
	return archiveURL, nil
}

// FetchReleaseArchive streams the archive. The caller owns the body.
func (p *gitLabProvider) FetchReleaseArchive(ctx context.Context, archiveURL string, timeout time.Duration) (io.ReadCloser, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, archiveURL, nil)
	if err != nil {
		return nil, fmt.Errorf("gitlab: create archive request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gitlab: fetch archive: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		drainClose(resp.Body)
		return nil, &port.ReleaseArchiveFetchError{URL: archiveURL, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

// RetrieveRemoteFile downloads one file at a ref, (nil, nil) when absent.
func (p *gitLabProvider) RetrieveRemoteFile(ctx context.Context, repositoryID, ref, path string) ([]byte, error) {
	rawURL := fmt.Sprintf("%s/projects/%s/repository/files/%s/raw?ref=%s",
		p.factory.apiBase, url.PathEscape(repositoryID), url.PathEscape(path), url.QueryEscape(ref))
	resp, err := p.do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &port.UnexpectedProviderResponseError{
			Provider: p.factory.ID(), Operation: "retrieve file", StatusCode: resp.StatusCode,
		}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gitlab: retrieve file: %w", err)
	}
	return data, nil
}

// RevokeToken is a no-op: GitLab has no app-level revocation endpoint for
// resource-owner tokens, they expire on their own.
func (p *gitLabProvider) RevokeToken(ctx context.Context, accessToken string) error {
	return nil
}

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

const githubCom = "https://github.com"

// maxAlternateHops bounds how many 300 alternate links archive resolution
// will chase before giving up.
const maxAlternateHops = 3

// GitHubOptions carries the deployment configuration of one GitHub (or
// GitHub Enterprise) integration.
type GitHubOptions struct {
	BaseURL      string // https://github.com or an Enterprise host
	ClientID     string
	ClientSecret string
	SharedSecret string // secret GitHub uses to sign webhook deliveries
	InsecureSSL  bool
}

// GitHubFactory implements port.ProviderFactory for GitHub.
type GitHubFactory struct {
	opts        GitHubOptions
	apiBase     string
	tokens      port.TokenSource
	receiverURL ReceiverURLFunc
	httpClient  *http.Client
}

// NewGitHubFactory creates the GitHub provider factory.
func NewGitHubFactory(opts GitHubOptions, tokens port.TokenSource, receiverURL ReceiverURLFunc) *GitHubFactory {
	if opts.BaseURL == "" {
		opts.BaseURL = githubCom
	}
	apiBase := opts.BaseURL + "/api/v3"
	if opts.BaseURL == githubCom {
		apiBase = "https://api.github.com"
	}
	return &GitHubFactory{
		opts:        opts,
		apiBase:     apiBase,
		tokens:      tokens,
		receiverURL: receiverURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// ID returns "github".
func (f *GitHubFactory) ID() string { return "github" }

// Name returns the human-readable provider name.
func (f *GitHubFactory) Name() string { return "GitHub" }

// Description is shown next to the provider in account settings.
func (f *GitHubFactory) Description() string {
	return "Archive your GitHub releases automatically."
}

// Icon returns the UI icon identifier.
func (f *GitHubFactory) Icon() string { return "fa-brands fa-github" }

// BaseURL is the root of the provider's web UI.
func (f *GitHubFactory) BaseURL() string { return f.opts.BaseURL }

// RepositoryNoun returns GitHub's word for a repository.
func (f *GitHubFactory) RepositoryNoun() (string, string) { return "repository", "repositories" }

// githubReleaseEvent is the subset of a GitHub release webhook payload the
// receiver cares about.
type githubReleaseEvent struct {
	Action  string `json:"action"`
	Release *struct {
		ID          int64      `json:"id"`
		TagName     string     `json:"tag_name"`
		Name        string     `json:"name"`
		Body        string     `json:"body"`
		HTMLURL     string     `json:"html_url"`
		TarballURL  string     `json:"tarball_url"`
		ZipballURL  string     `json:"zipball_url"`
		Draft       bool       `json:"draft"`
		Prerelease  bool       `json:"prerelease"`
		CreatedAt   time.Time  `json:"created_at"`
		PublishedAt *time.Time `json:"published_at"`
	} `json:"release"`
	Repository *githubRepository `json:"repository"`
}

// WebhookIsCreateReleaseEvent reports whether the payload announces a newly
// published, non-draft release.
func (f *GitHubFactory) WebhookIsCreateReleaseEvent(payload []byte) bool {
	var event githubReleaseEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return false
	}
	if event.Release == nil || event.Repository == nil || event.Release.Draft {
		return false
	}
	switch event.Action {
	case "published", "released", "created":
		return true
	}
	return false
}

// WebhookEventToGeneric extracts the release and repository from the payload.
func (f *GitHubFactory) WebhookEventToGeneric(payload []byte) (*domain.GenericRelease, *domain.GenericRepository, error) {
	var event githubReleaseEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, nil, fmt.Errorf("github: decode release event: %w", err)
	}
	if event.Release == nil || event.Repository == nil {
		return nil, nil, fmt.Errorf("github: release event without release or repository")
	}
	rel := &domain.GenericRelease{
		ID:          strconv.FormatInt(event.Release.ID, 10),
		TagName:     event.Release.TagName,
		Name:        event.Release.Name,
		Body:        event.Release.Body,
		HTMLURL:     event.Release.HTMLURL,
		TarballURL:  event.Release.TarballURL,
		ZipballURL:  event.Release.ZipballURL,
		CreatedAt:   event.Release.CreatedAt,
		PublishedAt: event.Release.PublishedAt,
	}
	repo := event.Repository.toGeneric()
	return rel, &repo, nil
}

// URLForRepository is the UI homepage of a repository.
func (f *GitHubFactory) URLForRepository(fullName string) string {
	return fmt.Sprintf("%s/%s", f.opts.BaseURL, fullName)
}

// URLForRelease is the UI page showing a release.
func (f *GitHubFactory) URLForRelease(fullName, releaseID, tag string) string {
	return fmt.Sprintf("%s/%s/releases/tag/%s", f.opts.BaseURL, fullName, tag)
}

// URLForTag is the UI page showing the tree at a tag.
func (f *GitHubFactory) URLForTag(fullName, tag string) string {
	return fmt.Sprintf("%s/%s/tree/%s", f.opts.BaseURL, fullName, tag)
}

// URLForNewRelease is the UI page for publishing a new release.
func (f *GitHubFactory) URLForNewRelease(fullName string) string {
	return fmt.Sprintf("%s/%s/releases/new", f.opts.BaseURL, fullName)
}

// ForUser binds the factory to a per-user session with credentials resolved
// through the token source.
func (f *GitHubFactory) ForUser(userID string) port.Provider {
	return &gitHubProvider{factory: f, userID: userID}
}

// ForAccessToken binds the factory to a session with an explicit token.
func (f *GitHubFactory) ForAccessToken(userID, accessToken string) port.Provider {
	return &gitHubProvider{factory: f, userID: userID, token: accessToken, tokenFixed: true}
}

// gitHubProvider is the per-user GitHub API session.
type gitHubProvider struct {
	factory    *GitHubFactory
	userID     string
	token      string
	tokenFixed bool
}

func (p *gitHubProvider) Factory() port.ProviderFactory { return p.factory }
func (p *gitHubProvider) UserID() string                { return p.userID }

func (p *gitHubProvider) accessToken(ctx context.Context) (string, error) {
	if p.tokenFixed {
		return p.token, nil
	}
	return p.factory.tokens.AccessToken(ctx, p.factory.ID(), p.userID)
}

// newRequest builds an API request with the standard headers. An empty token
// produces an unauthenticated request.
func (p *gitHubProvider) newRequest(ctx context.Context, method, rawURL, token string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("github: create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (p *gitHubProvider) do(ctx context.Context, method, rawURL string, body io.Reader) (*http.Response, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	req, err := p.newRequest(ctx, method, rawURL, token, body)
	if err != nil {
		return nil, err
	}
	resp, err := p.factory.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github: %s %s: %w", method, rawURL, err)
	}
	return resp, nil
}

// githubRepository is the subset of a GitHub repository object shared by the
// REST API and webhook payloads.
type githubRepository struct {
	ID            int64  `json:"id"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	HTMLURL       string `json:"html_url"`
	Description   string `json:"description"`
	License       *struct {
		SPDXID string `json:"spdx_id"`
	} `json:"license"`
	Permissions *struct {
		Admin bool `json:"admin"`
	} `json:"permissions"`
	Owner *struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"owner"`
}

func (r *githubRepository) toGeneric() domain.GenericRepository {
	g := domain.GenericRepository{
		ID:            strconv.FormatInt(r.ID, 10),
		FullName:      r.FullName,
		DefaultBranch: r.DefaultBranch,
		HTMLURL:       r.HTMLURL,
		Description:   r.Description,
	}
	// GitHub reports NOASSERTION when it could not detect a license.
	if r.License != nil && r.License.SPDXID != "NOASSERTION" {
		g.LicenseSPDX = r.License.SPDXID
	}
	return g
}

// ListRepositories enumerates the repositories the user administers, keyed by
// provider id. A user without credentials gets a nil map and nil error.
func (p *gitHubProvider) ListRepositories(ctx context.Context) (map[string]domain.GenericRepository, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}

	repos := make(map[string]domain.GenericRepository)
	next := p.factory.apiBase + "/user/repos?per_page=100&type=all"
	for next != "" {
		resp, err := p.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			drainClose(resp.Body)
			return nil, &port.UnexpectedProviderResponseError{
				Provider: p.factory.ID(), Operation: "list repositories", StatusCode: resp.StatusCode,
			}
		}
		next = nextPageLink(resp.Header)

		var page []githubRepository
		if err := decodeJSON(resp, &page); err != nil {
			return nil, fmt.Errorf("github: list repositories: %w", err)
		}
		for i := range page {
			if page[i].Permissions == nil || !page[i].Permissions.Admin {
				continue
			}
			g := page[i].toGeneric()
			repos[g.ID] = g
		}
	}
	return repos, nil
}

// GetRepository loads one repository by provider id, (nil, nil) if gone.
func (p *gitHubProvider) GetRepository(ctx context.Context, repositoryID string) (*domain.GenericRepository, error) {
	resp, err := p.do(ctx, http.MethodGet, fmt.Sprintf("%s/repositories/%s", p.factory.apiBase, repositoryID), nil)
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
			Provider: p.factory.ID(), Operation: "get repository", StatusCode: resp.StatusCode,
		}
	}
	var repo githubRepository
	if err := decodeJSON(resp, &repo); err != nil {
		return nil, fmt.Errorf("github: get repository: %w", err)
	}
	g := repo.toGeneric()
	return &g, nil
}

// GetRepositoryOwner resolves the owning user or organization, (nil, nil)
// when the repository is gone.
func (p *gitHubProvider) GetRepositoryOwner(ctx context.Context, repositoryID string) (*domain.GenericOwner, error) {
	resp, err := p.do(ctx, http.MethodGet, fmt.Sprintf("%s/repositories/%s", p.factory.apiBase, repositoryID), nil)
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
			Provider: p.factory.ID(), Operation: "get repository owner", StatusCode: resp.StatusCode,
		}
	}
	var repo githubRepository
	if err := decodeJSON(resp, &repo); err != nil {
		return nil, fmt.Errorf("github: get repository owner: %w", err)
	}
	if repo.Owner == nil {
		return nil, nil
	}

	owner := &domain.GenericOwner{
		ID:       strconv.FormatInt(repo.Owner.ID, 10),
		PathName: repo.Owner.Login,
		Type:     domain.OwnerPerson,
	}
	if repo.Owner.Type == "Organization" {
		owner.Type = domain.OwnerOrganization
	}
	// Display name needs a second lookup; best effort only.
	if profile, err := p.userProfile(ctx, repo.Owner.Login); err == nil && profile != nil {
		owner.DisplayName = profile.Name
	}
	return owner, nil
}

type githubUserProfile struct {
	ID      int64  `json:"id"`
	Login   string `json:"login"`
	Name    string `json:"name"`
	Company string `json:"company"`
	Type    string `json:"type"`
}

func (p *gitHubProvider) userProfile(ctx context.Context, login string) (*githubUserProfile, error) {
	resp, err := p.do(ctx, http.MethodGet, fmt.Sprintf("%s/users/%s", p.factory.apiBase, url.PathEscape(login)), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		drainClose(resp.Body)
		return nil, nil
	}
	var profile githubUserProfile
	if err := decodeJSON(resp, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// ListRepositoryContributors returns up to max contributors, enriched with
// their public profile. Repositories with more than max contributors yield
// (nil, nil); the caller treats that as "no usable contributor list".
func (p *gitHubProvider) ListRepositoryContributors(ctx context.Context, repositoryID string, max int) ([]domain.GenericContributor, error) {
	resp, err := p.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/repositories/%s/contributors?per_page=%d", p.factory.apiBase, repositoryID, max+1), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
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
		ID            int64  `json:"id"`
		Login         string `json:"login"`
		Type          string `json:"type"`
		Contributions int    `json:"contributions"`
	}
	if err := decodeJSON(resp, &raw); err != nil {
		return nil, fmt.Errorf("github: list contributors: %w", err)
	}
	if len(raw) > max {
		return nil, nil
	}

	var contributors []domain.GenericContributor
	for _, c := range raw {
		if c.Type != "User" {
			continue
		}
		contributor := domain.GenericContributor{
			ID:                 strconv.FormatInt(c.ID, 10),
			Username:           c.Login,
			ContributionsCount: c.Contributions,
		}
		if profile, err := p.userProfile(ctx, c.Login); err == nil && profile != nil {
			contributor.DisplayName = profile.Name
			contributor.Company = profile.Company
		}
		contributors = append(contributors, contributor)
	}
	return contributors, nil
}

// ListRepositoryWebhooks returns the repository's active hooks.
func (p *gitHubProvider) ListRepositoryWebhooks(ctx context.Context, repositoryID string) ([]domain.GenericWebhook, error) {
	resp, err := p.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/repositories/%s/hooks?per_page=100", p.factory.apiBase, repositoryID), nil)
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
			Provider: p.factory.ID(), Operation: "list webhooks", StatusCode: resp.StatusCode,
		}
	}

	var raw []struct {
		ID     int64 `json:"id"`
		Active bool  `json:"active"`
		Config struct {
			URL string `json:"url"`
		} `json:"config"`
	}
	if err := decodeJSON(resp, &raw); err != nil {
		return nil, fmt.Errorf("github: list webhooks: %w", err)
	}

	var hooks []domain.GenericWebhook
	for _, h := range raw {
		if !h.Active || h.Config.URL == "" {
			continue
		}
		hooks = append(hooks, domain.GenericWebhook{
			ID:           strconv.FormatInt(h.ID, 10),
			RepositoryID: repositoryID,
			URL:          h.Config.URL,
		})
	}
	return hooks, nil
}

// ListRepositoryUserIDs returns the collaborators with admin rights.
func (p *gitHubProvider) ListRepositoryUserIDs(ctx context.Context, repositoryID string) ([]string, error) {
	var ids []string
	next := fmt.Sprintf("%s/repositories/%s/collaborators?per_page=100", p.factory.apiBase, repositoryID)
	for next != "" {
		resp, err := p.do(ctx, http.MethodGet, next, nil)
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
				Provider: p.factory.ID(), Operation: "list collaborators", StatusCode: resp.StatusCode,
			}
		}
		next = nextPageLink(resp.Header)

		var page []struct {
			ID          int64 `json:"id"`
			Permissions *struct {
				Admin bool `json:"admin"`
			} `json:"permissions"`
		}
		if err := decodeJSON(resp, &page); err != nil {
			return nil, fmt.Errorf("github: list collaborators: %w", err)
		}
		for _, c := range page {
			if c.Permissions != nil && c.Permissions.Admin {
				ids = append(ids, strconv.FormatInt(c.ID, 10))
			}
		}
	}
	return ids, nil
}

// GetOwnUser describes the user of this session.
func (p *gitHubProvider) GetOwnUser(ctx context.Context) (*domain.GenericUser, error) {
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
	var profile githubUserProfile
	if err := decodeJSON(resp, &profile); err != nil {
		return nil, fmt.Errorf("github: get own user: %w", err)
	}
	return &domain.GenericUser{
		ID:          strconv.FormatInt(profile.ID, 10),
		Username:    profile.Login,
		DisplayName: profile.Name,
	}, nil
}

// CreateWebhook installs the release hook, reusing a hook that already points
// at the configured receiver. Returns "" when the repository is gone or the
// user lost admin rights.
func (p *gitHubProvider) CreateWebhook(ctx context.Context, repositoryID string) (string, error) {
	hookURL, err := p.WebhookURL(ctx)
	if err != nil {
		return "", err
	}

	insecure := "0"
	if p.factory.opts.InsecureSSL {
		insecure = "1"
	}
	hookBody := map[string]any{
		"name":   "web",
		"active": true,
		"events": []string{"release"},
		"config": map[string]any{
			"url":          hookURL,
			"content_type": "json",
			"secret":       p.factory.opts.SharedSecret,
			"insecure_ssl": insecure,
		},
	}
	payload, err := json.Marshal(hookBody)
	if err != nil {
		return "", fmt.Errorf("github: encode hook: %w", err)
	}

	// A hook with the same URL already installed is updated in place.
	existing, err := p.ListRepositoryWebhooks(ctx, repositoryID)
	if err != nil {
		return "", err
	}
	for _, h := range existing {
		if h.URL != hookURL {
			continue
		}
		resp, err := p.do(ctx, http.MethodPatch,
			fmt.Sprintf("%s/repositories/%s/hooks/%s", p.factory.apiBase, repositoryID, h.ID),
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
			Provider: p.factory.ID(), Operation: "update webhook", StatusCode: resp.StatusCode,
		}
	}

	resp, err := p.do(ctx, http.MethodPost,
		fmt.Sprintf("%s/repositories/%s/hooks", p.factory.apiBase, repositoryID),
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
			Provider: p.factory.ID(), Operation: "create webhook", StatusCode: resp.StatusCode,
		}
	}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := decodeJSON(resp, &created); err != nil {
		return "", fmt.Errorf("github: create webhook: %w", err)
	}
	return strconv.FormatInt(created.ID, 10), nil
}

// DeleteWebhook removes the hook, falling back to a host match against the
// configured receiver when the hook id was lost.
func (p *gitHubProvider) DeleteWebhook(ctx context.Context, repositoryID, hookID string) (bool, error) {
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
		fmt.Sprintf("%s/repositories/%s/hooks/%s", p.factory.apiBase, repositoryID, hookID), nil)
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
		Provider: p.factory.ID(), Operation: "delete webhook", StatusCode: resp.StatusCode,
	}
}

// WebhookURL is the receiver callback URL for this user.
func (p *gitHubProvider) WebhookURL(ctx context.Context) (string, error) {
	token, err := p.factory.tokens.WebhookToken(ctx, p.factory.ID(), p.userID)
	if err != nil {
		return "", err
	}
	return p.factory.receiverURL(p.factory.ID(), token), nil
}

// ResolveReleaseArchiveURL follows GitHub's zipball edge cases: ambiguous
// tag/branch names answer 300 with an alternate link, and releases on private
// repositories sometimes answer 404 to authenticated requests but resolve
// fine unauthenticated.
func (p *gitHubProvider) ResolveReleaseArchiveURL(ctx context.Context, archiveURL string) (string, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return "", err
	}

	probe := func(target string, withAuth bool) (*http.Response, error) {
		t := token
		if !withAuth {
			t = ""
		}
		req, err := p.newRequest(ctx, http.MethodHead, target, t, nil)
		if err != nil {
			return nil, err
		}
		resp, err := p.factory.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("github: resolve archive url: %w", err)
		}
		drainClose(resp.Body)
		return resp, nil
	}

	// An alternate link is not a resolution, only a new candidate: it is
	// probed through the same fallback chain so a dead alternate still
	// surfaces as a fetch error. Bounded so alternates cannot cycle.
	current := archiveURL
	for hop := 0; hop <= maxAlternateHops; hop++ {
		resp, err := probe(current, true)
		if err != nil {
			return "", err
		}
		switch {
		case resp.StatusCode == http.StatusOK:
			return resp.Request.URL.String(), nil
		case resp.StatusCode == http.StatusMultipleChoices:
			if alt := alternateLink(resp.Header); alt != "" {
				current = alt
				continue
			}
			return "", &port.ReleaseArchiveFetchError{URL: current, StatusCode: resp.StatusCode}
		case resp.StatusCode == http.StatusNotFound && token != "":
			retry, err := probe(current, false)
			if err != nil {
				return "", err
			}
			if retry.StatusCode == http.StatusOK {
				return retry.Request.URL.String(), nil
			}
			return "", &port.ReleaseArchiveFetchError{URL: current, StatusCode: retry.StatusCode}
		default:
			return "", &port.ReleaseArchiveFetchError{URL: current, StatusCode: resp.StatusCode}
		}
	}
	return "", &port.ReleaseArchiveFetchError{URL: current, StatusCode: http.StatusMultipleChoices}
}

// FetchReleaseArchive streams the archive. The caller owns the body.
func (p *gitHubProvider) FetchReleaseArchive(ctx context.Context, archiveURL string, timeout time.Duration) (io.ReadCloser, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	req, err := p.newRequest(ctx, http.MethodGet, archiveURL, token, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github: fetch archive: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		drainClose(resp.Body)
		return nil, &port.ReleaseArchiveFetchError{URL: archiveURL, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

// RetrieveRemoteFile downloads one file at a ref, (nil, nil) when absent.
func (p *gitHubProvider) RetrieveRemoteFile(ctx context.Context, repositoryID, ref, path string) ([]byte, error) {
	rawURL := fmt.Sprintf("%s/repositories/%s/contents/%s?ref=%s",
		p.factory.apiBase, repositoryID, path, url.QueryEscape(ref))
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	req, err := p.newRequest(ctx, http.MethodGet, rawURL, token, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.raw+json")

	resp, err := p.factory.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github: retrieve file: %w", err)
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
		return nil, fmt.Errorf("github: retrieve file: %w", err)
	}
	return data, nil
}

// RevokeToken invalidates the OAuth token through the application API.
func (p *gitHubProvider) RevokeToken(ctx context.Context, accessToken string) error {
	payload, err := json.Marshal(map[string]string{"access_token": accessToken})
	if err != nil {
		return fmt.Errorf("github: encode revocation: %w", err)
	}
	rawURL := fmt.Sprintf("%s/applications/%s/token", p.factory.apiBase, url.PathEscape(p.factory.opts.ClientID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, rawURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("github: create revocation request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(p.factory.opts.ClientID, p.factory.opts.ClientSecret)

	resp, err := p.factory.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github: revoke token: %w", err)
	}
	drainClose(resp.Body)
	// 404 means the token is already gone, which is the desired end state.
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return &port.UnexpectedProviderResponseError{
		Provider: p.factory.ID(), Operation: "revoke token", StatusCode: resp.StatusCode,
	}
}

package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newGitLabFactory(t *testing.T, handler http.Handler, tokens staticTokens) *GitLabFactory {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewGitLabFactory(GitLabOptions{
		BaseURL:      server.URL,
		SharedSecret: "hook-secret",
		SiteName:     "example.org",
	}, tokens, testReceiverURL)
}

const gitlabCreateEvent = `{
	"object_kind": "release",
	"action": "create",
	"id": 5005,
	"tag": "v2.0.0",
	"name": "Version 2.0.0",
	"description": "Changes.",
	"url": "https://gitlab.com/acme/tool/-/releases/v2.0.0",
	"created_at": "2026-03-01 10:00:00 UTC",
	"released_at": "2026-03-01 10:00:00 UTC",
	"assets": {
		"sources": [
			{"format": "zip", "url": "https://gitlab.com/acme/tool/-/archive/v2.0.0/tool-v2.0.0.zip"},
			{"format": "tar.gz", "url": "https://gitlab.com/acme/tool/-/archive/v2.0.0/tool-v2.0.0.tar.gz"}
		]
	},
	"project": {
		"id": 42,
		"path_with_namespace": "acme/tool",
		"default_branch": "main",
		"web_url": "https://gitlab.com/acme/tool",
		"description": "A tool."
	}
}`

func TestGitLabWebhookIsCreateReleaseEvent(t *testing.T) {
	f := NewGitLabFactory(GitLabOptions{}, staticTokens{}, testReceiverURL)
	f.now = func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{"create release", gitlabCreateEvent, true},
		{"update action", `{"object_kind":"release","action":"update","project":{"id":42}}`, false},
		{"push event", `{"object_kind":"push","project":{"id":42}}`, false},
		{"not json", `v2`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, f.WebhookIsCreateReleaseEvent([]byte(tt.payload)))
		})
	}
}

func TestGitLabUpcomingReleaseFiltered(t *testing.T) {
	payload := `{
		"object_kind": "release",
		"action": "create",
		"id": 1,
		"tag": "v3.0.0",
		"released_at": "2026-06-01 00:00:00 UTC",
		"project": {"id": 42}
	}`
	now := func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }

	f := NewGitLabFactory(GitLabOptions{}, staticTokens{}, testReceiverURL)
	f.now = now
	require.False(t, f.WebhookIsCreateReleaseEvent([]byte(payload)))

	f = NewGitLabFactory(GitLabOptions{IncludeUpcomingReleases: true}, staticTokens{}, testReceiverURL)
	f.now = now
	require.True(t, f.WebhookIsCreateReleaseEvent([]byte(payload)))
}

func TestGitLabWebhookEventToGeneric(t *testing.T) {
	f := NewGitLabFactory(GitLabOptions{}, staticTokens{}, testReceiverURL)

	rel, repo, err := f.WebhookEventToGeneric([]byte(gitlabCreateEvent))
	require.NoError(t, err)

	require.Equal(t, "5005", rel.ID)
	require.Equal(t, "v2.0.0", rel.TagName)
	require.Equal(t, "https://gitlab.com/acme/tool/-/archive/v2.0.0/tool-v2.0.0.zip", rel.ZipballURL)
	require.Equal(t, "https://gitlab.com/acme/tool/-/archive/v2.0.0/tool-v2.0.0.tar.gz", rel.TarballURL)
	require.NotNil(t, rel.PublishedAt)
	require.Equal(t, 2026, rel.CreatedAt.Year())

	require.Equal(t, "42", repo.ID)
	require.Equal(t, "acme/tool", repo.FullName)
}

func TestGitlabTimeFormats(t *testing.T) {
	got, ok := gitlabTime("2026-03-01 10:00:00 UTC")
	require.True(t, ok)
	require.Equal(t, time.March, got.Month())

	got, ok = gitlabTime("2026-03-01T10:00:00Z")
	require.True(t, ok)
	require.Equal(t, 10, got.Hour())

	_, ok = gitlabTime("")
	require.False(t, ok)

	_, ok = gitlabTime("yesterday")
	require.False(t, ok)
}

func TestGitLabListRepositoriesPaginates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v4/projects", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "40", r.URL.Query().Get("min_access_level"))
		switch r.URL.Query().Get("page") {
		case "1":
			w.Header().Set("X-Next-Page", "2")
			fmt.Fprint(w, `[{"id": 1, "path_with_namespace": "acme/one"}]`)
		default:
			fmt.Fprint(w, `[{"id": 2, "path_with_namespace": "acme/two", "license": {"key": "apache-2.0"}}]`)
		}
	})
	f := newGitLabFactory(t, mux, staticTokens{access: "tok"})

	projects, err := f.ForUser("user-1").ListRepositories(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 2)
	require.Equal(t, "apache-2.0", projects["2"].LicenseSPDX)
}

func TestGitLabGetRepositoryOwner(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v4/projects/42", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"id": 42,
			"path_with_namespace": "jdoe/tool",
			"namespace": {"id": 7, "kind": "user", "path": "jdoe", "name": "J. Doe"}
		}`)
	})
	f := newGitLabFactory(t, mux, staticTokens{access: "tok"})

	owner, err := f.ForUser("user-1").GetRepositoryOwner(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, "7", owner.ID)
	require.Equal(t, "jdoe", owner.PathName)
	require.Equal(t, "J. Doe", owner.DisplayName)
}

func TestGitLabResolveReleaseArchiveURLPassthrough(t *testing.T) {
	f := NewGitLabFactory(GitLabOptions{}, staticTokens{access: "tok"}, testReceiverURL)

	url := "https://gitlab.com/acme/tool/-/archive/v2.0.0/tool-v2.0.0.zip"
	got, err := f.ForUser("user-1").ResolveReleaseArchiveURL(context.Background(), url)
	require.NoError(t, err)
	require.Equal(t, url, got)
}

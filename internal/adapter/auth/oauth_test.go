package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthURL(t *testing.T) {
	p := NewGitHubOAuth("https://github.com", "client-1", "secret", "https://app.example.org/auth/callback")

	raw := p.AuthURL("github:abc123")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "/login/oauth/authorize", u.Path)

	q := u.Query()
	require.Equal(t, "client-1", q.Get("client_id"))
	require.Equal(t, "https://app.example.org/auth/callback", q.Get("redirect_uri"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "github:abc123", q.Get("state"))
	require.Contains(t, q.Get("scope"), "admin:repo_hook")
}

func TestExchangeCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client-1", r.PostForm.Get("client_id"))
		require.Equal(t, "code-xyz", r.PostForm.Get("code"))
		require.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		fmt.Fprint(w, `{"access_token":"token-1","token_type":"bearer"}`)
	}))
	defer server.Close()

	p := NewGitLabOAuth(server.URL, "client-1", "secret", "https://app.example.org/auth/callback")
	token, err := p.ExchangeCode(context.Background(), "code-xyz")
	require.NoError(t, err)
	require.Equal(t, "token-1", token)
}

func TestExchangeCodeProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"bad_verification_code","error_description":"The code is expired."}`)
	}))
	defer server.Close()

	p := NewGitLabOAuth(server.URL, "client-1", "secret", "https://app.example.org/auth/callback")
	_, err := p.ExchangeCode(context.Background(), "stale")
	require.ErrorContains(t, err, "bad_verification_code")
}

func TestExchangeCodeEmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	p := NewGitLabOAuth(server.URL, "client-1", "secret", "https://app.example.org/auth/callback")
	_, err := p.ExchangeCode(context.Background(), "code")
	require.Error(t, err)
}

// Package auth implements the OAuth2 authorization-code flows that mint the
// provider access tokens stored on accounts.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// OAuthProvider is a generic OAuth2 code-exchange client. GitHub and GitLab
// differ only in endpoints and scopes.
type OAuthProvider struct {
	name         string
	authURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	redirectURL  string
	scopes       string
	httpClient   *http.Client
}

// NewGitHubOAuth creates the GitHub OAuth flow against baseURL (github.com or
// an Enterprise host). The hook scope is what lets the service manage release
// webhooks on the user's behalf.
func NewGitHubOAuth(baseURL, clientID, clientSecret, redirectURL string) *OAuthProvider {
	return &OAuthProvider{
		name:         "github",
		authURL:      baseURL + "/login/oauth/authorize",
		tokenURL:     baseURL + "/login/oauth/access_token",
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  redirectURL,
		scopes:       "admin:repo_hook read:org read:user",
		httpClient:   &http.Client{},
	}
}

// NewGitLabOAuth creates the GitLab OAuth flow against baseURL.
func NewGitLabOAuth(baseURL, clientID, clientSecret, redirectURL string) *OAuthProvider {
	return &OAuthProvider{
		name:         "gitlab",
		authURL:      baseURL + "/oauth/authorize",
		tokenURL:     baseURL + "/oauth/token",
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  redirectURL,
		scopes:       "api",
		httpClient:   &http.Client{},
	}
}

// ProviderName returns the provider id of this flow.
func (p *OAuthProvider) ProviderName() string {
	return p.name
}

// AuthURL returns the provider's consent screen URL.
func (p *OAuthProvider) AuthURL(state string) string {
	params := url.Values{
		"client_id":     {p.clientID},
		"redirect_uri":  {p.redirectURL},
		"response_type": {"code"},
		"scope":         {p.scopes},
		"state":         {state},
	}
	return fmt.Sprintf("%s?%s", p.authURL, params.Encode())
}

// ExchangeCode exchanges an authorization code for an access token.
func (p *OAuthProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	data := url.Values{
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {p.redirectURL},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("%s: create token request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: token exchange: %w", p.name, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		Error       string `json:"error"`
		ErrorDesc   string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("%s: decode token response: %w", p.name, err)
	}
	if tokenResp.Error != "" {
		return "", fmt.Errorf("%s: %s: %s", p.name, tokenResp.Error, tokenResp.ErrorDesc)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("%s: token response without access token", p.name)
	}
	return tokenResp.AccessToken, nil
}

package port

import "context"

// AuthProvider abstracts the OAuth2 authorization-code flow of one VCS
// provider. Profile retrieval and token storage happen elsewhere; this
// boundary only turns a consent code into an access token.
type AuthProvider interface {
	// ProviderName returns the provider id this flow belongs to.
	ProviderName() string

	// AuthURL returns the full OAuth2 authorization URL for redirecting the
	// user.
	AuthURL(state string) string

	// ExchangeCode exchanges an authorization code for an access token.
	ExchangeCode(ctx context.Context, code string) (string, error)
}

// AuthProviderRegistry holds the AuthProvider implementations keyed by
// provider id.
type AuthProviderRegistry map[string]AuthProvider

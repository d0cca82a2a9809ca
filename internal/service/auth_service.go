package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arturoeanton/go-release-archiver/internal/domain"
	"github.com/arturoeanton/go-release-archiver/internal/middleware"
	"github.com/arturoeanton/go-release-archiver/internal/port"
	"github.com/arturoeanton/go-release-archiver/pkg/config"
)

// AuthService handles the OAuth login flow: it exchanges the consent code,
// stores the provider access token on the user's account, and issues the JWT
// for the management API.
type AuthService struct {
	providers port.AuthProviderRegistry
	store     port.Store
	vcs       *VCSService
	jwtCfg    middleware.JWTConfig
}

// NewAuthService creates a new authentication service.
func NewAuthService(providers port.AuthProviderRegistry, s port.Store, vcs *VCSService, cfg *config.Config) *AuthService {
	return &AuthService{
		providers: providers,
		store:     s,
		vcs:       vcs,
		jwtCfg: middleware.JWTConfig{
			Secret:    cfg.JWTSecret,
			Issuer:    cfg.JWTIssuer,
			ExpiresIn: time.Duration(cfg.JWTExpiration) * time.Hour,
		},
	}
}

// GetAuthURL returns the OAuth2 authorization URL for the given provider.
func (s *AuthService) GetAuthURL(providerName, state string) (string, error) {
	provider, ok := s.providers[providerName]
	if !ok {
		return "", fmt.Errorf("unknown provider: %s", providerName)
	}
	return provider.AuthURL(state), nil
}

// HandleCallback processes the OAuth2 callback: it exchanges the code,
// resolves or mints the local user for the remote identity, persists the
// access token, initializes the account and returns a JWT.
func (s *AuthService) HandleCallback(ctx context.Context, providerName, code string) (string, *domain.UserContext, error) {
	provider, ok := s.providers[providerName]
	if !ok {
		return "", nil, fmt.Errorf("unknown provider: %s", providerName)
	}
	factory, err := s.vcs.Registry().Get(providerName)
	if err != nil {
		return "", nil, err
	}

	accessToken, err := provider.ExchangeCode(ctx, code)
	if err != nil {
		return "", nil, fmt.Errorf("exchange code: %w", err)
	}

	remote, err := factory.ForAccessToken("", accessToken).GetOwnUser(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("fetch remote identity: %w", err)
	}

	// A returning identity keeps its local user id; a new one gets a stable
	// id derived from the provider identity.
	userID, err := s.store.FindUserByExternalID(ctx, providerName, remote.ID)
	if err != nil {
		return "", nil, err
	}
	if userID == "" {
		userID = fmt.Sprintf("%s-%s", providerName, remote.ID)
	}

	account, err := s.store.GetAccount(ctx, providerName, userID)
	if err != nil {
		return "", nil, err
	}
	if account == nil {
		account = &domain.Account{UserID: userID, Provider: providerName}
	}
	account.AccessToken = accessToken
	if err := s.store.SaveAccount(ctx, account); err != nil {
		return "", nil, err
	}

	// InitAccount mints the webhook token and caches the remote identity now
	// that the token resolves through the store.
	if _, err := s.vcs.InitAccount(ctx, providerName, userID); err != nil {
		return "", nil, err
	}
	if err := s.vcs.Sync(ctx, providerName, userID, true, true); err != nil {
		slog.Warn("initial sync failed", "provider", providerName, "user_id", userID, "error", err)
	}

	uc := &domain.UserContext{UserID: userID, Login: remote.Username, Name: remote.DisplayName}
	jwt, err := middleware.GenerateJWT(uc, s.jwtCfg)
	if err != nil {
		return "", nil, fmt.Errorf("generate jwt: %w", err)
	}

	slog.Info("user authenticated", "user_id", userID, "provider", providerName)
	return jwt, uc, nil
}

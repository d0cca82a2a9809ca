package handler

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/arturoeanton/go-release-archiver/internal/service"
	"github.com/gofiber/fiber/v3"
)

// AuthHandler handles the OAuth2 login endpoints.
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Register sets up auth routes.
func (h *AuthHandler) Register(app *fiber.App) {
	auth := app.Group("/api/auth")
	auth.Get("/:provider/login", h.Login)
	auth.Get("/:provider/callback", h.Callback)

	// Shared callback route — providers that only allow one redirect URI land
	// here. The provider is encoded in the state param as "provider:random".
	app.Get("/auth/callback", h.CallbackDirect)
}

// Login redirects to the OAuth2 provider's consent screen.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	provider := c.Params("provider")
	// Encode the provider into state so CallbackDirect knows who sent us
	state := provider + ":" + generateState()

	authURL, err := h.authService.GetAuthURL(provider, state)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Redirect().To(authURL)
}

// Callback handles the OAuth2 callback from the provider.
func (h *AuthHandler) Callback(c fiber.Ctx) error {
	return h.finishLogin(c, c.Params("provider"))
}

// CallbackDirect handles the shared /auth/callback route.
// Extracts the provider from the state param (format: "provider:randomhex").
func (h *AuthHandler) CallbackDirect(c fiber.Ctx) error {
	provider := ""
	if state := c.Query("state"); state != "" {
		if parts := strings.SplitN(state, ":", 2); len(parts) == 2 {
			provider = parts[0]
		}
	}
	return h.finishLogin(c, provider)
}

func (h *AuthHandler) finishLogin(c fiber.Ctx, provider string) error {
	code := c.Query("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "missing authorization code",
		})
	}

	jwt, user, err := h.authService.HandleCallback(c.Context(), provider, code)
	if err != nil {
		slog.Error("oauth callback failed", "provider", provider, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "authentication failed",
		})
	}

	return c.JSON(fiber.Map{
		"token": jwt,
		"user": fiber.Map{
			"id":    user.UserID,
			"login": user.Login,
			"name":  user.Name,
		},
	})
}

func generateState() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

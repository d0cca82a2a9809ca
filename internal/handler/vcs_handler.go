package handler

import (
	"errors"
	"log/slog"

	"github.com/arturoeanton/go-release-archiver/internal/domain"
	"github.com/arturoeanton/go-release-archiver/internal/middleware"
	"github.com/arturoeanton/go-release-archiver/internal/port"
	"github.com/arturoeanton/go-release-archiver/internal/service"
	"github.com/gofiber/fiber/v3"
)

// VCSHandler exposes the management API: provider vocabulary, account
// lifecycle, synchronization and the per-repository enable/disable flow.
type VCSHandler struct {
	svc *service.VCSService
}

// NewVCSHandler creates the handler.
func NewVCSHandler(svc *service.VCSService) *VCSHandler {
	return &VCSHandler{svc: svc}
}

// Register mounts the management routes on an authenticated router group.
func (h *VCSHandler) Register(r fiber.Router) {
	r.Get("/providers", h.ListProviders)
	r.Post("/:provider/account", h.InitAccount)
	r.Delete("/:provider/account", h.Disconnect)
	r.Post("/:provider/sync", h.Sync)
	r.Get("/:provider/last-sync", h.LastSync)
	r.Get("/:provider/check-sync", h.CheckSync)
	r.Get("/:provider/repositories", h.ListRepositories)
	r.Post("/:provider/repositories/:id/enable", h.EnableRepository)
	r.Post("/:provider/repositories/:id/disable", h.DisableRepository)
	r.Get("/:provider/repositories/:id/releases", h.ListReleases)
	r.Get("/:provider/repositories/:id/releases/latest", h.LatestRelease)
}

func requireUser(c fiber.Ctx) (*domain.UserContext, error) {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return nil, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "missing authorization",
		})
	}
	return uc, nil
}

// fail maps the domain errors onto HTTP statuses.
func fail(c fiber.Ctx, err error) error {
	var status int
	var notFound *port.RepositoryNotFoundError
	var access *port.RepositoryAccessError
	var disabled *port.RepositoryDisabledError
	var noAccount *port.RemoteAccountNotFoundError
	var noData *port.RemoteAccountDataNotSetError
	var noProvider *port.ProviderNotRegisteredError

	switch {
	case errors.As(err, &notFound), errors.As(err, &noAccount), errors.As(err, &noProvider):
		status = fiber.StatusNotFound
	case errors.As(err, &access):
		status = fiber.StatusForbidden
	case errors.As(err, &disabled), errors.As(err, &noData):
		status = fiber.StatusConflict
	default:
		status = fiber.StatusInternalServerError
		slog.Error("request failed", "error", err)
		return c.Status(status).JSON(fiber.Map{"error": "internal error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// ListProviders returns the configured provider vocabulary for the UI.
func (h *VCSHandler) ListProviders(c fiber.Ctx) error {
	type providerInfo struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
		BaseURL     string `json:"base_url"`
		NounSing    string `json:"repository_noun"`
		NounPlural  string `json:"repository_noun_plural"`
	}
	var out []providerInfo
	for _, f := range h.svc.Registry().All() {
		sing, plural := f.RepositoryNoun()
		out = append(out, providerInfo{
			ID:          f.ID(),
			Name:        f.Name(),
			Description: f.Description(),
			Icon:        f.Icon(),
			BaseURL:     f.BaseURL(),
			NounSing:    sing,
			NounPlural:  plural,
		})
	}
	return c.JSON(fiber.Map{"providers": out})
}

// InitAccount sets up the user's provider link and kicks off the first sync.
func (h *VCSHandler) InitAccount(c fiber.Ctx) error {
	uc, err := requireUser(c)
	if uc == nil {
		return err
	}
	provider := c.Params("provider")

	account, err := h.svc.InitAccount(c.Context(), provider, uc.UserID)
	if err != nil {
		return fail(c, err)
	}
	if err := h.svc.Sync(c.Context(), provider, uc.UserID, true, true); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(account)
}

// Disconnect removes the provider link and schedules the remote cleanup.
func (h *VCSHandler) Disconnect(c fiber.Ctx) error {
	uc, err := requireUser(c)
	if uc == nil {
		return err
	}
	if err := h.svc.Disconnect(c.Context(), c.Params("provider"), uc.UserID); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "account disconnected"})
}

// Sync reconciles the user's repositories; hook reconciliation runs in the
// background.
func (h *VCSHandler) Sync(c fiber.Ctx) error {
	uc, err := requireUser(c)
	if uc == nil {
		return err
	}
	if err := h.svc.Sync(c.Context(), c.Params("provider"), uc.UserID, true, true); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "sync started"})
}

// LastSync returns when the account was last synchronized.
func (h *VCSHandler) LastSync(c fiber.Ctx) error {
	uc, err := requireUser(c)
	if uc == nil {
		return err
	}
	last, err := h.svc.LastSyncTime(c.Context(), c.Params("provider"), uc.UserID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"last_sync": last})
}

// CheckSync reports whether the account snapshot is stale.
func (h *VCSHandler) CheckSync(c fiber.Ctx) error {
	uc, err := requireUser(c)
	if uc == nil {
		return err
	}
	stale, err := h.svc.CheckSync(c.Context(), c.Params("provider"), uc.UserID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"sync_needed": stale})
}

// ListRepositories lists the user's repositories; ?enabled=true restricts to
// repositories with an active hook.
func (h *VCSHandler) ListRepositories(c fiber.Ctx) error {
	uc, err := requireUser(c)
	if uc == nil {
		return err
	}
	provider := c.Params("provider")

	var repos []domain.Repository
	if c.Query("enabled") == "true" {
		repos, err = h.svc.EnabledRepositories(c.Context(), provider, uc.UserID)
	} else {
		repos, err = h.svc.AvailableRepositories(c.Context(), provider, uc.UserID)
	}
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"repositories": repos})
}

// EnableRepository installs the release webhook.
func (h *VCSHandler) EnableRepository(c fiber.Ctx) error {
	uc, err := requireUser(c)
	if uc == nil {
		return err
	}
	repo, err := h.svc.EnableRepository(c.Context(), c.Params("provider"), uc.UserID, c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(repo)
}

// DisableRepository removes the release webhook; history is kept.
func (h *VCSHandler) DisableRepository(c fiber.Ctx) error {
	uc, err := requireUser(c)
	if uc == nil {
		return err
	}
	repo, err := h.svc.DisableRepository(c.Context(), c.Params("provider"), uc.UserID, c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(repo)
}

// ListReleases returns a repository's releases in chronological order.
func (h *VCSHandler) ListReleases(c fiber.Ctx) error {
	if uc, err := requireUser(c); uc == nil {
		return err
	}
	releases, err := h.svc.ListReleases(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"releases": releases})
}

// LatestRelease returns the newest release, optionally filtered by
// ?status=D (published), ?status=F (failed), etc.
func (h *VCSHandler) LatestRelease(c fiber.Ctx) error {
	if uc, err := requireUser(c); uc == nil {
		return err
	}
	release, err := h.svc.LatestRelease(c.Context(), c.Params("id"),
		domain.ReleaseStatus(c.Query("status")))
	if err != nil {
		return fail(c, err)
	}
	if release == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": port.ErrReleaseNotFound.Error()})
	}
	return c.JSON(release)
}

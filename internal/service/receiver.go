package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/arturoeanton/go-release-archiver/internal/domain"
	"github.com/arturoeanton/go-release-archiver/internal/port"
)

// Event is one inbound webhook delivery, already attributed to a local user
// by the transport layer via the webhook token.
type Event struct {
	ReceiverID string // provider id the delivery arrived on
	UserID     string
	Payload    []byte
}

// Result is the receiver's verdict on a delivery, expressed as an HTTP-style
// status code so the transport layer maps it one-to-one.
type Result struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Receiver ingests webhook deliveries: it filters non-release events,
// validates the sender, materializes the release row and enqueues its
// processing. Every delivery produces a Result, never a panic.
type Receiver struct {
	store    port.Store
	registry *port.Registry
	tasks    TaskEnqueuer
}

// NewReceiver creates the receiver.
func NewReceiver(s port.Store, registry *port.Registry, tasks TaskEnqueuer) *Receiver {
	return &Receiver{store: s, registry: registry, tasks: tasks}
}

// Process handles one delivery end to end.
//
//	200 event is not a release creation, ignored
//	202 release accepted and queued
//	403 sender cannot be attributed or lacks access
//	404 repository unknown locally
//	409 duplicate release or repository not enabled
//	500 anything unexpected, including malformed payloads
func (r *Receiver) Process(ctx context.Context, event Event) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("webhook processing panicked", "receiver", event.ReceiverID, "panic", rec)
			result = Result{Code: http.StatusInternalServerError, Message: "internal error"}
		}
	}()

	factory, err := r.registry.Get(event.ReceiverID)
	if err != nil {
		slog.Error("webhook for unregistered provider", "receiver", event.ReceiverID)
		return Result{Code: http.StatusInternalServerError, Message: "receiver not configured"}
	}

	if !factory.WebhookIsCreateReleaseEvent(event.Payload) {
		return Result{Code: http.StatusOK, Message: "event ignored"}
	}

	rel, repoData, err := factory.WebhookEventToGeneric(event.Payload)
	if err != nil {
		slog.Error("malformed release event", "receiver", event.ReceiverID, "error", err)
		return Result{Code: http.StatusInternalServerError, Message: "malformed event payload"}
	}

	// Duplicates are rejected before any repository checks so a redelivery
	// stays a 409 even when the repository was disabled in the meantime. The
	// unique constraint at CreateRelease still guards the race between two
	// concurrent deliveries.
	existing, err := r.store.GetRelease(ctx, factory.ID(), rel.ID)
	if err != nil {
		slog.Error("release lookup failed", "receiver", event.ReceiverID, "error", err)
		return Result{Code: http.StatusInternalServerError, Message: "internal error"}
	}
	if existing != nil {
		dup := &port.ReleaseAlreadyReceivedError{Provider: factory.ID(), ProviderID: rel.ID}
		return Result{Code: http.StatusConflict, Message: dup.Error()}
	}

	repo, err := r.store.GetRepository(ctx, factory.ID(), repoData.ID)
	if err != nil {
		slog.Error("repository lookup failed", "receiver", event.ReceiverID, "error", err)
		return Result{Code: http.StatusInternalServerError, Message: "internal error"}
	}
	if repo == nil {
		return Result{
			Code:    http.StatusNotFound,
			Message: (&port.RepositoryNotFoundError{Repo: repoData.FullName}).Error(),
		}
	}
	if !repo.Enabled() {
		return Result{
			Code:    http.StatusConflict,
			Message: (&port.RepositoryDisabledError{Repo: repo.FullName}).Error(),
		}
	}

	if err := r.verifySender(ctx, factory.ID(), event.UserID, repo); err != nil {
		slog.Warn("webhook sender rejected",
			"receiver", event.ReceiverID, "user_id", event.UserID, "repo", repo.FullName)
		return Result{Code: http.StatusForbidden, Message: err.Error()}
	}

	release := &domain.Release{
		Provider:     factory.ID(),
		ProviderID:   rel.ID,
		Tag:          rel.TagName,
		Status:       domain.ReleaseReceived,
		RepositoryID: repo.ID,
		EventPayload: event.Payload,
	}
	if err := r.store.CreateRelease(ctx, release); err != nil {
		var dup *port.ReleaseAlreadyReceivedError
		if errors.As(err, &dup) {
			return Result{Code: http.StatusConflict, Message: dup.Error()}
		}
		slog.Error("release creation failed", "receiver", event.ReceiverID, "error", err)
		return Result{Code: http.StatusInternalServerError, Message: "internal error"}
	}

	r.tasks.EnqueueProcessRelease(factory.ID(), release.ProviderID)
	slog.Info("release accepted",
		"provider", factory.ID(), "repo", repo.FullName, "tag", release.Tag)
	return Result{
		Code:    http.StatusAccepted,
		Message: fmt.Sprintf("release %s accepted", release.Tag),
	}
}

// verifySender checks that the attributed user may deliver events for the
// repository: the last sync snapshot lists it, or the user enabled it.
func (r *Receiver) verifySender(ctx context.Context, provider, userID string, repo *domain.Repository) error {
	if userID == "" {
		return &port.InvalidSenderError{Receiver: provider}
	}
	if repo.EnabledByUser == userID {
		return nil
	}
	account, err := r.store.GetAccount(ctx, provider, userID)
	if err != nil || account == nil {
		return &port.InvalidSenderError{Receiver: provider}
	}
	if repo.ProviderID != "" {
		if _, ok := account.Data.Repos[repo.ProviderID]; ok {
			return nil
		}
	}
	return &port.InvalidSenderError{Receiver: provider}
}

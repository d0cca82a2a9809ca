package handler

import (
	"log/slog"

	"github.com/arturoeanton/go-release-archiver/internal/port"
	"github.com/arturoeanton/go-release-archiver/internal/service"
	"github.com/gofiber/fiber/v3"
)

// WebhookHandler terminates inbound webhook deliveries. The receiver id in
// the path is the provider id; the access_token query parameter carries the
// per-account webhook token that attributes the delivery to a user.
type WebhookHandler struct {
	accounts port.AccountStore
	receiver *service.Receiver
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(accounts port.AccountStore, receiver *service.Receiver) *WebhookHandler {
	return &WebhookHandler{accounts: accounts, receiver: receiver}
}

// Register mounts the receiver endpoint. It is deliberately outside the JWT
// surface: providers authenticate with the webhook token instead.
func (h *WebhookHandler) Register(app *fiber.App) {
	app.Post("/api/receivers/:receiver_id/events", h.HandleEvent)
}

// HandleEvent processes one delivery and maps the receiver's verdict straight
// onto the HTTP status.
func (h *WebhookHandler) HandleEvent(c fiber.Ctx) error {
	receiverID := c.Params("receiver_id")
	token := c.Query("access_token")
	if token == "" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"message": "missing access token",
		})
	}

	account, err := h.accounts.GetAccountByWebhookToken(c.Context(), receiverID, token)
	if err != nil {
		slog.Error("webhook token lookup failed", "receiver", receiverID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "internal error",
		})
	}
	if account == nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"message": (&port.InvalidSenderError{Receiver: receiverID}).Error(),
		})
	}

	// Fiber reuses the request buffer after the handler returns; the payload
	// outlives this request inside the release row.
	payload := append([]byte(nil), c.Body()...)

	result := h.receiver.Process(c.Context(), service.Event{
		ReceiverID: receiverID,
		UserID:     account.UserID,
		Payload:    payload,
	})
	return c.Status(result.Code).JSON(result)
}

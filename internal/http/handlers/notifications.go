package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking/internal/notify"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// Inbox is the per-account view of stored notifications.
type Inbox interface {
	ListForRecipient(ctx context.Context, recipientID uuid.UUID) ([]notify.Notification, error)
	Get(ctx context.Context, id, recipientID uuid.UUID) (*notify.Notification, error)
	ToggleRead(ctx context.Context, id, recipientID uuid.UUID) (*notify.Notification, error)
	Delete(ctx context.Context, id, recipientID uuid.UUID) error
}

// SocketServer attaches a websocket to an account's room.
type SocketServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, accountID uuid.UUID)
}

type NotificationsHandler struct {
	inbox  Inbox
	hub    SocketServer
	logger *logging.Logger
}

func NewNotificationsHandler(inbox Inbox, hub SocketServer, logger *logging.Logger) *NotificationsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &NotificationsHandler{inbox: inbox, hub: hub, logger: logger}
}

// List returns the caller's notifications, newest first.
// GET /api/v1/notifications/my-notifications
func (h *NotificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	items, err := h.inbox.ListForRecipient(r.Context(), caller.AccountID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, "Notifications retrieved successfully", items)
}

// GET /api/v1/notifications/my-notifications/{notificationID}
func (h *NotificationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.withOwned(w, r, func(ctx context.Context, id, owner uuid.UUID) {
		n, err := h.inbox.Get(ctx, id, owner)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		writeData(w, http.StatusOK, "Notification retrieved successfully", n)
	})
}

// PATCH /api/v1/notifications/toggle-read-unread/{notificationID}
func (h *NotificationsHandler) ToggleRead(w http.ResponseWriter, r *http.Request) {
	h.withOwned(w, r, func(ctx context.Context, id, owner uuid.UUID) {
		n, err := h.inbox.ToggleRead(ctx, id, owner)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		writeData(w, http.StatusOK, "Notification updated successfully", n)
	})
}

// DELETE /api/v1/notifications/delete-notification/{notificationID}
func (h *NotificationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.withOwned(w, r, func(ctx context.Context, id, owner uuid.UUID) {
		if err := h.inbox.Delete(ctx, id, owner); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		writeData(w, http.StatusOK, "Notification deleted successfully", nil)
	})
}

// Socket upgrades to a websocket that receives the caller's pushes.
// GET /ws/notifications
func (h *NotificationsHandler) Socket(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	if h.hub == nil {
		jsonError(w, "live notifications unavailable", http.StatusServiceUnavailable)
		return
	}
	h.hub.ServeWS(w, r, caller.AccountID)
}

func (h *NotificationsHandler) withOwned(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id, owner uuid.UUID)) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, err := pathUUID(r, "notificationID")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	fn(r.Context(), id, caller.AccountID)
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking/internal/apperr"
	"github.com/wolfman30/clinic-booking/internal/directory"
	"github.com/wolfman30/clinic-booking/internal/notify"
)

type memoryInbox struct {
	items []notify.Notification
}

func (m *memoryInbox) ListForRecipient(_ context.Context, recipientID uuid.UUID) ([]notify.Notification, error) {
	out := []notify.Notification{}
	for _, n := range m.items {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memoryInbox) find(id, recipientID uuid.UUID) int {
	for i, n := range m.items {
		if n.ID == id && n.RecipientID == recipientID {
			return i
		}
	}
	return -1
}

func (m *memoryInbox) Get(_ context.Context, id, recipientID uuid.UUID) (*notify.Notification, error) {
	i := m.find(id, recipientID)
	if i < 0 {
		return nil, apperr.NotFound("notification")
	}
	n := m.items[i]
	return &n, nil
}

func (m *memoryInbox) ToggleRead(_ context.Context, id, recipientID uuid.UUID) (*notify.Notification, error) {
	i := m.find(id, recipientID)
	if i < 0 {
		return nil, apperr.NotFound("notification")
	}
	m.items[i].IsRead = !m.items[i].IsRead
	n := m.items[i]
	return &n, nil
}

func (m *memoryInbox) Delete(_ context.Context, id, recipientID uuid.UUID) error {
	i := m.find(id, recipientID)
	if i < 0 {
		return apperr.NotFound("notification")
	}
	m.items = append(m.items[:i], m.items[i+1:]...)
	return nil
}

type stubHub struct {
	accountID uuid.UUID
}

func (s *stubHub) ServeWS(_ http.ResponseWriter, _ *http.Request, accountID uuid.UUID) {
	s.accountID = accountID
}

func notificationsRouter(h *NotificationsHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/my-notifications", h.List)
	r.Get("/my-notifications/{notificationID}", h.Get)
	r.Patch("/toggle-read-unread/{notificationID}", h.ToggleRead)
	r.Delete("/delete-notification/{notificationID}", h.Delete)
	r.Get("/ws", h.Socket)
	return r
}

func TestNotificationInbox(t *testing.T) {
	req, caller := withCaller(httptest.NewRequest(http.MethodGet, "/my-notifications", nil), directory.RolePatient)
	mine := notify.Notification{ID: uuid.New(), Title: "Payment Pending", RecipientID: caller.AccountID}
	theirs := notify.Notification{ID: uuid.New(), Title: "New Appointment", RecipientID: uuid.New()}
	inbox := &memoryInbox{items: []notify.Notification{mine, theirs}}
	router := notificationsRouter(NewNotificationsHandler(inbox, nil, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []notify.Notification `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, mine.ID, list.Data[0].ID)

	send := func(method, path string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(method, path, nil)
		r = r.WithContext(req.Context())
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)
		return rec
	}

	assert.Equal(t, http.StatusOK, send(http.MethodGet, "/my-notifications/"+mine.ID.String()).Code)
	assert.Equal(t, http.StatusNotFound, send(http.MethodGet, "/my-notifications/"+theirs.ID.String()).Code)
	assert.Equal(t, http.StatusBadRequest, send(http.MethodGet, "/my-notifications/not-a-uuid").Code)

	assert.Equal(t, http.StatusOK, send(http.MethodPatch, "/toggle-read-unread/"+mine.ID.String()).Code)
	assert.True(t, inbox.items[0].IsRead)
	assert.Equal(t, http.StatusNotFound, send(http.MethodPatch, "/toggle-read-unread/"+theirs.ID.String()).Code)

	assert.Equal(t, http.StatusNotFound, send(http.MethodDelete, "/delete-notification/"+theirs.ID.String()).Code)
	assert.Equal(t, http.StatusOK, send(http.MethodDelete, "/delete-notification/"+mine.ID.String()).Code)
	assert.Len(t, inbox.items, 1)
}

func TestNotificationInboxRequiresCaller(t *testing.T) {
	rec := httptest.NewRecorder()
	notificationsRouter(NewNotificationsHandler(&memoryInbox{}, nil, nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/my-notifications", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNotificationSocket(t *testing.T) {
	hub := &stubHub{}
	req, caller := withCaller(httptest.NewRequest(http.MethodGet, "/ws", nil), directory.RoleDoctor)
	rec := httptest.NewRecorder()
	notificationsRouter(NewNotificationsHandler(&memoryInbox{}, hub, nil)).ServeHTTP(rec, req)

	assert.Equal(t, caller.AccountID, hub.accountID)

	rec = httptest.NewRecorder()
	req, _ = withCaller(httptest.NewRequest(http.MethodGet, "/ws", nil), directory.RoleDoctor)
	notificationsRouter(NewNotificationsHandler(&memoryInbox{}, nil, nil)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

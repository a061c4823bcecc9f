package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/clinic-booking/pkg/logging"
)

const writeTimeout = 10 * time.Second

// Hub tracks live websocket connections grouped by account id and pushes
// events to every connection of an account.
type Hub struct {
	logger *logging.Logger

	mu    sync.RWMutex
	rooms map[uuid.UUID]map[*socket]struct{}
}

type socket struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *socket) send(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return websocket.JSON.Send(s.conn, event)
}

func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		logger: logger,
		rooms:  make(map[uuid.UUID]map[*socket]struct{}),
	}
}

// ServeWS upgrades the request and keeps the connection in the account's
// room until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, accountID uuid.UUID) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serve(conn, accountID)
	}).ServeHTTP(w, r)
}

func (h *Hub) serve(conn *websocket.Conn, accountID uuid.UUID) {
	s := &socket{conn: conn}
	h.join(accountID, s)
	defer h.leave(accountID, s)

	h.logger.Debug("notify: socket joined", "account_id", accountID)

	// Inbound frames are ignored; reading only detects disconnects.
	for {
		var discard string
		if err := websocket.Message.Receive(conn, &discard); err != nil {
			h.logger.Debug("notify: socket closed", "account_id", accountID, "error", err)
			return
		}
	}
}

func (h *Hub) join(accountID uuid.UUID, s *socket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[accountID]
	if !ok {
		room = make(map[*socket]struct{})
		h.rooms[accountID] = room
	}
	room[s] = struct{}{}
}

func (h *Hub) leave(accountID uuid.UUID, s *socket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[accountID]
	if !ok {
		return
	}
	delete(room, s)
	if len(room) == 0 {
		delete(h.rooms, accountID)
	}
}

// Connections reports how many sockets the account holds.
func (h *Hub) Connections(accountID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[accountID])
}

// Publish sends the event to every socket in the account's room. Accounts
// with no live socket are skipped silently. A socket that fails to accept
// the write is closed and dropped.
func (h *Hub) Publish(_ context.Context, recipientID uuid.UUID, event Event) error {
	h.mu.RLock()
	targets := make([]*socket, 0, len(h.rooms[recipientID]))
	for s := range h.rooms[recipientID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.send(event); err != nil {
			h.logger.Warn("notify: dropping socket", "account_id", recipientID, "error", err)
			h.leave(recipientID, s)
			_ = s.conn.Close()
		}
	}
	return nil
}

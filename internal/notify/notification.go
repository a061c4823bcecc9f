// Package notify builds, stores and delivers appointment notifications.
package notify

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking/internal/directory"
)

// EventNewNotification is the push event name clients listen for.
const EventNewNotification = "newNotification"

// Notification is a persisted inbox entry for one account.
type Notification struct {
	ID            uuid.UUID      `json:"id"`
	Title         string         `json:"title"`
	Content       string         `json:"content"`
	RecipientID   uuid.UUID      `json:"recipient_id"`
	RecipientType directory.Role `json:"recipient_type"`
	Slug          string         `json:"slug"`
	IsRead        bool           `json:"is_read"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Event is the payload pushed to live connections.
type Event struct {
	Name         string       `json:"event"`
	Notification Notification `json:"data"`
	// RecipientEmail lets the email mirror reach the account; never sent to sockets.
	RecipientEmail string `json:"-"`
}

// Message pairs a stored notification with where to deliver it.
type Message struct {
	Notification   Notification
	RecipientEmail string
}

// Event converts the message into its push payload.
func (m Message) Event() Event {
	return Event{
		Name:           EventNewNotification,
		Notification:   m.Notification,
		RecipientEmail: m.RecipientEmail,
	}
}

// Notifications extracts the records to persist.
func Notifications(msgs []Message) []Notification {
	out := make([]Notification, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Notification)
	}
	return out
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

var isoSeparators = strings.NewReplacer(":", "-", ".", "-")

// Slug lowercases title, collapses every run of non alphanumerics into one
// hyphen, trims edge hyphens and appends the UTC timestamp of now with
// colons and dots turned into hyphens.
func Slug(title string, now time.Time) string {
	base := nonSlugChars.ReplaceAllString(strings.ToLower(title), "-")
	base = strings.Trim(base, "-")
	stamp := isoSeparators.Replace(now.UTC().Format("2006-01-02T15:04:05.000Z"))
	return base + "-" + stamp
}

// FormatDateTime renders t like "Tuesday, January 28, 2025 at 02:00 PM" in loc.
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("Monday, January 2, 2006 at 03:04 PM")
}

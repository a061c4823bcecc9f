package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/clinic-booking/internal/apperr"
	"github.com/wolfman30/clinic-booking/internal/directory"
	"github.com/wolfman30/clinic-booking/internal/store"
)

// Store persists notifications and serves the per-account inbox.
type Store struct {
	db store.Querier
}

func NewStore(db store.Querier) *Store {
	if db == nil {
		panic("notify: querier required")
	}
	return &Store{db: db}
}

const notificationColumns = `id, title, content, recipient_id, recipient_type, slug, is_read, created_at`

// InsertBatch writes all notifications with a single multi-row INSERT.
func (s *Store) InsertBatch(ctx context.Context, q store.Querier, items []Notification) error {
	if len(items) == 0 {
		return nil
	}
	if q == nil {
		q = s.db
	}
	const perRow = 8
	values := make([]string, 0, len(items))
	args := make([]any, 0, len(items)*perRow)
	for i, n := range items {
		base := i * perRow
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		args = append(args, n.ID, n.Title, n.Content, n.RecipientID, string(n.RecipientType), n.Slug, n.IsRead, n.CreatedAt)
	}
	query := `INSERT INTO notifications (` + notificationColumns + `) VALUES ` + strings.Join(values, ", ")
	if _, err := q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("notify: insert notifications: %w", err)
	}
	return nil
}

// ListForRecipient returns the account's notifications, newest first.
func (s *Store) ListForRecipient(ctx context.Context, recipientID uuid.UUID) ([]Notification, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
	`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("notify: list notifications: %w", err)
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("notify: scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// Get returns one notification owned by recipientID.
func (s *Store) Get(ctx context.Context, id, recipientID uuid.UUID) (*Notification, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE id = $1 AND recipient_id = $2
	`, id, recipientID)
	n, err := scanNotification(row)
	if err != nil {
		return nil, notFoundOr(err, "notify: load notification")
	}
	return n, nil
}

// ToggleRead flips the read flag and returns the updated notification.
func (s *Store) ToggleRead(ctx context.Context, id, recipientID uuid.UUID) (*Notification, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE notifications
		SET is_read = NOT is_read
		WHERE id = $1 AND recipient_id = $2
		RETURNING `+notificationColumns, id, recipientID)
	n, err := scanNotification(row)
	if err != nil {
		return nil, notFoundOr(err, "notify: toggle read")
	}
	return n, nil
}

// Delete removes one notification owned by recipientID.
func (s *Store) Delete(ctx context.Context, id, recipientID uuid.UUID) error {
	ct, err := s.db.Exec(ctx, `DELETE FROM notifications WHERE id = $1 AND recipient_id = $2`, id, recipientID)
	if err != nil {
		return fmt.Errorf("notify: delete notification: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("notification")
	}
	return nil
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var (
		n             Notification
		recipientType string
	)
	if err := row.Scan(&n.ID, &n.Title, &n.Content, &n.RecipientID, &recipientType, &n.Slug, &n.IsRead, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.RecipientType = directory.Role(recipientType)
	return &n, nil
}

func notFoundOr(err error, action string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("notification")
	}
	return fmt.Errorf("%s: %w", action, err)
}

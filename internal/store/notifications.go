package store

import (
	"chatcord-backend/internal/models"
	"context"
	"database/sql"
	"fmt"
)

const DefaultNotificationLimit = 20

const notificationColumns = "id, user_id, kind, related_user_id, related_message_id, content, read_at, created_at"

func scanNotification(row interface{ Scan(...any) error }) (models.Notification, error) {
	var n models.Notification
	var relatedUser sql.NullString
	var relatedMessage, readAt sql.NullInt64
	var createdAt int64

	err := row.Scan(&n.ID, &n.UserID, &n.Kind, &relatedUser, &relatedMessage, &n.Content, &readAt, &createdAt)
	if err != nil {
		return n, err
	}

	n.RelatedUserID = relatedUser.String
	n.RelatedMessageID = relatedMessage.Int64
	n.ReadAt = nullTime(readAt)
	n.CreatedAt = fromMillis(createdAt)
	return n, nil
}

func (s *Store) CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error) {
	if !n.Kind.Valid() {
		return n, fmt.Errorf("notification type %q: %w", n.Kind, ErrInvalid)
	}

	n.ID = s.ids.Generate()
	n.CreatedAt = fromMillis(toMillis(s.now()))
	n.ReadAt = nil

	_, err := s.db.ExecContext(ctx, "INSERT INTO notifications ("+notificationColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		n.ID, n.UserID, n.Kind, nullString(n.RelatedUserID), nullID(n.RelatedMessageID), n.Content, nil, toMillis(n.CreatedAt))
	if err != nil {
		return n, err
	}
	return n, nil
}

// ListNotifications returns the newest notifications of userID.
func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = DefaultNotificationLimit
	}

	rows, err := s.db.QueryContext(ctx, "SELECT "+notificationColumns+" FROM notifications WHERE user_id = ? ORDER BY id DESC LIMIT ?", userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (s *Store) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read_at IS NULL", userID).Scan(&count)
	return count, err
}

// MarkNotificationRead marks a single notification of userID as read.
// Marking an already read notification keeps its first read time.
func (s *Store) MarkNotificationRead(ctx context.Context, userID string, notificationID int64) (models.Notification, error) {
	n, err := s.ownNotification(ctx, userID, notificationID)
	if err != nil {
		return n, err
	}

	_, err = s.db.ExecContext(ctx, "UPDATE notifications SET read_at = ? WHERE id = ? AND user_id = ? AND read_at IS NULL",
		toMillis(s.now()), notificationID, userID)
	if err != nil {
		return n, err
	}

	return s.ownNotification(ctx, userID, notificationID)
}

// MarkAllNotificationsRead marks every unread notification of userID as read
// and returns them with their new read time.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string) ([]models.Notification, error) {
	readAt := fromMillis(toMillis(s.now()))
	changed := []models.Notification{}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT "+notificationColumns+" FROM notifications WHERE user_id = ? AND read_at IS NULL ORDER BY id", userID)
		if err != nil {
			return err
		}
		for rows.Next() {
			n, err := scanNotification(rows)
			if err != nil {
				rows.Close()
				return err
			}
			n.ReadAt = &readAt
			changed = append(changed, n)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, "UPDATE notifications SET read_at = ? WHERE user_id = ? AND read_at IS NULL", toMillis(readAt), userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

func (s *Store) DeleteNotification(ctx context.Context, userID string, notificationID int64) error {
	if _, err := s.ownNotification(ctx, userID, notificationID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, "DELETE FROM notifications WHERE id = ? AND user_id = ?", notificationID, userID)
	return err
}

// ownNotification reports someone else's notification as forbidden rather than missing.
func (s *Store) ownNotification(ctx context.Context, userID string, notificationID int64) (models.Notification, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+notificationColumns+" FROM notifications WHERE id = ?", notificationID)
	n, err := scanNotification(row)
	if err != nil {
		return n, notFound(err, "notification")
	}
	if n.UserID != userID {
		return models.Notification{}, fmt.Errorf("notification %d belongs to another user: %w", notificationID, ErrForbidden)
	}
	return n, nil
}

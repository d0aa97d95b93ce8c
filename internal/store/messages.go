package store

import (
	"chatcord-backend/internal/models"
	"context"
	"database/sql"
	"fmt"

	"github.com/samber/lo"
)

const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 100
)

// scanMessage reads a message row followed by the author columns.
func scanMessage(row interface{ Scan(...any) error }) (models.Message, error) {
	var m models.Message
	var editedAt, deletedAt sql.NullInt64
	var createdAt int64

	var u models.User
	var userCreatedAt, userUpdatedAt int64

	err := row.Scan(&m.ID, &m.ChannelID, &m.UserID, &m.Content, &editedAt, &deletedAt, &createdAt,
		&u.ID, &u.Username, &u.Email, &u.AvatarURL, &u.Status, &u.StatusMessage, &userCreatedAt, &userUpdatedAt)
	if err != nil {
		return m, err
	}

	m.EditedAt = nullTime(editedAt)
	m.DeletedAt = nullTime(deletedAt)
	m.CreatedAt = fromMillis(createdAt)

	u.CreatedAt = fromMillis(userCreatedAt)
	u.UpdatedAt = fromMillis(userUpdatedAt)
	u.Email = ""
	m.User = &u

	return m, nil
}

const messageSelect = `
	SELECT messages.id, messages.channel_id, messages.user_id, messages.content,
		messages.edited_at, messages.deleted_at, messages.created_at, ` + userColumns + `
	FROM messages
	JOIN users ON users.id = messages.user_id`

// ListMessages returns a page of the channel's messages that aren't deleted.
// The page is picked newest first and returned oldest first.
func (s *Store) ListMessages(ctx context.Context, userID string, channelID int64, limit int, offset int) ([]models.Message, error) {
	if _, err := s.ChannelAccess(ctx, channelID, userID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultMessageLimit
	} else if limit > MaxMessageLimit {
		limit = MaxMessageLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, messageSelect+`
		WHERE messages.channel_id = ? AND messages.deleted_at IS NULL
		ORDER BY messages.id DESC
		LIMIT ? OFFSET ?`, channelID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return lo.Reverse(messages), nil
}

func (s *Store) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	row := s.db.QueryRowContext(ctx, messageSelect+" WHERE messages.id = ? AND messages.deleted_at IS NULL", messageID)
	m, err := scanMessage(row)
	return m, notFound(err, "message")
}

// CreateMessage inserts a message from userID, who has to be a member of the
// channel's server. The returned channel is the one the message was posted to.
func (s *Store) CreateMessage(ctx context.Context, userID string, channelID int64, content string) (models.Message, models.Channel, error) {
	if content == "" {
		return models.Message{}, models.Channel{}, fmt.Errorf("message content is empty: %w", ErrInvalid)
	}

	ch, err := s.ChannelAccess(ctx, channelID, userID)
	if err != nil {
		return models.Message{}, ch, err
	}

	id := s.ids.Generate()
	now := toMillis(s.now())

	_, err = s.db.ExecContext(ctx, "INSERT INTO messages (id, channel_id, user_id, content, created_at) VALUES (?, ?, ?, ?, ?)",
		id, channelID, userID, content, now)
	if err != nil {
		return models.Message{}, ch, err
	}

	m, err := s.GetMessage(ctx, id)
	return m, ch, err
}

// EditMessage replaces the content of a message. Only the author may edit.
func (s *Store) EditMessage(ctx context.Context, userID string, messageID int64, content string) (models.Message, error) {
	if content == "" {
		return models.Message{}, fmt.Errorf("message content is empty: %w", ErrInvalid)
	}

	m, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return m, err
	}
	if m.UserID != userID {
		return m, fmt.Errorf("user %s isn't the author of message %d: %w", userID, messageID, ErrForbidden)
	}

	_, err = s.db.ExecContext(ctx, "UPDATE messages SET content = ?, edited_at = ? WHERE id = ? AND deleted_at IS NULL",
		content, toMillis(s.now()), messageID)
	if err != nil {
		return m, err
	}

	return s.GetMessage(ctx, messageID)
}

// DeleteMessage soft deletes a message. The author and the server owner may delete.
func (s *Store) DeleteMessage(ctx context.Context, userID string, messageID int64) (models.Message, error) {
	m, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return m, err
	}

	if m.UserID != userID {
		ch, err := s.GetChannel(ctx, m.ChannelID)
		if err != nil {
			return m, err
		}
		owner, err := s.IsOwner(ctx, ch.ServerID, userID)
		if err != nil {
			return m, err
		}
		if !owner {
			return m, fmt.Errorf("user %s can't delete message %d: %w", userID, messageID, ErrForbidden)
		}
	}

	deletedAt := fromMillis(toMillis(s.now()))
	res, err := s.db.ExecContext(ctx, "UPDATE messages SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL", toMillis(deletedAt), messageID)
	if err != nil {
		return m, err
	}
	if err := expectRow(res, "message"); err != nil {
		return m, err
	}

	m.DeletedAt = &deletedAt
	return m, nil
}

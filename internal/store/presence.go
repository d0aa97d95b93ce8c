package store

import (
	"chatcord-backend/internal/models"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

func scanPresence(row interface{ Scan(...any) error }) (models.Presence, error) {
	var p models.Presence
	var channelID sql.NullInt64
	var lastSeen int64
	if err := row.Scan(&p.UserID, &p.Status, &channelID, &lastSeen); err != nil {
		return p, err
	}
	p.ChannelID = channelID.Int64
	p.LastSeen = fromMillis(lastSeen)
	return p, nil
}

const presenceSelect = `
	SELECT user_presence.user_id, users.status, user_presence.channel_id, user_presence.last_seen
	FROM user_presence
	JOIN users ON users.id = user_presence.user_id`

// UpdatePresence writes the status in users and the presence row together.
// Concurrent writers race and the last one wins. A nil statusMessage keeps the current one.
func (s *Store) UpdatePresence(ctx context.Context, userID string, status models.UserStatus, channelID int64, statusMessage *string) (models.Presence, error) {
	if !status.Valid() {
		return models.Presence{}, fmt.Errorf("status %q: %w", status, ErrInvalid)
	}

	now := toMillis(s.now())
	query := s.upsert("user_presence", "user_id",
		[]string{"user_id", "channel_id", "last_seen"},
		[]string{"channel_id", "last_seen"},
	)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var res sql.Result
		var err error
		if statusMessage != nil {
			res, err = tx.ExecContext(ctx, "UPDATE users SET status = ?, status_message = ?, updated_at = ? WHERE id = ?", status, *statusMessage, now, userID)
		} else {
			res, err = tx.ExecContext(ctx, "UPDATE users SET status = ?, updated_at = ? WHERE id = ?", status, now, userID)
		}
		if err != nil {
			return err
		}
		if err := expectRow(res, "user"); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, query, userID, nullID(channelID), now)
		return err
	})
	if err != nil {
		return models.Presence{}, err
	}

	return models.Presence{
		UserID:    userID,
		Status:    status,
		ChannelID: channelID,
		LastSeen:  fromMillis(now),
	}, nil
}

// TouchPresence refreshes last_seen without changing the status.
func (s *Store) TouchPresence(ctx context.Context, userID string) error {
	query := s.upsert("user_presence", "user_id",
		[]string{"user_id", "last_seen"},
		[]string{"last_seen"},
	)
	_, err := s.db.ExecContext(ctx, query, userID, toMillis(s.now()))
	return err
}

func (s *Store) GetPresence(ctx context.Context, userID string) (models.Presence, error) {
	row := s.db.QueryRowContext(ctx, presenceSelect+" WHERE user_presence.user_id = ?", userID)
	p, err := scanPresence(row)
	return p, notFound(err, "presence")
}

// ListPresence returns the presence of every user that shares a server with userID, userID included.
func (s *Store) ListPresence(ctx context.Context, userID string) ([]models.Presence, error) {
	rows, err := s.db.QueryContext(ctx, presenceSelect+`
		WHERE user_presence.user_id = ? OR user_presence.user_id IN (
			SELECT others.user_id FROM server_members others
			JOIN server_members mine ON mine.server_id = others.server_id
			WHERE mine.user_id = ?
		)
		ORDER BY user_presence.user_id`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	presence := []models.Presence{}
	for rows.Next() {
		p, err := scanPresence(rows)
		if err != nil {
			return nil, err
		}
		presence = append(presence, p)
	}
	return presence, rows.Err()
}

// ExpirePresence sets every user that isn't offline and was last seen before
// cutoff to offline, and returns their ids.
func (s *Store) ExpirePresence(ctx context.Context, cutoff time.Time) ([]string, error) {
	var expired []string

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT users.id FROM users
			JOIN user_presence ON user_presence.user_id = users.id
			WHERE users.status <> ? AND user_presence.last_seen < ?`, models.StatusOffline, toMillis(cutoff))
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			expired = append(expired, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if len(expired) == 0 {
			return nil
		}

		args := make([]any, 0, len(expired)+2)
		args = append(args, models.StatusOffline, toMillis(s.now()))
		for _, id := range expired {
			args = append(args, id)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(expired)), ", ")

		_, err = tx.ExecContext(ctx, "UPDATE users SET status = ?, updated_at = ? WHERE id IN ("+placeholders+")", args...)
		return err
	})
	if err != nil {
		return nil, err
	}

	return expired, nil
}

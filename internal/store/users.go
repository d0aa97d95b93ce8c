package store

import (
	"chatcord-backend/internal/models"
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const userColumns = "users.id, users.username, users.email, users.avatar_url, users.status, users.status_message, users.created_at, users.updated_at"

func scanUser(row interface{ Scan(...any) error }) (models.User, error) {
	var u models.User
	var createdAt, updatedAt int64
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.AvatarURL, &u.Status, &u.StatusMessage, &createdAt, &updatedAt)
	if err != nil {
		return u, err
	}
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}

// UpsertUser creates or refreshes the identity fields of a user synced from
// the auth provider. Status of an existing user is left alone.
func (s *Store) UpsertUser(ctx context.Context, u models.User) (models.User, error) {
	if u.ID == "" || u.Username == "" {
		return u, fmt.Errorf("user id and username are required: %w", ErrInvalid)
	}

	now := toMillis(s.now())
	query := s.upsert("users",
		"id",
		[]string{"id", "username", "email", "avatar_url", "status", "status_message", "created_at", "updated_at"},
		[]string{"username", "email", "avatar_url", "updated_at"},
	)

	_, err := s.db.ExecContext(ctx, query, u.ID, u.Username, u.Email, u.AvatarURL, models.StatusOffline, "", now, now)
	if err != nil {
		return u, err
	}

	return s.GetUser(ctx, u.ID)
}

func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", userID)
	if err != nil {
		return err
	}
	return expectRow(res, "user")
}

func (s *Store) GetUser(ctx context.Context, userID string) (models.User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", userID)
	u, err := scanUser(row)
	return u, notFound(err, "user")
}

func (s *Store) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", userID).Scan(&exists)
	return exists, err
}

func (s *Store) UpdateProfile(ctx context.Context, userID string, username string, statusMessage string) (models.User, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET username = ?, status_message = ?, updated_at = ? WHERE id = ?",
		username, statusMessage, toMillis(s.now()), userID)
	if err != nil {
		return models.User{}, err
	}
	if err := expectRow(res, "user"); err != nil {
		return models.User{}, err
	}
	return s.GetUser(ctx, userID)
}

// MembersByUsername returns members of serverID whose username is in usernames,
// compared case-insensitively.
func (s *Store) MembersByUsername(ctx context.Context, serverID int64, usernames []string) ([]models.User, error) {
	if len(usernames) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(usernames)+1)
	args = append(args, serverID)
	for _, name := range usernames {
		args = append(args, strings.ToLower(name))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(usernames)), ", ")

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		JOIN server_members ON server_members.user_id = users.id
		WHERE server_members.server_id = ? AND LOWER(users.username) IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanUsers(rows)
}

func scanUsers(rows *sql.Rows) ([]models.User, error) {
	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

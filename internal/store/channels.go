package store

import (
	"chatcord-backend/internal/models"
	"context"
	"fmt"
)

const channelColumns = "id, server_id, name, description, kind, is_private, created_by, created_at, updated_at"

func scanChannel(row interface{ Scan(...any) error }) (models.Channel, error) {
	var ch models.Channel
	var createdAt, updatedAt int64
	err := row.Scan(&ch.ID, &ch.ServerID, &ch.Name, &ch.Description, &ch.Kind, &ch.IsPrivate, &ch.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return ch, err
	}
	ch.CreatedAt = fromMillis(createdAt)
	ch.UpdatedAt = fromMillis(updatedAt)
	return ch, nil
}

func insertChannel(ctx context.Context, q querier, ch models.Channel) error {
	_, err := q.ExecContext(ctx, "INSERT INTO channels ("+channelColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		ch.ID, ch.ServerID, ch.Name, ch.Description, ch.Kind, ch.IsPrivate, ch.CreatedBy, toMillis(ch.CreatedAt), toMillis(ch.UpdatedAt))
	return err
}

func (s *Store) CreateChannel(ctx context.Context, userID string, serverID int64, name string, description string, kind models.ChannelKind, isPrivate bool) (models.Channel, error) {
	if !kind.Valid() {
		return models.Channel{}, fmt.Errorf("channel type %q: %w", kind, ErrInvalid)
	}

	if err := s.requireOwner(ctx, s.db, userID, serverID); err != nil {
		return models.Channel{}, err
	}

	now := fromMillis(toMillis(s.now()))
	ch := models.Channel{
		ID:          s.ids.Generate(),
		ServerID:    serverID,
		Name:        name,
		Description: description,
		Kind:        kind,
		IsPrivate:   isPrivate,
		CreatedBy:   userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := insertChannel(ctx, s.db, ch); err != nil {
		return models.Channel{}, err
	}
	return ch, nil
}

func (s *Store) GetChannel(ctx context.Context, channelID int64) (models.Channel, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+channelColumns+" FROM channels WHERE id = ?", channelID)
	ch, err := scanChannel(row)
	return ch, notFound(err, "channel")
}

func (s *Store) ListChannels(ctx context.Context, serverID int64) ([]models.Channel, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+channelColumns+" FROM channels WHERE server_id = ? ORDER BY id", serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	channels := []models.Channel{}
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// UpdateChannel changes the mutable fields of a channel; the server it belongs to never changes.
func (s *Store) UpdateChannel(ctx context.Context, userID string, channelID int64, name string, description string, isPrivate bool) (models.Channel, error) {
	ch, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return ch, err
	}
	if err := s.requireOwner(ctx, s.db, userID, ch.ServerID); err != nil {
		return ch, err
	}

	_, err = s.db.ExecContext(ctx, "UPDATE channels SET name = ?, description = ?, is_private = ?, updated_at = ? WHERE id = ?",
		name, description, isPrivate, toMillis(s.now()), channelID)
	if err != nil {
		return ch, err
	}

	return s.GetChannel(ctx, channelID)
}

func (s *Store) DeleteChannel(ctx context.Context, userID string, channelID int64) (models.Channel, error) {
	ch, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return ch, err
	}
	if err := s.requireOwner(ctx, s.db, userID, ch.ServerID); err != nil {
		return ch, err
	}

	_, err = s.db.ExecContext(ctx, "DELETE FROM channels WHERE id = ?", channelID)
	return ch, err
}

// ChannelAccess returns the channel if userID is a member of its server.
func (s *Store) ChannelAccess(ctx context.Context, channelID int64, userID string) (models.Channel, error) {
	return channelAccess(ctx, s.db, channelID, userID)
}

func channelAccess(ctx context.Context, q querier, channelID int64, userID string) (models.Channel, error) {
	row := q.QueryRowContext(ctx, "SELECT "+channelColumns+" FROM channels WHERE id = ?", channelID)
	ch, err := scanChannel(row)
	if err != nil {
		return ch, notFound(err, "channel")
	}

	member, err := isMember(ctx, q, ch.ServerID, userID)
	if err != nil {
		return ch, err
	}
	if !member {
		return ch, fmt.Errorf("user %s isn't a member of server %d: %w", userID, ch.ServerID, ErrForbidden)
	}
	return ch, nil
}

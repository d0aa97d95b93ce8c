package store

import (
	"chatcord-backend/internal/models"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const DefaultChannelName = "general"

const serverColumns = "servers.id, servers.name, servers.description, servers.icon_url, servers.owner_id, servers.created_at, servers.updated_at"

func scanServer(row interface{ Scan(...any) error }, extra ...any) (models.Server, error) {
	var srv models.Server
	var createdAt, updatedAt int64
	dest := append([]any{&srv.ID, &srv.Name, &srv.Description, &srv.IconURL, &srv.OwnerID, &createdAt, &updatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return srv, err
	}
	srv.CreatedAt = fromMillis(createdAt)
	srv.UpdatedAt = fromMillis(updatedAt)
	return srv, nil
}

// CreateServer inserts the server, its default text channel and the owner
// membership in one transaction, so a failure leaves nothing behind.
func (s *Store) CreateServer(ctx context.Context, ownerID string, name string, description string, iconURL string) (models.Server, error) {
	now := s.now()

	srv := models.Server{
		ID:          s.ids.Generate(),
		Name:        name,
		Description: description,
		IconURL:     iconURL,
		OwnerID:     ownerID,
		CreatedAt:   fromMillis(toMillis(now)),
		UpdatedAt:   fromMillis(toMillis(now)),
		MemberCount: 1,
	}

	general := models.Channel{
		ID:        s.ids.Generate(),
		ServerID:  srv.ID,
		Name:      DefaultChannelName,
		Kind:      models.ChannelText,
		IsPrivate: false,
		CreatedBy: ownerID,
		CreatedAt: srv.CreatedAt,
		UpdatedAt: srv.CreatedAt,
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO servers (id, owner_id, name, description, icon_url, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			srv.ID, srv.OwnerID, srv.Name, srv.Description, srv.IconURL, toMillis(now), toMillis(now))
		if err != nil {
			return fmt.Errorf("insert server: %w", err)
		}

		if err := insertChannel(ctx, tx, general); err != nil {
			return fmt.Errorf("insert default channel: %w", err)
		}

		if err := insertMember(ctx, tx, srv.ID, ownerID, models.RoleOwner, now.UnixMilli()); err != nil {
			return fmt.Errorf("insert owner membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Server{}, err
	}

	srv.Channels = []models.Channel{general}
	return srv, nil
}

// ListServers returns every server userID owns or is a member of, oldest first,
// with member counts and channel summaries.
func (s *Store) ListServers(ctx context.Context, userID string) ([]models.Server, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+serverColumns+`,
			(SELECT COUNT(*) FROM server_members m WHERE m.server_id = servers.id)
		FROM servers
		WHERE servers.owner_id = ?
			OR EXISTS(SELECT 1 FROM server_members m WHERE m.server_id = servers.id AND m.user_id = ?)
		ORDER BY servers.id`, userID, userID)
	if err != nil {
		return nil, err
	}

	servers := []models.Server{}
	for rows.Next() {
		var count int
		srv, err := scanServer(rows, &count)
		if err != nil {
			rows.Close()
			return nil, err
		}
		srv.MemberCount = count
		srv.Channels = []models.Channel{}
		servers = append(servers, srv)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(servers) == 0 {
		return servers, nil
	}

	index := make(map[int64]int, len(servers))
	args := make([]any, len(servers))
	for i, srv := range servers {
		index[srv.ID] = i
		args[i] = srv.ID
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(servers)), ", ")

	channelRows, err := s.db.QueryContext(ctx, "SELECT "+channelColumns+" FROM channels WHERE server_id IN ("+placeholders+") ORDER BY id", args...)
	if err != nil {
		return nil, err
	}
	defer channelRows.Close()

	for channelRows.Next() {
		ch, err := scanChannel(channelRows)
		if err != nil {
			return nil, err
		}
		i := index[ch.ServerID]
		servers[i].Channels = append(servers[i].Channels, ch)
	}

	return servers, channelRows.Err()
}

func (s *Store) GetServer(ctx context.Context, serverID int64) (models.Server, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+serverColumns+`,
			(SELECT COUNT(*) FROM server_members m WHERE m.server_id = servers.id)
		FROM servers WHERE id = ?`, serverID)

	var count int
	srv, err := scanServer(row, &count)
	if err != nil {
		return srv, notFound(err, "server")
	}
	srv.MemberCount = count

	srv.Channels, err = s.ListChannels(ctx, serverID)
	return srv, err
}

func (s *Store) UpdateServer(ctx context.Context, userID string, serverID int64, name string, description string, iconURL string) (models.Server, error) {
	if err := s.requireOwner(ctx, s.db, userID, serverID); err != nil {
		return models.Server{}, err
	}

	_, err := s.db.ExecContext(ctx, "UPDATE servers SET name = ?, description = ?, icon_url = ?, updated_at = ? WHERE id = ?",
		name, description, iconURL, toMillis(s.now()), serverID)
	if err != nil {
		return models.Server{}, err
	}

	return s.GetServer(ctx, serverID)
}

func (s *Store) DeleteServer(ctx context.Context, userID string, serverID int64) error {
	if err := s.requireOwner(ctx, s.db, userID, serverID); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM servers WHERE id = ? AND owner_id = ?", serverID, userID)
	if err != nil {
		return err
	}
	return expectRow(res, "server")
}

func (s *Store) JoinServer(ctx context.Context, serverID int64, userID string) (models.ServerMember, error) {
	joinedAt := toMillis(s.now())
	member := models.ServerMember{
		ServerID: serverID,
		UserID:   userID,
		Role:     models.RoleMember,
		JoinedAt: fromMillis(joinedAt),
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM servers WHERE id = ?)", serverID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("server: %w", ErrNotFound)
		}

		already, err := isMember(ctx, tx, serverID, userID)
		if err != nil {
			return err
		}
		if already {
			return fmt.Errorf("already a member: %w", ErrConflict)
		}

		return insertMember(ctx, tx, serverID, userID, models.RoleMember, joinedAt)
	})
	if err != nil {
		return models.ServerMember{}, err
	}

	return member, nil
}

// LeaveServer removes a membership. Owners can't leave their own server.
func (s *Store) LeaveServer(ctx context.Context, serverID int64, userID string) error {
	var role models.MemberRole
	err := s.db.QueryRowContext(ctx, "SELECT role FROM server_members WHERE server_id = ? AND user_id = ?", serverID, userID).Scan(&role)
	if err != nil {
		return notFound(err, "membership")
	}
	if role == models.RoleOwner {
		return fmt.Errorf("owner can't leave the server: %w", ErrForbidden)
	}

	_, err = s.db.ExecContext(ctx, "DELETE FROM server_members WHERE server_id = ? AND user_id = ?", serverID, userID)
	return err
}

func (s *Store) ListMembers(ctx context.Context, serverID int64) ([]models.ServerMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT server_members.role, server_members.joined_at, `+userColumns+`
		FROM server_members
		JOIN users ON users.id = server_members.user_id
		WHERE server_members.server_id = ?
		ORDER BY server_members.joined_at, users.id`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []models.ServerMember{}
	for rows.Next() {
		var m models.ServerMember
		var joinedAt, createdAt, updatedAt int64
		var u models.User
		err := rows.Scan(&m.Role, &joinedAt, &u.ID, &u.Username, &u.Email, &u.AvatarURL, &u.Status, &u.StatusMessage, &createdAt, &updatedAt)
		if err != nil {
			return nil, err
		}
		u.CreatedAt = fromMillis(createdAt)
		u.UpdatedAt = fromMillis(updatedAt)
		u.Email = ""

		m.ServerID = serverID
		m.UserID = u.ID
		m.JoinedAt = fromMillis(joinedAt)
		m.User = &u
		members = append(members, m)
	}

	return members, rows.Err()
}

// MemberIDs returns the user ids of every member of serverID.
func (s *Store) MemberIDs(ctx context.Context, serverID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT user_id FROM server_members WHERE server_id = ?", serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ServerIDsOf returns the ids of every server userID is a member of.
func (s *Store) ServerIDsOf(ctx context.Context, userID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT server_id FROM server_members WHERE user_id = ?", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) IsMember(ctx context.Context, serverID int64, userID string) (bool, error) {
	return isMember(ctx, s.db, serverID, userID)
}

func (s *Store) IsOwner(ctx context.Context, serverID int64, userID string) (bool, error) {
	return isOwner(ctx, s.db, serverID, userID)
}

func isMember(ctx context.Context, q querier, serverID int64, userID string) (bool, error) {
	var member bool
	err := q.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM server_members WHERE server_id = ? AND user_id = ?)", serverID, userID).Scan(&member)
	return member, err
}

func isOwner(ctx context.Context, q querier, serverID int64, userID string) (bool, error) {
	var ownsServer bool
	err := q.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM servers WHERE id = ? AND owner_id = ?)", serverID, userID).Scan(&ownsServer)
	return ownsServer, err
}

// requireOwner tells a missing server apart from one the user doesn't own.
func (s *Store) requireOwner(ctx context.Context, q querier, userID string, serverID int64) error {
	var ownerID string
	err := q.QueryRowContext(ctx, "SELECT owner_id FROM servers WHERE id = ?", serverID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("server: %w", ErrNotFound)
	} else if err != nil {
		return err
	}
	if ownerID != userID {
		return fmt.Errorf("user %s doesn't own server %d: %w", userID, serverID, ErrForbidden)
	}
	return nil
}

func insertMember(ctx context.Context, q querier, serverID int64, userID string, role models.MemberRole, joinedAt int64) error {
	_, err := q.ExecContext(ctx, "INSERT INTO server_members (server_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)", serverID, userID, role, joinedAt)
	return err
}

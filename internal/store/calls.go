package store

import (
	"chatcord-backend/internal/models"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const voiceColumns = "id, channel_id, user_id, session_token, started_at, ended_at"
const videoColumns = "id, channel_id, initiator_id, session_token, started_at, ended_at"
const participantColumns = "id, video_session_id, user_id, joined_at, left_at"

func scanVoiceSession(row interface{ Scan(...any) error }) (models.VoiceSession, error) {
	var v models.VoiceSession
	var startedAt int64
	var endedAt sql.NullInt64
	if err := row.Scan(&v.ID, &v.ChannelID, &v.UserID, &v.SessionToken, &startedAt, &endedAt); err != nil {
		return v, err
	}
	v.StartedAt = fromMillis(startedAt)
	v.EndedAt = nullTime(endedAt)
	return v, nil
}

func scanVideoSession(row interface{ Scan(...any) error }) (models.VideoSession, error) {
	var v models.VideoSession
	var startedAt int64
	var endedAt sql.NullInt64
	if err := row.Scan(&v.ID, &v.ChannelID, &v.InitiatorID, &v.SessionToken, &startedAt, &endedAt); err != nil {
		return v, err
	}
	v.StartedAt = fromMillis(startedAt)
	v.EndedAt = nullTime(endedAt)
	return v, nil
}

func scanParticipant(row interface{ Scan(...any) error }) (models.VideoParticipant, error) {
	var p models.VideoParticipant
	var joinedAt int64
	var leftAt sql.NullInt64
	if err := row.Scan(&p.ID, &p.VideoSessionID, &p.UserID, &joinedAt, &leftAt); err != nil {
		return p, err
	}
	p.JoinedAt = fromMillis(joinedAt)
	p.LeftAt = nullTime(leftAt)
	return p, nil
}

func requireKind(ch models.Channel, kind models.ChannelKind) error {
	if ch.Kind != kind {
		return fmt.Errorf("channel %d is a %s channel, not %s: %w", ch.ID, ch.Kind, kind, ErrInvalid)
	}
	return nil
}

// StartVoiceSession opens a voice session for userID in a voice channel.
// If the user already has an open session there, that one is returned.
func (s *Store) StartVoiceSession(ctx context.Context, userID string, channelID int64) (models.VoiceSession, models.Channel, error) {
	ch, err := s.ChannelAccess(ctx, channelID, userID)
	if err != nil {
		return models.VoiceSession{}, ch, err
	}
	if err := requireKind(ch, models.ChannelVoice); err != nil {
		return models.VoiceSession{}, ch, err
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+voiceColumns+" FROM voice_sessions WHERE channel_id = ? AND user_id = ? AND ended_at IS NULL", channelID, userID)
	existing, err := scanVoiceSession(row)
	if err == nil {
		return existing, ch, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return existing, ch, err
	}

	v := models.VoiceSession{
		ID:           s.ids.Generate(),
		ChannelID:    channelID,
		UserID:       userID,
		SessionToken: uuid.NewString(),
		StartedAt:    fromMillis(toMillis(s.now())),
	}

	_, err = s.db.ExecContext(ctx, "INSERT INTO voice_sessions ("+voiceColumns+") VALUES (?, ?, ?, ?, ?, NULL)",
		v.ID, v.ChannelID, v.UserID, v.SessionToken, toMillis(v.StartedAt))
	if err != nil {
		return models.VoiceSession{}, ch, err
	}
	return v, ch, nil
}

// EndVoiceSession closes one of userID's own voice sessions.
func (s *Store) EndVoiceSession(ctx context.Context, userID string, sessionID int64) (models.VoiceSession, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+voiceColumns+" FROM voice_sessions WHERE id = ?", sessionID)
	v, err := scanVoiceSession(row)
	if err != nil {
		return v, notFound(err, "voice session")
	}
	if v.UserID != userID {
		return v, fmt.Errorf("voice session %d belongs to another user: %w", sessionID, ErrForbidden)
	}
	if v.EndedAt != nil {
		return v, nil
	}

	endedAt := fromMillis(toMillis(s.now()))
	_, err = s.db.ExecContext(ctx, "UPDATE voice_sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL", toMillis(endedAt), sessionID)
	if err != nil {
		return v, err
	}
	v.EndedAt = &endedAt
	return v, nil
}

func (s *Store) ActiveVoiceSessions(ctx context.Context, channelID int64) ([]models.VoiceSession, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+voiceColumns+" FROM voice_sessions WHERE channel_id = ? AND ended_at IS NULL ORDER BY id", channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []models.VoiceSession{}
	for rows.Next() {
		v, err := scanVoiceSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, v)
	}
	return sessions, rows.Err()
}

// StartVideoSession opens a video session with userID as initiator and first
// participant. A channel has at most one ongoing video session.
func (s *Store) StartVideoSession(ctx context.Context, userID string, channelID int64) (models.VideoSession, models.VideoParticipant, models.Channel, error) {
	var session models.VideoSession
	var participant models.VideoParticipant

	ch, err := s.ChannelAccess(ctx, channelID, userID)
	if err != nil {
		return session, participant, ch, err
	}
	if err := requireKind(ch, models.ChannelVideo); err != nil {
		return session, participant, ch, err
	}

	startedAt := toMillis(s.now())
	session = models.VideoSession{
		ID:           s.ids.Generate(),
		ChannelID:    channelID,
		InitiatorID:  userID,
		SessionToken: uuid.NewString(),
		StartedAt:    fromMillis(startedAt),
	}
	participant = models.VideoParticipant{
		ID:             s.ids.Generate(),
		VideoSessionID: session.ID,
		UserID:         userID,
		JoinedAt:       fromMillis(startedAt),
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var ongoing bool
		err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM video_sessions WHERE channel_id = ? AND ended_at IS NULL)", channelID).Scan(&ongoing)
		if err != nil {
			return err
		}
		if ongoing {
			return fmt.Errorf("channel %d already has a video call: %w", channelID, ErrConflict)
		}

		_, err = tx.ExecContext(ctx, "INSERT INTO video_sessions ("+videoColumns+") VALUES (?, ?, ?, ?, ?, NULL)",
			session.ID, session.ChannelID, session.InitiatorID, session.SessionToken, startedAt)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, "INSERT INTO video_participants ("+participantColumns+") VALUES (?, ?, ?, ?, NULL)",
			participant.ID, participant.VideoSessionID, participant.UserID, startedAt)
		return err
	})
	if err != nil {
		return models.VideoSession{}, models.VideoParticipant{}, ch, err
	}

	return session, participant, ch, nil
}

func (s *Store) GetVideoSession(ctx context.Context, sessionID int64) (models.VideoSession, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+videoColumns+" FROM video_sessions WHERE id = ?", sessionID)
	v, err := scanVideoSession(row)
	return v, notFound(err, "video session")
}

// VideoSessionAccess returns the session and its channel if userID may see it.
func (s *Store) VideoSessionAccess(ctx context.Context, userID string, sessionID int64) (models.VideoSession, models.Channel, error) {
	v, err := s.GetVideoSession(ctx, sessionID)
	if err != nil {
		return v, models.Channel{}, err
	}
	ch, err := s.ChannelAccess(ctx, v.ChannelID, userID)
	return v, ch, err
}

// JoinVideoSession adds userID to an ongoing session, or returns the
// participation they already have.
func (s *Store) JoinVideoSession(ctx context.Context, userID string, sessionID int64) (models.VideoParticipant, models.VideoSession, error) {
	var p models.VideoParticipant

	v, _, err := s.VideoSessionAccess(ctx, userID, sessionID)
	if err != nil {
		return p, v, err
	}
	if v.EndedAt != nil {
		return p, v, fmt.Errorf("video session %d has ended: %w", sessionID, ErrConflict)
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+participantColumns+" FROM video_participants WHERE video_session_id = ? AND user_id = ? AND left_at IS NULL", sessionID, userID)
	p, err = scanParticipant(row)
	if err == nil {
		return p, v, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return p, v, err
	}

	p = models.VideoParticipant{
		ID:             s.ids.Generate(),
		VideoSessionID: sessionID,
		UserID:         userID,
		JoinedAt:       fromMillis(toMillis(s.now())),
	}
	_, err = s.db.ExecContext(ctx, "INSERT INTO video_participants ("+participantColumns+") VALUES (?, ?, ?, ?, NULL)",
		p.ID, p.VideoSessionID, p.UserID, toMillis(p.JoinedAt))
	if err != nil {
		return models.VideoParticipant{}, v, err
	}
	return p, v, nil
}

func (s *Store) LeaveVideoSession(ctx context.Context, userID string, sessionID int64) (models.VideoSession, error) {
	v, err := s.GetVideoSession(ctx, sessionID)
	if err != nil {
		return v, err
	}

	res, err := s.db.ExecContext(ctx, "UPDATE video_participants SET left_at = ? WHERE video_session_id = ? AND user_id = ? AND left_at IS NULL",
		toMillis(s.now()), sessionID, userID)
	if err != nil {
		return v, err
	}
	return v, expectRow(res, "video participant")
}

// EndVideoSession ends the session and marks every participant as left.
// The initiator and the owner of the channel's server may end a call.
func (s *Store) EndVideoSession(ctx context.Context, userID string, sessionID int64) (models.VideoSession, error) {
	v, err := s.GetVideoSession(ctx, sessionID)
	if err != nil {
		return v, err
	}
	if v.EndedAt != nil {
		return v, nil
	}

	if v.InitiatorID != userID {
		ch, err := s.GetChannel(ctx, v.ChannelID)
		if err != nil {
			return v, err
		}
		owner, err := s.IsOwner(ctx, ch.ServerID, userID)
		if err != nil {
			return v, err
		}
		if !owner {
			return v, fmt.Errorf("user %s can't end video session %d: %w", userID, sessionID, ErrForbidden)
		}
	}

	endedAt := toMillis(s.now())
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE video_participants SET left_at = ? WHERE video_session_id = ? AND left_at IS NULL", endedAt, sessionID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "UPDATE video_sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL", endedAt, sessionID)
		return err
	})
	if err != nil {
		return v, err
	}

	ended := fromMillis(endedAt)
	v.EndedAt = &ended
	return v, nil
}

// ListVideoParticipants returns the participants that haven't left yet.
func (s *Store) ListVideoParticipants(ctx context.Context, sessionID int64) ([]models.VideoParticipant, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+participantColumns+" FROM video_participants WHERE video_session_id = ? AND left_at IS NULL ORDER BY id", sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := []models.VideoParticipant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

package calls

import (
	"chatcord-backend/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
)

const (
	defaultTokenTTL     = time.Hour
	defaultEmptyTimeout = 5 * 60 // seconds
)

// Provider is the media side of a call. This service only keeps track of
// sessions and hands out join tokens.
type Provider interface {
	CreateRoom(ctx context.Context, room string) error
	DeleteRoom(ctx context.Context, room string) error
	RemoveParticipant(ctx context.Context, room string, identity string) error
	Token(room string, user models.User, admin bool) (string, error)
}

func VoiceRoom(channelID int64) string {
	return fmt.Sprintf("voice-%d", channelID)
}

func VideoRoom(sessionID int64) string {
	return fmt.Sprintf("video-%d", sessionID)
}

type LiveKit struct {
	rooms     *lksdk.RoomServiceClient
	apiKey    string
	apiSecret string
	tokenTTL  time.Duration
	maxUsers  uint32
}

// NewLiveKit returns nil when calling isn't configured.
func NewLiveKit(cfg *models.ConfigFile) *LiveKit {
	if cfg.LiveKitURL == "" || cfg.LiveKitAPIKey == "" || cfg.LiveKitAPISecret == "" {
		return nil
	}

	host := cfg.LiveKitURL
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}

	ttl := cfg.CallTokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	return &LiveKit{
		rooms:     lksdk.NewRoomServiceClient(host, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret),
		apiKey:    cfg.LiveKitAPIKey,
		apiSecret: cfg.LiveKitAPISecret,
		tokenTTL:  ttl,
		maxUsers:  cfg.CallMaxUsers,
	}
}

func (lk *LiveKit) CreateRoom(ctx context.Context, room string) error {
	_, err := lk.rooms.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:            room,
		EmptyTimeout:    defaultEmptyTimeout,
		MaxParticipants: lk.maxUsers,
	})
	if err != nil {
		return fmt.Errorf("remote livekit error: %w", err)
	}
	return nil
}

func (lk *LiveKit) DeleteRoom(ctx context.Context, room string) error {
	_, err := lk.rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: room})
	return err
}

func (lk *LiveKit) RemoveParticipant(ctx context.Context, room string, identity string) error {
	_, err := lk.rooms.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{
		Room:     room,
		Identity: identity,
	})
	return err
}

// Token grants user access to room.
func (lk *LiveKit) Token(room string, user models.User, admin bool) (string, error) {
	grant := &auth.VideoGrant{
		Room:      room,
		RoomJoin:  true,
		RoomAdmin: admin,
	}

	user.Email = ""
	metadata, err := json.Marshal(user)
	if err != nil {
		return "", err
	}

	tk := auth.NewAccessToken(lk.apiKey, lk.apiSecret)
	tk.AddGrant(grant).
		SetIdentity(user.ID).
		SetName(user.Username).
		SetMetadata(string(metadata)).
		SetValidFor(lk.tokenTTL)

	return tk.ToJWT()
}

package calls

import (
	"chatcord-backend/internal/models"
	"strings"
	"testing"
	"time"

	"github.com/livekit/protocol/auth"
)

func TestNewLiveKitUnconfigured(t *testing.T) {
	if lk := NewLiveKit(&models.ConfigFile{LiveKitURL: "livekit.example.com"}); lk != nil {
		t.Error("expected no provider without api credentials")
	}
}

func TestToken(t *testing.T) {
	lk := NewLiveKit(&models.ConfigFile{
		LiveKitURL:       "livekit.example.com",
		LiveKitAPIKey:    "key",
		LiveKitAPISecret: "a-secret-that-is-long-enough-for-hmac",
		CallTokenTTL:     10 * time.Minute,
	})
	if lk == nil {
		t.Fatal("expected a provider")
	}

	tests := []struct {
		name  string
		room  string
		admin bool
	}{
		{"participant", VoiceRoom(12), false},
		{"initiator", VideoRoom(34), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := lk.Token(tt.room, models.User{ID: "user_1", Username: "gopher", Email: "hidden@example.com"}, tt.admin)
			if err != nil {
				t.Fatal(err)
			}

			verifier, err := auth.ParseAPIToken(token)
			if err != nil {
				t.Fatal(err)
			}
			grants, err := verifier.Verify("a-secret-that-is-long-enough-for-hmac")
			if err != nil {
				t.Fatal(err)
			}

			if grants.Identity != "user_1" || grants.Name != "gopher" {
				t.Errorf("unexpected identity %q name %q", grants.Identity, grants.Name)
			}
			if grants.Video == nil || grants.Video.Room != tt.room || !grants.Video.RoomJoin || grants.Video.RoomAdmin != tt.admin {
				t.Errorf("unexpected grant %+v", grants.Video)
			}
			if grants.Metadata == "" || strings.Contains(grants.Metadata, "hidden@") {
				t.Errorf("metadata should carry the user without email, got %q", grants.Metadata)
			}
		})
	}
}

func TestRoomNames(t *testing.T) {
	if got := VoiceRoom(5); got != "voice-5" {
		t.Errorf("voice room got %q", got)
	}
	if got := VideoRoom(9); got != "video-9" {
		t.Errorf("video room got %q", got)
	}
}

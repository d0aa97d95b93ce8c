package models

import "time"

type UserStatus string

const (
	StatusOnline       UserStatus = "online"
	StatusIdle         UserStatus = "idle"
	StatusDoNotDisturb UserStatus = "do_not_disturb"
	StatusOffline      UserStatus = "offline"
)

func (s UserStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusIdle, StatusDoNotDisturb, StatusOffline:
		return true
	}
	return false
}

type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleMember MemberRole = "member"
)

type ChannelKind string

const (
	ChannelText  ChannelKind = "text"
	ChannelVoice ChannelKind = "voice"
	ChannelVideo ChannelKind = "video"
)

func (k ChannelKind) Valid() bool {
	switch k {
	case ChannelText, ChannelVoice, ChannelVideo:
		return true
	}
	return false
}

type NotificationKind string

const (
	NotifyMessage     NotificationKind = "message"
	NotifyMention     NotificationKind = "mention"
	NotifyCallInvite  NotificationKind = "call_invite"
	NotifyUserOnline  NotificationKind = "user_online"
	NotifyUserOffline NotificationKind = "user_offline"
)

func (k NotificationKind) Valid() bool {
	switch k {
	case NotifyMessage, NotifyMention, NotifyCallInvite, NotifyUserOnline, NotifyUserOffline:
		return true
	}
	return false
}

// User ids come from the auth provider, every other id is a snowflake.
type User struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email,omitempty"`
	AvatarURL     string     `json:"avatar_url"`
	Status        UserStatus `json:"status"`
	StatusMessage string     `json:"status_message"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type Server struct {
	ID          int64     `json:"id,string"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IconURL     string    `json:"icon_url"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	MemberCount int       `json:"member_count,omitempty"`
	Channels    []Channel `json:"channels,omitempty"`
}

type ServerMember struct {
	ServerID int64      `json:"server_id,string"`
	UserID   string     `json:"user_id"`
	Role     MemberRole `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
	User     *User      `json:"user,omitempty"`
}

type Channel struct {
	ID          int64       `json:"id,string"`
	ServerID    int64       `json:"server_id,string"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Kind        ChannelKind `json:"type"`
	IsPrivate   bool        `json:"is_private"`
	CreatedBy   string      `json:"created_by"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type Message struct {
	ID        int64      `json:"id,string"`
	ChannelID int64      `json:"channel_id,string"`
	UserID    string     `json:"user_id"`
	Content   string     `json:"content"`
	EditedAt  *time.Time `json:"edited_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	User      *User      `json:"user,omitempty"`
}

type Notification struct {
	ID               int64            `json:"id,string"`
	UserID           string           `json:"user_id"`
	Kind             NotificationKind `json:"type"`
	RelatedUserID    string           `json:"related_user_id,omitempty"`
	RelatedMessageID int64            `json:"related_message_id,string,omitempty"`
	Content          string           `json:"content"`
	ReadAt           *time.Time       `json:"read_at"`
	CreatedAt        time.Time        `json:"created_at"`
}

type Presence struct {
	UserID    string     `json:"user_id"`
	Status    UserStatus `json:"status"`
	ChannelID int64      `json:"channel_id,string,omitempty"`
	LastSeen  time.Time  `json:"last_seen"`
}

type VoiceSession struct {
	ID           int64      `json:"id,string"`
	ChannelID    int64      `json:"channel_id,string"`
	UserID       string     `json:"user_id"`
	SessionToken string     `json:"session_token"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at"`
}

type VideoSession struct {
	ID           int64      `json:"id,string"`
	ChannelID    int64      `json:"channel_id,string"`
	InitiatorID  string     `json:"initiator_id"`
	SessionToken string     `json:"session_token"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at"`
}

type VideoParticipant struct {
	ID             int64      `json:"id,string"`
	VideoSessionID int64      `json:"video_session_id,string"`
	UserID         string     `json:"user_id"`
	JoinedAt       time.Time  `json:"joined_at"`
	LeftAt         *time.Time `json:"left_at"`
}

type ConfigFile struct {
	Address           string
	Port              string
	BehindNginx       bool
	TlsCert           string
	TlsKey            string
	Cors              bool
	PrintHttpRequests bool
	LogToFile         bool
	LogLevel          string
	SnowflakeWorkerID int64
	SelfContained     bool
	DbPath            string
	DbUser            string
	DbPassword        string
	DbAddress         string
	DbPort            string
	DbDatabase        string
	RedisAddress      string
	RedisPassword     string
	RedisDB           int
	AuthSecret        string
	AuthPublicKey     string
	WebhookSecret     string
	LiveKitURL        string
	LiveKitAPIKey     string
	LiveKitAPISecret  string
	CallTokenTTL      time.Duration
	CallMaxUsers      uint32
	PresenceTTL       time.Duration
	MessageRateLimit  string
}

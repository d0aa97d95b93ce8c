package hub

const (
	ServerDeleted  = "ServerDeleted"
	ServerModified = "ServerModified"

	ChannelCreated  = "ChannelCreated"
	ChannelDeleted  = "ChannelDeleted"
	ChannelModified = "ChannelModified"

	MessageCreated  = "MessageCreated"
	MessageDeleted  = "MessageDeleted"
	MessageModified = "MessageModified"

	MemberJoined   = "MemberJoined"
	MemberLeft     = "MemberLeft"
	MemberStatus   = "MemberStatus"
	MemberModified = "MemberModified"

	NotificationCreated  = "NotificationCreated"
	NotificationModified = "NotificationModified"
	NotificationDeleted  = "NotificationDeleted"

	PresenceChanged = "PresenceChanged"

	VoiceJoined  = "VoiceJoined"
	VoiceLeft    = "VoiceLeft"
	VideoStarted = "VideoStarted"
	VideoEnded   = "VideoEnded"
)

// Heartbeat is the only frame a client sends.
const Heartbeat = "Heartbeat"

// topic kinds
const (
	KindChannel       = "channel"
	KindServer        = "server"
	KindServerList    = "serverList"
	KindNotifications = "notifications"
	KindPresence      = "presence"
)

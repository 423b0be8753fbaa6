package gateway

import "encoding/json"

type EventName = string

const (
	EventReady             EventName = "READY"
	EventResumed           EventName = "RESUMED"
	EventMessageCreate     EventName = "MESSAGE_CREATE"
	EventInteractionCreate EventName = "INTERACTION_CREATE"
	EventGuildCreate       EventName = "GUILD_CREATE"
	EventGuildMembersChunk EventName = "GUILD_MEMBERS_CHUNK"
)

// RawFrame is one inbound gateway payload with its data still encoded.
type RawFrame struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  int64           `json:"s,omitempty"`
	T  EventName       `json:"t,omitempty"`
}

// Frame is one outbound gateway payload.
type Frame struct {
	Op Opcode      `json:"op"`
	D  interface{} `json:"d,omitempty"`
}

type HelloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type IdentifyProperties struct {
	Os      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type IdentifyData struct {
	Token      string             `json:"token"`
	Intents    Intent             `json:"intents"`
	Shard      [2]int             `json:"shard"`
	Properties IdentifyProperties `json:"properties"`
	Presence   *PresenceUpdate    `json:"presence,omitempty"`
}

type ResumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

type ReadyData struct {
	Version          int    `json:"v"`
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}

type InvalidSessionData bool

type Activity struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	URL  string `json:"url,omitempty"`
}

type PresenceUpdate struct {
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     string     `json:"status"`
	AFK        bool       `json:"afk"`
}

type RequestGuildMembersData struct {
	GuildID   string   `json:"guild_id"`
	Query     *string  `json:"query,omitempty"`
	Limit     int      `json:"limit"`
	Presences bool     `json:"presences,omitempty"`
	UserIDs   []string `json:"user_ids,omitempty"`
	Nonce     string   `json:"nonce,omitempty"`
}

type VoiceStateUpdateData struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

// Event is a decoded dispatch handed to the application. Data is passed
// through untouched; the core does not interpret payload schema.
type Event struct {
	ShardID  int
	Sequence int64
	Name     EventName
	Data     json.RawMessage
}

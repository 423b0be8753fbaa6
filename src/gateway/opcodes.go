package gateway

import "errors"

// https://discord.com/developers/docs/events/gateway#message-content-intent
type Intent = uint64

const (
	IntentGuilds                      Intent = 1 << 0
	IntentGuildMembers                Intent = 1 << 1
	IntentGuildModeration             Intent = 1 << 2
	IntentGuildExpressions            Intent = 1 << 3
	IntentGuildIntegrations           Intent = 1 << 4
	IntentGuildWebhooks               Intent = 1 << 5
	IntentGuildInvites                Intent = 1 << 6
	IntentGuildVoiceStates            Intent = 1 << 7
	IntentGuildPresences              Intent = 1 << 8
	IntentGuildMessages               Intent = 1 << 9
	IntentGuildMessageReactions       Intent = 1 << 10
	IntentGuildMessageTyping          Intent = 1 << 11
	IntentDirectMessages              Intent = 1 << 12
	IntentDirectMessageReactions      Intent = 1 << 13
	IntentDirectMessageTyping         Intent = 1 << 14
	IntentMessageContent              Intent = 1 << 15
	IntentGuildScheduledEvents        Intent = 1 << 16
	IntentAutoModerationConfiguration Intent = 1 << 20
	IntentAutoModerationExecution     Intent = 1 << 21
	IntentGuildMessagePolls           Intent = 1 << 24
	IntentDirectMessagePolls          Intent = 1 << 25
)

type Opcode = uint8

const (
	OpcodeDispatch                Opcode = 0
	OpcodeHeartbeat               Opcode = 1
	OpcodeIdentify                Opcode = 2
	OpcodePresenceUpdate          Opcode = 3
	OpcodeVoiceStateUpdate        Opcode = 4
	OpcodeResume                  Opcode = 6
	OpcodeReconnect               Opcode = 7
	OpcodeRequestGuildMembers     Opcode = 8
	OpcodeInvalidSession          Opcode = 9
	OpcodeHello                   Opcode = 10
	OpcodeHeartbeatAck            Opcode = 11
	OpcodeRequestSoundboardSounds Opcode = 31
)

type CloseEventCode = int

const (
	CloseUnknownError         CloseEventCode = 4000
	CloseUnknownOpcode        CloseEventCode = 4001
	CloseDecodeError          CloseEventCode = 4002
	CloseNotAuthenticated     CloseEventCode = 4003
	CloseAuthenticationFailed CloseEventCode = 4004
	CloseAlreadyAuthenticated CloseEventCode = 4005
	CloseInvalidSeq           CloseEventCode = 4007
	CloseRateLimited          CloseEventCode = 4008
	CloseSessionTimedOut      CloseEventCode = 4009
	CloseInvalidShard         CloseEventCode = 4010
	CloseShardingRequired     CloseEventCode = 4011
	CloseInvalidAPIVersion    CloseEventCode = 4012
	CloseInvalidIntents       CloseEventCode = 4013
	CloseDisallowedIntents    CloseEventCode = 4014
)

// resumableCloseCodes holds the close codes after which the current
// session may be resumed. Everything else forces a fresh identify or a
// fatal stop.
var resumableCloseCodes = map[CloseEventCode]bool{
	CloseUnknownError:         true,
	CloseUnknownOpcode:        true,
	CloseDecodeError:          true,
	CloseNotAuthenticated:     true,
	CloseAlreadyAuthenticated: true,
	CloseRateLimited:          true,
	CloseSessionTimedOut:      true,
}

// fatalCloseCodes are not recoverable by reconnecting: the configuration
// itself is wrong.
var fatalCloseCodes = map[CloseEventCode]bool{
	CloseAuthenticationFailed: true,
	CloseInvalidShard:         true,
	CloseShardingRequired:     true,
	CloseInvalidAPIVersion:    true,
	CloseInvalidIntents:       true,
	CloseDisallowedIntents:    true,
}

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrDisallowedIntents    = errors.New("disallowed intent. you may have tried to specify an intent that you have not enabled")
	ErrInvalidShard         = errors.New("invalid shard configuration")
	ErrSessionAlreadyOpen   = errors.New("session is already open")
	ErrHandshakeTimeout     = errors.New("gateway handshake timed out")
)

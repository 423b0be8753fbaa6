package structs

import "encoding/json"

type InteractionType = int

const (
	InteractionTypePing                           InteractionType = 1
	InteractionTypeApplicationCommand             InteractionType = 2
	InteractionTypeMessageComponent               InteractionType = 3
	InteractionTypeApplicationCommandAutocomplete InteractionType = 4
	InteractionTypeModalSubmit                    InteractionType = 5
)

// Interaction is the envelope of an inbound interaction. Data stays
// raw; the core transports it without interpreting the schema.
type Interaction struct {
	ID            string          `json:"id"`
	ApplicationID string          `json:"application_id"`
	Type          InteractionType `json:"type"`
	Token         string          `json:"token"`
	GuildID       string          `json:"guild_id,omitempty"`
	ChannelID     string          `json:"channel_id,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

type InteractionResponseType = int

const (
	InteractionResponseTypePong                             InteractionResponseType = 1
	InteractionResponseTypeChannelMessageWithSource         InteractionResponseType = 4
	InteractionResponseTypeDeferredChannelMessageWithSource InteractionResponseType = 5
)

type InteractionResponse struct {
	Type InteractionResponseType `json:"type"`
	Data interface{}             `json:"data,omitempty"`
}

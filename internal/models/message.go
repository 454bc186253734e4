package models

import "time"

// Message roles. Only user and assistant messages are folded into chat
// history; anything else is skipped.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single conversation turn stored in MongoDB. Messages are
// never mutated after creation except to attach generated speech IDs.
type Message struct {
	ID             string    `bson:"_id" json:"id"`
	ConversationID string    `bson:"conversationId" json:"conversation_id"`
	Role           string    `bson:"role" json:"role"`
	Content        string    `bson:"content" json:"content"`
	SpeechIDs      []string  `bson:"speechIds,omitempty" json:"speech_ids,omitempty"`
	CreatedAt      time.Time `bson:"createdAt" json:"created_at"`
}

// SpeechConfig records how a speech payload was synthesized.
type SpeechConfig struct {
	Engine Engine `bson:"engine" json:"engine"`
	Model  string `bson:"model" json:"model"`
	Voice  string `bson:"voice" json:"voice"`
}

// Speech is a synthesized audio payload tied to its source message.
type Speech struct {
	ID         string       `bson:"_id" json:"id"`
	Text       string       `bson:"text" json:"text"`
	SourceType string       `bson:"sourceType" json:"source_type"`
	SourceID   string       `bson:"sourceId" json:"source_id"`
	Config     SpeechConfig `bson:"config" json:"config"`
	Audio      []byte       `bson:"audio" json:"-"` // Raw provider audio, served via the audio endpoint
	MimeType   string       `bson:"mimeType" json:"mime_type"`
	CreatedAt  time.Time    `bson:"createdAt" json:"created_at"`
}

// SpeechSourceMessage is the source type for speeches attached to messages.
const SpeechSourceMessage = "message"

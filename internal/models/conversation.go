package models

import "time"

// Engine identifies the backend integration used to reach an AI provider.
// The set is closed: client construction switches over every variant and
// anything else fails with ErrUnsupportedEngine.
type Engine string

const (
	// EngineGateway routes through the platform AI gateway using the
	// platform-issued access token. User-supplied keys are never used.
	EngineGateway Engine = "gateway"
	// EngineOpenAI calls the OpenAI API directly with the user's key.
	EngineOpenAI Engine = "openai"
	// EngineLocal targets a user-hosted endpoint (Ollama, LM Studio). No
	// credentials required.
	EngineLocal Engine = "local"
	// EngineMistral calls Mistral's API with the user's key at the provider
	// default endpoint.
	EngineMistral Engine = "mistral"
)

// Valid reports whether e is one of the known engine variants.
func (e Engine) Valid() bool {
	switch e {
	case EngineGateway, EngineOpenAI, EngineLocal, EngineMistral:
		return true
	}
	return false
}

// Provider returns the settings row name backing this engine. The gateway
// engine has no user settings; it returns an empty string.
func (e Engine) Provider() string {
	switch e {
	case EngineOpenAI:
		return "openai"
	case EngineLocal:
		return "local"
	case EngineMistral:
		return "mistral"
	}
	return ""
}

// ConversationType selects the dispatch handler for a conversation.
type ConversationType string

const (
	// TypeChat produces generated text replies from a chat completion.
	TypeChat ConversationType = "chat"
	// TypeSpeech echoes the user's text back as a synthesized speech reply.
	TypeSpeech ConversationType = "speech"
)

// TTSConfig holds the speech synthesis settings for a conversation. Zero
// values fall back to the conversation engine and the provider's speech
// defaults.
type TTSConfig struct {
	Engine Engine `json:"engine,omitempty"`
	Model  string `json:"model,omitempty"`
	Voice  string `json:"voice,omitempty"`
}

// ConversationConfig is the per-conversation request shaping configuration.
// Sampling fields are pointers so an explicit zero passes through to the
// provider; nil fields are omitted and provider defaults apply.
type ConversationConfig struct {
	BaseURL          string    `json:"base_url,omitempty"` // Overrides the provider endpoint for direct API engines
	Model            string    `json:"model"`
	Temperature      *float64  `json:"temperature,omitempty"`
	MaxTokens        *int      `json:"max_tokens,omitempty"`
	FrequencyPenalty *float64  `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64  `json:"presence_penalty,omitempty"`
	NumChoices       int       `json:"num_choices,omitempty"`
	HistorySize      int       `json:"history_size,omitempty"` // Max prior messages folded into the prompt; <=0 means no history
	RoleDefinition   string    `json:"role_definition,omitempty"`
	TTS              TTSConfig `json:"tts,omitempty"`
}

// Conversation ties an engine and a dispatch type to its configuration.
// It is treated as immutable for the duration of one dispatch.
type Conversation struct {
	ID        string             `json:"id"`
	Engine    Engine             `json:"engine"`
	Type      ConversationType   `json:"type"`
	Config    ConversationConfig `json:"config"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

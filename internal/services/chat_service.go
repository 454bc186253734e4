package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"parley/internal/config"
	"parley/internal/logging"
	"parley/internal/models"

	"github.com/google/uuid"
)

// chatMessage is one role-tagged entry in a completion request.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatService dispatches conversation turns to the configured provider and
// persists the resulting messages. One dispatch is strictly sequential:
// history fetch, provider call, then a single persistence batch. Provider
// failures propagate unchanged and persist nothing.
type ChatService struct {
	store      MessageStore
	providers  *ProviderService
	speech     *SpeechService
	cfg        *config.Config
	httpClient *http.Client
}

// NewChatService creates a new chat service
func NewChatService(store MessageStore, providers *ProviderService, speech *SpeechService, cfg *config.Config) *ChatService {
	return &ChatService{
		store:     store,
		providers: providers,
		speech:    speech,
		cfg:       cfg,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // Local models can take a while to cold start
		},
	}
}

// Dispatch routes a conversation turn by its type. Unknown conversation
// types are an explicit no-op: empty result, nil error, nothing persisted.
func (s *ChatService) Dispatch(ctx context.Context, conv *models.Conversation, input string) ([]models.Message, error) {
	started := time.Now()

	switch conv.Type {
	case models.TypeChat:
		replies, err := s.dispatchChat(ctx, conv, input)
		observeDispatch(conv, started, err)
		return replies, err
	case models.TypeSpeech:
		replies, err := s.dispatchSpeech(ctx, conv, input)
		observeDispatch(conv, started, err)
		return replies, err
	}

	logging.WithDispatch(conv.ID, string(conv.Engine), string(conv.Type)).Warn("unknown conversation type, skipping")
	return []models.Message{}, nil
}

// dispatchChat builds the bounded history, calls the chat completion
// endpoint, and persists the user message plus one assistant message per
// returned choice as a single batch.
func (s *ChatService) dispatchChat(ctx context.Context, conv *models.Conversation, input string) ([]models.Message, error) {
	history, err := s.fetchChatHistory(ctx, conv.ID, conv.Config.HistorySize)
	if err != nil {
		return nil, err
	}

	client, err := BuildChatClient(conv, s.providers, s.cfg)
	if err != nil {
		return nil, err
	}

	prompt := make([]chatMessage, 0, len(history)+2)
	if conv.Config.RoleDefinition != "" {
		prompt = append(prompt, chatMessage{Role: models.RoleSystem, Content: conv.Config.RoleDefinition})
	}
	prompt = append(prompt, history...)
	prompt = append(prompt, chatMessage{Role: models.RoleUser, Content: input})

	contents, err := s.chatCompletion(ctx, client, conv.Config, prompt)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	batch := make([]models.Message, 0, len(contents)+1)
	batch = append(batch, models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        input,
		CreatedAt:      now,
	})
	for i, content := range contents {
		batch = append(batch, models.Message{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			Role:           models.RoleAssistant,
			Content:        content,
			// Replies must sort after the user message and keep choice order
			CreatedAt: now.Add(time.Duration(i+1) * time.Millisecond),
		})
	}

	if err := s.store.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}

	logging.WithDispatch(conv.ID, string(conv.Engine), string(conv.Type)).
		Info("persisted dispatch batch", "messages", len(batch), "replies", len(contents))
	return batch[1:], nil
}

// dispatchSpeech constructs an assistant reply echoing the input text,
// synthesizes speech for it, and persists user + reply as one batch.
func (s *ChatService) dispatchSpeech(ctx context.Context, conv *models.Conversation, input string) ([]models.Message, error) {
	now := time.Now().UTC()
	user := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        input,
		CreatedAt:      now,
	}
	reply := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        input,
		CreatedAt:      now.Add(time.Millisecond),
	}

	speech, err := s.speech.Synthesize(ctx, conv, models.SpeechSourceMessage, reply.ID, input)
	if err != nil {
		return nil, err
	}
	reply.SpeechIDs = []string{speech.ID}

	if err := s.store.CreateBatch(ctx, []models.Message{user, reply}); err != nil {
		return nil, err
	}

	logging.WithDispatch(conv.ID, string(conv.Engine), string(conv.Type)).
		Info("persisted speech echo", "speech_id", speech.ID, "audio_bytes", len(speech.Audio))
	return []models.Message{reply}, nil
}

// fetchChatHistory returns up to size prior messages for a conversation,
// oldest first. A non-positive size yields an empty history, not an error.
// Storage is queried newest-first to bound the result cheaply; the window is
// reversed before returning because prompt assembly assumes chronological
// order. Only user and assistant roles are folded in.
func (s *ChatService) fetchChatHistory(ctx context.Context, conversationID string, size int) ([]chatMessage, error) {
	if size <= 0 {
		return nil, nil
	}

	recent, err := s.store.ListRecent(ctx, conversationID, size)
	if err != nil {
		return nil, err
	}

	history := make([]chatMessage, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		m := recent[i]
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			continue
		}
		history = append(history, chatMessage{Role: m.Role, Content: m.Content})
	}
	return history, nil
}

// chatCompletion performs a synchronous (non-streaming) completion call and
// returns the content of every choice. Set sampling parameters pass through
// unchanged, explicit zeros included; nil means provider default.
func (s *ChatService) chatCompletion(ctx context.Context, client *ChatClient, cfg models.ConversationConfig, prompt []chatMessage) ([]string, error) {
	reqBody := map[string]interface{}{
		"model":    client.Model,
		"messages": prompt,
		"stream":   false,
	}
	if cfg.Temperature != nil {
		reqBody["temperature"] = *cfg.Temperature
	}
	if cfg.MaxTokens != nil {
		reqBody["max_tokens"] = *cfg.MaxTokens
	}
	if cfg.FrequencyPenalty != nil {
		reqBody["frequency_penalty"] = *cfg.FrequencyPenalty
	}
	if cfg.PresencePenalty != nil {
		reqBody["presence_penalty"] = *cfg.PresencePenalty
	}
	if cfg.NumChoices > 0 {
		reqBody["n"] = cfg.NumChoices
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", client.BaseURL+"/chat/completions", bytes.NewBuffer(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if client.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+client.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	contents := make([]string, len(result.Choices))
	for i, choice := range result.Choices {
		contents[i] = choice.Message.Content
	}
	return contents, nil
}

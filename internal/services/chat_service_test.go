package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"parley/internal/models"
)

// fakeMessageStore keeps messages and speeches in memory for dispatcher tests.
type fakeMessageStore struct {
	messages []models.Message
	speeches []*models.Speech
	batches  int
}

func (f *fakeMessageStore) CreateBatch(ctx context.Context, messages []models.Message) error {
	f.messages = append(f.messages, messages...)
	f.batches++
	return nil
}

func (f *fakeMessageStore) ListRecent(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var matched []models.Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			matched = append(matched, m)
		}
	}
	// Newest first, bounded by limit
	var recent []models.Message
	for i := len(matched) - 1; i >= 0 && len(recent) < limit; i-- {
		recent = append(recent, matched[i])
	}
	return recent, nil
}

func (f *fakeMessageStore) List(ctx context.Context, conversationID string) ([]models.Message, error) {
	var matched []models.Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			matched = append(matched, m)
		}
	}
	return matched, nil
}

func (f *fakeMessageStore) CreateSpeech(ctx context.Context, speech *models.Speech) error {
	f.speeches = append(f.speeches, speech)
	return nil
}

func (f *fakeMessageStore) GetSpeech(ctx context.Context, id string) (*models.Speech, error) {
	for _, s := range f.speeches {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("speech not found")
}

func (f *fakeMessageStore) DeleteSpeechesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var kept []*models.Speech
	var deleted int64
	for _, s := range f.speeches {
		if s.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, s)
	}
	f.speeches = kept
	return deleted, nil
}

// completionRequest captures what the fake provider received.
type completionRequest struct {
	Authorization string
	Model         string
	Messages      []chatMessage
	N             int
	Temperature   *float64
}

// newFakeProvider serves OpenAI-style chat completion and speech endpoints.
func newFakeProvider(t *testing.T, choices []string, captured *[]completionRequest) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model       string        `json:"model"`
			Messages    []chatMessage `json:"messages"`
			N           int           `json:"n"`
			Temperature *float64      `json:"temperature"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		*captured = append(*captured, completionRequest{
			Authorization: r.Header.Get("Authorization"),
			Model:         body.Model,
			Messages:      body.Messages,
			N:             body.N,
			Temperature:   body.Temperature,
		})

		resp := map[string]interface{}{"choices": []map[string]interface{}{}}
		var respChoices []map[string]interface{}
		for _, content := range choices {
			respChoices = append(respChoices, map[string]interface{}{
				"message": map[string]string{"role": "assistant", "content": content},
			})
		}
		resp["choices"] = respChoices
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/audio/speech", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Input string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Input == "" {
			http.Error(w, "missing input", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("fake-mp3-bytes"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// newTestChatService wires a chat service against the fake provider, with
// the openai settings pointing at the test server.
func newTestChatService(t *testing.T, serverURL string) (*ChatService, *fakeMessageStore) {
	t.Helper()

	providers := newTestProviderService(t)
	if _, err := providers.Save(models.ProviderSettings{
		Provider: "openai",
		APIKey:   "sk-user",
		Model:    "gpt-4o-mini",
		BaseURL:  serverURL,
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	store := &fakeMessageStore{}
	cfg := testGatewayConfig()
	speech := NewSpeechService(store, providers, cfg)
	return NewChatService(store, providers, speech, cfg), store
}

func TestDispatchChatPersistsUserAndReplies(t *testing.T) {
	var captured []completionRequest
	server := newFakeProvider(t, []string{"Hello there!"}, &captured)
	svc, store := newTestChatService(t, server.URL)

	conv := &models.Conversation{ID: "conv-1", Engine: models.EngineOpenAI, Type: models.TypeChat}
	replies, err := svc.Dispatch(context.Background(), conv, "Hi")
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if len(replies) != 1 {
		t.Fatalf("Expected 1 reply, got %d", len(replies))
	}
	if replies[0].Content != "Hello there!" {
		t.Errorf("Expected provider reply content, got %q", replies[0].Content)
	}
	if replies[0].Role != models.RoleAssistant {
		t.Errorf("Expected assistant role, got %s", replies[0].Role)
	}

	if len(store.messages) != 2 {
		t.Fatalf("Expected 2 persisted messages, got %d", len(store.messages))
	}
	if store.batches != 1 {
		t.Errorf("Expected a single persistence batch, got %d", store.batches)
	}
	if store.messages[0].Role != models.RoleUser || store.messages[0].Content != "Hi" {
		t.Errorf("Expected user message first, got %+v", store.messages[0])
	}
	if !store.messages[1].CreatedAt.After(store.messages[0].CreatedAt) {
		t.Error("Expected reply to sort after the user message")
	}

	if captured[0].Authorization != "Bearer sk-user" {
		t.Errorf("Expected user credentials, got %q", captured[0].Authorization)
	}
}

func TestDispatchChatMultipleChoices(t *testing.T) {
	var captured []completionRequest
	server := newFakeProvider(t, []string{"first", "second", "third"}, &captured)
	svc, store := newTestChatService(t, server.URL)

	conv := &models.Conversation{
		ID:     "conv-1",
		Engine: models.EngineOpenAI,
		Type:   models.TypeChat,
		Config: models.ConversationConfig{NumChoices: 3},
	}
	replies, err := svc.Dispatch(context.Background(), conv, "Hi")
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if len(replies) != 3 {
		t.Fatalf("Expected 3 replies, got %d", len(replies))
	}
	if len(store.messages) != 4 {
		t.Fatalf("Expected user + 3 replies persisted, got %d", len(store.messages))
	}
	for i, want := range []string{"first", "second", "third"} {
		if replies[i].Content != want {
			t.Errorf("Reply %d: expected %q, got %q", i, want, replies[i].Content)
		}
	}
	// Choice order must survive the creation timestamps
	for i := 1; i < len(store.messages); i++ {
		if !store.messages[i].CreatedAt.After(store.messages[i-1].CreatedAt) {
			t.Errorf("Message %d does not sort after message %d", i, i-1)
		}
	}

	if captured[0].N != 3 {
		t.Errorf("Expected n=3 in provider request, got %d", captured[0].N)
	}
}

func TestDispatchChatHistoryWindow(t *testing.T) {
	var captured []completionRequest
	server := newFakeProvider(t, []string{"reply"}, &captured)
	svc, store := newTestChatService(t, server.URL)

	base := time.Now().UTC().Add(-time.Hour)
	store.messages = []models.Message{
		{ID: "m1", ConversationID: "conv-1", Role: models.RoleUser, Content: "oldest", CreatedAt: base},
		{ID: "m2", ConversationID: "conv-1", Role: models.RoleAssistant, Content: "old reply", CreatedAt: base.Add(time.Second)},
		{ID: "m3", ConversationID: "conv-1", Role: models.RoleSystem, Content: "internal note", CreatedAt: base.Add(2 * time.Second)},
		{ID: "m4", ConversationID: "conv-1", Role: models.RoleUser, Content: "recent", CreatedAt: base.Add(3 * time.Second)},
	}

	conv := &models.Conversation{
		ID:     "conv-1",
		Engine: models.EngineOpenAI,
		Type:   models.TypeChat,
		Config: models.ConversationConfig{HistorySize: 3, RoleDefinition: "You are terse."},
	}
	if _, err := svc.Dispatch(context.Background(), conv, "now"); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	got := captured[0].Messages
	// system prompt + (window of 3 minus the filtered system message) + new input
	want := []chatMessage{
		{Role: models.RoleSystem, Content: "You are terse."},
		{Role: models.RoleAssistant, Content: "old reply"},
		{Role: models.RoleUser, Content: "recent"},
		{Role: models.RoleUser, Content: "now"},
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d prompt messages, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Prompt message %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestDispatchChatNoHistory(t *testing.T) {
	var captured []completionRequest
	server := newFakeProvider(t, []string{"reply"}, &captured)
	svc, store := newTestChatService(t, server.URL)

	store.messages = []models.Message{
		{ID: "m1", ConversationID: "conv-1", Role: models.RoleUser, Content: "earlier", CreatedAt: time.Now().UTC().Add(-time.Minute)},
	}

	conv := &models.Conversation{ID: "conv-1", Engine: models.EngineOpenAI, Type: models.TypeChat}
	if _, err := svc.Dispatch(context.Background(), conv, "fresh start"); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	got := captured[0].Messages
	if len(got) != 1 || got[0].Content != "fresh start" {
		t.Errorf("Expected only the new input in the prompt, got %+v", got)
	}
}

func TestDispatchProviderErrorPersistsNothing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota exceeded"}}`, http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)

	svc, store := newTestChatService(t, server.URL)

	conv := &models.Conversation{ID: "conv-1", Engine: models.EngineOpenAI, Type: models.TypeChat}
	_, err := svc.Dispatch(context.Background(), conv, "Hi")
	if err == nil {
		t.Fatal("Expected provider error to propagate")
	}
	if len(store.messages) != 0 {
		t.Errorf("Expected nothing persisted on failure, got %d messages", len(store.messages))
	}
}

func TestDispatchUnknownTypeIsNoOp(t *testing.T) {
	var captured []completionRequest
	server := newFakeProvider(t, []string{"reply"}, &captured)
	svc, store := newTestChatService(t, server.URL)

	conv := &models.Conversation{ID: "conv-1", Engine: models.EngineOpenAI, Type: models.ConversationType("video")}
	replies, err := svc.Dispatch(context.Background(), conv, "Hi")
	if err != nil {
		t.Fatalf("Expected no error for unknown type, got %v", err)
	}
	if replies == nil || len(replies) != 0 {
		t.Errorf("Expected empty reply slice, got %v", replies)
	}
	if len(store.messages) != 0 || len(captured) != 0 {
		t.Error("Expected no persistence and no provider call for unknown type")
	}
}

func TestDispatchSpeechEcho(t *testing.T) {
	var captured []completionRequest
	server := newFakeProvider(t, nil, &captured)
	svc, store := newTestChatService(t, server.URL)

	conv := &models.Conversation{ID: "conv-1", Engine: models.EngineOpenAI, Type: models.TypeSpeech}
	replies, err := svc.Dispatch(context.Background(), conv, "Read this aloud")
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if len(replies) != 1 {
		t.Fatalf("Expected 1 reply, got %d", len(replies))
	}
	reply := replies[0]
	if reply.Content != "Read this aloud" {
		t.Errorf("Expected echoed content, got %q", reply.Content)
	}

	if len(store.messages) != 2 {
		t.Fatalf("Expected user + echo persisted, got %d", len(store.messages))
	}
	if len(store.speeches) != 1 {
		t.Fatalf("Expected exactly 1 speech, got %d", len(store.speeches))
	}

	speech := store.speeches[0]
	if speech.Text != "Read this aloud" {
		t.Errorf("Expected speech text to match input, got %q", speech.Text)
	}
	if speech.SourceType != models.SpeechSourceMessage || speech.SourceID != reply.ID {
		t.Errorf("Expected speech tied to the reply, got %s/%s", speech.SourceType, speech.SourceID)
	}
	if len(reply.SpeechIDs) != 1 || reply.SpeechIDs[0] != speech.ID {
		t.Errorf("Expected reply to reference the speech, got %v", reply.SpeechIDs)
	}
	if string(speech.Audio) != "fake-mp3-bytes" {
		t.Errorf("Expected stored audio payload, got %q", speech.Audio)
	}
	if speech.MimeType != "audio/mpeg" {
		t.Errorf("Expected audio/mpeg, got %s", speech.MimeType)
	}
}

func TestDispatchChatSamplingPassThrough(t *testing.T) {
	var captured []completionRequest
	server := newFakeProvider(t, []string{"reply"}, &captured)
	svc, _ := newTestChatService(t, server.URL)

	zero := 0.0
	conv := &models.Conversation{
		ID:     "conv-1",
		Engine: models.EngineOpenAI,
		Type:   models.TypeChat,
		Config: models.ConversationConfig{Temperature: &zero},
	}
	if _, err := svc.Dispatch(context.Background(), conv, "Hi"); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	// An explicit zero is a real setting, not "unset"
	if captured[0].Temperature == nil {
		t.Fatal("Expected temperature 0 to reach the provider")
	}
	if *captured[0].Temperature != 0 {
		t.Errorf("Expected temperature 0, got %v", *captured[0].Temperature)
	}
}

func TestDispatchChatOmitsUnsetSampling(t *testing.T) {
	var captured []completionRequest
	server := newFakeProvider(t, []string{"reply"}, &captured)
	svc, _ := newTestChatService(t, server.URL)

	conv := &models.Conversation{ID: "conv-1", Engine: models.EngineOpenAI, Type: models.TypeChat}
	if _, err := svc.Dispatch(context.Background(), conv, "Hi"); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if captured[0].Temperature != nil {
		t.Errorf("Expected no temperature in the request, got %v", *captured[0].Temperature)
	}
}

func TestDispatchSpeechProviderErrorPersistsNothing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/audio/speech", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"voice unavailable"}}`, http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	svc, store := newTestChatService(t, server.URL)

	conv := &models.Conversation{ID: "conv-1", Engine: models.EngineOpenAI, Type: models.TypeSpeech}
	_, err := svc.Dispatch(context.Background(), conv, "Read this aloud")
	if err == nil {
		t.Fatal("Expected synthesis error to propagate")
	}
	if len(store.messages) != 0 {
		t.Errorf("Expected no messages persisted on failure, got %d", len(store.messages))
	}
	if len(store.speeches) != 0 {
		t.Errorf("Expected no speeches persisted on failure, got %d", len(store.speeches))
	}
}

func TestDispatchSpeechTrailingSlashBaseURL(t *testing.T) {
	var captured []completionRequest
	server := newFakeProvider(t, nil, &captured)
	svc, store := newTestChatService(t, server.URL+"/")

	conv := &models.Conversation{ID: "conv-1", Engine: models.EngineOpenAI, Type: models.TypeSpeech}
	if _, err := svc.Dispatch(context.Background(), conv, "Read this aloud"); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if len(store.speeches) != 1 {
		t.Fatalf("Expected 1 speech, got %d", len(store.speeches))
	}
	if string(store.speeches[0].Audio) != "fake-mp3-bytes" {
		t.Errorf("Expected stored audio payload, got %q", store.speeches[0].Audio)
	}
}

func TestDispatchGatewayUsesPlatformToken(t *testing.T) {
	var captured []completionRequest
	server := newFakeProvider(t, []string{"reply"}, &captured)

	providers := newTestProviderService(t)
	// A stored user key must not bleed into gateway traffic
	if _, err := providers.Save(models.ProviderSettings{Provider: "openai", APIKey: "sk-user", Model: "gpt-4o"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	store := &fakeMessageStore{}
	cfg := testGatewayConfig()
	cfg.GatewayURL = server.URL
	speech := NewSpeechService(store, providers, cfg)
	svc := NewChatService(store, providers, speech, cfg)

	conv := &models.Conversation{ID: "conv-1", Engine: models.EngineGateway, Type: models.TypeChat}
	if _, err := svc.Dispatch(context.Background(), conv, "Hi"); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if captured[0].Authorization != "Bearer platform-token" {
		t.Errorf("Expected platform token, got %q", captured[0].Authorization)
	}
	if captured[0].Model != "gpt-4o-mini" {
		t.Errorf("Expected catalog default model for gateway, got %s", captured[0].Model)
	}
}

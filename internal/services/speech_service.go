package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"parley/internal/config"
	"parley/internal/models"

	"github.com/google/uuid"
)

const (
	defaultSpeechModel = "tts-1"
	defaultSpeechVoice = "alloy"
	defaultSpeechMime  = "audio/mpeg"
)

// SpeechService synthesizes audio for message text through the provider's
// speech endpoint and persists the payload as a Speech record.
type SpeechService struct {
	store      MessageStore
	providers  *ProviderService
	cfg        *config.Config
	httpClient *http.Client
}

// NewSpeechService creates a new speech service
func NewSpeechService(store MessageStore, providers *ProviderService, cfg *config.Config) *SpeechService {
	return &SpeechService{
		store:     store,
		providers: providers,
		cfg:       cfg,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Synthesize calls the speech endpoint for the given text and stores the
// resulting audio as a new Speech tied to the source. Defaults: engine from
// the conversation, model and voice from the provider's speech defaults.
//
// Client selection only distinguishes the gateway branch from the direct-API
// branch: engines without a dedicated speech integration use the OpenAI
// settings with whatever credentials are configured.
func (s *SpeechService) Synthesize(ctx context.Context, conv *models.Conversation, sourceType, sourceID, text string) (*models.Speech, error) {
	spec := conv.Config.TTS
	if spec.Engine == "" {
		spec.Engine = conv.Engine
	}

	var baseURL, apiKey string
	if spec.Engine == models.EngineGateway {
		baseURL = s.cfg.GatewayURL
		apiKey = s.cfg.GatewayToken
	} else {
		settings, err := s.providers.Get("openai")
		if err != nil && !errors.Is(err, models.ErrProviderNotConfigured) {
			return nil, err
		}
		entry := s.providers.Catalog().Lookup("openai")
		if settings != nil {
			baseURL = settings.BaseURL
			apiKey = settings.APIKey
		}
		if baseURL == "" && entry != nil {
			baseURL = entry.BaseURL
		}
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	entry := s.providers.Catalog().Lookup(spec.Engine.Provider())
	if spec.Model == "" {
		if entry != nil && entry.SpeechModel != "" {
			spec.Model = entry.SpeechModel
		} else {
			spec.Model = defaultSpeechModel
		}
	}
	if spec.Voice == "" {
		if entry != nil && entry.SpeechVoice != "" {
			spec.Voice = entry.SpeechVoice
		} else {
			spec.Voice = defaultSpeechVoice
		}
	}

	audio, mimeType, err := s.synthesizeWithProvider(ctx, baseURL, apiKey, spec, text)
	if err != nil {
		return nil, err
	}

	speech := &models.Speech{
		ID:         uuid.NewString(),
		Text:       text,
		SourceType: sourceType,
		SourceID:   sourceID,
		Config: models.SpeechConfig{
			Engine: spec.Engine,
			Model:  spec.Model,
			Voice:  spec.Voice,
		},
		Audio:     audio,
		MimeType:  mimeType,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.CreateSpeech(ctx, speech); err != nil {
		return nil, err
	}

	log.Printf("🎙️  [SPEECH] Synthesized %d bytes (%s, model: %s, voice: %s)", len(audio), mimeType, spec.Model, spec.Voice)
	return speech, nil
}

// synthesizeWithProvider posts to the OpenAI-style speech endpoint and
// returns the raw audio payload with its MIME type.
func (s *SpeechService) synthesizeWithProvider(ctx context.Context, baseURL, apiKey string, spec models.TTSConfig, text string) ([]byte, string, error) {
	reqBody := map[string]interface{}{
		"model": spec.Model,
		"input": text,
		"voice": spec.Voice,
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/audio/speech", bytes.NewBuffer(reqJSON))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// Try to parse the provider error message
		var errorResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
			return nil, "", fmt.Errorf("speech API error: %s", errorResp.Error.Message)
		}
		return nil, "", fmt.Errorf("speech API error (status %d)", resp.StatusCode)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = defaultSpeechMime
	}

	return body, mimeType, nil
}

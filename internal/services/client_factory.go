package services

import (
	"errors"
	"fmt"
	"strings"

	"parley/internal/config"
	"parley/internal/models"
)

// ChatClient carries the resolved endpoint, credentials and model for one
// outbound provider call.
type ChatClient struct {
	BaseURL string
	APIKey  string
	Model   string
}

// BuildChatClient maps a conversation's engine to a configured client.
//
//	gateway: platform token + fixed gateway URL, never user credentials
//	openai:  user API key; endpoint = conversation override > settings > catalog default
//	local:   no credentials; endpoint = conversation override > settings base URL
//	mistral: user API key at the catalog default endpoint
//
// The switch covers every Engine variant; anything else fails with
// models.ErrUnsupportedEngine.
func BuildChatClient(conv *models.Conversation, providers *ProviderService, cfg *config.Config) (*ChatClient, error) {
	switch conv.Engine {
	case models.EngineGateway:
		return &ChatClient{
			BaseURL: strings.TrimSuffix(cfg.GatewayURL, "/"),
			APIKey:  cfg.GatewayToken,
			Model:   resolveModel(conv, nil, providers.Catalog().Lookup("gateway")),
		}, nil

	case models.EngineOpenAI:
		settings, err := providers.Get("openai")
		if err != nil {
			return nil, err
		}
		entry := providers.Catalog().Lookup("openai")
		baseURL := conv.Config.BaseURL
		if baseURL == "" {
			baseURL = settings.BaseURL
		}
		if baseURL == "" && entry != nil {
			baseURL = entry.BaseURL
		}
		return &ChatClient{
			BaseURL: strings.TrimSuffix(baseURL, "/"),
			APIKey:  settings.APIKey,
			Model:   resolveModel(conv, settings, entry),
		}, nil

	case models.EngineLocal:
		settings, err := providers.Get("local")
		if err != nil && !errors.Is(err, models.ErrProviderNotConfigured) {
			return nil, err
		}
		baseURL := conv.Config.BaseURL
		if baseURL == "" && settings != nil {
			baseURL = settings.BaseURL
		}
		if baseURL == "" {
			return nil, fmt.Errorf("%w: local endpoint requires a base URL", models.ErrProviderNotConfigured)
		}
		return &ChatClient{
			BaseURL: strings.TrimSuffix(baseURL, "/"),
			Model:   resolveModel(conv, settings, providers.Catalog().Lookup("local")),
		}, nil

	case models.EngineMistral:
		settings, err := providers.Get("mistral")
		if err != nil {
			return nil, err
		}
		entry := providers.Catalog().Lookup("mistral")
		baseURL := ""
		if entry != nil {
			baseURL = entry.BaseURL
		}
		return &ChatClient{
			BaseURL: strings.TrimSuffix(baseURL, "/"),
			APIKey:  settings.APIKey,
			Model:   resolveModel(conv, settings, entry),
		}, nil
	}

	return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedEngine, conv.Engine)
}

// resolveModel picks the model for a call: conversation configuration first,
// then the stored provider settings, then the catalog default.
func resolveModel(conv *models.Conversation, settings *models.ProviderSettings, entry *models.CatalogProvider) string {
	if conv.Config.Model != "" {
		return conv.Config.Model
	}
	if settings != nil && settings.Model != "" {
		return settings.Model
	}
	if entry != nil {
		return entry.DefaultModel
	}
	return ""
}

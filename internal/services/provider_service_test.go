package services

import (
	"errors"
	"path/filepath"
	"testing"

	"parley/internal/database"
	"parley/internal/models"
)

func testCatalog() *models.ProviderCatalog {
	return &models.ProviderCatalog{
		Providers: []models.CatalogProvider{
			{
				Name:         "gateway",
				Models:       []string{"gpt-4o", "gpt-4o-mini"},
				DefaultModel: "gpt-4o-mini",
				SpeechModel:  "tts-1",
				SpeechVoice:  "alloy",
			},
			{
				Name:         "openai",
				BaseURL:      "https://api.openai.com/v1",
				Models:       []string{"gpt-4o", "gpt-4o-mini"},
				DefaultModel: "gpt-4o-mini",
				SpeechModel:  "tts-1",
				SpeechVoice:  "alloy",
			},
			{
				Name:         "mistral",
				BaseURL:      "https://api.mistral.ai/v1",
				Models:       []string{"mistral-small-latest"},
				DefaultModel: "mistral-small-latest",
			},
			{
				Name: "local",
			},
		},
	}
}

func newTestProviderService(t *testing.T) *ProviderService {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "providers_test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	return NewProviderService(db, testCatalog())
}

func TestProviderSaveAndGet(t *testing.T) {
	svc := newTestProviderService(t)

	saved, err := svc.Save(models.ProviderSettings{
		Provider: "openai",
		APIKey:   "sk-test-123",
		Model:    "gpt-4o",
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saved.Model != "gpt-4o" {
		t.Errorf("Expected model gpt-4o, got %s", saved.Model)
	}

	got, err := svc.Get("openai")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.APIKey != "sk-test-123" {
		t.Errorf("Expected stored API key, got %q", got.APIKey)
	}
	if got.Model != "gpt-4o" {
		t.Errorf("Expected model gpt-4o, got %s", got.Model)
	}
}

func TestProviderSaveUpsert(t *testing.T) {
	svc := newTestProviderService(t)

	if _, err := svc.Save(models.ProviderSettings{Provider: "openai", APIKey: "sk-old", Model: "gpt-4o"}); err != nil {
		t.Fatalf("First save failed: %v", err)
	}
	if _, err := svc.Save(models.ProviderSettings{Provider: "openai", APIKey: "sk-new", Model: "gpt-4o-mini"}); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	got, err := svc.Get("openai")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.APIKey != "sk-new" || got.Model != "gpt-4o-mini" {
		t.Errorf("Expected updated settings, got key=%q model=%q", got.APIKey, got.Model)
	}

	list, err := svc.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("Expected a single settings row after upsert, got %d", len(list))
	}
}

func TestProviderSaveUnknownProvider(t *testing.T) {
	svc := newTestProviderService(t)

	_, err := svc.Save(models.ProviderSettings{Provider: "anthropic", Model: "claude"})
	if !errors.Is(err, models.ErrUnknownProvider) {
		t.Errorf("Expected ErrUnknownProvider, got %v", err)
	}
}

func TestProviderSaveModelValidation(t *testing.T) {
	svc := newTestProviderService(t)

	_, err := svc.Save(models.ProviderSettings{Provider: "openai", Model: "llama3"})
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if verr.Field != "model" {
		t.Errorf("Expected model field error, got %s", verr.Field)
	}

	_, err = svc.Save(models.ProviderSettings{Provider: "openai"})
	if !errors.As(err, &verr) {
		t.Errorf("Expected ValidationError for missing model, got %v", err)
	}
}

func TestProviderSaveLocalAcceptsAnyModel(t *testing.T) {
	svc := newTestProviderService(t)

	// Local endpoints manage their own model list
	saved, err := svc.Save(models.ProviderSettings{
		Provider: "local",
		Model:    "llama3:8b",
		BaseURL:  "http://localhost:11434/v1",
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saved.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("Expected base URL to persist, got %q", saved.BaseURL)
	}
}

func TestProviderGetNotConfigured(t *testing.T) {
	svc := newTestProviderService(t)

	_, err := svc.Get("mistral")
	if !errors.Is(err, models.ErrProviderNotConfigured) {
		t.Errorf("Expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestProviderReloadCatalog(t *testing.T) {
	svc := newTestProviderService(t)

	svc.ReloadCatalog(&models.ProviderCatalog{
		Providers: []models.CatalogProvider{
			{Name: "openai", Models: []string{"gpt-5"}, DefaultModel: "gpt-5"},
		},
	})

	if _, err := svc.Save(models.ProviderSettings{Provider: "openai", Model: "gpt-4o"}); err == nil {
		t.Error("Expected old model to be rejected after catalog reload")
	}
	if _, err := svc.Save(models.ProviderSettings{Provider: "openai", Model: "gpt-5"}); err != nil {
		t.Errorf("Expected new model to be accepted after reload: %v", err)
	}
}

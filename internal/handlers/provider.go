package handlers

import (
	"errors"

	"parley/internal/models"
	"parley/internal/services"

	"github.com/gofiber/fiber/v2"
)

// ProviderHandler handles provider settings requests
type ProviderHandler struct {
	providerService *services.ProviderService
}

// NewProviderHandler creates a new provider handler
func NewProviderHandler(providerService *services.ProviderService) *ProviderHandler {
	return &ProviderHandler{providerService: providerService}
}

// List returns the provider catalog merged with stored settings.
// API keys are never included in responses.
func (h *ProviderHandler) List(c *fiber.Ctx) error {
	settings, err := h.providerService.List()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch providers",
		})
	}

	configured := make(map[string]*models.ProviderSettings, len(settings))
	for i := range settings {
		configured[settings[i].Provider] = &settings[i]
	}

	type PublicProvider struct {
		Name          string   `json:"name"`
		Models        []string `json:"models"`
		DefaultModel  string   `json:"default_model,omitempty"`
		Model         string   `json:"model,omitempty"`
		BaseURL       string   `json:"base_url,omitempty"`
		Configured    bool     `json:"configured"`
		HasCredential bool     `json:"has_credential"`
	}

	catalog := h.providerService.Catalog()
	publicProviders := make([]PublicProvider, len(catalog.Providers))
	for i, entry := range catalog.Providers {
		p := PublicProvider{
			Name:         entry.Name,
			Models:       entry.Models,
			DefaultModel: entry.DefaultModel,
			BaseURL:      entry.BaseURL,
		}
		if s, ok := configured[entry.Name]; ok {
			p.Configured = true
			p.HasCredential = s.APIKey != ""
			p.Model = s.Model
			if s.BaseURL != "" {
				p.BaseURL = s.BaseURL
			}
		}
		publicProviders[i] = p
	}

	return c.JSON(fiber.Map{
		"providers": publicProviders,
		"count":     len(publicProviders),
	})
}

// Get returns stored settings for a single provider (API key redacted)
func (h *ProviderHandler) Get(c *fiber.Ctx) error {
	name := c.Params("name")

	settings, err := h.providerService.Get(name)
	if err != nil {
		if errors.Is(err, models.ErrProviderNotConfigured) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Provider not configured",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch provider",
		})
	}

	redacted := *settings
	redacted.APIKey = ""
	return c.JSON(fiber.Map{
		"provider":       redacted,
		"has_credential": settings.APIKey != "",
	})
}

// Update saves settings for a provider
func (h *ProviderHandler) Update(c *fiber.Ctx) error {
	name := c.Params("name")

	var req struct {
		APIKey  string `json:"api_key"`
		Model   string `json:"model"`
		BaseURL string `json:"base_url"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	saved, err := h.providerService.Save(models.ProviderSettings{
		Provider: name,
		APIKey:   req.APIKey,
		Model:    req.Model,
		BaseURL:  req.BaseURL,
	})
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": verr.Error(),
			})
		}
		if errors.Is(err, models.ErrUnknownProvider) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unknown provider: " + name,
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save provider settings",
		})
	}

	redacted := *saved
	redacted.APIKey = ""
	return c.JSON(fiber.Map{
		"message":        "Provider settings saved",
		"provider":       redacted,
		"has_credential": saved.APIKey != "",
	})
}

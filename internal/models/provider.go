package models

import "time"

// ProviderSettings holds the user-configured credentials for one provider.
// API key and base URL are optional; the model must belong to the provider's
// allowed set from the catalog.
type ProviderSettings struct {
	Provider  string    `json:"provider"`
	APIKey    string    `json:"api_key,omitempty"` // Omit from responses for security
	Model     string    `json:"model"`
	BaseURL   string    `json:"base_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProviderCatalog represents the providers.json file structure
type ProviderCatalog struct {
	Providers []CatalogProvider `json:"providers"`
}

// CatalogProvider is the fixed, non-editable description of a known provider:
// its default endpoint and the models users are allowed to select.
type CatalogProvider struct {
	Name         string   `json:"name"`
	BaseURL      string   `json:"base_url"`
	Models       []string `json:"models"`
	DefaultModel string   `json:"default_model"`
	SpeechModel  string   `json:"speech_model,omitempty"`
	SpeechVoice  string   `json:"speech_voice,omitempty"`
}

// AllowsModel reports whether the given model belongs to the provider's
// allowed set. An empty catalog list means any model is accepted (local
// endpoints manage their own model list).
func (p *CatalogProvider) AllowsModel(model string) bool {
	if len(p.Models) == 0 {
		return true
	}
	for _, m := range p.Models {
		if m == model {
			return true
		}
	}
	return false
}

// Lookup returns the catalog entry for a provider name, or nil if the
// provider is unknown.
func (c *ProviderCatalog) Lookup(name string) *CatalogProvider {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i]
		}
	}
	return nil
}

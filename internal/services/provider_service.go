package services

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"parley/internal/database"
	"parley/internal/models"

	"github.com/patrickmn/go-cache"
)

const settingsCacheTTL = 30 * time.Second

// ProviderService handles provider catalog lookups and per-provider
// settings persistence. Settings reads happen on every dispatch, so they go
// through a short-lived in-process cache.
type ProviderService struct {
	db      *database.DB
	cache   *cache.Cache
	mu      sync.RWMutex
	catalog *models.ProviderCatalog
}

// NewProviderService creates a new provider service
func NewProviderService(db *database.DB, catalog *models.ProviderCatalog) *ProviderService {
	return &ProviderService{
		db:      db,
		cache:   cache.New(settingsCacheTTL, time.Minute),
		catalog: catalog,
	}
}

// Catalog returns the current provider catalog.
func (s *ProviderService) Catalog() *models.ProviderCatalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

// ReloadCatalog swaps in a freshly loaded catalog (providers.json changed).
func (s *ProviderService) ReloadCatalog(catalog *models.ProviderCatalog) {
	s.mu.Lock()
	s.catalog = catalog
	s.mu.Unlock()
	log.Printf("🔄 [PROVIDERS] Catalog reloaded (%d providers)", len(catalog.Providers))
}

// List returns the stored settings for every provider
func (s *ProviderService) List() ([]models.ProviderSettings, error) {
	rows, err := s.db.Query(`
		SELECT provider, api_key, model, base_url, created_at, updated_at
		FROM provider_settings
		ORDER BY provider
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider settings: %w", err)
	}
	defer rows.Close()

	var all []models.ProviderSettings
	for rows.Next() {
		var p models.ProviderSettings
		var apiKey, baseURL sql.NullString
		if err := rows.Scan(&p.Provider, &apiKey, &p.Model, &baseURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan provider settings: %w", err)
		}
		if apiKey.Valid {
			p.APIKey = apiKey.String
		}
		if baseURL.Valid {
			p.BaseURL = baseURL.String
		}
		all = append(all, p)
	}

	return all, rows.Err()
}

// Get returns the stored settings for one provider.
// Returns models.ErrProviderNotConfigured when no settings row exists.
func (s *ProviderService) Get(provider string) (*models.ProviderSettings, error) {
	if cached, found := s.cache.Get(provider); found {
		settings := cached.(models.ProviderSettings)
		return &settings, nil
	}

	var p models.ProviderSettings
	var apiKey, baseURL sql.NullString
	err := s.db.QueryRow(`
		SELECT provider, api_key, model, base_url, created_at, updated_at
		FROM provider_settings
		WHERE provider = ?
	`, provider).Scan(&p.Provider, &apiKey, &p.Model, &baseURL, &p.CreatedAt, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrProviderNotConfigured, provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query provider settings: %w", err)
	}

	if apiKey.Valid {
		p.APIKey = apiKey.String
	}
	if baseURL.Valid {
		p.BaseURL = baseURL.String
	}

	s.cache.Set(provider, p, cache.DefaultExpiration)
	return &p, nil
}

// Save validates and upserts the settings for one provider, returning the
// stored row. The model must belong to the provider's allowed set.
func (s *ProviderService) Save(settings models.ProviderSettings) (*models.ProviderSettings, error) {
	entry := s.Catalog().Lookup(settings.Provider)
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownProvider, settings.Provider)
	}
	if settings.Model == "" {
		return nil, &models.ValidationError{Field: "model", Reason: "model is required"}
	}
	if !entry.AllowsModel(settings.Model) {
		return nil, &models.ValidationError{
			Field:  "model",
			Reason: fmt.Sprintf("model %s is not available for provider %s", settings.Model, settings.Provider),
		}
	}

	now := time.Now().UTC()
	settings.UpdatedAt = now

	var err error
	if s.db.Driver() == "mysql" {
		_, err = s.db.Exec(`
			INSERT INTO provider_settings (provider, api_key, model, base_url, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE api_key = VALUES(api_key), model = VALUES(model), base_url = VALUES(base_url), updated_at = VALUES(updated_at)
		`, settings.Provider, settings.APIKey, settings.Model, settings.BaseURL, now, now)
	} else {
		_, err = s.db.Exec(`
			INSERT INTO provider_settings (provider, api_key, model, base_url, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(provider) DO UPDATE SET api_key = excluded.api_key, model = excluded.model, base_url = excluded.base_url, updated_at = excluded.updated_at
		`, settings.Provider, settings.APIKey, settings.Model, settings.BaseURL, now, now)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save provider settings: %w", err)
	}

	s.cache.Delete(settings.Provider)
	log.Printf("✅ [PROVIDERS] Settings saved for %s (model: %s)", settings.Provider, settings.Model)

	return s.Get(settings.Provider)
}

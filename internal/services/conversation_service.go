package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"parley/internal/database"
	"parley/internal/models"

	"github.com/google/uuid"
)

// ConversationService persists conversation records. The configuration is
// stored as a JSON column; a conversation is immutable during one dispatch.
type ConversationService struct {
	db *database.DB
}

// NewConversationService creates a new conversation service
func NewConversationService(db *database.DB) *ConversationService {
	return &ConversationService{db: db}
}

// Create validates and stores a new conversation
func (s *ConversationService) Create(engine models.Engine, convType models.ConversationType, cfg models.ConversationConfig) (*models.Conversation, error) {
	if !engine.Valid() {
		return nil, &models.ValidationError{Field: "engine", Reason: "unknown engine " + string(engine)}
	}
	if convType != models.TypeChat && convType != models.TypeSpeech {
		return nil, &models.ValidationError{Field: "type", Reason: "unknown conversation type " + string(convType)}
	}

	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		Engine:    engine,
		Type:      convType,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode conversation config: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO conversations (id, engine, type, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, conv.ID, string(conv.Engine), string(conv.Type), string(configJSON), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}

	return conv, nil
}

// Get returns a conversation by ID
func (s *ConversationService) Get(id string) (*models.Conversation, error) {
	var conv models.Conversation
	var engine, convType, configJSON string
	err := s.db.QueryRow(`
		SELECT id, engine, type, config, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`, id).Scan(&conv.ID, &engine, &convType, &configJSON, &conv.CreatedAt, &conv.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}

	conv.Engine = models.Engine(engine)
	conv.Type = models.ConversationType(convType)
	if err := json.Unmarshal([]byte(configJSON), &conv.Config); err != nil {
		return nil, fmt.Errorf("failed to decode conversation config: %w", err)
	}

	return &conv, nil
}

package handlers

import (
	"errors"
	"log"
	"strings"

	"parley/internal/middleware"
	"parley/internal/models"
	"parley/internal/services"

	"github.com/gofiber/fiber/v2"
)

// ConversationHandler handles conversation and dispatch requests
type ConversationHandler struct {
	conversationService *services.ConversationService
	chatService         *services.ChatService
	store               services.MessageStore
	dispatchLimiter     *middleware.DispatchLimiter
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(conversationService *services.ConversationService, chatService *services.ChatService, store services.MessageStore, dispatchLimiter *middleware.DispatchLimiter) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
		chatService:         chatService,
		store:               store,
		dispatchLimiter:     dispatchLimiter,
	}
}

// Create creates a new conversation
func (h *ConversationHandler) Create(c *fiber.Ctx) error {
	var req struct {
		Engine string                    `json:"engine"`
		Type   string                    `json:"type"`
		Config models.ConversationConfig `json:"config"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	conv, err := h.conversationService.Create(models.Engine(req.Engine), models.ConversationType(req.Type), req.Config)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": verr.Error(),
			})
		}
		log.Printf("❌ [CONVERSATIONS] Create failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create conversation",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(conv)
}

// Get returns a single conversation
func (h *ConversationHandler) Get(c *fiber.Ctx) error {
	conv, err := h.conversationService.Get(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Conversation not found",
		})
	}
	return c.JSON(conv)
}

// DispatchMessage accepts a user message, routes it to the conversation's
// provider and returns the newly persisted reply messages.
func (h *ConversationHandler) DispatchMessage(c *fiber.Ctx) error {
	conv, err := h.conversationService.Get(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Conversation not found",
		})
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if strings.TrimSpace(req.Content) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message content is required",
		})
	}

	replies, err := h.chatService.Dispatch(c.Context(), conv, req.Content)
	if err != nil {
		var verr *models.ValidationError
		switch {
		case errors.As(err, &verr),
			errors.Is(err, models.ErrUnsupportedEngine),
			errors.Is(err, models.ErrProviderNotConfigured):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		default:
			log.Printf("❌ [DISPATCH] Conversation %s failed: %v", conv.ID, err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
	}

	// Count the dispatch against the daily quota only after it succeeded
	if h.dispatchLimiter != nil {
		if userID, ok := c.Locals("user_id").(string); ok && userID != "" {
			h.dispatchLimiter.IncrementCount(userID)
		}
	}

	return c.JSON(fiber.Map{
		"conversation_id": conv.ID,
		"messages":        replies,
	})
}

// ListMessages returns the conversation's messages in chronological order
func (h *ConversationHandler) ListMessages(c *fiber.Ctx) error {
	conv, err := h.conversationService.Get(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Conversation not found",
		})
	}

	messages, err := h.store.List(c.Context(), conv.ID)
	if err != nil {
		log.Printf("❌ [CONVERSATIONS] Failed to list messages for %s: %v", conv.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch messages",
		})
	}

	return c.JSON(fiber.Map{
		"conversation_id": conv.ID,
		"messages":        messages,
		"count":           len(messages),
	})
}

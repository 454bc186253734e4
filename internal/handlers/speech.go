package handlers

import (
	"parley/internal/services"

	"github.com/gofiber/fiber/v2"
)

// SpeechHandler serves synthesized audio payloads
type SpeechHandler struct {
	store services.MessageStore
}

// NewSpeechHandler creates a new speech handler
func NewSpeechHandler(store services.MessageStore) *SpeechHandler {
	return &SpeechHandler{store: store}
}

// GetAudio streams the stored audio for a speech record
func (h *SpeechHandler) GetAudio(c *fiber.Ctx) error {
	speech, err := h.store.GetSpeech(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Speech not found",
		})
	}

	mimeType := speech.MimeType
	if mimeType == "" {
		mimeType = "audio/mpeg"
	}

	c.Set("Content-Type", mimeType)
	c.Set("Cache-Control", "private, max-age=86400")
	return c.Send(speech.Audio)
}

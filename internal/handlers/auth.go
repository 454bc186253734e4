package handlers

import (
	"crypto/subtle"
	"log"
	"strings"
	"time"

	"parley/pkg/auth"

	"github.com/gofiber/fiber/v2"
)

// AuthHandler issues and refreshes local JWT tokens. There is no user store;
// a single operator credential comes from configuration.
type AuthHandler struct {
	jwtAuth       *auth.LocalJWTAuth
	adminEmail    string
	adminPassword string
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(jwtAuth *auth.LocalJWTAuth, adminEmail, adminPassword string) *AuthHandler {
	return &AuthHandler{
		jwtAuth:       jwtAuth,
		adminEmail:    adminEmail,
		adminPassword: adminPassword,
	}
}

// LoginRequest is the request body for login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshTokenRequest is the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// AuthResponse is the response for successful authentication
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"` // seconds
}

// Login authenticates the operator credential and issues tokens
// POST /api/auth/login
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	if h.jwtAuth == nil || h.adminPassword == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Authentication is not configured",
		})
	}

	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	emailOK := subtle.ConstantTimeCompare([]byte(req.Email), []byte(strings.ToLower(h.adminEmail)))
	passwordOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.adminPassword))
	if emailOK&passwordOK != 1 {
		log.Printf("⚠️ Failed login attempt for %s", req.Email)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid email or password",
		})
	}

	accessToken, refreshToken, err := h.jwtAuth.GenerateTokens("admin", req.Email, "admin")
	if err != nil {
		log.Printf("❌ Failed to generate tokens: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate authentication tokens",
		})
	}

	// Refresh token also travels as an httpOnly cookie
	c.Cookie(&fiber.Cookie{
		Name:     "refresh_token",
		Value:    refreshToken,
		Expires:  time.Now().Add(h.jwtAuth.RefreshTokenExpiry),
		HTTPOnly: true,
		Secure:   c.Protocol() == "https",
		SameSite: "Strict",
		Path:     "/api/auth",
	})

	log.Printf("✅ Operator logged in: %s", req.Email)

	return c.JSON(AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(h.jwtAuth.AccessTokenExpiry.Seconds()),
	})
}

// RefreshToken generates a new access token from a refresh token
// POST /api/auth/refresh
func (h *AuthHandler) RefreshToken(c *fiber.Ctx) error {
	if h.jwtAuth == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Authentication is not configured",
		})
	}

	// Cookie first, request body as fallback
	refreshToken := c.Cookies("refresh_token")
	if refreshToken == "" {
		var req RefreshTokenRequest
		if err := c.BodyParser(&req); err == nil {
			refreshToken = req.RefreshToken
		}
	}

	if refreshToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Refresh token is required",
		})
	}

	claims, err := h.jwtAuth.VerifyRefreshToken(refreshToken)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid or expired refresh token",
		})
	}

	newAccessToken, _, err := h.jwtAuth.GenerateTokens(claims.UserID, claims.Email, claims.Role)
	if err != nil {
		log.Printf("❌ Failed to generate new access token: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to refresh token",
		})
	}

	return c.JSON(fiber.Map{
		"access_token": newAccessToken,
		"expires_in":   int(h.jwtAuth.AccessTokenExpiry.Seconds()),
	})
}

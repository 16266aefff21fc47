package http

import (
	"net/http"
	"strings"
	"time"

	"mpcomm/internal/core/domain"
	"mpcomm/internal/core/services"
	"mpcomm/internal/infrastructure/middleware"
	"mpcomm/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type AuthHandler struct {
	authService services.AuthService
	tokenTTL    time.Duration
}

func NewAuthHandler(authService services.AuthService, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		tokenTTL:    tokenTTL,
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/token", h.IssueToken)
		api.GET("/verify", middleware.AuthMiddleware(h.authService), h.VerifyToken)
	}
}

type TokenRequest struct {
	ContactID string `json:"contact_id" binding:"max=100"`
	Name      string `json:"name" binding:"required,min=1,max=100"`
}

// IssueToken mints a signaling token for a contact. Identity is
// self-asserted; deployments needing real authentication front this with
// their own identity provider.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.New(errors.ErrCodeInvalidInput, "invalid request format"))
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		c.Error(errors.New(errors.ErrCodeInvalidInput, "name must not be blank"))
		return
	}

	contactID := domain.ContactID(strings.TrimSpace(req.ContactID))
	if contactID == "" {
		contactID = domain.ContactID(uuid.New().String())
	}

	token, err := h.authService.GenerateToken(contactID, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"contact_id": contactID,
		"name":       req.Name,
		"token":      token,
		"expires_in": int(h.tokenTTL / time.Second),
	})
}

// VerifyToken reports the claims behind a bearer token, mainly for client
// debugging. Token validation happens in the auth middleware guarding the
// route; the handler only reads the resolved claims.
func (h *AuthHandler) VerifyToken(c *gin.Context) {
	value, ok := c.Get("auth_claims")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
		return
	}
	claims := value.(*services.Claims)

	c.JSON(http.StatusOK, gin.H{
		"contact_id": claims.ContactID,
		"name":       claims.Name,
		"expires_at": claims.ExpiresAt,
	})
}

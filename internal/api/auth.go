package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthHandler exchanges the static admin secret for operator JWTs and
// provides the middleware guarding operator-only routes.
type AuthHandler struct {
	adminSecret string
	tokens      *OperatorTokenIssuer
	logger      *zap.Logger
}

// NewAuthHandler creates an AuthHandler. An empty adminSecret disables the
// token endpoint entirely.
func NewAuthHandler(adminSecret string, tokens *OperatorTokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{adminSecret: adminSecret, tokens: tokens, logger: logger}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/token", h.IssueToken)
}

type tokenRequest struct {
	Secret string `json:"secret" binding:"required"`
}

// IssueToken handles POST /auth/token.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	if h.adminSecret == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "operator token issuance is disabled"})
		return
	}

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "secret is required"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.adminSecret)) != 1 {
		h.logger.Warn("operator token request with bad secret", zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
		return
	}

	token, err := h.tokens.Issue()
	if err != nil {
		h.logger.Error("issue operator token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// RequireOperator returns a middleware admitting only requests bearing a
// valid operator JWT.
func RequireOperator(tokens *OperatorTokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "operator token required"})
			return
		}
		claims, err := tokens.Verify(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid operator token"})
			return
		}
		c.Set("operator_token_id", claims.ID)
		c.Next()
	}
}

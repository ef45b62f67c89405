package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/thereayou/roomchat/internal/middleware"
	"github.com/thereayou/roomchat/pkg/auth"
)

type AuthHandler struct {
	jwtManager *auth.JWTManager
	redis      *redis.Client
}

func NewAuthHandler(jwtMgr *auth.JWTManager, rdb *redis.Client) *AuthHandler {
	return &AuthHandler{jwtManager: jwtMgr, redis: rdb}
}

// Logout revokes the bearer token in redis until it would have expired.
func (h *AuthHandler) Logout(c *gin.Context) {
	if h.redis == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token revocation is not configured"})
		return
	}

	rawToken, err := auth.ExtractTokenFromHeader(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	exp, err := h.jwtManager.Expiry(rawToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ttl := time.Until(exp)
	if ttl <= 0 {
		c.Status(http.StatusOK)
		return
	}
	if err := h.redis.Set(c.Request.Context(), middleware.BlacklistKey(rawToken), 1, ttl).Err(); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not revoke token"})
		return
	}

	c.Status(http.StatusOK)
}

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/thereayou/roomchat/internal/models"
	"github.com/thereayou/roomchat/pkg/auth"
)

const (
	UserIDKey = "userID"
	AuthorKey = "author"
	TokenKey  = "token"
)

// BlacklistKey is the redis key a revoked token is stored under.
func BlacklistKey(token string) string {
	return "blacklist:" + token
}

// AuthMiddleware checks the bearer token. redisClient may be nil, in which
// case revoked tokens are not checked.
func AuthMiddleware(jwtManager *auth.JWTManager, redisClient *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractTokenFromHeader(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			c.Abort()
			return
		}
		authenticate(c, jwtManager, redisClient, token)
	}
}

// WSAuthMiddleware also accepts the token as a query parameter, since
// browsers cannot set headers on a websocket handshake.
func WSAuthMiddleware(jwtManager *auth.JWTManager, redisClient *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token, _ = auth.ExtractTokenFromHeader(c.Request)
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}
		authenticate(c, jwtManager, redisClient, token)
	}
}

func authenticate(c *gin.Context, jwtManager *auth.JWTManager, redisClient *redis.Client, token string) {
	if redisClient != nil {
		exists, err := redisClient.Exists(c.Request.Context(), BlacklistKey(token)).Result()
		if err != nil || exists > 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token is blacklisted"})
			c.Abort()
			return
		}
	}

	claims, err := jwtManager.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		c.Abort()
		return
	}

	author, err := claims.Author()
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user id"})
		c.Abort()
		return
	}

	c.Set(UserIDKey, author.ID)
	c.Set(AuthorKey, author)
	c.Set(TokenKey, token)
	c.Next()
}

// CurrentAuthor returns the identity set by the auth middleware.
func CurrentAuthor(c *gin.Context) (models.Author, bool) {
	v, ok := c.Get(AuthorKey)
	if !ok {
		return models.Author{}, false
	}
	author, ok := v.(models.Author)
	return author, ok
}

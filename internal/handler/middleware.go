package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ctxPlayerIDKey = "playerID"
	ctxGameIDKey   = "gameID"
	ctxIsHostKey   = "isHost"
)

// issueJoinToken signs a token binding a player to a game.
func (h *Handler) issueJoinToken(gameID, playerID string, isHost bool) (string, error) {
	claims := jwt.MapClaims{
		"sub":  playerID,
		"gid":  gameID,
		"host": isHost,
		"exp":  time.Now().Add(h.tokenTTL).Unix(),
		"iat":  time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}

// authMiddleware validates the Bearer join token and stores its claims
// in the request context.
func (h *Handler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == "" || tokenString == header {
			// SSE consumers cannot set headers; allow the query fallback.
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing token"})
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return h.jwtSecret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token claims"})
			return
		}
		playerID, _ := claims["sub"].(string)
		gameID, _ := claims["gid"].(string)
		isHost, _ := claims["host"].(bool)
		if playerID == "" || gameID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token claims"})
			return
		}

		c.Set(ctxPlayerIDKey, playerID)
		c.Set(ctxGameIDKey, gameID)
		c.Set(ctxIsHostKey, isHost)
		c.Next()
	}
}

// requireGameMatch rejects tokens issued for a different game than the
// one in the URL.
func requireGameMatch(c *gin.Context) (string, bool) {
	gameID := c.Param("id")
	tokenGameID := c.GetString(ctxGameIDKey)
	if gameID != tokenGameID {
		c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "token does not match game"})
		return "", false
	}
	return gameID, true
}

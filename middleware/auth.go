package middleware

import (
	"errors"
	"net/http"
	"strings"

	"PRESENCE/config"
	"PRESENCE/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

// CurrentUserKey holds the authenticated user id in the gin context.
const CurrentUserKey = "currentUser"

var errNoUser = errors.New("token has no user id")

// Auth validates the HS256 bearer token issued by the account service and stores
// the caller's user id under CurrentUserKey.
func Auth(key []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := ParseToken(key, raw)
		if err != nil {
			logger.Info("rejected token", logger.LoggerOptions{
				Key:  "reason",
				Data: err.Error(),
			}, logger.LoggerOptions{
				Key:  "ip",
				Data: c.ClientIP(),
			})
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(CurrentUserKey, claims.UserID)
		c.Next()
	}
}

func ParseToken(key []byte, raw string) (*config.JWTClaims, error) {
	claims := &config.JWTClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, errNoUser
	}
	return claims, nil
}

// CurrentUser returns the id set by Auth.
func CurrentUser(c *gin.Context) (string, bool) {
	id := c.GetString(CurrentUserKey)
	return id, id != ""
}

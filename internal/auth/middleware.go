package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireAccessToken verifies an access token and injects identity into request context.
// It does not decide what the identity may do; handlers check ownership themselves.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tok := strings.TrimPrefix(raw, bearerPrefix)

		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ctx := WithIdentity(c.Request.Context(), claims.Identity, claims.Role)
		c.Request = c.Request.WithContext(ctx)

		// Also store on gin context for handler convenience.
		c.Set("identity", claims.Identity)
		c.Set("role", claims.Role)

		c.Next()
	}
}

// RequireAdmin gates an endpoint to admin access tokens. Must run after
// RequireAccessToken.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		c.Next()
	}
}

// VerifyRequest extracts and verifies an access token from a plain HTTP
// request. Websocket upgrades cannot carry an Authorization header from the
// browser, so a "token" query parameter is accepted as a fallback.
func VerifyRequest(m *Manager, r *http.Request, now time.Time) (Claims, error) {
	raw := strings.TrimSpace(r.Header.Get(authorizationHeader))
	if strings.HasPrefix(raw, bearerPrefix) {
		return m.Verify(strings.TrimPrefix(raw, bearerPrefix), TokenTypeAccess, now)
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return m.Verify(tok, TokenTypeAccess, now)
	}
	return Claims{}, errors.New("no credentials presented")
}

package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"ticketexchange/internal/domain/identity"
)

const principalContextKey = "ticketexchange.principal"

type principal struct {
	ID    identity.UserID
	Email string
	Name  string
	Photo string
	Token string
}

func (p principal) identity() identity.Identity {
	return identity.Identity{ID: p.ID, DisplayName: p.Name, Email: p.Email, PhotoRef: p.Photo}
}

// AuthMiddleware resolves a bearer token into a principal. Requests without
// a valid token pass through unauthenticated and are rejected per-route.
type AuthMiddleware struct {
	Verifier identity.TokenVerifier
	Logger   *slog.Logger
}

func (m AuthMiddleware) Handle(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" || m.Verifier == nil {
		c.Next()
		return
	}
	resolved, err := m.Verifier.Verify(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, identity.ErrInvalidToken) && m.Logger != nil {
			m.Logger.Debug("token validation failed", "error", err)
		}
		c.Next()
		return
	}
	setPrincipal(c, principal{
		ID:    resolved.ID,
		Email: resolved.Email,
		Name:  resolved.Label(),
		Photo: resolved.PhotoRef,
		Token: token,
	})
	c.Next()
}

func setPrincipal(c *gin.Context, p principal) {
	c.Set(principalContextKey, p)
}

func currentPrincipal(c *gin.Context) (principal, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return principal{}, false
	}
	p, ok := val.(principal)
	return p, ok
}

func requireAuth(c *gin.Context) (principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return principal{}, false
	}
	return p, true
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

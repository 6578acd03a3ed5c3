// README: Bearer-token auth middleware; stores the verified caller on the gin context.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"glideway/internal/infra"
)

const (
	ctxKeyUID    = "caller_uid"
	ctxKeyRole   = "caller_role"
	ctxKeyName   = "caller_name"
	ctxKeyAvatar = "caller_avatar"
)

// RoleDriver is the role claim required to offer rides.
const RoleDriver = "driver"

// Auth verifies the bearer token and aborts with 401 when it is missing or
// invalid. Browsers cannot set headers on websocket upgrades, so a token
// query parameter is accepted on upgrade requests only.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.Request)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tok, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil || tok == nil || tok.UID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxKeyUID, tok.UID)
		c.Set(ctxKeyRole, claim(tok.Claims, "role"))
		c.Set(ctxKeyName, claim(tok.Claims, "name"))
		c.Set(ctxKeyAvatar, claim(tok.Claims, "picture", "avatar"))
		c.Next()
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h != "" {
		if !strings.HasPrefix(h, "Bearer ") {
			return ""
		}
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("token")
	}
	return ""
}

func claim(claims map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := claims[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// RequireRole aborts with 403 unless the caller carries role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerRole(c) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": role + " role required"})
			return
		}
		c.Next()
	}
}

func CallerUID(c *gin.Context) string { return c.GetString(ctxKeyUID) }

func CallerRole(c *gin.Context) string { return c.GetString(ctxKeyRole) }

func CallerName(c *gin.Context) string { return c.GetString(ctxKeyName) }

func CallerAvatar(c *gin.Context) string { return c.GetString(ctxKeyAvatar) }

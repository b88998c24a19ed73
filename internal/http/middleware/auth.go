// README: Firebase ID token authentication for API routes.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ridelink/internal/infra"
)

const (
	ctxUID    = "auth.uid"
	ctxClaims = "auth.claims"
)

// Auth rejects requests without a valid "Authorization: Bearer <idToken>"
// header and stores the caller's uid and claims on the context.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil || token == nil || token.UID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxUID, token.UID)
		c.Set(ctxClaims, token.Claims)
		c.Next()
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

// CallerRole is the "role" custom claim; callers without one are riders.
func CallerRole(c *gin.Context) string {
	if role, ok := claim(c, "role").(string); ok && role != "" {
		return role
	}
	return "rider"
}

// CallerVerified reports the "verified" custom claim set for vetted drivers.
func CallerVerified(c *gin.Context) bool {
	v, _ := claim(c, "verified").(bool)
	return v
}

func claim(c *gin.Context, key string) interface{} {
	v, ok := c.Get(ctxClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(map[string]interface{})
	return claims[key]
}

package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxPrincipalClaims = "vidledger_principal_claims"

func bearer(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(h, "Bearer "), true
}

// RequirePrincipal returns a Gin middleware that enforces a valid principal
// Bearer token and injects its claims into the context.
func RequirePrincipal(tokens *PrincipalIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearer(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer principal token required",
			})
			return
		}
		claims, err := tokens.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid principal token: " + err.Error(),
			})
			return
		}
		c.Set(ctxPrincipalClaims, claims)
		c.Next()
	}
}

// OptionalPrincipal returns a Gin middleware that injects principal claims
// when a valid Bearer token is present. It never aborts; anonymous callers
// continue with no claims.
func OptionalPrincipal(tokens *PrincipalIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenStr, ok := bearer(c); ok {
			if claims, err := tokens.Verify(tokenStr); err == nil {
				c.Set(ctxPrincipalClaims, claims)
			}
		}
		c.Next()
	}
}

// RequireRole aborts with 403 unless the claims injected by RequirePrincipal
// carry role. Mount it after RequirePrincipal.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFromCtx(c)
		if claims == nil || claims.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": role + " role required",
			})
			return
		}
		c.Next()
	}
}

// ClaimsFromCtx retrieves the claims injected by RequirePrincipal or
// OptionalPrincipal. Returns nil for anonymous requests.
func ClaimsFromCtx(c *gin.Context) *PrincipalClaims {
	v, _ := c.Get(ctxPrincipalClaims)
	claims, _ := v.(*PrincipalClaims)
	return claims
}

// PrincipalFromCtx returns the authenticated principal id, or "" when anonymous.
func PrincipalFromCtx(c *gin.Context) string {
	if claims := ClaimsFromCtx(c); claims != nil {
		return claims.Principal()
	}
	return ""
}

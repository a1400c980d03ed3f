package middleware

import (
	"net/http"
	"strings"

	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/models"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

const callerKey = "caller"

func RequireAccess(requiredScope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// A valid x-api-key (validated by the gateway) grants read access.
		if c.GetHeader("x-api-key") != "" {
			if c.Request.Method != http.MethodGet {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "x-api-key only grants read access"})
				return
			}

			c.Set("auth_method", "api_key")
			c.Set(callerKey, models.CallerContext{AuthMethod: "api_key"})
			c.Next()
			return
		}

		// Otherwise: JWT token check
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid Authorization header"})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		caller, ok := callerFromToken(tokenStr)
		if !ok || !hasScope(caller.Scopes, requiredScope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access token missing required scope"})
			return
		}

		c.Set("auth_method", "jwt_token")
		c.Set(callerKey, caller)
		c.Next()
	}
}

// CallerFromContext returns the caller identity stored by RequireAccess.
func CallerFromContext(c *gin.Context) models.CallerContext {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(models.CallerContext); ok {
			return caller
		}
	}
	return models.CallerContext{}
}

func callerFromToken(tokenStr string) (models.CallerContext, bool) {
	token, _, err := new(jwt.Parser).ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil {
		return models.CallerContext{}, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.CallerContext{}, false
	}

	caller := models.CallerContext{AuthMethod: "jwt_token"}
	if sub, ok := claims["sub"].(string); ok {
		caller.Subject = sub
	}
	if scopeStr, ok := claims["scope"].(string); ok {
		caller.Scopes = strings.Fields(scopeStr)
	}
	return caller, true
}

func hasScope(scopes []string, requiredScope string) bool {
	for _, scope := range scopes {
		if scope == requiredScope {
			return true
		}
	}
	return false
}

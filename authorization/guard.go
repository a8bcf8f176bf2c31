// Package authorization provides the bearer-token guards used by the manager
// and wrapper surfaces. There are no user accounts in this system: the
// manager plane is protected by a single shared MANAGER_TOKEN, and the
// wrapper plane only requires that callers present a bearer credential for
// their provider.
package authorization

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// Guard holds the token configuration for the request middlewares.
type Guard struct {
	managerToken string
}

// NewGuardFromEnv reads MANAGER_TOKEN. An empty token leaves the manager
// plane open, matching local-development behavior.
func NewGuardFromEnv() *Guard {
	return &Guard{managerToken: strings.TrimSpace(os.Getenv("MANAGER_TOKEN"))}
}

func bearerToken(c *gin.Context) (string, bool) {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")), true
}

// RequireManager verifies the shared manager token when one is configured.
func (g *Guard) RequireManager() gin.HandlerFunc {
	return func(c *gin.Context) {
		if g == nil || g.managerToken == "" {
			c.Next()
			return
		}
		token, ok := bearerToken(c)
		if !ok || token != g.managerToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{
				"type":    "authentication_error",
				"message": "Unauthorized",
				"code":    "UNAUTHENTICATED",
			}})
			return
		}
		c.Next()
	}
}

// RequireBearer only checks that some bearer credential is present; the
// wrapper relays it downstream rather than validating it itself.
func (g *Guard) RequireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := bearerToken(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{
				"type":    "authentication_error",
				"message": "Missing or invalid Authorization header",
				"code":    "UNAUTHENTICATED",
				"run_id":  c.GetString("run_id"),
			}})
			return
		}
		c.Next()
	}
}

package httpmw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/claude-flow/core/internal/kernelerr"
	"github.com/claude-flow/core/internal/logging"
)

// Auth enforces bearer-token authentication against a fixed allow-list of
// tokens. Auth is opt-out: when tokens is empty the middleware logs one
// warning per process and lets every request through unauthenticated
// ("development mode").
func Auth(log *logging.Logger, tokens []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		allowed[t] = true
	}

	devMode := len(allowed) == 0
	warned := false

	return func(c *gin.Context) {
		if devMode {
			if !warned {
				log.Warn("auth disabled: running in development mode, no token allow-list configured")
				warned = true
			}
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || !allowed[token] {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"jsonrpc": "2.0",
				"error": gin.H{
					"code":    kernelerr.RPCUnauthorized,
					"message": "unauthorized",
				},
				"id": nil,
			})
			return
		}
		c.Next()
	}
}

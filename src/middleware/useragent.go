package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Substrings that identify browsers and scraping tools. Executor HTTP
// stacks send either nothing, WinInet, or a Roblox agent, none of which
// match these.
var blockedAgents = []string{
	"mozilla",
	"chrome",
	"safari",
	"firefox",
	"edg/",
	"opera",
	"curl",
	"wget",
	"python",
	"postman",
	"insomnia",
}

var allowedAgents = []string{
	"roblox",
	"wininet",
}

// browserAgent reports whether the User-Agent looks like a browser or a
// scraping tool rather than an executor.
func browserAgent(ua string) bool {
	if ua == "" {
		return false
	}
	lower := strings.ToLower(ua)
	for _, allow := range allowedAgents {
		if strings.Contains(lower, allow) {
			return false
		}
	}
	for _, block := range blockedAgents {
		if strings.Contains(lower, block) {
			return true
		}
	}
	return false
}

// ExecutorOnly keeps browsers away from the loader surface so served
// artifacts don't end up in a tab or a crawler cache.
func ExecutorOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if browserAgent(c.GetHeader("User-Agent")) {
			c.String(http.StatusForbidden, "-- nothing to see here\n")
			c.Abort()
			return
		}
		c.Next()
	}
}

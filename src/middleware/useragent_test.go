package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func serveWithAgent(t *testing.T, ua string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	_, router := gin.CreateTestContext(w)
	router.Use(ExecutorOnly())
	router.GET("/loader", func(c *gin.Context) {
		c.String(http.StatusOK, "-- ok\n")
	})

	req := httptest.NewRequest(http.MethodGet, "/loader", nil)
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestExecutorOnly_BlocksBrowsers(t *testing.T) {
	blocked := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		"curl/8.4.0",
		"python-requests/2.31",
		"PostmanRuntime/7.36.0",
	}
	for _, ua := range blocked {
		if w := serveWithAgent(t, ua); w.Code != http.StatusForbidden {
			t.Errorf("UA %q: expected 403, got %d", ua, w.Code)
		}
	}
}

func TestExecutorOnly_AllowsExecutors(t *testing.T) {
	allowed := []string{
		"",
		"Roblox/WinInet",
		"WinInet Example/1.0",
		"RobloxStudio/WinHttp",
	}
	for _, ua := range allowed {
		if w := serveWithAgent(t, ua); w.Code != http.StatusOK {
			t.Errorf("UA %q: expected 200, got %d", ua, w.Code)
		}
	}
}

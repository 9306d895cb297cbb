package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func setTestSecret(t *testing.T) {
	t.Helper()
	if err := SetJWTSecret("0123456789abcdef0123456789abcdef"); err != nil {
		t.Fatalf("SetJWTSecret failed: %v", err)
	}
}

func TestSetJWTSecret_RejectsWeakSecrets(t *testing.T) {
	if err := SetJWTSecret(""); err == nil {
		t.Error("expected error for empty secret")
	}
	if err := SetJWTSecret("short"); err == nil {
		t.Error("expected error for secret under 32 characters")
	}
}

func TestAdminToken_RoundTrip(t *testing.T) {
	setTestSecret(t)

	adminID := uuid.New()
	token, err := GenerateAdminToken(adminID, "operator")
	if err != nil {
		t.Fatalf("GenerateAdminToken failed: %v", err)
	}

	claims, err := ValidateAdminToken(token)
	if err != nil {
		t.Fatalf("ValidateAdminToken failed: %v", err)
	}
	if claims.AdminID != adminID.String() {
		t.Errorf("expected admin id %s, got %s", adminID, claims.AdminID)
	}
	if claims.Username != "operator" {
		t.Errorf("expected username operator, got %s", claims.Username)
	}
}

func TestAdminAuthMiddleware_MissingToken(t *testing.T) {
	setTestSecret(t)
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	_, router := gin.CreateTestContext(w)
	router.Use(AdminAuthMiddleware())
	router.GET("/admin", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAdminAuthMiddleware_BearerToken(t *testing.T) {
	setTestSecret(t)
	gin.SetMode(gin.TestMode)

	token, err := GenerateAdminToken(uuid.New(), "operator")
	if err != nil {
		t.Fatalf("GenerateAdminToken failed: %v", err)
	}

	w := httptest.NewRecorder()
	_, router := gin.CreateTestContext(w)
	router.Use(AdminAuthMiddleware())
	router.GET("/admin", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"username": c.GetString("username")})
	})

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAdminAuthMiddleware_CookieToken(t *testing.T) {
	setTestSecret(t)
	gin.SetMode(gin.TestMode)

	token, err := GenerateAdminToken(uuid.New(), "operator")
	if err != nil {
		t.Fatalf("GenerateAdminToken failed: %v", err)
	}

	w := httptest.NewRecorder()
	_, router := gin.CreateTestContext(w)
	router.Use(AdminAuthMiddleware())
	router.GET("/admin", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(&http.Cookie{Name: "admin_token", Value: token})
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

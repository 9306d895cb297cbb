package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flurs/keyserver/src/middleware"
	"github.com/flurs/keyserver/src/models"
	"github.com/flurs/keyserver/src/repositories"
	"github.com/flurs/keyserver/src/services"
)

// AdminHandler exposes the operator surface: sessions, key lifecycle,
// payload management and the audit views.
type AdminHandler struct {
	keyService     *services.KeyService
	payloadService *services.PayloadService
	adminService   *services.AdminService
	execLogs       repositories.ExecutionLogRepository
	secLog         *services.SecurityLogService
}

func NewAdminHandler(
	keyService *services.KeyService,
	payloadService *services.PayloadService,
	adminService *services.AdminService,
	execLogs repositories.ExecutionLogRepository,
	secLog *services.SecurityLogService,
) *AdminHandler {
	return &AdminHandler{
		keyService:     keyService,
		payloadService: payloadService,
		adminService:   adminService,
		execLogs:       execLogs,
		secLog:         secLog,
	}
}

// storageStatus maps repository errors to a response, returning true when
// it wrote one.
func storageStatus(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, repositories.ErrKeyNotFound),
		errors.Is(err, repositories.ErrPayloadNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, repositories.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
	}
	return true
}

// LoginRequest represents admin credentials
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// HandleLogin handles POST /admin/login
func (ah *AdminHandler) HandleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	admin, err := ah.adminService.AuthenticateAdmin(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			ah.secLog.Record(services.SecurityEvent{
				At:         time.Now(),
				Kind:       "admin_auth_failed",
				SourceAddr: c.ClientIP(),
				Detail:     "username " + req.Username,
			})
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	token, err := middleware.GenerateAdminToken(admin.ID, admin.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie("admin_token", token, int((24 * time.Hour).Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{
		"token":    token,
		"username": admin.Username,
	})
}

// HandleLogout handles POST /admin/logout
func (ah *AdminHandler) HandleLogout(c *gin.Context) {
	c.SetCookie("admin_token", "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

// HandleStatus handles GET /admin/status
func (ah *AdminHandler) HandleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"username":      c.GetString("username"),
	})
}

// CreateKeyRequest represents the key creation body. ExpiresInHours of 0
// means no expiry; MaxUses of nil means unlimited.
type CreateKeyRequest struct {
	Note           string `json:"note"`
	Script         string `json:"script"`
	ExpiresInHours int    `json:"expires_in_hours"`
	MaxUses        *int   `json:"max_uses"`
}

// HandleCreateKey handles POST /admin/keys
func (ah *AdminHandler) HandleCreateKey(c *gin.Context) {
	var req CreateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.MaxUses != nil && *req.MaxUses < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_uses must be at least 1"})
		return
	}

	var expiresAt *time.Time
	if req.ExpiresInHours > 0 {
		t := time.Now().Add(time.Duration(req.ExpiresInHours) * time.Hour)
		expiresAt = &t
	}

	key, err := ah.keyService.CreateKey(c.Request.Context(), req.Note, req.Script, expiresAt, req.MaxUses)
	if storageStatus(c, err) {
		return
	}
	c.JSON(http.StatusCreated, key)
}

// HandleListKeys handles GET /admin/keys
func (ah *AdminHandler) HandleListKeys(c *gin.Context) {
	keys, err := ah.keyService.ListKeys(c.Request.Context())
	if storageStatus(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

// HandleGetKey handles GET /admin/keys/:id
func (ah *AdminHandler) HandleGetKey(c *gin.Context) {
	key, err := ah.keyService.GetKey(c.Request.Context(), c.Param("id"))
	if storageStatus(c, err) {
		return
	}
	c.JSON(http.StatusOK, key)
}

// UpdateKeyRequest represents a partial key update. Absent fields stay
// unchanged; the clear flags explicitly drop a constraint.
type UpdateKeyRequest struct {
	Note             *string    `json:"note"`
	Script           *string    `json:"script"`
	ExpiresAt        *time.Time `json:"expires_at"`
	ClearExpiry      bool       `json:"clear_expiry"`
	MaxUses          *int       `json:"max_uses"`
	ClearMaxUses     bool       `json:"clear_max_uses"`
	Blacklisted      *bool      `json:"blacklisted"`
	ResetFingerprint bool       `json:"reset_fingerprint"`
}

// HandleUpdateKey handles PATCH /admin/keys/:id
func (ah *AdminHandler) HandleUpdateKey(c *gin.Context) {
	var req UpdateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.MaxUses != nil && *req.MaxUses < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_uses must be at least 1"})
		return
	}

	key, err := ah.keyService.UpdateKey(c.Request.Context(), c.Param("id"), repositories.KeyUpdate{
		Note:             req.Note,
		BoundPayloadHash: req.Script,
		ExpiresAt:        req.ExpiresAt,
		ClearExpiry:      req.ClearExpiry,
		MaxUses:          req.MaxUses,
		ClearMaxUses:     req.ClearMaxUses,
		Blacklisted:      req.Blacklisted,
		ResetFingerprint: req.ResetFingerprint,
	})
	if storageStatus(c, err) {
		return
	}
	c.JSON(http.StatusOK, key)
}

// HandleDeleteKey handles DELETE /admin/keys/:id
func (ah *AdminHandler) HandleDeleteKey(c *gin.Context) {
	if storageStatus(c, ah.keyService.DeleteKey(c.Request.Context(), c.Param("id"))) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// HandleClearKeyLog handles POST /admin/keys/:id/clear-log
func (ah *AdminHandler) HandleClearKeyLog(c *gin.Context) {
	if storageStatus(c, ah.keyService.ClearUsageLog(c.Request.Context(), c.Param("id"))) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// SavePayloadRequest represents payload upload. Content is base64 so
// arbitrary source survives JSON transport.
type SavePayloadRequest struct {
	Hash    string `json:"hash"`
	Label   string `json:"label"`
	Kind    string `json:"kind" binding:"required,oneof=inline indirection"`
	Content string `json:"content" binding:"required"`
}

// HandleSavePayload handles POST /admin/payloads
func (ah *AdminHandler) HandleSavePayload(c *gin.Context) {
	var req SavePayloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content must be base64"})
		return
	}

	payload, err := ah.payloadService.Save(c.Request.Context(), req.Hash, req.Label,
		models.PayloadKind(req.Kind), content)
	if storageStatus(c, err) {
		return
	}
	c.JSON(http.StatusCreated, payload)
}

// HandleListPayloads handles GET /admin/payloads
func (ah *AdminHandler) HandleListPayloads(c *gin.Context) {
	payloads, err := ah.payloadService.List(c.Request.Context())
	if storageStatus(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"payloads": payloads, "count": len(payloads)})
}

// HandleGetPayload handles GET /admin/payloads/:hash, returning the
// decoded source for the editor.
func (ah *AdminHandler) HandleGetPayload(c *gin.Context) {
	payload, plain, err := ah.payloadService.Reveal(c.Request.Context(), c.Param("hash"))
	if storageStatus(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payload": payload,
		"content": base64.StdEncoding.EncodeToString(plain),
	})
}

// HandleDeletePayload handles DELETE /admin/payloads/:hash
func (ah *AdminHandler) HandleDeletePayload(c *gin.Context) {
	if storageStatus(c, ah.payloadService.Delete(c.Request.Context(), c.Param("hash"))) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// HandleClearPayloadLog handles POST /admin/payloads/:hash/clear-log
func (ah *AdminHandler) HandleClearPayloadLog(c *gin.Context) {
	if storageStatus(c, ah.payloadService.ClearUsageLog(c.Request.Context(), c.Param("hash"))) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// HandleListExecutions handles GET /admin/executions with optional
// script filter and pagination.
func (ah *AdminHandler) HandleListExecutions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	logs, total, err := ah.execLogs.List(c.Request.Context(), c.Query("script"), limit, offset)
	if storageStatus(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"executions": logs,
		"total":      total,
		"limit":      limit,
		"offset":     offset,
	})
}

// HandleExecutionStats handles GET /admin/executions/stats
func (ah *AdminHandler) HandleExecutionStats(c *gin.Context) {
	stats, err := ah.execLogs.Stats(c.Request.Context())
	if storageStatus(c, err) {
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HandleClearExecutions handles DELETE /admin/executions
func (ah *AdminHandler) HandleClearExecutions(c *gin.Context) {
	if storageStatus(c, ah.execLogs.Clear(c.Request.Context())) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// HandleListSecurityEvents handles GET /admin/security-events
func (ah *AdminHandler) HandleListSecurityEvents(c *gin.Context) {
	events := ah.secLog.Events()
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// HandleClearSecurityEvents handles DELETE /admin/security-events
func (ah *AdminHandler) HandleClearSecurityEvents(c *gin.Context) {
	ah.secLog.Clear()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

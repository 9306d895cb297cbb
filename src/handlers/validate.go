package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flurs/keyserver/src/models"
	"github.com/flurs/keyserver/src/repositories"
	"github.com/flurs/keyserver/src/services"
)

// ValidateHandler serves the executor-facing validation endpoint.
type ValidateHandler struct {
	validation *services.ValidationService
}

func NewValidateHandler(validation *services.ValidationService) *ValidateHandler {
	return &ValidateHandler{validation: validation}
}

// ValidateRequest is the POST body. GET uses the same field names as
// query parameters; executors with primitive HTTP stacks use GET.
type ValidateRequest struct {
	Key      string `json:"key" form:"key"`
	HWID     string `json:"hwid" form:"hwid"`
	Script   string `json:"script" form:"script"`
	Identity string `json:"identity" form:"identity"`
}

// HandleValidate handles GET and POST /api/validate
func (vh *ValidateHandler) HandleValidate(c *gin.Context) {
	var req ValidateRequest
	if c.Request.Method == http.MethodPost {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "malformed_request",
				"message": "Invalid request body",
			})
			return
		}
	} else {
		if err := c.ShouldBindQuery(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "malformed_request",
				"message": "Invalid query parameters",
			})
			return
		}
	}

	if req.Key == "" || req.Script == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "malformed_request",
			"message": "key and script are required",
		})
		return
	}

	result, err := vh.validation.Validate(c.Request.Context(), services.ValidationRequest{
		KeyValue:    req.Key,
		Fingerprint: req.HWID,
		PayloadHash: req.Script,
		Identity:    req.Identity,
		SourceAddr:  c.ClientIP(),
	})
	if err != nil {
		if errors.Is(err, repositories.ErrStorageUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "storage_unavailable",
				"message": "Try again shortly",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "server_error",
			"message": "Validation failed",
		})
		return
	}

	if result.Verdict != models.VerdictOK {
		c.JSON(result.Verdict.HTTPStatus(), gin.H{
			"valid":   false,
			"error":   result.Verdict.Code(),
			"message": result.Verdict.Message(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":   true,
		"content": string(result.Content),
		"script": gin.H{
			"hash":  result.Payload.Hash,
			"label": result.Payload.Label,
			"kind":  result.Payload.Kind,
		},
	})
}

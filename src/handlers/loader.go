package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/flurs/keyserver/src/models"
	"github.com/flurs/keyserver/src/repositories"
	"github.com/flurs/keyserver/src/services"
)

// LoaderHandler serves Lua artifacts to executors. Responses are always
// text/plain and never cacheable: every wrapper is assembled fresh.
type LoaderHandler struct {
	delivery *services.DeliveryService
}

func NewLoaderHandler(delivery *services.DeliveryService) *LoaderHandler {
	return &LoaderHandler{delivery: delivery}
}

func writeLua(c *gin.Context, status int, body string) {
	c.Header("Cache-Control", "no-store")
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.String(status, body)
}

// HandleLoader handles GET /loader/:file where file is "<hash>.lua".
// Without a key it serves the public stub; with a key it validates and
// serves the protected wrapper.
func (lh *LoaderHandler) HandleLoader(c *gin.Context) {
	file := c.Param("file")
	hash := strings.TrimSuffix(file, ".lua")
	if hash == "" || hash == file {
		writeLua(c, http.StatusNotFound, "-- not found\n")
		return
	}

	key := c.Query("key")
	ctx := c.Request.Context()

	var (
		body    string
		verdict models.Verdict
		err     error
	)
	if key == "" {
		body, verdict, err = lh.delivery.Stub(ctx, hash)
	} else {
		body, verdict, err = lh.delivery.Deliver(ctx, services.ValidationRequest{
			KeyValue:    key,
			Fingerprint: c.Query("hwid"),
			PayloadHash: hash,
			Identity:    c.Query("identity"),
			SourceAddr:  c.ClientIP(),
		})
	}
	if err != nil {
		if errors.Is(err, repositories.ErrStorageUnavailable) {
			writeLua(c, http.StatusServiceUnavailable, "-- temporarily unavailable\n")
			return
		}
		writeLua(c, http.StatusInternalServerError, "-- server error\n")
		return
	}

	writeLua(c, verdict.HTTPStatus(), body)
}

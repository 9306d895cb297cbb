package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flurs/keyserver/src/assembler"
	"github.com/flurs/keyserver/src/codec"
	"github.com/flurs/keyserver/src/models"
	"github.com/flurs/keyserver/src/repositories/memory"
	"github.com/flurs/keyserver/src/services"
)

// Test helpers for handler tests

// testEnv wires handlers to in-memory repositories.
type testEnv struct {
	keys     *memory.KeyRepository
	payloads *memory.PayloadRepository
	execLogs *memory.ExecutionLogRepository
	admins   *memory.AdminRepository
	secLog   *services.SecurityLogService

	validation *services.ValidationService
	delivery   *services.DeliveryService
	keySvc     *services.KeyService
	payloadSvc *services.PayloadService
	adminSvc   *services.AdminService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		keys:     memory.NewKeyRepository(),
		payloads: memory.NewPayloadRepository(),
		execLogs: memory.NewExecutionLogRepository(),
		admins:   memory.NewAdminRepository(),
		secLog:   services.NewSecurityLogService(),
	}
	logger := zerolog.Nop()
	env.validation = services.NewValidationService(env.keys, env.payloads, env.execLogs, env.secLog, logger)
	env.keySvc = services.NewKeyService(env.keys, logger)
	env.payloadSvc = services.NewPayloadService(env.payloads, logger)
	env.adminSvc = services.NewAdminServiceWithRepo(env.admins, logger)

	cfg, err := assembler.LoadConfig("")
	if err != nil {
		t.Fatalf("failed to load loader config: %v", err)
	}
	asm := assembler.New(cfg, "http://localhost:8080")
	env.delivery = services.NewDeliveryService(asm, env.validation, env.payloadSvc, logger)
	return env
}

// addKey inserts a key directly into the store.
func (env *testEnv) addKey(t *testing.T, key *models.AccessKey) *models.AccessKey {
	t.Helper()
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}
	if err := env.keys.Create(context.Background(), key); err != nil {
		t.Fatalf("failed to create test key: %v", err)
	}
	return key
}

// addPayload inserts an encoded payload directly into the store.
func (env *testEnv) addPayload(t *testing.T, hash string, content []byte) *models.ProtectedPayload {
	t.Helper()
	seed, err := codec.NewSeed()
	if err != nil {
		t.Fatalf("failed to generate seed: %v", err)
	}
	p := &models.ProtectedPayload{
		Hash:      hash,
		Label:     "test payload",
		Kind:      models.PayloadKindInline,
		Seed:      seed,
		Encoded:   codec.Encode(seed, content),
		CreatedAt: time.Now(),
	}
	if err := env.payloads.Upsert(context.Background(), p); err != nil {
		t.Fatalf("failed to upsert test payload: %v", err)
	}
	return p
}

// assertStatusCode checks if response status code matches expected
func assertStatusCode(t *testing.T, w *httptest.ResponseRecorder, expectedCode int) {
	t.Helper()
	if w.Code != expectedCode {
		t.Errorf("expected status %d, got %d: %s", expectedCode, w.Code, w.Body.String())
	}
}

// parseJSON unmarshals a response body into a generic map
func parseJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return response
}

// assertJSONError checks if response contains expected error message
func assertJSONError(t *testing.T, w *httptest.ResponseRecorder, expectedError string) {
	t.Helper()
	response := parseJSON(t, w)
	if response["error"] != expectedError {
		t.Errorf("expected error '%s', got '%v'", expectedError, response["error"])
	}
}

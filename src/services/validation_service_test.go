package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flurs/keyserver/src/codec"
	"github.com/flurs/keyserver/src/models"
	"github.com/flurs/keyserver/src/repositories/memory"
)

const testHash = "0123456789abcdef0123456789abcdef"

type validationFixture struct {
	keys     *memory.KeyRepository
	payloads *memory.PayloadRepository
	execLogs *memory.ExecutionLogRepository
	secLog   *SecurityLogService
	svc      *ValidationService
}

func newValidationFixture(t *testing.T) *validationFixture {
	t.Helper()
	f := &validationFixture{
		keys:     memory.NewKeyRepository(),
		payloads: memory.NewPayloadRepository(),
		execLogs: memory.NewExecutionLogRepository(),
		secLog:   NewSecurityLogService(),
	}
	f.svc = NewValidationService(f.keys, f.payloads, f.execLogs, f.secLog, zerolog.Nop())
	return f
}

func (f *validationFixture) addKey(t *testing.T, key *models.AccessKey) *models.AccessKey {
	t.Helper()
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}
	if err := f.keys.Create(context.Background(), key); err != nil {
		t.Fatalf("failed to create test key: %v", err)
	}
	return key
}

func (f *validationFixture) addPayload(t *testing.T, hash string, content []byte) *models.ProtectedPayload {
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
	if err := f.payloads.Upsert(context.Background(), p); err != nil {
		t.Fatalf("failed to upsert test payload: %v", err)
	}
	return p
}

func baseRequest() ValidationRequest {
	return ValidationRequest{
		KeyValue:    "FLURS-AAAA-BBBB-CCCC-DDDD",
		Fingerprint: "hwid-1",
		PayloadHash: testHash,
		Identity:    "player1",
		SourceAddr:  "203.0.113.7",
	}
}

func TestValidate_Success(t *testing.T) {
	f := newValidationFixture(t)
	content := []byte(`print("ok")`)
	f.addPayload(t, testHash, content)
	f.addKey(t, &models.AccessKey{KeyValue: "FLURS-AAAA-BBBB-CCCC-DDDD"})

	result, err := f.svc.Validate(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if result.Verdict != models.VerdictOK {
		t.Fatalf("Expected VerdictOK, got %s", result.Verdict.Code())
	}
	if string(result.Content) != string(content) {
		t.Errorf("Decoded content mismatch: got %q", result.Content)
	}

	// Side effects: use counted, fingerprint bound, ledger written.
	key, err := f.keys.GetByValue(context.Background(), "FLURS-AAAA-BBBB-CCCC-DDDD")
	if err != nil {
		t.Fatalf("GetByValue failed: %v", err)
	}
	if key.UseCount != 1 {
		t.Errorf("Expected use count 1, got %d", key.UseCount)
	}
	if key.DeviceFingerprint != "hwid-1" {
		t.Errorf("Expected fingerprint bound to hwid-1, got %q", key.DeviceFingerprint)
	}
	if len(key.UsageLog) != 1 || key.UsageLog[0].Identity != "player1" {
		t.Errorf("Expected one usage entry for player1, got %+v", key.UsageLog)
	}
	if len(key.KnownIdentities) != 1 || key.KnownIdentities[0] != "player1" {
		t.Errorf("Expected player1 in known identities, got %v", key.KnownIdentities)
	}

	logs, total, err := f.execLogs.List(context.Background(), "", 10, 0)
	if err != nil {
		t.Fatalf("List exec logs failed: %v", err)
	}
	if total != 1 || len(logs) != 1 {
		t.Fatalf("Expected one execution log entry, got %d", total)
	}
}

func TestValidate_EachUseGetsOwnExecutionLogRow(t *testing.T) {
	f := newValidationFixture(t)
	f.addPayload(t, testHash, []byte("x"))
	f.addKey(t, &models.AccessKey{KeyValue: "FLURS-AAAA-BBBB-CCCC-DDDD"})

	for i := 0; i < 2; i++ {
		result, err := f.svc.Validate(context.Background(), baseRequest())
		if err != nil {
			t.Fatalf("Validate %d failed: %v", i+1, err)
		}
		if result.Verdict != models.VerdictOK {
			t.Fatalf("Validate %d: expected VerdictOK, got %s", i+1, result.Verdict.Code())
		}
	}

	// The audit table keys rows by ID, so each use must carry a fresh one;
	// a repeated ID would make the second append collide and vanish.
	logs, total, err := f.execLogs.List(context.Background(), "", 10, 0)
	if err != nil {
		t.Fatalf("List exec logs failed: %v", err)
	}
	if total != 2 || len(logs) != 2 {
		t.Fatalf("Expected two execution log entries, got %d", total)
	}
	if logs[0].ID == uuid.Nil || logs[1].ID == uuid.Nil {
		t.Errorf("Execution log entries must carry IDs, got %s / %s", logs[0].ID, logs[1].ID)
	}
	if logs[0].ID == logs[1].ID {
		t.Errorf("Execution log IDs must be distinct, both %s", logs[0].ID)
	}
}

func TestValidate_UnknownKey(t *testing.T) {
	f := newValidationFixture(t)
	f.addPayload(t, testHash, []byte("x"))

	result, err := f.svc.Validate(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if result.Verdict != models.VerdictInvalidKey {
		t.Errorf("Expected VerdictInvalidKey, got %s", result.Verdict.Code())
	}
}

func TestValidate_RevokedBeatsExpired(t *testing.T) {
	f := newValidationFixture(t)
	f.addPayload(t, testHash, []byte("x"))
	past := time.Now().Add(-time.Hour)
	f.addKey(t, &models.AccessKey{
		KeyValue:    "FLURS-AAAA-BBBB-CCCC-DDDD",
		Blacklisted: true,
		ExpiresAt:   &past,
	})

	result, err := f.svc.Validate(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if result.Verdict != models.VerdictRevoked {
		t.Errorf("Expected VerdictRevoked to win over expiry, got %s", result.Verdict.Code())
	}
}

func TestValidate_Expired(t *testing.T) {
	f := newValidationFixture(t)
	f.addPayload(t, testHash, []byte("x"))
	past := time.Now().Add(-time.Minute)
	f.addKey(t, &models.AccessKey{KeyValue: "FLURS-AAAA-BBBB-CCCC-DDDD", ExpiresAt: &past})

	result, err := f.svc.Validate(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if result.Verdict != models.VerdictExpired {
		t.Errorf("Expected VerdictExpired, got %s", result.Verdict.Code())
	}
}

func TestValidate_QuotaExactBoundary(t *testing.T) {
	f := newValidationFixture(t)
	f.addPayload(t, testHash, []byte("x"))
	maxUses := 2
	f.addKey(t, &models.AccessKey{KeyValue: "FLURS-AAAA-BBBB-CCCC-DDDD", MaxUses: &maxUses})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		result, err := f.svc.Validate(ctx, baseRequest())
		if err != nil {
			t.Fatalf("Validate %d failed: %v", i+1, err)
		}
		if result.Verdict != models.VerdictOK {
			t.Fatalf("Use %d: expected VerdictOK, got %s", i+1, result.Verdict.Code())
		}
	}

	result, err := f.svc.Validate(ctx, baseRequest())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if result.Verdict != models.VerdictQuotaExceeded {
		t.Errorf("Expected VerdictQuotaExceeded on use 3, got %s", result.Verdict.Code())
	}

	// The denied attempt must not advance the counter.
	key, _ := f.keys.GetByValue(ctx, "FLURS-AAAA-BBBB-CCCC-DDDD")
	if key.UseCount != 2 {
		t.Errorf("Expected use count to stay at 2, got %d", key.UseCount)
	}
}

func TestValidate_WrongPayload(t *testing.T) {
	f := newValidationFixture(t)
	f.addPayload(t, testHash, []byte("x"))
	f.addKey(t, &models.AccessKey{
		KeyValue:         "FLURS-AAAA-BBBB-CCCC-DDDD",
		BoundPayloadHash: "ffffffffffffffffffffffffffffffff",
	})

	result, err := f.svc.Validate(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if result.Verdict != models.VerdictWrongPayload {
		t.Errorf("Expected VerdictWrongPayload, got %s", result.Verdict.Code())
	}
}

func TestValidate_DeviceBindingAndMismatch(t *testing.T) {
	f := newValidationFixture(t)
	f.addPayload(t, testHash, []byte("x"))
	f.addKey(t, &models.AccessKey{KeyValue: "FLURS-AAAA-BBBB-CCCC-DDDD"})
	ctx := context.Background()

	// First use binds the fingerprint.
	req := baseRequest()
	if result, err := f.svc.Validate(ctx, req); err != nil || result.Verdict != models.VerdictOK {
		t.Fatalf("First use: verdict=%v err=%v", result, err)
	}

	// A second device is rejected and the key stays untouched.
	req.Fingerprint = "hwid-2"
	result, err := f.svc.Validate(ctx, req)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if result.Verdict != models.VerdictDeviceMismatch {
		t.Fatalf("Expected VerdictDeviceMismatch, got %s", result.Verdict.Code())
	}
	key, _ := f.keys.GetByValue(ctx, "FLURS-AAAA-BBBB-CCCC-DDDD")
	if key.UseCount != 1 {
		t.Errorf("Denied attempt must not count a use, got %d", key.UseCount)
	}
	if key.DeviceFingerprint != "hwid-1" {
		t.Errorf("Binding must not change on mismatch, got %q", key.DeviceFingerprint)
	}

	// The mismatch lands in the security log.
	events := f.secLog.Events()
	if len(events) != 1 || events[0].Kind != models.VerdictDeviceMismatch.Code() {
		t.Errorf("Expected one device_mismatch security event, got %+v", events)
	}
}

func TestValidate_UnknownFingerprintDoesNotBind(t *testing.T) {
	f := newValidationFixture(t)
	f.addPayload(t, testHash, []byte("x"))
	f.addKey(t, &models.AccessKey{KeyValue: "FLURS-AAAA-BBBB-CCCC-DDDD"})
	ctx := context.Background()

	req := baseRequest()
	req.Fingerprint = "unknown"
	if result, err := f.svc.Validate(ctx, req); err != nil || result.Verdict != models.VerdictOK {
		t.Fatalf("Unknown-fingerprint use: verdict=%v err=%v", result, err)
	}

	key, _ := f.keys.GetByValue(ctx, "FLURS-AAAA-BBBB-CCCC-DDDD")
	if key.DeviceFingerprint != "" {
		t.Errorf("Unknown fingerprint must not bind, got %q", key.DeviceFingerprint)
	}

	// Once bound, an unknown fingerprint still passes.
	req.Fingerprint = "hwid-1"
	if result, _ := f.svc.Validate(ctx, req); result.Verdict != models.VerdictOK {
		t.Fatalf("Binding use failed: %s", result.Verdict.Code())
	}
	req.Fingerprint = "unknown"
	result, err := f.svc.Validate(ctx, req)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if result.Verdict != models.VerdictOK {
		t.Errorf("Unknown fingerprint must not trip a mismatch, got %s", result.Verdict.Code())
	}
}

func TestValidate_PayloadNotFoundStillCountsUse(t *testing.T) {
	f := newValidationFixture(t)
	f.addKey(t, &models.AccessKey{KeyValue: "FLURS-AAAA-BBBB-CCCC-DDDD"})
	ctx := context.Background()

	result, err := f.svc.Validate(ctx, baseRequest())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if result.Verdict != models.VerdictPayloadNotFound {
		t.Fatalf("Expected VerdictPayloadNotFound, got %s", result.Verdict.Code())
	}

	// The key passed every check, so the redemption stands.
	key, _ := f.keys.GetByValue(ctx, "FLURS-AAAA-BBBB-CCCC-DDDD")
	if key.UseCount != 1 {
		t.Errorf("Expected use count 1, got %d", key.UseCount)
	}
}

func TestValidate_UsageLogCapped(t *testing.T) {
	f := newValidationFixture(t)
	f.addPayload(t, testHash, []byte("x"))
	f.addKey(t, &models.AccessKey{KeyValue: "FLURS-AAAA-BBBB-CCCC-DDDD"})
	ctx := context.Background()

	req := baseRequest()
	for i := 0; i < models.UsageLogCap+10; i++ {
		result, err := f.svc.Validate(ctx, req)
		if err != nil || result.Verdict != models.VerdictOK {
			t.Fatalf("Use %d: verdict=%v err=%v", i+1, result, err)
		}
	}

	key, _ := f.keys.GetByValue(ctx, "FLURS-AAAA-BBBB-CCCC-DDDD")
	if len(key.UsageLog) != models.UsageLogCap {
		t.Errorf("Expected usage log capped at %d, got %d", models.UsageLogCap, len(key.UsageLog))
	}
	if key.UseCount != models.UsageLogCap+10 {
		t.Errorf("Use count must keep counting past the cap, got %d", key.UseCount)
	}
}

func TestEvaluateKey_CheckOrder(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	zero := 0
	key := &models.AccessKey{
		KeyValue:          "FLURS-AAAA-BBBB-CCCC-DDDD",
		Blacklisted:       true,
		ExpiresAt:         &past,
		MaxUses:           &zero,
		BoundPayloadHash:  "ffffffffffffffffffffffffffffffff",
		DeviceFingerprint: "hwid-other",
	}
	req := baseRequest()
	now := time.Now()

	// Strip failures one at a time; each reveals the next check in order.
	steps := []struct {
		fix  func()
		want models.Verdict
	}{
		{func() {}, models.VerdictRevoked},
		{func() { key.Blacklisted = false }, models.VerdictExpired},
		{func() { key.ExpiresAt = nil }, models.VerdictQuotaExceeded},
		{func() { key.MaxUses = nil }, models.VerdictWrongPayload},
		{func() { key.BoundPayloadHash = "" }, models.VerdictDeviceMismatch},
		{func() { key.DeviceFingerprint = "" }, models.VerdictOK},
	}
	for _, step := range steps {
		step.fix()
		if got := EvaluateKey(key, req, now); got != step.want {
			t.Fatalf("Expected %s, got %s", step.want.Code(), got.Code())
		}
	}
}

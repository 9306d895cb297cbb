package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flurs/keyserver/src/codec"
	"github.com/flurs/keyserver/src/models"
	"github.com/flurs/keyserver/src/repositories"
)

// ValidationRequest carries everything an executor sends when redeeming
// a key against a protected payload.
type ValidationRequest struct {
	KeyValue    string
	Fingerprint string
	PayloadHash string
	Identity    string
	SourceAddr  string
}

// ValidationResult is the outcome of a validation attempt. Content holds
// the decoded payload source only when Verdict is VerdictOK.
type ValidationResult struct {
	Verdict models.Verdict
	Key     *models.AccessKey
	Payload *models.ProtectedPayload
	Content []byte
}

// ValidationService runs the key check sequence and, on a full pass,
// commits the usage side effects atomically with the checks.
type ValidationService struct {
	keys     repositories.KeyRepository
	payloads repositories.PayloadRepository
	execLogs repositories.ExecutionLogRepository
	secLog   *SecurityLogService
	logger   zerolog.Logger
	now      func() time.Time
}

func NewValidationService(
	keys repositories.KeyRepository,
	payloads repositories.PayloadRepository,
	execLogs repositories.ExecutionLogRepository,
	secLog *SecurityLogService,
	logger zerolog.Logger,
) *ValidationService {
	return &ValidationService{
		keys:     keys,
		payloads: payloads,
		execLogs: execLogs,
		secLog:   secLog,
		logger:   logger.With().Str("component", "validation").Logger(),
		now:      time.Now,
	}
}

// boundFingerprint reports whether fp is usable for device binding.
// Executors that cannot read a hardware id send "unknown" or nothing;
// such values neither bind a key nor trip a mismatch.
func boundFingerprint(fp string) bool {
	return fp != "" && !strings.EqualFold(fp, "unknown")
}

// EvaluateKey applies the check sequence to an already-loaded key and
// returns the first failing verdict, or VerdictOK. It is pure: no clock
// reads, no mutation, no I/O.
func EvaluateKey(key *models.AccessKey, req ValidationRequest, now time.Time) models.Verdict {
	if key.Blacklisted {
		return models.VerdictRevoked
	}
	if key.IsExpired(now) {
		return models.VerdictExpired
	}
	if key.QuotaExhausted() {
		return models.VerdictQuotaExceeded
	}
	if key.BoundPayloadHash != "" && key.BoundPayloadHash != req.PayloadHash {
		return models.VerdictWrongPayload
	}
	if key.DeviceFingerprint != "" && boundFingerprint(req.Fingerprint) &&
		key.DeviceFingerprint != req.Fingerprint {
		return models.VerdictDeviceMismatch
	}
	return models.VerdictOK
}

// applyUsage commits the side effects of a successful validation: first-use
// device binding, use counting, the bounded usage log, and the identity set.
func applyUsage(key *models.AccessKey, req ValidationRequest, now time.Time) {
	if key.DeviceFingerprint == "" && boundFingerprint(req.Fingerprint) {
		key.DeviceFingerprint = req.Fingerprint
	}
	key.UseCount++
	key.LastUsedAt = &now
	key.UsageLog = models.PrependUsage(key.UsageLog, models.UsageEntry{
		At:          now,
		SourceAddr:  req.SourceAddr,
		Fingerprint: req.Fingerprint,
		Identity:    req.Identity,
	})
	key.RecordIdentity(req.Identity)
}

// Validate runs the full sequence for one request. Checks and side effects
// execute inside a single key redemption, so a denied attempt never
// mutates the key and concurrent redemptions of the same key serialize.
func (s *ValidationService) Validate(ctx context.Context, req ValidationRequest) (*ValidationResult, error) {
	now := s.now()
	verdict := models.VerdictOK
	var denied *models.AccessKey

	key, err := s.keys.Redeem(ctx, req.KeyValue, func(k *models.AccessKey) error {
		if v := EvaluateKey(k, req, now); v != models.VerdictOK {
			verdict = v
			denied = k
			return errDenied
		}
		applyUsage(k, req, now)
		return nil
	})
	switch {
	case errors.Is(err, repositories.ErrKeyNotFound):
		return &ValidationResult{Verdict: models.VerdictInvalidKey}, nil
	case errors.Is(err, errDenied):
		s.recordDenial(verdict, denied, req, now)
		return &ValidationResult{Verdict: verdict, Key: denied}, nil
	case err != nil:
		return nil, err
	}

	result := &ValidationResult{Verdict: models.VerdictOK, Key: key}

	payload, err := s.payloads.GetByHash(ctx, req.PayloadHash)
	if errors.Is(err, repositories.ErrPayloadNotFound) {
		// The key was already redeemed; a use against a missing payload
		// still counts, matching the ledger the operator sees.
		result.Verdict = models.VerdictPayloadNotFound
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	result.Payload = payload
	result.Content = codec.Decode(payload.Seed, payload.Encoded)

	if err := s.payloads.RecordUse(ctx, payload.Hash, models.UsageEntry{
		At:          now,
		SourceAddr:  req.SourceAddr,
		Fingerprint: req.Fingerprint,
		Identity:    req.Identity,
	}); err != nil {
		s.logger.Warn().Err(err).Str("hash", payload.Hash).Msg("failed to record payload use")
	}

	if err := s.execLogs.Append(ctx, &models.ExecutionLog{
		ID:           uuid.New(),
		PayloadHash:  payload.Hash,
		PayloadLabel: payload.Label,
		SourceAddr:   req.SourceAddr,
		Fingerprint:  req.Fingerprint,
		KeyValue:     key.KeyValue,
		Identity:     req.Identity,
		ExecutedAt:   now,
	}); err != nil {
		s.logger.Warn().Err(err).Str("hash", payload.Hash).Msg("failed to append execution log")
	}

	return result, nil
}

func (s *ValidationService) recordDenial(v models.Verdict, key *models.AccessKey, req ValidationRequest, now time.Time) {
	if s.secLog == nil {
		return
	}
	ev := SecurityEvent{
		At:          now,
		Kind:        v.Code(),
		KeyValue:    req.KeyValue,
		SourceAddr:  req.SourceAddr,
		Fingerprint: req.Fingerprint,
		PayloadHash: req.PayloadHash,
	}
	if v == models.VerdictDeviceMismatch && key != nil {
		ev.Detail = "bound to " + key.DeviceFingerprint
	}
	s.secLog.Record(ev)

	s.logger.Info().
		Str("verdict", v.Code()).
		Str("key", req.KeyValue).
		Str("ip", req.SourceAddr).
		Msg("validation denied")
}

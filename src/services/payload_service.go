package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/flurs/keyserver/src/codec"
	"github.com/flurs/keyserver/src/models"
	"github.com/flurs/keyserver/src/repositories"
)

// PayloadService stores protected payloads. Content is encoded with a
// fresh random seed on every save, so plaintext never reaches storage
// and re-uploading the same source yields different ciphertext.
type PayloadService struct {
	payloads repositories.PayloadRepository
	logger   zerolog.Logger
}

func NewPayloadService(payloads repositories.PayloadRepository, logger zerolog.Logger) *PayloadService {
	return &PayloadService{
		payloads: payloads,
		logger:   logger.With().Str("component", "payloads").Logger(),
	}
}

// GenerateHash produces a 32-character lowercase hex payload identifier.
func GenerateHash() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to generate payload hash: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// Save encodes the content and upserts the payload. An empty hash means
// a new payload; a known hash replaces its content while keeping the
// accumulated counters.
func (s *PayloadService) Save(ctx context.Context, hash, label string, kind models.PayloadKind, content []byte) (*models.ProtectedPayload, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown payload kind %q", kind)
	}

	if hash == "" {
		var err error
		if hash, err = GenerateHash(); err != nil {
			return nil, err
		}
	}

	seed, err := codec.NewSeed()
	if err != nil {
		return nil, err
	}

	payload := &models.ProtectedPayload{
		Hash:      hash,
		Label:     label,
		Kind:      kind,
		Seed:      seed,
		Encoded:   codec.Encode(seed, content),
		CreatedAt: time.Now(),
	}
	if err := s.payloads.Upsert(ctx, payload); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("hash", payload.Hash).
		Str("kind", string(payload.Kind)).
		Int("bytes", len(content)).
		Msg("payload saved")
	return payload, nil
}

func (s *PayloadService) Get(ctx context.Context, hash string) (*models.ProtectedPayload, error) {
	return s.payloads.GetByHash(ctx, hash)
}

// Reveal returns the payload together with its decoded plaintext, for
// the operator's editor view.
func (s *PayloadService) Reveal(ctx context.Context, hash string) (*models.ProtectedPayload, []byte, error) {
	payload, err := s.payloads.GetByHash(ctx, hash)
	if err != nil {
		return nil, nil, err
	}
	return payload, codec.Decode(payload.Seed, payload.Encoded), nil
}

func (s *PayloadService) List(ctx context.Context) ([]*models.ProtectedPayload, error) {
	return s.payloads.List(ctx)
}

func (s *PayloadService) Delete(ctx context.Context, hash string) error {
	if err := s.payloads.Delete(ctx, hash); err != nil {
		return err
	}
	s.logger.Info().Str("hash", hash).Msg("payload deleted")
	return nil
}

func (s *PayloadService) ClearUsageLog(ctx context.Context, hash string) error {
	return s.payloads.ClearUsageLog(ctx, hash)
}

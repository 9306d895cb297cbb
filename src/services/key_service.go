package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flurs/keyserver/src/models"
	"github.com/flurs/keyserver/src/repositories"
)

// KeyService manages the access key lifecycle on behalf of the operator
// endpoints. Redemption-time mutation lives in ValidationService; this
// service only covers explicit operator actions.
type KeyService struct {
	keys   repositories.KeyRepository
	logger zerolog.Logger
}

func NewKeyService(keys repositories.KeyRepository, logger zerolog.Logger) *KeyService {
	return &KeyService{
		keys:   keys,
		logger: logger.With().Str("component", "keys").Logger(),
	}
}

// GenerateKeyValue produces a key in FLURS-XXXX-XXXX-XXXX-XXXX form,
// where each segment is two random bytes in uppercase hex.
func GenerateKeyValue() (string, error) {
	segments := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		var buf [2]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return "", fmt.Errorf("failed to generate key segment: %w", err)
		}
		segments = append(segments, strings.ToUpper(hex.EncodeToString(buf[:])))
	}
	return "FLURS-" + strings.Join(segments, "-"), nil
}

// CreateKey generates a fresh key value and persists the key with the
// given constraints. A nil expiry or quota means unbounded.
func (s *KeyService) CreateKey(ctx context.Context, note, boundPayloadHash string, expiresAt *time.Time, maxUses *int) (*models.AccessKey, error) {
	value, err := GenerateKeyValue()
	if err != nil {
		return nil, err
	}

	key := &models.AccessKey{
		ID:               uuid.New(),
		KeyValue:         value,
		Note:             note,
		BoundPayloadHash: boundPayloadHash,
		ExpiresAt:        expiresAt,
		MaxUses:          maxUses,
		CreatedAt:        time.Now(),
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("key", key.KeyValue).
		Str("bound", key.BoundPayloadHash).
		Msg("access key created")
	return key, nil
}

func (s *KeyService) GetKey(ctx context.Context, id string) (*models.AccessKey, error) {
	return s.keys.GetByID(ctx, id)
}

func (s *KeyService) GetKeyByValue(ctx context.Context, keyValue string) (*models.AccessKey, error) {
	return s.keys.GetByValue(ctx, keyValue)
}

func (s *KeyService) ListKeys(ctx context.Context) ([]*models.AccessKey, error) {
	return s.keys.List(ctx)
}

// UpdateKey applies the given partial update and returns the updated key.
func (s *KeyService) UpdateKey(ctx context.Context, id string, update repositories.KeyUpdate) (*models.AccessKey, error) {
	if err := s.keys.Update(ctx, id, update); err != nil {
		return nil, err
	}
	return s.keys.GetByID(ctx, id)
}

func (s *KeyService) DeleteKey(ctx context.Context, id string) error {
	if err := s.keys.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("key_id", id).Msg("access key deleted")
	return nil
}

// ClearUsageLog empties the key's usage ledger without touching its
// counters or binding.
func (s *KeyService) ClearUsageLog(ctx context.Context, id string) error {
	return s.keys.ClearUsageLog(ctx, id)
}

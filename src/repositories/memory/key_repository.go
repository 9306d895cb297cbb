// Package memory implements the repository interfaces on mutex-guarded
// maps. It backs single-process deployments and the test suite; records
// are deep-copied on the way in and out so callers never alias store
// state.
package memory

import (
	"context"
	"sync"

	"github.com/flurs/keyserver/src/models"
	"github.com/flurs/keyserver/src/repositories"
)

// KeyRepository is the in-memory implementation of
// repositories.KeyRepository. The store mutex is the per-key
// serialization point Redeem relies on.
type KeyRepository struct {
	mu   sync.Mutex
	keys map[string]*models.AccessKey // by id
}

// NewKeyRepository creates an empty in-memory key repository.
func NewKeyRepository() *KeyRepository {
	return &KeyRepository{keys: make(map[string]*models.AccessKey)}
}

func cloneKey(key *models.AccessKey) *models.AccessKey {
	c := *key
	c.UsageLog = append([]models.UsageEntry(nil), key.UsageLog...)
	c.KnownIdentities = append([]string(nil), key.KnownIdentities...)
	if key.ExpiresAt != nil {
		t := *key.ExpiresAt
		c.ExpiresAt = &t
	}
	if key.MaxUses != nil {
		n := *key.MaxUses
		c.MaxUses = &n
	}
	if key.LastUsedAt != nil {
		t := *key.LastUsedAt
		c.LastUsedAt = &t
	}
	return &c
}

func (r *KeyRepository) findByValue(keyValue string) *models.AccessKey {
	for _, key := range r.keys {
		if key.KeyValue == keyValue {
			return key
		}
	}
	return nil
}

// Create inserts a new key.
func (r *KeyRepository) Create(_ context.Context, key *models.AccessKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.findByValue(key.KeyValue) != nil {
		return repositories.ErrDuplicateKey
	}
	r.keys[key.ID.String()] = cloneKey(key)
	return nil
}

// GetByValue retrieves a key by its secret value.
func (r *KeyRepository) GetByValue(_ context.Context, keyValue string) (*models.AccessKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if key := r.findByValue(keyValue); key != nil {
		return cloneKey(key), nil
	}
	return nil, repositories.ErrKeyNotFound
}

// GetByID retrieves a key by record id.
func (r *KeyRepository) GetByID(_ context.Context, id string) (*models.AccessKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if key, ok := r.keys[id]; ok {
		return cloneKey(key), nil
	}
	return nil, repositories.ErrKeyNotFound
}

// List returns all keys, newest first.
func (r *KeyRepository) List(_ context.Context) ([]*models.AccessKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]*models.AccessKey, 0, len(r.keys))
	for _, key := range r.keys {
		keys = append(keys, cloneKey(key))
	}
	// Newest first, matching the Postgres ordering.
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j].CreatedAt.After(keys[i].CreatedAt) {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	return keys, nil
}

// Update applies operator-settable fields.
func (r *KeyRepository) Update(_ context.Context, id string, update repositories.KeyUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.keys[id]
	if !ok {
		return repositories.ErrKeyNotFound
	}
	if update.Note != nil {
		key.Note = *update.Note
	}
	if update.BoundPayloadHash != nil {
		key.BoundPayloadHash = *update.BoundPayloadHash
	}
	if update.ClearExpiry {
		key.ExpiresAt = nil
	} else if update.ExpiresAt != nil {
		t := *update.ExpiresAt
		key.ExpiresAt = &t
	}
	if update.ClearMaxUses {
		key.MaxUses = nil
	} else if update.MaxUses != nil {
		n := *update.MaxUses
		key.MaxUses = &n
	}
	if update.Blacklisted != nil {
		key.Blacklisted = *update.Blacklisted
	}
	if update.ResetFingerprint {
		key.DeviceFingerprint = ""
	}
	return nil
}

// Delete removes a key.
func (r *KeyRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.keys[id]; !ok {
		return repositories.ErrKeyNotFound
	}
	delete(r.keys, id)
	return nil
}

// ClearUsageLog empties a key's usage log.
func (r *KeyRepository) ClearUsageLog(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.keys[id]
	if !ok {
		return repositories.ErrKeyNotFound
	}
	key.UsageLog = []models.UsageEntry{}
	return nil
}

// Redeem runs fn against a working copy under the store lock and persists
// it only when fn succeeds.
func (r *KeyRepository) Redeem(_ context.Context, keyValue string, fn func(key *models.AccessKey) error) (*models.AccessKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := r.findByValue(keyValue)
	if stored == nil {
		return nil, repositories.ErrKeyNotFound
	}

	working := cloneKey(stored)
	if err := fn(working); err != nil {
		return nil, err
	}
	r.keys[working.ID.String()] = working
	return cloneKey(working), nil
}

var _ repositories.KeyRepository = (*KeyRepository)(nil)

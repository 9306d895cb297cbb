package memory

import (
	"context"
	"sync"

	"github.com/flurs/keyserver/src/models"
	"github.com/flurs/keyserver/src/repositories"
)

// PayloadRepository is the in-memory implementation of
// repositories.PayloadRepository.
type PayloadRepository struct {
	mu       sync.Mutex
	payloads map[string]*models.ProtectedPayload // by hash
}

// NewPayloadRepository creates an empty in-memory payload repository.
func NewPayloadRepository() *PayloadRepository {
	return &PayloadRepository{payloads: make(map[string]*models.ProtectedPayload)}
}

func clonePayload(p *models.ProtectedPayload) *models.ProtectedPayload {
	c := *p
	c.Encoded = append([]byte(nil), p.Encoded...)
	c.UsageLog = append([]models.UsageEntry(nil), p.UsageLog...)
	if p.LastUsedAt != nil {
		t := *p.LastUsedAt
		c.LastUsedAt = &t
	}
	return &c
}

// Upsert inserts or replaces a payload's content, label, kind and seed.
func (r *PayloadRepository) Upsert(_ context.Context, payload *models.ProtectedPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.payloads[payload.Hash]; ok {
		existing.Label = payload.Label
		existing.Kind = payload.Kind
		existing.Seed = payload.Seed
		existing.Encoded = append([]byte(nil), payload.Encoded...)
		return nil
	}
	r.payloads[payload.Hash] = clonePayload(payload)
	return nil
}

// GetByHash retrieves a payload.
func (r *PayloadRepository) GetByHash(_ context.Context, hash string) (*models.ProtectedPayload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.payloads[hash]; ok {
		return clonePayload(p), nil
	}
	return nil, repositories.ErrPayloadNotFound
}

// List returns all payloads, newest first.
func (r *PayloadRepository) List(_ context.Context) ([]*models.ProtectedPayload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	payloads := make([]*models.ProtectedPayload, 0, len(r.payloads))
	for _, p := range r.payloads {
		payloads = append(payloads, clonePayload(p))
	}
	for i := 0; i < len(payloads); i++ {
		for j := i + 1; j < len(payloads); j++ {
			if payloads[j].CreatedAt.After(payloads[i].CreatedAt) {
				payloads[i], payloads[j] = payloads[j], payloads[i]
			}
		}
	}
	return payloads, nil
}

// Delete removes a payload.
func (r *PayloadRepository) Delete(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payloads[hash]; !ok {
		return repositories.ErrPayloadNotFound
	}
	delete(r.payloads, hash)
	return nil
}

// RecordUse bumps counters and prepends to the bounded usage log.
func (r *PayloadRepository) RecordUse(_ context.Context, hash string, entry models.UsageEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payloads[hash]
	if !ok {
		return repositories.ErrPayloadNotFound
	}
	p.UseCount++
	t := entry.At
	p.LastUsedAt = &t
	p.UsageLog = models.PrependUsage(p.UsageLog, entry)
	return nil
}

// ClearUsageLog empties a payload's usage log.
func (r *PayloadRepository) ClearUsageLog(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payloads[hash]
	if !ok {
		return repositories.ErrPayloadNotFound
	}
	p.UsageLog = []models.UsageEntry{}
	return nil
}

var _ repositories.PayloadRepository = (*PayloadRepository)(nil)

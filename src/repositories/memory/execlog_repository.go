package memory

import (
	"context"
	"sync"
	"time"

	"github.com/flurs/keyserver/src/models"
	"github.com/flurs/keyserver/src/repositories"
)

// ExecutionLogRepository is the in-memory implementation of
// repositories.ExecutionLogRepository. Entries are held newest first.
type ExecutionLogRepository struct {
	mu      sync.Mutex
	entries []models.ExecutionLog
}

// NewExecutionLogRepository creates an empty in-memory execution log.
func NewExecutionLogRepository() *ExecutionLogRepository {
	return &ExecutionLogRepository{}
}

// Append records one audit entry. IDs are primary keys in the Postgres
// implementation, so a repeated ID is rejected here too.
func (r *ExecutionLogRepository) Append(_ context.Context, entry *models.ExecutionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.ID == entry.ID {
			return repositories.ErrDuplicateKey
		}
	}

	r.entries = append([]models.ExecutionLog{*entry}, r.entries...)
	return nil
}

// List returns entries newest first, optionally filtered by payload hash.
func (r *ExecutionLogRepository) List(_ context.Context, payloadHash string, limit, offset int) ([]models.ExecutionLog, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var filtered []models.ExecutionLog
	for _, e := range r.entries {
		if payloadHash == "" || e.PayloadHash == payloadHash {
			filtered = append(filtered, e)
		}
	}

	total := len(filtered)
	if offset >= len(filtered) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return append([]models.ExecutionLog(nil), filtered[offset:end]...), total, nil
}

// Stats aggregates the log.
func (r *ExecutionLogRepository) Stats(_ context.Context) (*models.ExecutionStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &models.ExecutionStats{Total: len(r.entries)}
	dayAgo := time.Now().Add(-24 * time.Hour)

	addrs := make(map[string]bool)
	byPayload := make(map[string]*models.PayloadUseCount)
	for _, e := range r.entries {
		if e.ExecutedAt.After(dayAgo) {
			stats.Today++
		}
		addrs[e.SourceAddr] = true
		if top, ok := byPayload[e.PayloadHash]; ok {
			top.Count++
		} else {
			byPayload[e.PayloadHash] = &models.PayloadUseCount{
				PayloadHash:  e.PayloadHash,
				PayloadLabel: e.PayloadLabel,
				Count:        1,
			}
		}
	}
	stats.UniqueAddrs = len(addrs)

	for _, top := range byPayload {
		stats.TopPayloads = append(stats.TopPayloads, *top)
	}
	for i := 0; i < len(stats.TopPayloads); i++ {
		for j := i + 1; j < len(stats.TopPayloads); j++ {
			if stats.TopPayloads[j].Count > stats.TopPayloads[i].Count {
				stats.TopPayloads[i], stats.TopPayloads[j] = stats.TopPayloads[j], stats.TopPayloads[i]
			}
		}
	}
	if len(stats.TopPayloads) > 5 {
		stats.TopPayloads = stats.TopPayloads[:5]
	}
	return stats, nil
}

// Clear drops every entry.
func (r *ExecutionLogRepository) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = nil
	return nil
}

var _ repositories.ExecutionLogRepository = (*ExecutionLogRepository)(nil)

package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flurs/keyserver/src/models"
	"github.com/flurs/keyserver/src/repositories"
)

// ExecutionLogRepository is the pgx-backed implementation of
// repositories.ExecutionLogRepository.
type ExecutionLogRepository struct {
	pool *pgxpool.Pool
}

// NewExecutionLogRepository creates an execution log repository.
func NewExecutionLogRepository(pool *pgxpool.Pool) *ExecutionLogRepository {
	return &ExecutionLogRepository{pool: pool}
}

// Append writes one audit row.
func (r *ExecutionLogRepository) Append(ctx context.Context, entry *models.ExecutionLog) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO execution_logs
			(id, payload_hash, payload_label, source_addr, fingerprint, key_value, identity, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.PayloadHash, entry.PayloadLabel, entry.SourceAddr,
		entry.Fingerprint, entry.KeyValue, entry.Identity, entry.ExecutedAt)
	return mapErr(err, repositories.ErrPayloadNotFound)
}

// List returns log rows newest first, optionally filtered by payload hash,
// along with the total row count for pagination.
func (r *ExecutionLogRepository) List(ctx context.Context, payloadHash string, limit, offset int) ([]models.ExecutionLog, int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM execution_logs WHERE ($1 = '' OR payload_hash = $1)`,
		payloadHash).Scan(&total); err != nil {
		return nil, 0, mapErr(err, repositories.ErrPayloadNotFound)
	}

	query := `
		SELECT id, payload_hash, payload_label, source_addr, fingerprint, key_value, identity, executed_at
		FROM execution_logs
		WHERE ($1 = '' OR payload_hash = $1)
		ORDER BY executed_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, payloadHash, limit, offset)
	if err != nil {
		return nil, 0, mapErr(err, repositories.ErrPayloadNotFound)
	}
	defer rows.Close()

	var logs []models.ExecutionLog
	for rows.Next() {
		var l models.ExecutionLog
		if err := rows.Scan(&l.ID, &l.PayloadHash, &l.PayloadLabel,
			&l.SourceAddr, &l.Fingerprint, &l.KeyValue, &l.Identity,
			&l.ExecutedAt); err != nil {
			return nil, 0, mapErr(err, repositories.ErrPayloadNotFound)
		}
		logs = append(logs, l)
	}
	return logs, total, mapErr(rows.Err(), repositories.ErrPayloadNotFound)
}

// Stats aggregates the log for the admin dashboard.
func (r *ExecutionLogRepository) Stats(ctx context.Context) (*models.ExecutionStats, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	stats := &models.ExecutionStats{}
	dayAgo := time.Now().Add(-24 * time.Hour)

	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE executed_at > $1),
		       COUNT(DISTINCT source_addr)
		FROM execution_logs
	`, dayAgo).Scan(&stats.Total, &stats.Today, &stats.UniqueAddrs)
	if err != nil {
		return nil, mapErr(err, repositories.ErrPayloadNotFound)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT payload_hash, payload_label, COUNT(*)
		FROM execution_logs
		GROUP BY payload_hash, payload_label
		ORDER BY COUNT(*) DESC
		LIMIT 5
	`)
	if err != nil {
		return nil, mapErr(err, repositories.ErrPayloadNotFound)
	}
	defer rows.Close()

	for rows.Next() {
		var top models.PayloadUseCount
		if err := rows.Scan(&top.PayloadHash, &top.PayloadLabel, &top.Count); err != nil {
			return nil, mapErr(err, repositories.ErrPayloadNotFound)
		}
		stats.TopPayloads = append(stats.TopPayloads, top)
	}
	return stats, mapErr(rows.Err(), repositories.ErrPayloadNotFound)
}

// Clear truncates the audit table.
func (r *ExecutionLogRepository) Clear(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx, `TRUNCATE execution_logs`)
	return mapErr(err, repositories.ErrPayloadNotFound)
}

var _ repositories.ExecutionLogRepository = (*ExecutionLogRepository)(nil)

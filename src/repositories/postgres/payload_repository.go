package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flurs/keyserver/src/models"
	"github.com/flurs/keyserver/src/repositories"
)

const payloadColumns = `hash, label, kind, seed, encoded, created_at,
	use_count, last_used_at, usage_log`

// PayloadRepository is the pgx-backed implementation of
// repositories.PayloadRepository.
type PayloadRepository struct {
	pool *pgxpool.Pool
}

// NewPayloadRepository creates a payload repository on the given pool.
func NewPayloadRepository(pool *pgxpool.Pool) *PayloadRepository {
	return &PayloadRepository{pool: pool}
}

func scanPayload(row rowScanner) (*models.ProtectedPayload, error) {
	var (
		p        models.ProtectedPayload
		seed     int64
		usageLog []byte
	)
	err := row.Scan(&p.Hash, &p.Label, &p.Kind, &seed, &p.Encoded,
		&p.CreatedAt, &p.UseCount, &p.LastUsedAt, &usageLog)
	if err != nil {
		return nil, err
	}
	p.Seed = uint32(seed)
	if err := json.Unmarshal(usageLog, &p.UsageLog); err != nil {
		return nil, fmt.Errorf("corrupt usage_log for payload %s: %w", p.Hash, err)
	}
	return &p, nil
}

// Upsert inserts a payload or replaces its content, label, kind and seed.
// Counters and logs survive a content update.
func (r *PayloadRepository) Upsert(ctx context.Context, payload *models.ProtectedPayload) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if payload.UsageLog == nil {
		payload.UsageLog = []models.UsageEntry{}
	}
	usageLog, err := json.Marshal(payload.UsageLog)
	if err != nil {
		return fmt.Errorf("failed to marshal payload usage log: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO payloads (`+payloadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (hash) DO UPDATE SET
			label   = EXCLUDED.label,
			kind    = EXCLUDED.kind,
			seed    = EXCLUDED.seed,
			encoded = EXCLUDED.encoded
	`, payload.Hash, payload.Label, payload.Kind, int64(payload.Seed),
		payload.Encoded, payload.CreatedAt, payload.UseCount,
		payload.LastUsedAt, usageLog)
	return mapErr(err, repositories.ErrPayloadNotFound)
}

// GetByHash retrieves a payload by content hash.
func (r *PayloadRepository) GetByHash(ctx context.Context, hash string) (*models.ProtectedPayload, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	p, err := scanPayload(r.pool.QueryRow(ctx,
		`SELECT `+payloadColumns+` FROM payloads WHERE hash = $1`, hash))
	if err != nil {
		return nil, mapErr(err, repositories.ErrPayloadNotFound)
	}
	return p, nil
}

// List returns all payloads, newest first.
func (r *PayloadRepository) List(ctx context.Context) ([]*models.ProtectedPayload, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT `+payloadColumns+` FROM payloads ORDER BY created_at DESC`)
	if err != nil {
		return nil, mapErr(err, repositories.ErrPayloadNotFound)
	}
	defer rows.Close()

	var payloads []*models.ProtectedPayload
	for rows.Next() {
		p, err := scanPayload(rows)
		if err != nil {
			return nil, mapErr(err, repositories.ErrPayloadNotFound)
		}
		payloads = append(payloads, p)
	}
	return payloads, mapErr(rows.Err(), repositories.ErrPayloadNotFound)
}

// Delete removes a payload.
func (r *PayloadRepository) Delete(ctx context.Context, hash string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := r.pool.Exec(ctx, `DELETE FROM payloads WHERE hash = $1`, hash)
	if err != nil {
		return mapErr(err, repositories.ErrPayloadNotFound)
	}
	if result.RowsAffected() == 0 {
		return repositories.ErrPayloadNotFound
	}
	return nil
}

// RecordUse bumps the counters and prepends to the bounded usage log under
// a row lock, mirroring the key redeem path.
func (r *PayloadRepository) RecordUse(ctx context.Context, hash string, entry models.UsageEntry) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return mapErr(err, repositories.ErrPayloadNotFound)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var raw []byte
	err = tx.QueryRow(ctx,
		`SELECT usage_log FROM payloads WHERE hash = $1 FOR UPDATE`, hash).Scan(&raw)
	if err != nil {
		return mapErr(err, repositories.ErrPayloadNotFound)
	}

	var log []models.UsageEntry
	if err := json.Unmarshal(raw, &log); err != nil {
		return fmt.Errorf("corrupt usage_log for payload %s: %w", hash, err)
	}
	log = models.PrependUsage(log, entry)

	updated, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to marshal payload usage log: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE payloads SET
			use_count    = use_count + 1,
			last_used_at = $2,
			usage_log    = $3
		WHERE hash = $1
	`, hash, entry.At, updated)
	if err != nil {
		return mapErr(err, repositories.ErrPayloadNotFound)
	}

	return mapErr(tx.Commit(ctx), repositories.ErrPayloadNotFound)
}

// ClearUsageLog empties the embedded usage log of a payload.
func (r *PayloadRepository) ClearUsageLog(ctx context.Context, hash string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := r.pool.Exec(ctx,
		`UPDATE payloads SET usage_log = '[]' WHERE hash = $1`, hash)
	if err != nil {
		return mapErr(err, repositories.ErrPayloadNotFound)
	}
	if result.RowsAffected() == 0 {
		return repositories.ErrPayloadNotFound
	}
	return nil
}

var _ repositories.PayloadRepository = (*PayloadRepository)(nil)

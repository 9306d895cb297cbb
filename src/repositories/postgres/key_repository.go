package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flurs/keyserver/src/models"
	"github.com/flurs/keyserver/src/repositories"
)

const keyColumns = `id, key_value, note, bound_payload_hash, device_fingerprint,
	expires_at, max_uses, use_count, blacklisted, usage_log, known_identities,
	created_at, last_used_at`

// KeyRepository is the pgx-backed implementation of repositories.KeyRepository.
type KeyRepository struct {
	pool *pgxpool.Pool
}

// NewKeyRepository creates a key repository on the given pool.
func NewKeyRepository(pool *pgxpool.Pool) *KeyRepository {
	return &KeyRepository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*models.AccessKey, error) {
	var (
		key           models.AccessKey
		usageLog      []byte
		knownIdentity []byte
	)
	err := row.Scan(
		&key.ID, &key.KeyValue, &key.Note, &key.BoundPayloadHash,
		&key.DeviceFingerprint, &key.ExpiresAt, &key.MaxUses, &key.UseCount,
		&key.Blacklisted, &usageLog, &knownIdentity, &key.CreatedAt,
		&key.LastUsedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(usageLog, &key.UsageLog); err != nil {
		return nil, fmt.Errorf("corrupt usage_log for key %s: %w", key.ID, err)
	}
	if err := json.Unmarshal(knownIdentity, &key.KnownIdentities); err != nil {
		return nil, fmt.Errorf("corrupt known_identities for key %s: %w", key.ID, err)
	}
	return &key, nil
}

func marshalLogs(key *models.AccessKey) (usageLog, knownIdentities []byte, err error) {
	if key.UsageLog == nil {
		key.UsageLog = []models.UsageEntry{}
	}
	if key.KnownIdentities == nil {
		key.KnownIdentities = []string{}
	}
	usageLog, err = json.Marshal(key.UsageLog)
	if err != nil {
		return nil, nil, err
	}
	knownIdentities, err = json.Marshal(key.KnownIdentities)
	return usageLog, knownIdentities, err
}

// Create inserts a new access key record.
func (r *KeyRepository) Create(ctx context.Context, key *models.AccessKey) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	usageLog, knownIdentities, err := marshalLogs(key)
	if err != nil {
		return fmt.Errorf("failed to marshal key logs: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO access_keys (`+keyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, key.ID, key.KeyValue, key.Note, key.BoundPayloadHash,
		key.DeviceFingerprint, key.ExpiresAt, key.MaxUses, key.UseCount,
		key.Blacklisted, usageLog, knownIdentities, key.CreatedAt, key.LastUsedAt)
	return mapErr(err, repositories.ErrKeyNotFound)
}

// GetByValue retrieves a key by its secret value.
func (r *KeyRepository) GetByValue(ctx context.Context, keyValue string) (*models.AccessKey, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	key, err := scanKey(r.pool.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM access_keys WHERE key_value = $1`, keyValue))
	if err != nil {
		return nil, mapErr(err, repositories.ErrKeyNotFound)
	}
	return key, nil
}

// GetByID retrieves a key by its record id.
func (r *KeyRepository) GetByID(ctx context.Context, id string) (*models.AccessKey, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	key, err := scanKey(r.pool.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM access_keys WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, repositories.ErrKeyNotFound)
	}
	return key, nil
}

// List returns all keys, newest first.
func (r *KeyRepository) List(ctx context.Context) ([]*models.AccessKey, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT `+keyColumns+` FROM access_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, mapErr(err, repositories.ErrKeyNotFound)
	}
	defer rows.Close()

	var keys []*models.AccessKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, mapErr(err, repositories.ErrKeyNotFound)
		}
		keys = append(keys, key)
	}
	return keys, mapErr(rows.Err(), repositories.ErrKeyNotFound)
}

// Update applies operator-settable fields. The device fingerprint only
// changes here when ResetFingerprint is set, and then only to empty.
func (r *KeyRepository) Update(ctx context.Context, id string, update repositories.KeyUpdate) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := r.pool.Exec(ctx, `
		UPDATE access_keys SET
			note               = COALESCE($2, note),
			bound_payload_hash = COALESCE($3, bound_payload_hash),
			expires_at         = CASE WHEN $4::bool THEN NULL ELSE COALESCE($5, expires_at) END,
			max_uses           = CASE WHEN $6::bool THEN NULL ELSE COALESCE($7, max_uses) END,
			blacklisted        = COALESCE($8, blacklisted),
			device_fingerprint = CASE WHEN $9::bool THEN '' ELSE device_fingerprint END
		WHERE id = $1
	`, id, update.Note, update.BoundPayloadHash,
		update.ClearExpiry, update.ExpiresAt,
		update.ClearMaxUses, update.MaxUses,
		update.Blacklisted, update.ResetFingerprint)
	if err != nil {
		return mapErr(err, repositories.ErrKeyNotFound)
	}
	if result.RowsAffected() == 0 {
		return repositories.ErrKeyNotFound
	}
	return nil
}

// Delete removes a key record.
func (r *KeyRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := r.pool.Exec(ctx, `DELETE FROM access_keys WHERE id = $1`, id)
	if err != nil {
		return mapErr(err, repositories.ErrKeyNotFound)
	}
	if result.RowsAffected() == 0 {
		return repositories.ErrKeyNotFound
	}
	return nil
}

// ClearUsageLog empties the embedded usage log of a key.
func (r *KeyRepository) ClearUsageLog(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := r.pool.Exec(ctx,
		`UPDATE access_keys SET usage_log = '[]' WHERE id = $1`, id)
	if err != nil {
		return mapErr(err, repositories.ErrKeyNotFound)
	}
	if result.RowsAffected() == 0 {
		return repositories.ErrKeyNotFound
	}
	return nil
}

// Redeem loads the key under a row lock, runs fn against it, and persists
// the mutated record in the same transaction. A non-nil return from fn
// rolls back with no write. The row lock is what makes check-then-increment
// safe under concurrent validation requests.
func (r *KeyRepository) Redeem(ctx context.Context, keyValue string, fn func(key *models.AccessKey) error) (*models.AccessKey, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, mapErr(err, repositories.ErrKeyNotFound)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	key, err := scanKey(tx.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM access_keys WHERE key_value = $1 FOR UPDATE`, keyValue))
	if err != nil {
		return nil, mapErr(err, repositories.ErrKeyNotFound)
	}

	if err := fn(key); err != nil {
		return nil, err
	}

	usageLog, knownIdentities, err := marshalLogs(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key logs: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE access_keys SET
			device_fingerprint = $2,
			use_count          = $3,
			last_used_at       = $4,
			usage_log          = $5,
			known_identities   = $6
		WHERE id = $1
	`, key.ID, key.DeviceFingerprint, key.UseCount, key.LastUsedAt,
		usageLog, knownIdentities)
	if err != nil {
		return nil, mapErr(err, repositories.ErrKeyNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapErr(err, repositories.ErrKeyNotFound)
	}
	return key, nil
}

var _ repositories.KeyRepository = (*KeyRepository)(nil)

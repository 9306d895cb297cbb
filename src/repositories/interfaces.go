package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/flurs/keyserver/src/models"
)

// Sentinel errors shared by all repository implementations. Callers use
// errors.Is; ErrStorageUnavailable is the only retryable kind and must
// never be conflated with a not-found result.
var (
	ErrKeyNotFound        = errors.New("key not found")
	ErrPayloadNotFound    = errors.New("payload not found")
	ErrAdminNotFound      = errors.New("admin user not found")
	ErrDuplicateKey       = errors.New("key already exists")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// KeyUpdate carries the operator-settable fields of an access key. Nil
// pointers leave the stored value untouched. ClearExpiry/ClearMaxUses
// explicitly null a previously set constraint; ResetFingerprint is the
// only path that changes a bound device fingerprint.
type KeyUpdate struct {
	Note             *string
	BoundPayloadHash *string
	ExpiresAt        *time.Time
	ClearExpiry      bool
	MaxUses          *int
	ClearMaxUses     bool
	Blacklisted      *bool
	ResetFingerprint bool
}

// KeyRepository is the durable record of issued keys. Redeem is the single
// serialization point for validation side effects: fn runs against the
// current record with no concurrent writer for that key, and a non-nil
// return from fn aborts with no write. A read-then-separately-write
// validation path would race two concurrent requests past a quota check;
// all mutation on the validation path must go through Redeem.
type KeyRepository interface {
	Create(ctx context.Context, key *models.AccessKey) error
	GetByValue(ctx context.Context, keyValue string) (*models.AccessKey, error)
	GetByID(ctx context.Context, id string) (*models.AccessKey, error)
	List(ctx context.Context) ([]*models.AccessKey, error)
	Update(ctx context.Context, id string, update KeyUpdate) error
	Delete(ctx context.Context, id string) error
	ClearUsageLog(ctx context.Context, id string) error

	Redeem(ctx context.Context, keyValue string, fn func(key *models.AccessKey) error) (*models.AccessKey, error)
}

// PayloadRepository stores obfuscated artifacts keyed by content hash.
type PayloadRepository interface {
	Upsert(ctx context.Context, payload *models.ProtectedPayload) error
	GetByHash(ctx context.Context, hash string) (*models.ProtectedPayload, error)
	List(ctx context.Context) ([]*models.ProtectedPayload, error)
	Delete(ctx context.Context, hash string) error
	RecordUse(ctx context.Context, hash string, entry models.UsageEntry) error
	ClearUsageLog(ctx context.Context, hash string) error
}

// ExecutionLogRepository is the time-ordered audit table behind the admin
// surface.
type ExecutionLogRepository interface {
	Append(ctx context.Context, entry *models.ExecutionLog) error
	List(ctx context.Context, payloadHash string, limit, offset int) ([]models.ExecutionLog, int, error)
	Stats(ctx context.Context) (*models.ExecutionStats, error)
	Clear(ctx context.Context) error
}

// AdminRepository stores operator accounts. Production uses the pgx pool
// directly inside AdminService; this interface exists so service tests can
// run against the in-memory store.
type AdminRepository interface {
	Create(ctx context.Context, admin *models.AdminUser) error
	GetByUsername(ctx context.Context, username string) (*models.AdminUser, error)
	Count(ctx context.Context) (int, error)
	UpdateLastLogin(ctx context.Context, id string) error
}

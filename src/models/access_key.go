package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageLogCap bounds the embedded per-record usage log. Oldest entries
// beyond the cap are silently dropped.
const UsageLogCap = 50

// UsageEntry is one recorded use of a key or payload, newest-first in the log.
type UsageEntry struct {
	At          time.Time `json:"at"`
	SourceAddr  string    `json:"source_addr"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Identity    string    `json:"identity,omitempty"`
}

// AccessKey represents an issued access key and its constraints.
// The key value itself is the secret presented by clients.
type AccessKey struct {
	ID                uuid.UUID    `json:"id"`
	KeyValue          string       `json:"key_value"`
	Note              string       `json:"note"`
	BoundPayloadHash  string       `json:"bound_payload_hash,omitempty"`
	DeviceFingerprint string       `json:"device_fingerprint,omitempty"`
	ExpiresAt         *time.Time   `json:"expires_at,omitempty"`
	MaxUses           *int         `json:"max_uses,omitempty"`
	UseCount          int          `json:"use_count"`
	Blacklisted       bool         `json:"blacklisted"`
	UsageLog          []UsageEntry `json:"usage_log"`
	KnownIdentities   []string     `json:"known_identities"`
	CreatedAt         time.Time    `json:"created_at"`
	LastUsedAt        *time.Time   `json:"last_used_at,omitempty"`
}

// IsExpired reports whether the key's expiry is set and in the past.
func (k *AccessKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// QuotaExhausted reports whether the key has a use ceiling and has reached it.
func (k *AccessKey) QuotaExhausted() bool {
	return k.MaxUses != nil && k.UseCount >= *k.MaxUses
}

// RecordIdentity adds identity to the key's known identities if new.
// Empty identities are ignored.
func (k *AccessKey) RecordIdentity(identity string) {
	if identity == "" {
		return
	}
	for _, known := range k.KnownIdentities {
		if known == identity {
			return
		}
	}
	k.KnownIdentities = append(k.KnownIdentities, identity)
}

// PrependUsage inserts an entry at the front of log and truncates the tail
// once UsageLogCap is exceeded. The only other operation on a usage log is
// a whole-entity clear.
func PrependUsage(log []UsageEntry, entry UsageEntry) []UsageEntry {
	log = append([]UsageEntry{entry}, log...)
	if len(log) > UsageLogCap {
		log = log[:UsageLogCap]
	}
	return log
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionLog is one row of the time-ordered audit table written on every
// authorized delivery. Unlike the embedded usage logs it is unbounded and
// queried/cleared through the admin surface.
type ExecutionLog struct {
	ID           uuid.UUID `json:"id"`
	PayloadHash  string    `json:"payload_hash"`
	PayloadLabel string    `json:"payload_label"`
	SourceAddr   string    `json:"source_addr"`
	Fingerprint  string    `json:"fingerprint,omitempty"`
	KeyValue     string    `json:"key_value"`
	Identity     string    `json:"identity,omitempty"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// ExecutionStats aggregates the execution log for the admin dashboard.
type ExecutionStats struct {
	Total       int               `json:"total"`
	Today       int               `json:"today"`
	UniqueAddrs int               `json:"unique_addrs"`
	TopPayloads []PayloadUseCount `json:"top_payloads"`
}

// PayloadUseCount pairs a payload with its delivery count.
type PayloadUseCount struct {
	PayloadHash  string `json:"payload_hash"`
	PayloadLabel string `json:"payload_label"`
	Count        int    `json:"count"`
}

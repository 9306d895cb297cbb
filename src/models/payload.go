package models

import "time"

// PayloadKind distinguishes how a decoded payload is consumed.
type PayloadKind string

const (
	// PayloadKindInline means the decoded text is executable code.
	PayloadKindInline PayloadKind = "inline"
	// PayloadKindIndirection means the decoded text is a network locator
	// the consumer fetches before execution.
	PayloadKindIndirection PayloadKind = "indirection"
)

// Valid reports whether the kind is one of the known values.
func (pk PayloadKind) Valid() bool {
	return pk == PayloadKindInline || pk == PayloadKindIndirection
}

// ProtectedPayload is a stored artifact released on successful validation.
// Content is held obfuscated; Seed parameterizes the codec and is generated
// fresh whenever the content changes.
type ProtectedPayload struct {
	Hash       string       `json:"hash"`
	Label      string       `json:"label"`
	Kind       PayloadKind  `json:"kind"`
	Seed       uint32       `json:"-"`
	Encoded    []byte       `json:"-"`
	CreatedAt  time.Time    `json:"created_at"`
	UseCount   int          `json:"use_count"`
	LastUsedAt *time.Time   `json:"last_used_at,omitempty"`
	UsageLog   []UsageEntry `json:"usage_log,omitempty"`
}

package models

import "net/http"

// Verdict classifies the outcome of a validation request. Denials are
// domain results, not Go errors: a rejected request is a normal, terminal
// response. Go errors are reserved for infrastructure failures.
type Verdict int

const (
	VerdictOK Verdict = iota
	VerdictInvalidKey
	VerdictRevoked
	VerdictExpired
	VerdictQuotaExceeded
	VerdictWrongPayload
	VerdictDeviceMismatch
	VerdictPayloadNotFound
)

// Code returns the wire error identifier for the verdict.
func (v Verdict) Code() string {
	switch v {
	case VerdictOK:
		return "ok"
	case VerdictInvalidKey:
		return "invalid_key"
	case VerdictRevoked:
		return "key_revoked"
	case VerdictExpired:
		return "key_expired"
	case VerdictQuotaExceeded:
		return "quota_exceeded"
	case VerdictWrongPayload:
		return "wrong_payload"
	case VerdictDeviceMismatch:
		return "device_mismatch"
	case VerdictPayloadNotFound:
		return "payload_not_found"
	}
	return "unknown"
}

// Message returns the user-facing denial text.
func (v Verdict) Message() string {
	switch v {
	case VerdictOK:
		return "ok"
	case VerdictInvalidKey:
		return "Invalid key"
	case VerdictRevoked:
		return "Key has been revoked"
	case VerdictExpired:
		return "Key has expired"
	case VerdictQuotaExceeded:
		return "Key has reached its maximum uses"
	case VerdictWrongPayload:
		return "Key is not valid for this script"
	case VerdictDeviceMismatch:
		return "HWID mismatch — wrong device"
	case VerdictPayloadNotFound:
		return "Script not found on server"
	}
	return "Access denied"
}

// HTTPStatus maps the verdict to a response status classification.
func (v Verdict) HTTPStatus() int {
	switch v {
	case VerdictOK:
		return http.StatusOK
	case VerdictPayloadNotFound:
		return http.StatusNotFound
	default:
		return http.StatusForbidden
	}
}

func (v Verdict) String() string { return v.Code() }

package services

import "errors"

// Sentinel errors for explicit error handling with errors.Is. Validation
// denials are not represented here — they are models.Verdict values, since
// a denial is a normal domain outcome, not a failure.
var (
	// ErrInvalidCredentials indicates operator authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserNotFound indicates the admin user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// errDenied aborts a Redeem closure after a verdict was reached; it
	// never escapes the validation service.
	errDenied = errors.New("validation denied")
)

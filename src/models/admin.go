package models

import (
	"time"

	"github.com/google/uuid"
)

// AdminUser is an operator account for the management API.
type AdminUser struct {
	ID           uuid.UUID  `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login"`
	IsActive     bool       `json:"is_active"`
}

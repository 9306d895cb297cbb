package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/flurs/keyserver/src/models"
	"github.com/flurs/keyserver/src/repositories"
)

// AdminService handles operator accounts and credential checks.
type AdminService struct {
	pool   *pgxpool.Pool
	repo   repositories.AdminRepository
	logger zerolog.Logger
}

// NewAdminService creates an admin service backed by the database pool.
func NewAdminService(pool *pgxpool.Pool, logger zerolog.Logger) *AdminService {
	return &AdminService{pool: pool, logger: logger.With().Str("component", "admin").Logger()}
}

// NewAdminServiceWithRepo creates an admin service backed by a repository
// (for testing).
func NewAdminServiceWithRepo(repo repositories.AdminRepository, logger zerolog.Logger) *AdminService {
	return &AdminService{repo: repo, logger: logger.With().Str("component", "admin").Logger()}
}

// CreateAdminUser creates an operator account with a bcrypt password hash.
func (as *AdminService) CreateAdminUser(ctx context.Context, username, password string) (*models.AdminUser, error) {
	if len(username) < 1 || len(username) > 255 {
		return nil, errors.New("username must be between 1 and 255 characters")
	}
	if len(password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	admin := &models.AdminUser{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
		IsActive:     true,
	}

	if as.repo != nil {
		if err := as.repo.Create(ctx, admin); err != nil {
			return nil, fmt.Errorf("failed to create admin user: %w", err)
		}
		return admin, nil
	}

	query := `
		INSERT INTO admin_users (id, username, password_hash, created_at, is_active)
		VALUES ($1, $2, $3, $4, true)
		RETURNING id, username, password_hash, created_at, last_login, is_active
	`
	err = as.pool.QueryRow(ctx, query, admin.ID, username, string(hash), admin.CreatedAt).Scan(
		&admin.ID, &admin.Username, &admin.PasswordHash, &admin.CreatedAt, &admin.LastLogin, &admin.IsActive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin user: %w", err)
	}
	return admin, nil
}

// HasAdmins reports whether any operator account exists.
func (as *AdminService) HasAdmins(ctx context.Context) (bool, error) {
	if as.repo != nil {
		count, err := as.repo.Count(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to check admin users: %w", err)
		}
		return count > 0, nil
	}

	var count int
	if err := as.pool.QueryRow(ctx, "SELECT COUNT(*) FROM admin_users").Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check admin users: %w", err)
	}
	return count > 0, nil
}

// EnsureAdmin seeds the operator account on first run. An existing
// account is left untouched.
func (as *AdminService) EnsureAdmin(ctx context.Context, username, password string) error {
	exists, err := as.HasAdmins(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if _, err := as.CreateAdminUser(ctx, username, password); err != nil {
		return err
	}
	as.logger.Info().Str("username", username).Msg("seeded initial admin user")
	return nil
}

// AuthenticateAdmin verifies username and password. The returned error is
// always ErrInvalidCredentials on mismatch, so callers can't distinguish
// unknown users from wrong passwords.
func (as *AdminService) AuthenticateAdmin(ctx context.Context, username, password string) (*models.AdminUser, error) {
	var admin *models.AdminUser
	var err error

	if as.repo != nil {
		admin, err = as.repo.GetByUsername(ctx, username)
		if err != nil {
			return nil, ErrInvalidCredentials
		}
	} else {
		query := `
			SELECT id, username, password_hash, created_at, last_login, is_active
			FROM admin_users
			WHERE username = $1 AND is_active = true
		`
		admin = &models.AdminUser{}
		err = as.pool.QueryRow(ctx, query, username).Scan(
			&admin.ID, &admin.Username, &admin.PasswordHash, &admin.CreatedAt, &admin.LastLogin, &admin.IsActive,
		)
		if err != nil {
			return nil, ErrInvalidCredentials
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := time.Now()
	if as.repo != nil {
		err = as.repo.UpdateLastLogin(ctx, admin.ID.String())
	} else {
		_, err = as.pool.Exec(ctx, `UPDATE admin_users SET last_login = $1 WHERE id = $2`, now, admin.ID)
	}
	if err != nil {
		as.logger.Warn().Err(err).Str("username", admin.Username).Msg("failed to update last_login")
	}

	admin.LastLogin = &now
	return admin, nil
}

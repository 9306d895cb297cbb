package memory

import (
	"context"
	"sync"
	"time"

	"github.com/flurs/keyserver/src/models"
	"github.com/flurs/keyserver/src/repositories"
)

// AdminRepository is the in-memory implementation of
// repositories.AdminRepository.
type AdminRepository struct {
	mu     sync.Mutex
	admins map[string]*models.AdminUser // by id
}

func NewAdminRepository() *AdminRepository {
	return &AdminRepository{admins: make(map[string]*models.AdminUser)}
}

func cloneAdmin(admin *models.AdminUser) *models.AdminUser {
	c := *admin
	if admin.LastLogin != nil {
		t := *admin.LastLogin
		c.LastLogin = &t
	}
	return &c
}

func (r *AdminRepository) Create(_ context.Context, admin *models.AdminUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.admins {
		if existing.Username == admin.Username {
			return repositories.ErrDuplicateKey
		}
	}
	r.admins[admin.ID.String()] = cloneAdmin(admin)
	return nil
}

func (r *AdminRepository) GetByUsername(_ context.Context, username string) (*models.AdminUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, admin := range r.admins {
		if admin.Username == username && admin.IsActive {
			return cloneAdmin(admin), nil
		}
	}
	return nil, repositories.ErrAdminNotFound
}

func (r *AdminRepository) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.admins), nil
}

func (r *AdminRepository) UpdateLastLogin(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	admin, ok := r.admins[id]
	if !ok {
		return repositories.ErrAdminNotFound
	}
	now := time.Now()
	admin.LastLogin = &now
	return nil
}

var _ repositories.AdminRepository = (*AdminRepository)(nil)

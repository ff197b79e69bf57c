package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nivello-hq/nivello-core/platform/go/persistence"
)

// Tenant is a registered platform tenant. The id doubles as the value every
// tenant-scoped row carries in its tenant_id column.
type Tenant struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Repository exposes tenant persistence.
type Repository interface {
	Create(ctx context.Context, tenant Tenant) (Tenant, error)
	Get(ctx context.Context, id string) (Tenant, error)
	List(ctx context.Context) ([]Tenant, error)
}

// Service exposes tenant registration. Registration has no provisioning
// side effects; all tenants share the record tables under the isolation
// filter.
type Service interface {
	Create(ctx context.Context, id, name string) (Tenant, error)
	Get(ctx context.Context, id string) (Tenant, error)
	List(ctx context.Context) ([]Tenant, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

var tenantIDPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// New builds a tenant Service backed by the provided repository.
func New(repo Repository) Service {
	if repo == nil {
		panic("tenant repo is required")
	}
	return &service{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) Create(ctx context.Context, id, name string) (Tenant, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	if !tenantIDPattern.MatchString(id) {
		return Tenant{}, fmt.Errorf("%w: invalid tenant id %q", persistence.ErrInvalidArgument, id)
	}
	if name == "" {
		return Tenant{}, fmt.Errorf("%w: tenant name is required", persistence.ErrInvalidArgument)
	}

	return s.repo.Create(ctx, Tenant{ID: id, Name: name, CreatedAt: s.now()})
}

func (s *service) Get(ctx context.Context, id string) (Tenant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Tenant{}, fmt.Errorf("%w: tenant id is required", persistence.ErrInvalidArgument)
	}
	return s.repo.Get(ctx, id)
}

func (s *service) List(ctx context.Context) ([]Tenant, error) {
	return s.repo.List(ctx)
}

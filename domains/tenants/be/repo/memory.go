package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nivello-hq/nivello-core/domains/tenants/be/service"
	"github.com/nivello-hq/nivello-core/platform/go/persistence"
)

// MemoryRepository is a simple in-memory implementation suitable for tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]service.Tenant
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]service.Tenant)}
}

func (r *MemoryRepository) Create(ctx context.Context, tenant service.Tenant) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[tenant.ID]; exists {
		return service.Tenant{}, fmt.Errorf("%w: tenant %s already exists", persistence.ErrInvariantViolation, tenant.ID)
	}

	r.byID[tenant.ID] = tenant
	return tenant, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenant, ok := r.byID[id]
	if !ok {
		return service.Tenant{}, fmt.Errorf("%w: tenant %s", persistence.ErrNotFound, id)
	}
	return tenant, nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenants := make([]service.Tenant, 0, len(r.byID))
	for _, tenant := range r.byID {
		tenants = append(tenants, tenant)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].CreatedAt.Before(tenants[j].CreatedAt) })
	return tenants, nil
}

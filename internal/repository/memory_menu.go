package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
)

// MemoryMenuRepo DB 未就绪时使用的内存菜单（按 tenant_id 隔离）
type MemoryMenuRepo struct {
	mu    sync.RWMutex
	items map[string]map[string]domain.MenuItem // tenantID -> itemID -> item
}

func NewMemoryMenuRepo() *MemoryMenuRepo {
	return &MemoryMenuRepo{items: map[string]map[string]domain.MenuItem{}}
}

var _ MenuRepository = (*MemoryMenuRepo)(nil)

func (r *MemoryMenuRepo) ListMenuItems(_ context.Context, tenantID string, filter MenuFilter) ([]*domain.MenuItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*domain.MenuItem{}
	for _, it := range r.items[tenantID] {
		if filter.MealType != "" && it.MealType != filter.MealType {
			continue
		}
		if filter.ActiveOnly && !it.IsActive {
			continue
		}
		cp := it
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r *MemoryMenuRepo) GetMenuItems(_ context.Context, tenantID string, itemIDs []string) ([]*domain.MenuItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*domain.MenuItem{}
	seen := map[string]bool{}
	for _, id := range itemIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		it, ok := r.items[tenantID][id]
		if !ok || !it.IsActive {
			continue
		}
		cp := it
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MemoryMenuRepo) UpsertMenuItem(_ context.Context, tenantID string, item *domain.MenuItem) (string, error) {
	if tenantID == "" || item == nil {
		return "", fmt.Errorf("tenant_id and item are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.items[tenantID] == nil {
		r.items[tenantID] = map[string]domain.MenuItem{}
	}
	cp := *item
	if cp.ItemID == "" {
		cp.ItemID = uuid.NewString()
	} else if _, ok := r.items[tenantID][cp.ItemID]; !ok {
		return "", fmt.Errorf("menu item %s: %w", cp.ItemID, domain.ErrNotFound)
	}
	cp.TenantID = tenantID
	cp.UpdatedAt = time.Now().UTC()
	r.items[tenantID][cp.ItemID] = cp
	return cp.ItemID, nil
}

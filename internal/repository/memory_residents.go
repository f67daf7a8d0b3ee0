package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
)

// MemoryResidentsRepo DB 未就绪时使用的内存住户
type MemoryResidentsRepo struct {
	mu        sync.RWMutex
	residents map[string]map[string]domain.Resident // tenantID -> residentID -> resident
	contacts  map[string]map[string]string          // tenantID -> contactID -> residentID
}

func NewMemoryResidentsRepo() *MemoryResidentsRepo {
	return &MemoryResidentsRepo{
		residents: map[string]map[string]domain.Resident{},
		contacts:  map[string]map[string]string{},
	}
}

var _ ResidentsRepository = (*MemoryResidentsRepo)(nil)

func (r *MemoryResidentsRepo) GetResident(_ context.Context, tenantID, residentID string) (*domain.Resident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.residents[tenantID][residentID]
	if !ok {
		return nil, fmt.Errorf("resident %s: %w", residentID, domain.ErrNotFound)
	}
	return &res, nil
}

// PutResident 写入住户（联调/测试种子数据），返回 resident_id
func (r *MemoryResidentsRepo) PutResident(res domain.Resident) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.ResidentID == "" {
		res.ResidentID = uuid.NewString()
	}
	if r.residents[res.TenantID] == nil {
		r.residents[res.TenantID] = map[string]domain.Resident{}
	}
	r.residents[res.TenantID][res.ResidentID] = res
	return res.ResidentID
}

func (r *MemoryResidentsRepo) GetContactResidentID(_ context.Context, tenantID, contactID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.contacts[tenantID][contactID]
	if !ok {
		return "", fmt.Errorf("contact %s: %w", contactID, domain.ErrNotFound)
	}
	return id, nil
}

// PutContact 绑定家属账号到住户
func (r *MemoryResidentsRepo) PutContact(tenantID, contactID, residentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.contacts[tenantID] == nil {
		r.contacts[tenantID] = map[string]string{}
	}
	r.contacts[tenantID][contactID] = residentID
}

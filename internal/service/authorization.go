package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/ordering"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/repository"
)

// 登录用户类型（X-User-Type）
const (
	UserTypeStaff    = "staff"
	UserTypeResident = "resident"
	UserTypeFamily   = "family"
)

// adminRoles 可操作本机构所有住户的角色
var adminRoles = map[string]bool{
	"SystemAdmin": true,
	"Admin":       true,
	"Manager":     true,
}

// Actor 当前请求用户（由 Handler 从请求头解析）
type Actor struct {
	UserID   string
	TenantID string
	UserType string // staff | resident | family
	Role     string // 仅 staff
}

// IsAdmin 管理角色
func (a Actor) IsAdmin() bool {
	return a.UserType == UserTypeStaff && adminRoles[a.Role]
}

func (a Actor) userType() string {
	if a.UserType == "" {
		return UserTypeStaff
	}
	return a.UserType
}

// authorizer 住户级权限判断
type authorizer struct {
	residents repository.ResidentsRepository
	logger    *zap.Logger
}

// authorize 判断 actor 能否读/写该住户的订单
//
//	staff: 管理角色可操作本机构所有住户；其他角色仅限分配给自己的住户
//	resident: 仅本人（X-User-Id 即 resident_id）
//	family: 只读，X-User-Id 为 contact_id，通过 resident_contacts 映射到住户
func (z *authorizer) authorize(ctx context.Context, actor Actor, res *domain.Resident, write bool) error {
	if actor.TenantID == "" || actor.UserID == "" {
		return z.deny(actor, res, "missing user identity")
	}
	if res.TenantID != actor.TenantID {
		return z.deny(actor, res, "resident belongs to another facility")
	}

	switch actor.userType() {
	case UserTypeResident:
		if actor.UserID != res.ResidentID {
			return z.deny(actor, res, "residents can only access their own orders")
		}
		return nil
	case UserTypeFamily:
		if write {
			return z.deny(actor, res, "family members have read-only access")
		}
		rid, err := z.residents.GetContactResidentID(ctx, actor.TenantID, actor.UserID)
		if err != nil || rid != res.ResidentID {
			return z.deny(actor, res, "not a contact of this resident")
		}
		return nil
	case UserTypeStaff:
		if actor.IsAdmin() {
			return nil
		}
		if res.AssignedStaffID == "" || res.AssignedStaffID != actor.UserID {
			return z.deny(actor, res, "resident is not assigned to you")
		}
		return nil
	}
	return z.deny(actor, res, "unknown user type "+actor.UserType)
}

// scopeFilters 列表查询的权限过滤；返回的 filters 覆盖调用方传入的同名条件
func (z *authorizer) scopeFilters(ctx context.Context, actor Actor, filters repository.OrderFilters) (repository.OrderFilters, error) {
	if actor.TenantID == "" || actor.UserID == "" {
		return filters, &ordering.AuthorizationError{Reason: "missing user identity"}
	}
	switch actor.userType() {
	case UserTypeResident:
		if filters.ResidentID != "" && filters.ResidentID != actor.UserID {
			return filters, &ordering.AuthorizationError{Reason: "residents can only access their own orders"}
		}
		filters.ResidentID = actor.UserID
	case UserTypeFamily:
		rid, err := z.residents.GetContactResidentID(ctx, actor.TenantID, actor.UserID)
		if err != nil {
			return filters, &ordering.AuthorizationError{Reason: "no resident linked to this contact"}
		}
		if filters.ResidentID != "" && filters.ResidentID != rid {
			return filters, &ordering.AuthorizationError{Reason: "not a contact of this resident"}
		}
		filters.ResidentID = rid
	case UserTypeStaff:
		if !actor.IsAdmin() {
			filters.AssignedStaffID = actor.UserID
		}
	default:
		return filters, &ordering.AuthorizationError{Reason: "unknown user type " + actor.UserType}
	}
	return filters, nil
}

func (z *authorizer) deny(actor Actor, res *domain.Resident, reason string) error {
	z.logger.Warn("Resident order access denied",
		zap.String("user_id", actor.UserID),
		zap.String("user_type", actor.UserType),
		zap.String("role", actor.Role),
		zap.String("tenant_id", actor.TenantID),
		zap.String("resident_id", res.ResidentID),
		zap.String("reason", reason),
	)
	return &ordering.AuthorizationError{Reason: reason}
}

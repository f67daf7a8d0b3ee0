package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/menu"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/ordering"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/repository"
)

// MenuStore 菜单读写（写入后清除缓存）
type MenuStore interface {
	menu.Catalog
	UpsertMenuItem(ctx context.Context, tenantID string, item *domain.MenuItem) (string, error)
}

// MenuHandler 菜单 Handler
type MenuHandler struct {
	store  MenuStore
	logger *zap.Logger
}

func NewMenuHandler(store MenuStore, logger *zap.Logger) *MenuHandler {
	return &MenuHandler{store: store, logger: logger}
}

type menuItemDTO struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Category        string    `json:"category"`
	MealType        string    `json:"mealType"`
	Price           string    `json:"price"`
	IsActive        bool      `json:"isActive"`
	RequiresVariant bool      `json:"requiresVariant"`
	VariantOptions  []string  `json:"variantOptions,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func toMenuItemDTO(it *domain.MenuItem) menuItemDTO {
	return menuItemDTO{
		ID:              it.ItemID,
		Name:            it.Name,
		Description:     it.Description,
		Category:        string(it.Category),
		MealType:        string(it.MealType),
		Price:           it.Price.String(),
		IsActive:        it.IsActive,
		RequiresVariant: it.RequiresVariant,
		VariantOptions:  it.VariantOptions,
		UpdatedAt:       it.UpdatedAt,
	}
}

// ListMenu GET /menu?mealType=&isActive=
// isActive 默认 true；isActive=false 返回全部（含已停用）
func (h *MenuHandler) ListMenu(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	if actor.TenantID == "" {
		writeJSON(w, http.StatusForbidden, Fail("missing tenant"))
		return
	}

	filter := repository.MenuFilter{ActiveOnly: true}
	if mt := r.URL.Query().Get("mealType"); mt != "" {
		parsed, ok := domain.ParseMealType(mt)
		if !ok {
			writeJSON(w, http.StatusBadRequest, Fail("invalid mealType"))
			return
		}
		filter.MealType = parsed
	}
	if strings.EqualFold(r.URL.Query().Get("isActive"), "false") {
		filter.ActiveOnly = false
	}

	items, err := h.store.ListMenuItems(r.Context(), actor.TenantID, filter)
	if err != nil {
		writeServiceError(w, h.logger, "ListMenu", err)
		return
	}
	out := make([]menuItemDTO, 0, len(items))
	for _, it := range items {
		out = append(out, toMenuItemDTO(it))
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"items": out, "total": len(out)}))
}

type upsertMenuItemRequest struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Category        string   `json:"category"`
	MealType        string   `json:"mealType"`
	Price           string   `json:"price"`
	IsActive        *bool    `json:"isActive"`
	RequiresVariant bool     `json:"requiresVariant"`
	VariantOptions  []string `json:"variantOptions"`
}

// UpsertMenuItem POST /menu, PUT /menu/{id}（仅管理角色）
func (h *MenuHandler) UpsertMenuItem(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	if actor.TenantID == "" || !actor.IsAdmin() {
		writeServiceError(w, h.logger, "UpsertMenuItem", &ordering.AuthorizationError{Reason: "only facility admins can edit the menu"})
		return
	}

	var req upsertMenuItemRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	item, err := req.toMenuItem()
	if err != nil {
		writeServiceError(w, h.logger, "UpsertMenuItem", err)
		return
	}
	item.ItemID = chi.URLParam(r, "id")

	id, err := h.store.UpsertMenuItem(r.Context(), actor.TenantID, item)
	if err != nil {
		writeServiceError(w, h.logger, "UpsertMenuItem", err)
		return
	}
	h.logger.Info("Menu item saved",
		zap.String("tenant_id", actor.TenantID),
		zap.String("item_id", id),
		zap.String("user_id", actor.UserID),
	)
	writeJSON(w, http.StatusOK, Ok(map[string]any{"id": id}))
}

func (req upsertMenuItemRequest) toMenuItem() (*domain.MenuItem, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ordering.NewValidationError("name", "is required")
	}
	category := domain.MenuCategory(strings.ToLower(req.Category))
	if !domain.ValidCategory(category) {
		return nil, ordering.NewValidationError("category", "invalid category %q", req.Category)
	}
	mealType, ok := domain.ParseMealType(req.MealType)
	if !ok {
		return nil, ordering.NewValidationError("mealType", "invalid meal type %q", req.MealType)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(req.Price))
	if err != nil || price.IsNegative() {
		return nil, ordering.NewValidationError("price", "must be a non-negative decimal")
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return &domain.MenuItem{
		Name:            name,
		Description:     req.Description,
		Category:        category,
		MealType:        mealType,
		Price:           price,
		IsActive:        active,
		RequiresVariant: req.RequiresVariant,
		VariantOptions:  req.VariantOptions,
	}, nil
}

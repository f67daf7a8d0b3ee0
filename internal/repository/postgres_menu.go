package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
)

// PostgresMenuRepository 菜单 Repository 实现
type PostgresMenuRepository struct {
	db *sql.DB
}

// NewPostgresMenuRepository 创建菜单 Repository
func NewPostgresMenuRepository(db *sql.DB) *PostgresMenuRepository {
	return &PostgresMenuRepository{db: db}
}

var _ MenuRepository = (*PostgresMenuRepository)(nil)

const menuItemColumns = `
			item_id::text,
			tenant_id::text,
			name,
			COALESCE(description, '') as description,
			category,
			meal_type,
			price,
			is_active,
			requires_variant,
			variant_options,
			updated_at`

// ListMenuItems 按餐次/启用状态查询菜单，按分类、名称排序
func (r *PostgresMenuRepository) ListMenuItems(ctx context.Context, tenantID string, filter MenuFilter) ([]*domain.MenuItem, error) {
	if tenantID == "" {
		return []*domain.MenuItem{}, nil
	}

	where := []string{"tenant_id = $1"}
	args := []any{tenantID}
	argIdx := 2
	if filter.MealType != "" {
		where = append(where, fmt.Sprintf("meal_type = $%d", argIdx))
		args = append(args, string(filter.MealType))
		argIdx++
	}
	if filter.ActiveOnly {
		where = append(where, "is_active = TRUE")
	}

	query := fmt.Sprintf(`SELECT %s FROM menu_items WHERE %s ORDER BY category, name`, menuItemColumns, strings.Join(where, " AND "))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list menu items: %w", err)
	}
	defer rows.Close()
	return scanMenuItems(rows)
}

// GetMenuItems 按 id 批量读取（仅启用的菜品）
func (r *PostgresMenuRepository) GetMenuItems(ctx context.Context, tenantID string, itemIDs []string) ([]*domain.MenuItem, error) {
	if tenantID == "" || len(itemIDs) == 0 {
		return []*domain.MenuItem{}, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM menu_items WHERE tenant_id = $1 AND item_id::text = ANY($2) AND is_active = TRUE`, menuItemColumns)
	rows, err := r.db.QueryContext(ctx, query, tenantID, pq.Array(itemIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to get menu items: %w", err)
	}
	defer rows.Close()
	return scanMenuItems(rows)
}

// UpsertMenuItem 创建或更新菜品（ItemID 为空时创建）
func (r *PostgresMenuRepository) UpsertMenuItem(ctx context.Context, tenantID string, item *domain.MenuItem) (string, error) {
	if tenantID == "" || item == nil {
		return "", fmt.Errorf("tenant_id and item are required")
	}
	if !domain.ValidCategory(item.Category) {
		return "", fmt.Errorf("invalid category: %s", item.Category)
	}
	if _, ok := domain.ParseMealType(string(item.MealType)); !ok {
		return "", fmt.Errorf("invalid meal_type: %s", item.MealType)
	}

	var id string
	if item.ItemID == "" {
		err := r.db.QueryRowContext(ctx, `
			INSERT INTO menu_items (tenant_id, name, description, category, meal_type, price, is_active, requires_variant, variant_options)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
			RETURNING item_id::text
		`, tenantID, item.Name, item.Description, string(item.Category), string(item.MealType),
			item.Price, item.IsActive, item.RequiresVariant, pq.Array(item.VariantOptions)).Scan(&id)
		if err != nil {
			return "", fmt.Errorf("failed to create menu item: %w", err)
		}
		return id, nil
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE menu_items
		SET name = $3, description = NULLIF($4, ''), category = $5, meal_type = $6, price = $7,
		    is_active = $8, requires_variant = $9, variant_options = $10, updated_at = NOW()
		WHERE tenant_id = $1 AND item_id = $2
	`, tenantID, item.ItemID, item.Name, item.Description, string(item.Category), string(item.MealType),
		item.Price, item.IsActive, item.RequiresVariant, pq.Array(item.VariantOptions))
	if err != nil {
		return "", fmt.Errorf("failed to update menu item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", fmt.Errorf("menu item %s: %w", item.ItemID, domain.ErrNotFound)
	}
	return item.ItemID, nil
}

func scanMenuItems(rows *sql.Rows) ([]*domain.MenuItem, error) {
	items := []*domain.MenuItem{}
	for rows.Next() {
		var it domain.MenuItem
		var category, mealType string
		var options pq.StringArray
		if err := rows.Scan(
			&it.ItemID,
			&it.TenantID,
			&it.Name,
			&it.Description,
			&category,
			&mealType,
			&it.Price,
			&it.IsActive,
			&it.RequiresVariant,
			&options,
			&it.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan menu item: %w", err)
		}
		it.Category = domain.MenuCategory(category)
		it.MealType = domain.MealType(mealType)
		if len(options) > 0 {
			it.VariantOptions = []string(options)
		}
		items = append(items, &it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate menu items: %w", err)
	}
	return items, nil
}

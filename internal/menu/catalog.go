package menu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/repository"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/store"
)

// Catalog 菜单读取（下单与提交时的权威价格来源）
type Catalog interface {
	ListMenuItems(ctx context.Context, tenantID string, filter repository.MenuFilter) ([]*domain.MenuItem, error)
	GetMenuItems(ctx context.Context, tenantID string, itemIDs []string) (map[string]*domain.MenuItem, error)
}

// CachedCatalog 菜单列表走 Redis 缓存，按 id 查询始终读仓库
//
// 缓存只用于展示菜单；组单和提交时的价格/启用状态必须来自仓库。
type CachedCatalog struct {
	repo   repository.MenuRepository
	kv     store.KV // nil 表示不缓存
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

// NewCachedCatalog 创建菜单目录
func NewCachedCatalog(repo repository.MenuRepository, kv store.KV, ttl time.Duration, logger *zap.Logger) *CachedCatalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedCatalog{repo: repo, kv: kv, ttl: ttl, logger: logger}
}

var _ Catalog = (*CachedCatalog)(nil)

func cacheKey(tenantID string, filter repository.MenuFilter) string {
	mealType := string(filter.MealType)
	if mealType == "" {
		mealType = "all"
	}
	active := "all"
	if filter.ActiveOnly {
		active = "active"
	}
	return fmt.Sprintf("meals:menu:%s:%s:%s", tenantID, mealType, active)
}

// ListMenuItems 缓存未命中时只有一个请求回源
func (c *CachedCatalog) ListMenuItems(ctx context.Context, tenantID string, filter repository.MenuFilter) ([]*domain.MenuItem, error) {
	if c.kv == nil {
		return c.repo.ListMenuItems(ctx, tenantID, filter)
	}

	key := cacheKey(tenantID, filter)
	if raw, err := c.kv.Get(ctx, key); err == nil {
		var items []*domain.MenuItem
		if err := json.Unmarshal([]byte(raw), &items); err == nil {
			return items, nil
		}
		c.logger.Warn("Discarding corrupt menu cache entry", zap.String("key", key))
	} else if !errors.Is(err, store.ErrMiss) {
		c.logger.Warn("Menu cache read failed, falling back to repository", zap.String("key", key), zap.Error(err))
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		items, err := c.repo.ListMenuItems(ctx, tenantID, filter)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(items); err == nil {
			if err := c.kv.Set(ctx, key, string(data), c.ttl); err != nil {
				c.logger.Warn("Failed to write menu cache", zap.String("key", key), zap.Error(err))
			}
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*domain.MenuItem), nil
}

// GetMenuItems 按 id 读取启用菜品，返回 id -> item
func (c *CachedCatalog) GetMenuItems(ctx context.Context, tenantID string, itemIDs []string) (map[string]*domain.MenuItem, error) {
	items, err := c.repo.GetMenuItems(ctx, tenantID, itemIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*domain.MenuItem, len(items))
	for _, it := range items {
		out[it.ItemID] = it
	}
	return out, nil
}

// UpsertMenuItem 写入菜品并清除该机构的菜单缓存
func (c *CachedCatalog) UpsertMenuItem(ctx context.Context, tenantID string, item *domain.MenuItem) (string, error) {
	id, err := c.repo.UpsertMenuItem(ctx, tenantID, item)
	if err != nil {
		return "", err
	}
	if err := c.Invalidate(ctx, tenantID); err != nil {
		c.logger.Warn("Failed to invalidate menu cache", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	return id, nil
}

// Invalidate 删除该机构全部菜单缓存
func (c *CachedCatalog) Invalidate(ctx context.Context, tenantID string) error {
	if c.kv == nil {
		return nil
	}
	keys, err := c.kv.ScanKeys(ctx, fmt.Sprintf("meals:menu:%s:*", tenantID))
	if err != nil {
		return fmt.Errorf("failed to scan menu cache keys: %w", err)
	}
	return c.kv.Del(ctx, keys...)
}

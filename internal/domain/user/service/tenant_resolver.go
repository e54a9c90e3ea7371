package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pharmacy_orders/internal/domain/user/model"
	"pharmacy_orders/internal/domain/user/repository"
	"pharmacy_orders/pkg/apperrors"
	"pharmacy_orders/pkg/cache"

	"gorm.io/gorm"
)

// TenantResolver 租户解析器
// 把操作主体映射到其所属商家：商家即自身，店员/骑手归属其雇主。
// 订单域的所有读写都必须先经过这里确定租户边界。
type TenantResolver interface {
	Resolve(ctx context.Context, actor *model.Actor) (string, error)
}

type tenantResolver struct {
	repo  repository.UserRepository
	cache cache.CacheService
}

// GlobalTenantResolver 由 user 模块初始化，订单域通过它做租户裁剪
var GlobalTenantResolver TenantResolver

// 员工归属关系变化不频繁，短 TTL 缓存足够
const tenantCacheTTL = 5 * time.Minute

func NewTenantResolver(repo repository.UserRepository, c cache.CacheService) TenantResolver {
	return &tenantResolver{repo: repo, cache: c}
}

// Resolve 解析租户并回填 actor.TenantID
func (r *tenantResolver) Resolve(ctx context.Context, actor *model.Actor) (string, error) {
	if actor == nil || actor.UserID == "" {
		return "", fmt.Errorf("%w: actor is required", apperrors.ErrValidation)
	}

	switch actor.Role {
	case model.RoleVendor, model.RoleAdmin:
		// 商家的租户就是自己
		actor.TenantID = actor.UserID
		return actor.UserID, nil

	case model.RoleCustomer:
		// 顾客没有商家租户，订单访问按 customer_id 校验
		actor.TenantID = actor.UserID
		return actor.UserID, nil

	case model.RoleStaff, model.RoleCourier:
		cacheKey := fmt.Sprintf("tenant:%s", actor.UserID)
		var tenantID string
		if err := r.cache.Get(ctx, cacheKey, &tenantID); err == nil && tenantID != "" {
			actor.TenantID = tenantID
			return tenantID, nil
		}

		user, err := r.repo.GetByID(actor.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return "", apperrors.ErrNotFound
			}
			return "", fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
		}
		if user.EmployerID == "" {
			return "", fmt.Errorf("%w: staff %s has no employer configured", apperrors.ErrValidation, actor.UserID)
		}

		_ = r.cache.Set(ctx, cacheKey, user.EmployerID, tenantCacheTTL)
		actor.TenantID = user.EmployerID
		return user.EmployerID, nil

	default:
		return "", fmt.Errorf("%w: unknown role %d", apperrors.ErrValidation, actor.Role)
	}
}

package service

import (
	"context"
	"testing"

	"pharmacy_orders/internal/domain/user/model"
	"pharmacy_orders/pkg/apperrors"
	"pharmacy_orders/pkg/cache"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("Vendor resolves to itself", func(t *testing.T) {
		mockRepo := new(MockUserRepository)
		resolver := NewTenantResolver(mockRepo, cache.NewMemoryCache())
		actor := &model.Actor{UserID: "vendor-1", Role: model.RoleVendor}

		tenantID, err := resolver.Resolve(ctx, actor)

		assert.NoError(t, err)
		assert.Equal(t, "vendor-1", tenantID)
		assert.Equal(t, "vendor-1", actor.TenantID)
		mockRepo.AssertNotCalled(t, "GetByID", "vendor-1")
	})

	t.Run("Staff resolves to employer", func(t *testing.T) {
		mockRepo := new(MockUserRepository)
		resolver := NewTenantResolver(mockRepo, cache.NewMemoryCache())
		actor := &model.Actor{UserID: "staff-1", Role: model.RoleStaff}

		mockRepo.On("GetByID", "staff-1").Return(&model.User{EmployerID: "vendor-9"}, nil)

		tenantID, err := resolver.Resolve(ctx, actor)

		assert.NoError(t, err)
		assert.Equal(t, "vendor-9", tenantID)
		assert.Equal(t, "vendor-9", actor.TenantID)
	})

	t.Run("Second resolve hits the cache", func(t *testing.T) {
		mockRepo := new(MockUserRepository)
		resolver := NewTenantResolver(mockRepo, cache.NewMemoryCache())

		mockRepo.On("GetByID", "courier-1").Return(&model.User{EmployerID: "vendor-9"}, nil).Once()

		for i := 0; i < 3; i++ {
			actor := &model.Actor{UserID: "courier-1", Role: model.RoleCourier}
			tenantID, err := resolver.Resolve(ctx, actor)
			assert.NoError(t, err)
			assert.Equal(t, "vendor-9", tenantID)
		}
		mockRepo.AssertExpectations(t)
	})

	t.Run("Unknown staff reads as not found", func(t *testing.T) {
		mockRepo := new(MockUserRepository)
		resolver := NewTenantResolver(mockRepo, cache.NewMemoryCache())
		actor := &model.Actor{UserID: "ghost", Role: model.RoleStaff}

		mockRepo.On("GetByID", "ghost").Return(nil, gorm.ErrRecordNotFound)

		_, err := resolver.Resolve(ctx, actor)

		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("Staff without employer is a configuration error", func(t *testing.T) {
		mockRepo := new(MockUserRepository)
		resolver := NewTenantResolver(mockRepo, cache.NewMemoryCache())
		actor := &model.Actor{UserID: "staff-2", Role: model.RoleStaff}

		mockRepo.On("GetByID", "staff-2").Return(&model.User{}, nil)

		_, err := resolver.Resolve(ctx, actor)

		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("Missing actor rejected", func(t *testing.T) {
		resolver := NewTenantResolver(new(MockUserRepository), cache.NewMemoryCache())

		_, err := resolver.Resolve(ctx, nil)

		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})
}

package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	FindByTenantID(ctx context.Context, db *gorm.DB, tenantID string) (*Subscription, error)
	FindActiveByTenantID(ctx context.Context, db *gorm.DB, tenantID string) (*Subscription, error)
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription) error
}

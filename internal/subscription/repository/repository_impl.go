package repository

import (
	"context"

	"github.com/revaiconcierge/concierge/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const selectColumns = `id, tenant_id, plan_code, status, billing_cycle, current_period_start, current_period_end,
	cancel_at_period_end, canceled_at, payment_provider, payment_provider_subscription_id, metadata, created_at, updated_at`

func (r *repo) FindByTenantID(ctx context.Context, db *gorm.DB, tenantID string) (*domain.Subscription, error) {
	var s domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM subscriptions WHERE tenant_id = ?`,
		tenantID,
	).Scan(&s).Error
	if err != nil {
		return nil, err
	}
	if s.ID == 0 {
		return nil, nil
	}
	return &s, nil
}

func (r *repo) FindActiveByTenantID(ctx context.Context, db *gorm.DB, tenantID string) (*domain.Subscription, error) {
	var s domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM subscriptions WHERE tenant_id = ? AND status = ?`,
		tenantID,
		domain.SubscriptionStatusActive,
	).Scan(&s).Error
	if err != nil {
		return nil, err
	}
	if s.ID == 0 {
		return nil, nil
	}
	return &s, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, s *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, tenant_id, plan_code, status, billing_cycle, current_period_start, current_period_end,
			cancel_at_period_end, canceled_at, payment_provider, payment_provider_subscription_id, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID,
		s.TenantID,
		s.PlanCode,
		s.Status,
		s.BillingCycle,
		s.CurrentPeriodStart,
		s.CurrentPeriodEnd,
		s.CancelAtPeriodEnd,
		s.CanceledAt,
		s.PaymentProvider,
		s.PaymentProviderSubscriptionID,
		s.Metadata,
		s.CreatedAt,
		s.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, s *domain.Subscription) error {
	if s == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET plan_code = ?, status = ?, billing_cycle = ?, current_period_start = ?, current_period_end = ?,
		     cancel_at_period_end = ?, canceled_at = ?, payment_provider = ?, payment_provider_subscription_id = ?,
		     metadata = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ?`,
		s.PlanCode,
		s.Status,
		s.BillingCycle,
		s.CurrentPeriodStart,
		s.CurrentPeriodEnd,
		s.CancelAtPeriodEnd,
		s.CanceledAt,
		s.PaymentProvider,
		s.PaymentProviderSubscriptionID,
		s.Metadata,
		s.UpdatedAt,
		s.TenantID,
		s.ID,
	).Error
}

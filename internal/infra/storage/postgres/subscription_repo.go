package postgres

import (
	"context"
	"fmt"

	"github.com/vietddude/govwatch/internal/core/domain"
)

// SubscriptionRepo implements storage.SubscriptionRepository using PostgreSQL.
type SubscriptionRepo struct {
	db *DB
}

// NewSubscriptionRepo creates a new PostgreSQL subscription repository.
func NewSubscriptionRepo(db *DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

// Add inserts or replaces a subscription.
func (r *SubscriptionRepo) Add(ctx context.Context, sub domain.Subscription) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO subscriptions (user_id, dao_id, channel, target, address)
		VALUES (:user_id, :dao_id, :channel, :target, :address)
		ON CONFLICT (user_id, dao_id, channel) DO UPDATE SET
			target = EXCLUDED.target,
			address = EXCLUDED.address`, sub)
	if err != nil {
		return fmt.Errorf("failed to add subscription: %w", err)
	}
	return nil
}

// List retrieves all subscriptions.
func (r *SubscriptionRepo) List(ctx context.Context) ([]domain.Subscription, error) {
	var out []domain.Subscription
	if err := r.db.SelectContext(ctx, &out,
		`SELECT user_id, dao_id, channel, target, address FROM subscriptions
		ORDER BY user_id, dao_id, channel`); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return out, nil
}

// ListByDAO retrieves subscriptions for one DAO.
func (r *SubscriptionRepo) ListByDAO(ctx context.Context, daoID string) ([]domain.Subscription, error) {
	var out []domain.Subscription
	if err := r.db.SelectContext(ctx, &out,
		`SELECT user_id, dao_id, channel, target, address FROM subscriptions
		WHERE dao_id = $1 ORDER BY user_id, channel`, daoID); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return out, nil
}

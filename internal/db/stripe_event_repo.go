package db

import (
	"context"

	"lexledger/internal/types"
)

// StripeEventRepository deduplicates webhook deliveries through the
// stripe_events table. Stripe delivers at least once, and a replayed
// checkout.session.completed must not credit the account twice.
type StripeEventRepository struct {
	db DBTX
}

// NewStripeEventRepository creates a new StripeEventRepository.
func NewStripeEventRepository(db DBTX) *StripeEventRepository {
	return &StripeEventRepository{db: db}
}

// Claim records eventID as being processed. Returns false when the event was
// already claimed by an earlier delivery.
func (r *StripeEventRepository) Claim(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO stripe_events (id, event_type, received_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (id) DO NOTHING`,
		eventID,
		eventType,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim stripe event", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release drops a claim so Stripe's retry of a failed delivery is processed.
func (r *StripeEventRepository) Release(ctx context.Context, eventID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM stripe_events WHERE id = $1`, eventID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release stripe event", err)
	}
	return nil
}

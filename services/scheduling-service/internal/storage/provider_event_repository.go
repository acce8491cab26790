package storage

import (
	"context"

	"github.com/mentormesh/mentormesh/libs/db"
)

// ProviderEventRepository deduplicates payment-provider webhook deliveries.
// Providers redeliver webhooks; the first insert wins and replays are
// dropped before they reach the booking state machine.
type ProviderEventRepository struct {
	pool *db.Pool
}

func NewProviderEventRepository(pool *db.Pool) *ProviderEventRepository {
	return &ProviderEventRepository{pool: pool}
}

// MarkProcessed records the (provider, event id) pair. The bool is false
// when the event was already seen.
func (r *ProviderEventRepository) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO payment_provider_events (provider, provider_event_id)
		VALUES ($1, $2)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, provider, eventID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

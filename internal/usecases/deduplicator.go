package usecases

import (
	"context"
	"fmt"

	"autodm/internal/interfaces"
)

// Deduplicator guards against duplicate webhook delivery. An event id that
// was ever processed, successfully or not, is never processed again.
type Deduplicator struct {
	events interfaces.EventStore
}

func NewDeduplicator(events interfaces.EventStore) *Deduplicator {
	return &Deduplicator{events: events}
}

// IsNew reports whether eventID has not been seen before. A true result
// also claims the id, so a concurrent delivery of the same id sees false.
func (d *Deduplicator) IsNew(ctx context.Context, eventID string) (bool, error) {
	exists, err := d.events.Exists(ctx, eventID)
	if err != nil {
		return false, fmt.Errorf("lookup event: %w", err)
	}
	if exists {
		return false, nil
	}
	claimed, err := d.events.Claim(ctx, eventID)
	if err != nil {
		return false, fmt.Errorf("claim event: %w", err)
	}
	return claimed, nil
}

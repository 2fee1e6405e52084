package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// EventDedup is the fast-path duplicate filter keyed on event_id. SET NX
// makes claim-and-check one round trip. It only trims redundant work;
// each handler still carries a durable guard for its side effect.
type EventDedup struct {
	RDB     *redis.Client
	Service string
}

func (d *EventDedup) Seen(ctx context.Context, eventID string) (bool, error) {
	key := fmt.Sprintf(KeyDedup, d.Service, eventID)
	ok, err := d.RDB.SetNX(ctx, key, "1", TTLDedup).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Forget gives the claim back when the handler failed after claiming it,
// so the redelivery is not swallowed by this filter.
func (d *EventDedup) Forget(ctx context.Context, eventID string) error {
	key := fmt.Sprintf(KeyDedup, d.Service, eventID)
	return d.RDB.Del(ctx, key).Err()
}

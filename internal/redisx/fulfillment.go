package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// FulfillmentTracker accumulates per-order handler outcomes in a hash so
// the status consumer can tell when both inventory and payment reported.
type FulfillmentTracker struct{ RDB *redis.Client }

func (t *FulfillmentTracker) Record(ctx context.Context, orderID string, fields map[string]string) (map[string]string, error) {
	key := fmt.Sprintf(KeyFulfillment, orderID)

	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}

	pipe := t.RDB.TxPipeline()
	pipe.HSet(ctx, key, args...)
	pipe.Expire(ctx, key, TTLFulfillment)
	all := pipe.HGetAll(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return all.Val(), nil
}

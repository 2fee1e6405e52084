package redisx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StatusCache fronts order status reads so GET /orders/{id} rarely hits
// the store. Best-effort: cache errors are swallowed, the store stays
// the source of truth.
type StatusCache struct{ RDB *redis.Client }

func (c *StatusCache) SetStatus(ctx context.Context, orderID, status string) {
	b, _ := json.Marshal(map[string]string{"status": status})
	key := fmt.Sprintf(KeyOrderStatus, orderID)
	_ = c.RDB.Set(ctx, key, b, TTLStatusCache).Err()
}

func (c *StatusCache) GetStatus(ctx context.Context, orderID string) (json.RawMessage, bool) {
	key := fmt.Sprintf(KeyOrderStatus, orderID)
	s, err := c.RDB.Get(ctx, key).Result()
	if err != nil || s == "" {
		return nil, false
	}
	return json.RawMessage(s), true
}

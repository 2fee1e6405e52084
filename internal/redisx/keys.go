package redisx

import "time"

const (
	// Cache status order: order_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Fulfillment progress per order: hash fulfill:{order_id}
	KeyFulfillment = "fulfill:%s"

	// One-shot payment capture token: idem:payment:{order_id}
	KeyIdemPayment = "idem:payment:%s"

	// Notification dedupe window: idem:notify:{order_id}
	KeyIdemNotify = "idem:notify:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLFulfillment = 48 * time.Hour
	TTLIdemPayment = 48 * time.Hour
	TTLIdemNotify  = 24 * time.Hour
)

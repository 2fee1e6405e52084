package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced       = "OrderPlaced"
	EventInventoryAdjusted = "InventoryAdjusted"
	EventInventoryRejected = "InventoryRejected"
	EventPaymentCaptured   = "PaymentCaptured"
	EventPaymentDeclined   = "PaymentDeclined"
	EventOrderFulfilled    = "OrderFulfilled"
	EventOrderFailed       = "OrderFailed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "order-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope stamps a fresh envelope for an event about one order.
func NewEnvelope(eventID, eventType, producer, traceID, orderID string, payload []byte) Envelope {
	return Envelope{
		EventID:       eventID,
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: orderID,
		Payload:       payload,
	}
}

// ---- Payload types per event ----

// OrderPlacedPayload is the complete snapshot subscribers act on; they
// must not need to re-fetch the order record.
type OrderPlacedPayload struct {
	OrderID       string `json:"order_id"`
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	CustomerEmail string `json:"customer_email"`
}

type InventoryAdjustedPayload struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

const (
	RejectReasonNotFound   = "NOT_FOUND"
	RejectReasonOutOfStock = "OUT_OF_STOCK"
)

type InventoryRejectedPayload struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Reason    string `json:"reason"` // NOT_FOUND | OUT_OF_STOCK
	Available int    `json:"available,omitempty"`
	Required  int    `json:"required,omitempty"`
}

type PaymentCapturedPayload struct {
	OrderID     string `json:"order_id"`
	PaymentRef  string `json:"payment_ref"`
	AmountCents int    `json:"amount_cents"`
}

type PaymentDeclinedPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

type OrderFinalizedPayload struct {
	OrderID     string   `json:"order_id"`
	FinalStatus string   `json:"final_status"`      // FULFILLED | FAILED
	Reasons     []string `json:"reasons,omitempty"` // when FAILED
}

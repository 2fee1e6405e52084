package orders

const (
	TopicOrderPlaced       = "order.placed"
	TopicInventoryAdjusted = "order.inventory.adjusted"
	TopicInventoryRejected = "order.inventory.rejected"
	TopicPaymentCaptured   = "order.payment.captured"
	TopicPaymentDeclined   = "order.payment.declined"
	TopicOrderFinalized    = "order.finalized"
)

// OutcomeTopics are what the status consumer subscribes to.
var OutcomeTopics = []string{
	TopicInventoryAdjusted,
	TopicInventoryRejected,
	TopicPaymentCaptured,
	TopicPaymentDeclined,
}

// Partition key = order_id, so every event for one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

package outbox

// Event is one pending row from the outbox table. Payload is the already
// marshaled envelope written by the intake transaction.
type Event struct {
	ID      int64
	Key     string
	Type    string
	Payload []byte
}

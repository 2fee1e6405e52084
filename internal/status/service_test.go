package status

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type memProgress struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
}

func (p *memProgress) Record(ctx context.Context, orderID string, fields map[string]string) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hashes == nil {
		p.hashes = map[string]map[string]string{}
	}
	h := p.hashes[orderID]
	if h == nil {
		h = map[string]string{}
		p.hashes[orderID] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	out := map[string]string{}
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

type memFinalizer struct {
	mu     sync.Mutex
	status map[string]orders.Status
}

func newMemFinalizer(ids ...string) *memFinalizer {
	m := &memFinalizer{status: map[string]orders.Status{}}
	for _, id := range ids {
		m.status[id] = orders.StatusPending
	}
	return m
}

func (m *memFinalizer) Finalize(ctx context.Context, orderID string, to orders.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.status[orderID]
	if !ok {
		return orders.ErrNotFound
	}
	if !orders.CanTransition(cur, to) {
		return orders.ErrAlreadyFinal
	}
	m.status[orderID] = to
	return nil
}

type memRestocker struct {
	mu        sync.Mutex
	restocked map[string]int // orderID -> qty
}

func (m *memRestocker) Restock(ctx context.Context, orderID, productID string, qty int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.restocked == nil {
		m.restocked = map[string]int{}
	}
	if _, ok := m.restocked[orderID]; ok {
		return false, nil
	}
	m.restocked[orderID] = qty
	return true, nil
}

type capturePub struct {
	mu   sync.Mutex
	envs []orders.Envelope
}

func (p *capturePub) Publish(key, value []byte, headers ...kafkago.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var env orders.Envelope
	_ = json.Unmarshal(value, &env)
	p.envs = append(p.envs, env)
}

func (p *capturePub) all() []orders.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]orders.Envelope, len(p.envs))
	copy(out, p.envs)
	return out
}

func outcomeMessage(eventType string, payload any) kafkago.Message {
	env := orders.NewEnvelope(uuid.NewString(), eventType, "test", "", "", kafkax.MustMarshal(payload))
	return kafkago.Message{Value: kafkax.MustMarshal(env)}
}

func adjusted(orderID string, qty int) kafkago.Message {
	return outcomeMessage(orders.EventInventoryAdjusted,
		orders.InventoryAdjustedPayload{OrderID: orderID, ProductID: "P1", Quantity: qty})
}

func rejected(orderID, reason string) kafkago.Message {
	return outcomeMessage(orders.EventInventoryRejected,
		orders.InventoryRejectedPayload{OrderID: orderID, ProductID: "P1", Reason: reason})
}

func captured(orderID string) kafkago.Message {
	return outcomeMessage(orders.EventPaymentCaptured,
		orders.PaymentCapturedPayload{OrderID: orderID, PaymentRef: "PAY-1", AmountCents: 100})
}

func declined(orderID string) kafkago.Message {
	return outcomeMessage(orders.EventPaymentDeclined,
		orders.PaymentDeclinedPayload{OrderID: orderID, Reason: "declined by gateway"})
}

func newSvc(fin *memFinalizer) (*Service, *memRestocker, *capturePub) {
	rst := &memRestocker{}
	pub := &capturePub{}
	return &Service{
		Progress:    &memProgress{},
		Orders:      fin,
		Inventory:   rst,
		Producer:    pub,
		ServiceName: "status-test",
		Log:         zap.NewNop(),
	}, rst, pub
}

func handle(t *testing.T, svc *Service, msgs ...kafkago.Message) {
	t.Helper()
	for _, m := range msgs {
		if err := svc.HandleOutcome(context.Background(), m); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
}

func TestBothSucceedFulfills(t *testing.T) {
	fin := newMemFinalizer("o1")
	svc, rst, pub := newSvc(fin)

	handle(t, svc, adjusted("o1", 2), captured("o1"))

	if got := fin.status["o1"]; got != orders.StatusFulfilled {
		t.Errorf("status = %s, want FULFILLED", got)
	}
	if len(rst.restocked) != 0 {
		t.Error("no restock on success")
	}
	if len(pub.envs) != 1 || pub.envs[0].EventType != orders.EventOrderFulfilled {
		t.Fatalf("events = %+v", pub.envs)
	}
}

func TestSingleOutcomeWaits(t *testing.T) {
	fin := newMemFinalizer("o1")
	svc, _, pub := newSvc(fin)

	handle(t, svc, adjusted("o1", 2))

	if got := fin.status["o1"]; got != orders.StatusPending {
		t.Errorf("status = %s, want PENDING while payment outstanding", got)
	}
	if len(pub.envs) != 0 {
		t.Error("no finalized event yet")
	}
}

func TestInventoryRejectionFails(t *testing.T) {
	fin := newMemFinalizer("o1")
	svc, rst, pub := newSvc(fin)

	handle(t, svc, rejected("o1", orders.RejectReasonOutOfStock), captured("o1"))

	if got := fin.status["o1"]; got != orders.StatusFailed {
		t.Errorf("status = %s, want FAILED", got)
	}
	if len(rst.restocked) != 0 {
		t.Error("nothing was decremented, nothing to restock")
	}
	if len(pub.envs) != 1 || pub.envs[0].EventType != orders.EventOrderFailed {
		t.Fatalf("events = %+v", pub.envs)
	}
	p, _ := kafkax.UnwrapPayload[orders.OrderFinalizedPayload](pub.envs[0].Payload)
	if len(p.Reasons) != 1 {
		t.Errorf("reasons = %v", p.Reasons)
	}
}

func TestPaymentDeclineRestocks(t *testing.T) {
	fin := newMemFinalizer("o1")
	svc, rst, pub := newSvc(fin)

	handle(t, svc, adjusted("o1", 3), declined("o1"))

	if got := fin.status["o1"]; got != orders.StatusFailed {
		t.Errorf("status = %s, want FAILED", got)
	}
	if qty := rst.restocked["o1"]; qty != 3 {
		t.Errorf("restocked qty = %d, want 3", qty)
	}
	if len(pub.envs) != 1 || pub.envs[0].EventType != orders.EventOrderFailed {
		t.Fatalf("events = %+v", pub.envs)
	}
}

func TestRedeliveredOutcomeAfterFinalIsNoop(t *testing.T) {
	fin := newMemFinalizer("o1")
	svc, rst, pub := newSvc(fin)

	handle(t, svc, adjusted("o1", 3), declined("o1"))
	// redelivery of the declined outcome for a closed order
	handle(t, svc, declined("o1"))

	if got := fin.status["o1"]; got != orders.StatusFailed {
		t.Errorf("status = %s", got)
	}
	if qty := rst.restocked["o1"]; qty != 3 {
		t.Errorf("restock must apply once, got qty %d", qty)
	}
	if len(pub.envs) != 1 {
		t.Errorf("finalized events = %d, want 1", len(pub.envs))
	}
}

func TestUnknownOrderOutcomeDropped(t *testing.T) {
	fin := newMemFinalizer() // no orders
	svc, _, pub := newSvc(fin)

	handle(t, svc, adjusted("ghost", 1), captured("ghost"))

	if len(pub.envs) != 0 {
		t.Error("no finalized event for unknown order")
	}
}

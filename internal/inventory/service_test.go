package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// memAdjuster mirrors the store contract: one marker per order committed
// with the outcome, conditional decrement under a lock.
type memAdjuster struct {
	mu        sync.Mutex
	stock     map[string]int
	processed map[string]orders.AdjustResult
}

func newMemAdjuster(stock map[string]int) *memAdjuster {
	return &memAdjuster{stock: stock, processed: map[string]orders.AdjustResult{}}
}

func (m *memAdjuster) AdjustStock(ctx context.Context, orderID, productID string, qty int) (orders.AdjustResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prior, ok := m.processed[orderID]; ok {
		return orders.AdjustResult{Outcome: prior.Outcome, Duplicate: true}, nil
	}
	var res orders.AdjustResult
	s, ok := m.stock[productID]
	switch {
	case !ok:
		res.Outcome = orders.AdjustOutcomeNotFound
	case s < qty:
		res.Outcome = orders.AdjustOutcomeOutOfStock
		res.Available = s
	default:
		m.stock[productID] = s - qty
		res.Outcome = orders.AdjustOutcomeApplied
		res.Available = s - qty
	}
	m.processed[orderID] = res
	return res, nil
}

type nopDedup struct{}

func (nopDedup) Seen(ctx context.Context, eventID string) (bool, error) { return false, nil }
func (nopDedup) Forget(ctx context.Context, eventID string) error       { return nil }

type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDedup) Seen(ctx context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	prior := d.seen[eventID]
	d.seen[eventID] = true
	return prior, nil
}

func (d *memDedup) Forget(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, eventID)
	return nil
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
	return append([]orders.Envelope(nil), p.envs...)
}

func placedMessage(orderID, productID string, qty int) kafkago.Message {
	env := orders.NewEnvelope(uuid.NewString(), orders.EventOrderPlaced, "test", "", orderID,
		kafkax.MustMarshal(orders.OrderPlacedPayload{
			OrderID:       orderID,
			ProductID:     productID,
			Quantity:      qty,
			CustomerEmail: "a@b.com",
		}))
	return kafkago.Message{Value: kafkax.MustMarshal(env)}
}

func newSvc(store Adjuster, dedup Deduper) (*Service, *capturePub, *capturePub) {
	ok := &capturePub{}
	rej := &capturePub{}
	return &Service{
		Repo:        store,
		Dedup:       dedup,
		ProducerOK:  ok,
		ProducerRej: rej,
		ServiceName: "inventory-test",
		Log:         zap.NewNop(),
	}, ok, rej
}

func TestDecrementOnSufficientStock(t *testing.T) {
	store := newMemAdjuster(map[string]int{"P1": 10})
	svc, ok, rej := newSvc(store, nopDedup{})

	if err := svc.HandleOrderPlaced(context.Background(), placedMessage("o1", "P1", 2)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := store.stock["P1"]; got != 8 {
		t.Errorf("stock = %d, want 8", got)
	}
	if len(ok.all()) != 1 || len(rej.all()) != 0 {
		t.Fatalf("events: adjusted=%d rejected=%d", len(ok.all()), len(rej.all()))
	}
	p, err := kafkax.UnwrapPayload[orders.InventoryAdjustedPayload](ok.all()[0].Payload)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.OrderID != "o1" || p.Quantity != 2 {
		t.Errorf("payload = %+v", p)
	}
}

func TestInsufficientStockLeavesStockUnchanged(t *testing.T) {
	store := newMemAdjuster(map[string]int{"P1": 1})
	svc, ok, rej := newSvc(store, nopDedup{})

	if err := svc.HandleOrderPlaced(context.Background(), placedMessage("o1", "P1", 2)); err != nil {
		t.Fatalf("business failure must not bubble to the bus: %v", err)
	}
	if got := store.stock["P1"]; got != 1 {
		t.Errorf("stock = %d, want 1", got)
	}
	if len(ok.all()) != 0 || len(rej.all()) != 1 {
		t.Fatalf("events: adjusted=%d rejected=%d", len(ok.all()), len(rej.all()))
	}
	p, _ := kafkax.UnwrapPayload[orders.InventoryRejectedPayload](rej.all()[0].Payload)
	if p.Reason != orders.RejectReasonOutOfStock || p.Available != 1 || p.Required != 2 {
		t.Errorf("payload = %+v", p)
	}
}

func TestUnknownProductRejected(t *testing.T) {
	store := newMemAdjuster(map[string]int{})
	svc, _, rej := newSvc(store, nopDedup{})

	if err := svc.HandleOrderPlaced(context.Background(), placedMessage("o1", "ghost", 1)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(rej.all()) != 1 {
		t.Fatalf("rejected events = %d, want 1", len(rej.all()))
	}
	p, _ := kafkax.UnwrapPayload[orders.InventoryRejectedPayload](rej.all()[0].Payload)
	if p.Reason != orders.RejectReasonNotFound {
		t.Errorf("reason = %s", p.Reason)
	}
}

func TestRedeliverySameEventIDIsDropped(t *testing.T) {
	store := newMemAdjuster(map[string]int{"P1": 10})
	svc, ok, _ := newSvc(store, &memDedup{})

	m := placedMessage("o1", "P1", 2)
	for i := 0; i < 3; i++ {
		if err := svc.HandleOrderPlaced(context.Background(), m); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if got := store.stock["P1"]; got != 8 {
		t.Errorf("stock = %d, want 8 after redelivery", got)
	}
	if len(ok.all()) != 1 {
		t.Errorf("adjusted events = %d, want 1", len(ok.all()))
	}
}

func TestRedeliveryPastDedupStillDecrementsOnce(t *testing.T) {
	// Dedup disabled: the durable marker alone must stop the double
	// decrement, and the outcome is republished for the redelivery.
	store := newMemAdjuster(map[string]int{"P1": 10})
	svc, ok, _ := newSvc(store, nopDedup{})

	m := placedMessage("o1", "P1", 2)
	for i := 0; i < 2; i++ {
		if err := svc.HandleOrderPlaced(context.Background(), m); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if got := store.stock["P1"]; got != 8 {
		t.Errorf("stock = %d, want 8", got)
	}
	if len(ok.all()) != 2 {
		t.Errorf("adjusted events = %d, want 2 (outcome republished)", len(ok.all()))
	}
}

// flakyAdjuster fails a configured number of calls before delegating.
type flakyAdjuster struct {
	*memAdjuster
	mu       sync.Mutex
	failures int
}

func (f *flakyAdjuster) AdjustStock(ctx context.Context, orderID, productID string, qty int) (orders.AdjustResult, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return orders.AdjustResult{}, errors.New("store unavailable")
	}
	f.mu.Unlock()
	return f.memAdjuster.AdjustStock(ctx, orderID, productID, qty)
}

func TestTransientStoreErrorReleasesDedupClaim(t *testing.T) {
	// The same message (same event_id) is redelivered after a transient
	// store failure. The filter claimed the id before the failure; unless
	// the claim is handed back, the retry is swallowed and the decrement
	// never lands.
	store := &flakyAdjuster{memAdjuster: newMemAdjuster(map[string]int{"P1": 10}), failures: 1}
	svc, ok, _ := newSvc(store, &memDedup{})

	m := placedMessage("o1", "P1", 2)
	if err := svc.HandleOrderPlaced(context.Background(), m); err == nil {
		t.Fatal("transient failure must bubble up for redelivery")
	}
	if err := svc.HandleOrderPlaced(context.Background(), m); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := store.stock["P1"]; got != 8 {
		t.Errorf("stock = %d, want 8 after successful retry", got)
	}
	if len(ok.all()) != 1 {
		t.Errorf("adjusted events = %d, want 1", len(ok.all()))
	}
}

func TestConcurrentOrdersSameProduct(t *testing.T) {
	store := newMemAdjuster(map[string]int{"P1": 10})
	svc, ok, rej := newSvc(store, nopDedup{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := svc.HandleOrderPlaced(context.Background(), placedMessage(id, "P1", 4)); err != nil {
				t.Errorf("handle: %v", err)
			}
		}([]string{"o1", "o2"}[i])
	}
	wg.Wait()

	if got := store.stock["P1"]; got != 2 {
		t.Errorf("stock = %d, want 2 (both orders fit)", got)
	}
	if len(ok.all()) != 2 || len(rej.all()) != 0 {
		t.Errorf("events: adjusted=%d rejected=%d", len(ok.all()), len(rej.all()))
	}
}

func TestConcurrentOrdersOverflowNeverNegative(t *testing.T) {
	store := newMemAdjuster(map[string]int{"P1": 5})
	svc, ok, rej := newSvc(store, nopDedup{})

	var wg sync.WaitGroup
	for _, id := range []string{"o1", "o2", "o3"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = svc.HandleOrderPlaced(context.Background(), placedMessage(id, "P1", 3))
		}(id)
	}
	wg.Wait()

	if got := store.stock["P1"]; got < 0 {
		t.Fatalf("stock went negative: %d", got)
	}
	// 5/3 = exactly one order fits
	if len(ok.all()) != 1 || len(rej.all()) != 2 {
		t.Errorf("events: adjusted=%d rejected=%d", len(ok.all()), len(rej.all()))
	}
	if got := store.stock["P1"]; got != 2 {
		t.Errorf("stock = %d, want 2", got)
	}
}

func TestForeignEventTypeIgnored(t *testing.T) {
	store := newMemAdjuster(map[string]int{"P1": 10})
	svc, ok, rej := newSvc(store, nopDedup{})

	env := orders.NewEnvelope(uuid.NewString(), orders.EventPaymentCaptured, "test", "", "o1", []byte(`{}`))
	m := kafkago.Message{Value: kafkax.MustMarshal(env)}
	if err := svc.HandleOrderPlaced(context.Background(), m); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(ok.all())+len(rej.all()) != 0 {
		t.Fatal("foreign event must be ignored")
	}
}

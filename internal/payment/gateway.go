package payment

import (
	"context"
	"math/rand"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/google/uuid"
)

// Gateway is the external payment collaborator. orderID doubles as the
// idempotency key the provider sees, so a repeated capture for the same
// order must not charge twice on their side either.
type Gateway interface {
	Capture(ctx context.Context, orderID string, amountCents int) (ref string, err error)
}

// StubGateway approves a configurable share of captures after a fixed
// delay, standing in for a real provider client.
type StubGateway struct {
	ApproveRate float64       // 0..1, default 0.95
	Delay       time.Duration // simulated provider latency
}

func (g *StubGateway) Capture(ctx context.Context, orderID string, amountCents int) (string, error) {
	if g.Delay > 0 {
		select {
		case <-time.After(g.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	rate := g.ApproveRate
	if rate == 0 {
		rate = 0.95
	}
	if rand.Float64() >= rate {
		return "", orders.ErrPaymentDeclined
	}
	return "PAY-" + uuid.NewString(), nil
}

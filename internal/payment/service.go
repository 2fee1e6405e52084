package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Idem hands out the one-shot capture token per order. Acquire must be
// atomic: whichever delivery claims the token runs the capture, every
// other delivery is a no-op.
type Idem interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Service struct {
	Gateway      Gateway
	Idem         Idem
	ProducerOK   Publisher // order.payment.captured
	ProducerDecl Publisher // order.payment.declined
	// UnitPriceCents prices the capture: amount = quantity * unit price.
	// Unit price is not part of the order contract, so it is configured.
	UnitPriceCents int
	ServiceName    string
	Log            *zap.Logger
}

// HandleOrderPlaced captures payment for one order at most once. The
// token is claimed before the gateway call and only released on a
// transient error, so a redelivery retries failed captures but never
// repeats a settled one. A decline keeps the token: it is a terminal
// business outcome, not something the bus should retry.
func (s *Service) HandleOrderPlaced(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		s.Log.Warn("malformed envelope dropped", zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventOrderPlaced {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
	if err != nil {
		s.Log.Warn("malformed payload dropped", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	key := fmt.Sprintf(redisx.KeyIdemPayment, p.OrderID)
	ok, err := s.Idem.Acquire(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	amount := p.Quantity * s.UnitPriceCents
	ref, err := s.Gateway.Capture(ctx, p.OrderID, amount)
	if errors.Is(err, orders.ErrPaymentDeclined) {
		s.Log.Warn("payment declined", zap.String("order_id", p.OrderID))
		s.publishDeclined(p.OrderID, env.TraceID)
		return nil
	}
	if err != nil {
		// release on a detached context: when the failure is the handler
		// deadline itself, the canceled ctx must not strand the token
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if rerr := s.Idem.Release(rctx, key); rerr != nil {
			s.Log.Error("token release failed", zap.String("order_id", p.OrderID), zap.Error(rerr))
		}
		return err
	}

	s.Log.Info("payment captured",
		zap.String("order_id", p.OrderID),
		zap.String("payment_ref", ref),
		zap.Int("amount_cents", amount))
	s.publishCaptured(p.OrderID, ref, amount, env.TraceID)
	return nil
}

func (s *Service) publishCaptured(orderID, ref string, amount int, trace string) {
	ev := orders.NewEnvelope(uuid.NewString(), orders.EventPaymentCaptured, s.ServiceName, trace, orderID,
		kafkax.MustMarshal(orders.PaymentCapturedPayload{
			OrderID:     orderID,
			PaymentRef:  ref,
			AmountCents: amount,
		}))
	s.ProducerOK.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventPaymentCaptured)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (s *Service) publishDeclined(orderID, trace string) {
	ev := orders.NewEnvelope(uuid.NewString(), orders.EventPaymentDeclined, s.ServiceName, trace, orderID,
		kafkax.MustMarshal(orders.PaymentDeclinedPayload{
			OrderID: orderID,
			Reason:  "declined by gateway",
		}))
	s.ProducerDecl.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventPaymentDeclined)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

package inventory

import (
	"context"
	"encoding/json"
	"time"

	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Adjuster is the durable side of the handler: marker plus conditional
// decrement in one store transaction.
type Adjuster interface {
	AdjustStock(ctx context.Context, orderID, productID string, qty int) (orders.AdjustResult, error)
}

// Deduper claims an event id on Seen and hands the claim back via
// Forget when processing fails, so a redelivery gets through. The claim
// only trims redundant work; the durable marker decides correctness.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Service struct {
	Repo        Adjuster
	Dedup       Deduper
	ProducerOK  Publisher // order.inventory.adjusted
	ProducerRej Publisher // order.inventory.rejected
	ServiceName string
	Log         *zap.Logger
}

// HandleOrderPlaced is the consumer handler. Business failures (unknown
// product, insufficient stock) become rejection events and commit the
// offset; only transient store errors bubble up for redelivery.
func (s *Service) HandleOrderPlaced(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		s.Log.Warn("malformed envelope dropped", zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventOrderPlaced {
		return nil
	}

	if seen, err := s.Dedup.Seen(ctx, env.EventID); err == nil && seen {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
	if err != nil {
		s.Log.Warn("malformed payload dropped", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	res, err := s.Repo.AdjustStock(ctx, p.OrderID, p.ProductID, p.Quantity)
	if err != nil {
		// give the claim back, otherwise the redelivery of this exact
		// event id would be swallowed and the adjustment lost
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if ferr := s.Dedup.Forget(fctx, env.EventID); ferr != nil {
			s.Log.Error("dedup release failed", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
		return err
	}

	switch res.Outcome {
	case orders.AdjustOutcomeApplied:
		if !res.Duplicate {
			s.Log.Info("stock decremented",
				zap.String("order_id", p.OrderID),
				zap.String("product_id", p.ProductID),
				zap.Int("quantity", p.Quantity))
		}
		s.publishAdjusted(p, env.TraceID)
	case orders.AdjustOutcomeNotFound:
		s.Log.Warn("product not found",
			zap.String("order_id", p.OrderID),
			zap.String("product_id", p.ProductID))
		s.publishRejected(p, orders.RejectReasonNotFound, 0, env.TraceID)
	case orders.AdjustOutcomeOutOfStock:
		s.Log.Warn("insufficient stock",
			zap.String("order_id", p.OrderID),
			zap.Int("available", res.Available),
			zap.Int("required", p.Quantity))
		s.publishRejected(p, orders.RejectReasonOutOfStock, res.Available, env.TraceID)
	}
	return nil
}

func (s *Service) publishAdjusted(p orders.OrderPlacedPayload, trace string) {
	ev := orders.NewEnvelope(uuid.NewString(), orders.EventInventoryAdjusted, s.ServiceName, trace, p.OrderID,
		kafkax.MustMarshal(orders.InventoryAdjustedPayload{
			OrderID:   p.OrderID,
			ProductID: p.ProductID,
			Quantity:  p.Quantity,
		}))
	s.ProducerOK.Publish(orders.PartitionKey(p.OrderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventInventoryAdjusted)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (s *Service) publishRejected(p orders.OrderPlacedPayload, reason string, available int, trace string) {
	ev := orders.NewEnvelope(uuid.NewString(), orders.EventInventoryRejected, s.ServiceName, trace, p.OrderID,
		kafkax.MustMarshal(orders.InventoryRejectedPayload{
			OrderID:   p.OrderID,
			ProductID: p.ProductID,
			Reason:    reason,
			Available: available,
			Required:  p.Quantity,
		}))
	s.ProducerRej.Publish(orders.PartitionKey(p.OrderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventInventoryRejected)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

package status

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Hash fields tracked per order.
const (
	fieldInventory = "inventory"
	fieldPayment   = "payment"
	fieldProductID = "product_id"
	fieldQuantity  = "quantity"

	outcomeOK = "ok"
)

// Progress stores handler outcomes per order and returns the full set
// after each write, so the consumer can tell when the order is closable.
type Progress interface {
	Record(ctx context.Context, orderID string, fields map[string]string) (map[string]string, error)
}

// Finalizer moves the order record to its terminal status.
type Finalizer interface {
	Finalize(ctx context.Context, orderID string, to orders.Status) error
}

// Restocker undoes the inventory decrement when payment falls through.
type Restocker interface {
	Restock(ctx context.Context, orderID, productID string, qty int) (bool, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type StatusCache interface {
	SetStatus(ctx context.Context, orderID, status string)
}

// Service closes the fulfillment loop: it folds the inventory and
// payment outcome events into a terminal order status and emits
// OrderFulfilled / OrderFailed. On payment failure after a successful
// decrement it compensates by restocking.
type Service struct {
	Progress    Progress
	Orders      Finalizer
	Inventory   Restocker
	Producer    Publisher // order.finalized
	Cache       StatusCache
	ServiceName string
	Log         *zap.Logger
}

func (s *Service) HandleOutcome(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		s.Log.Warn("malformed envelope dropped", zap.Error(err))
		return nil
	}

	var orderID string
	fields := map[string]string{}

	switch env.EventType {
	case orders.EventInventoryAdjusted:
		p, err := kafkax.UnwrapPayload[orders.InventoryAdjustedPayload](env.Payload)
		if err != nil {
			return nil
		}
		orderID = p.OrderID
		fields[fieldInventory] = outcomeOK
		fields[fieldProductID] = p.ProductID
		fields[fieldQuantity] = strconv.Itoa(p.Quantity)
	case orders.EventInventoryRejected:
		p, err := kafkax.UnwrapPayload[orders.InventoryRejectedPayload](env.Payload)
		if err != nil {
			return nil
		}
		orderID = p.OrderID
		fields[fieldInventory] = "failed:" + p.Reason
	case orders.EventPaymentCaptured:
		p, err := kafkax.UnwrapPayload[orders.PaymentCapturedPayload](env.Payload)
		if err != nil {
			return nil
		}
		orderID = p.OrderID
		fields[fieldPayment] = outcomeOK
	case orders.EventPaymentDeclined:
		p, err := kafkax.UnwrapPayload[orders.PaymentDeclinedPayload](env.Payload)
		if err != nil {
			return nil
		}
		orderID = p.OrderID
		fields[fieldPayment] = "failed:" + p.Reason
	default:
		return nil
	}

	all, err := s.Progress.Record(ctx, orderID, fields)
	if err != nil {
		return err
	}
	return s.maybeClose(ctx, orderID, all, env.TraceID)
}

func (s *Service) maybeClose(ctx context.Context, orderID string, all map[string]string, trace string) error {
	inv, pay := all[fieldInventory], all[fieldPayment]
	if inv == "" || pay == "" {
		return nil // still waiting on the other handler
	}

	final := orders.StatusFulfilled
	var reasons []string
	if inv != outcomeOK {
		final = orders.StatusFailed
		reasons = append(reasons, inv)
	}
	if pay != outcomeOK {
		final = orders.StatusFailed
		reasons = append(reasons, pay)
	}

	// Stock was taken but the money never arrived: put it back.
	if inv == outcomeOK && pay != outcomeOK {
		qty, _ := strconv.Atoi(all[fieldQuantity])
		restocked, err := s.Inventory.Restock(ctx, orderID, all[fieldProductID], qty)
		if err != nil {
			return err
		}
		if restocked {
			s.Log.Info("compensating restock",
				zap.String("order_id", orderID),
				zap.String("product_id", all[fieldProductID]),
				zap.Int("quantity", qty))
		}
	}

	err := s.Orders.Finalize(ctx, orderID, final)
	switch {
	case errors.Is(err, orders.ErrAlreadyFinal):
		return nil // redelivered outcome for a closed order
	case errors.Is(err, orders.ErrNotFound):
		s.Log.Warn("outcome for unknown order", zap.String("order_id", orderID))
		return nil
	case err != nil:
		return err
	}

	if s.Cache != nil {
		s.Cache.SetStatus(ctx, orderID, string(final))
	}
	s.Log.Info("order finalized",
		zap.String("order_id", orderID),
		zap.String("status", string(final)),
		zap.Strings("reasons", reasons))
	s.publishFinalized(orderID, final, reasons, trace)
	return nil
}

func (s *Service) publishFinalized(orderID string, final orders.Status, reasons []string, trace string) {
	eventType := orders.EventOrderFulfilled
	if final == orders.StatusFailed {
		eventType = orders.EventOrderFailed
	}
	ev := orders.NewEnvelope(uuid.NewString(), eventType, s.ServiceName, trace, orderID,
		kafkax.MustMarshal(orders.OrderFinalizedPayload{
			OrderID:     orderID,
			FinalStatus: string(final),
			Reasons:     reasons,
		}))
	s.Producer.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Idem interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type Service struct {
	Channel     Channel
	Idem        Idem
	ServiceName string
	Log         *zap.Logger
}

// HandleOrderPlaced sends the confirmation at most once per order within
// the dedupe window. Duplicate notifications are a quality issue rather
// than a correctness one, so the guard is a TTL token, not a durable
// marker.
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

	key := fmt.Sprintf(redisx.KeyIdemNotify, p.OrderID)
	ok, err := s.Idem.Acquire(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	subject := "Order Confirmation"
	body := fmt.Sprintf("Your order %s for %dx %s has been received!\n\nThank you for your purchase.",
		p.OrderID, p.Quantity, p.ProductID)

	if err := s.Channel.Send(ctx, p.CustomerEmail, subject, body); err != nil {
		// detached context: a canceled handler ctx must not strand the token
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if rerr := s.Idem.Release(rctx, key); rerr != nil {
			s.Log.Error("token release failed", zap.String("order_id", p.OrderID), zap.Error(rerr))
		}
		return err
	}

	s.Log.Info("notification sent",
		zap.String("order_id", p.OrderID),
		zap.String("to", p.CustomerEmail))
	return nil
}

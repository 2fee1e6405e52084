package intake

import (
	"context"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store persists the order and its OrderPlaced outbox row atomically.
type Store interface {
	CreateOrder(ctx context.Context, o orders.Order, placed orders.Envelope) error
}

// StatusCache is the optional fast path for status reads.
type StatusCache interface {
	SetStatus(ctx context.Context, orderID, status string)
}

type Request struct {
	ProductID     string `json:"productId"`
	Quantity      int    `json:"quantity"`
	CustomerEmail string `json:"customerEmail"`
}

type Service struct {
	Store       Store
	Cache       StatusCache
	ServiceName string
	Log         *zap.Logger
}

// PlaceOrder validates the request, assigns a collision-safe order id,
// and commits the PENDING order together with its OrderPlaced event.
// Nothing is written when validation fails.
func (s *Service) PlaceOrder(ctx context.Context, req Request, traceID string) (string, error) {
	if err := validate(req); err != nil {
		return "", err
	}

	o := orders.Order{
		OrderID:       uuid.NewString(),
		ProductID:     req.ProductID,
		Quantity:      req.Quantity,
		CustomerEmail: req.CustomerEmail,
		Status:        orders.StatusPending,
		CreatedAt:     time.Now().UTC(),
	}

	placed := orders.NewEnvelope(
		uuid.NewString(), orders.EventOrderPlaced, s.ServiceName, traceID, o.OrderID,
		kafka.MustMarshal(orders.OrderPlacedPayload{
			OrderID:       o.OrderID,
			ProductID:     o.ProductID,
			Quantity:      o.Quantity,
			CustomerEmail: o.CustomerEmail,
		}),
	)

	if err := s.Store.CreateOrder(ctx, o, placed); err != nil {
		return "", err
	}

	if s.Cache != nil {
		s.Cache.SetStatus(ctx, o.OrderID, string(orders.StatusPending))
	}
	s.Log.Info("order placed",
		zap.String("order_id", o.OrderID),
		zap.String("product_id", o.ProductID),
		zap.Int("quantity", o.Quantity))
	return o.OrderID, nil
}

func validate(req Request) error {
	if req.ProductID == "" {
		return &orders.ValidationError{Field: "productId"}
	}
	if req.Quantity <= 0 {
		return &orders.ValidationError{Field: "quantity"}
	}
	if req.CustomerEmail == "" || !strings.Contains(req.CustomerEmail, "@") {
		return &orders.ValidationError{Field: "customerEmail"}
	}
	return nil
}
